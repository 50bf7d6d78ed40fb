package transport

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mcpagent/internal/domain"
	"mcpagent/internal/infra/telemetry"
)

// Dialer opens negotiated sessions with a discovered tool catalog.
type Dialer struct {
	opts   Options
	logger *zap.Logger
}

func NewDialer(opts Options) *Dialer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.Logger = logger
	return &Dialer{opts: opts, logger: logger.Named("dialer")}
}

// Open connects to server and enumerates its tools. An empty catalog is
// reported as domain.ErrNoToolsDiscovered.
func (d *Dialer) Open(ctx context.Context, server domain.ServerDescriptor) (domain.ToolSession, error) {
	started := time.Now()
	conn, err := NewConnector(server, d.opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	tools, err := conn.ListTools(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("list tools: %w", err)
	}
	if len(tools) == 0 {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: server %s", domain.ErrNoToolsDiscovered, server.ID)
	}
	d.logger.Info("tools discovered",
		telemetry.EventField(telemetry.EventToolsDiscovered),
		telemetry.ServerIDField(server.ID),
		zap.Int("count", len(tools)),
		telemetry.DurationField(time.Since(started)),
	)
	return conn, nil
}

var _ domain.SessionFactory = (*Dialer)(nil)
var _ domain.ToolSession = (*Connector)(nil)
