package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"mcpagent/internal/domain"
	"mcpagent/internal/infra/telemetry"
)

// Connect negotiates the protocol version and session with the server. In
// sse mode, and opportunistically in auto mode, the push channel is opened
// first so the session greeting can bind later calls.
func (c *Connector) Connect(ctx context.Context) error {
	if c.isClosed() {
		return domain.ErrConnectionClosed
	}
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	mode := domain.NormalizeTransport(c.server.Transport)
	if mode != domain.TransportStreamableHTTP && !c.pushLive() {
		if err := c.startPushChannel(ctx); err != nil {
			if mode == domain.TransportSSE {
				return domain.E(domain.CodeUnavailable, "connect", fmt.Sprintf("server %s push channel", c.server.ID), err)
			}
			c.logger.Debug("push channel unavailable; using request/response only", zap.Error(err))
		}
	}
	return c.negotiate(ctx)
}

func (c *Connector) startPushChannel(ctx context.Context) error {
	push, err := openPushChannel(ctx, pushChannelOptions{
		Client:    c.client,
		URL:       c.endpoints.PushURL(),
		Pending:   c.pending,
		OnSession: c.adoptGreeting,
		Logger:    c.logger.Named("push"),
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.push = push
	c.mu.Unlock()

	if !push.WaitGreeting(ctx, c.greetingTimeout) {
		c.logger.Debug("push channel sent no session greeting", telemetry.DurationField(c.greetingTimeout))
	}
	return nil
}

func (c *Connector) negotiate(ctx context.Context) error {
	started := time.Now()
	var lastRejection error
	for _, version := range c.versions {
		result, err := c.initialize(ctx, version)
		if err != nil {
			if isVersionRejection(err) {
				lastRejection = err
				c.logger.Debug("protocol version rejected", telemetry.VersionField(version), zap.Error(err))
				continue
			}
			c.metrics.ObserveNegotiation(c.server.ID, version, time.Since(started), err)
			c.logger.Warn("initialize failed",
				telemetry.EventField(telemetry.EventNegotiateFailure),
				telemetry.VersionField(version),
				zap.Error(err),
			)
			return fmt.Errorf("initialize: %w", err)
		}

		negotiated := version
		if strings.TrimSpace(result.ProtocolVersion) != "" {
			negotiated = result.ProtocolVersion
		}
		c.mu.Lock()
		c.session.ProtocolVersion = negotiated
		c.session.Mode = domain.TransportStreamableHTTP
		if c.push.Live() {
			c.session.Mode = domain.TransportSSE
		}
		if result.ServerInfo != nil {
			c.session.ServerName = result.ServerInfo.Name
		}
		c.mu.Unlock()

		if err := c.notifyInitialized(ctx); err != nil {
			c.metrics.ObserveNegotiation(c.server.ID, negotiated, time.Since(started), err)
			return err
		}

		c.mu.Lock()
		c.ready = true
		session := c.session
		c.mu.Unlock()

		c.metrics.ObserveNegotiation(c.server.ID, negotiated, time.Since(started), nil)
		c.logger.Info("session negotiated",
			telemetry.EventField(telemetry.EventNegotiateSuccess),
			telemetry.VersionField(negotiated),
			zap.String("mode", string(session.Mode)),
			zap.Bool("sessionBound", session.SessionID != ""),
			telemetry.DurationField(time.Since(started)),
		)
		return nil
	}

	err := fmt.Errorf("%w: server %s rejected %s", domain.ErrProtocolNegotiation, c.server.ID, strings.Join(c.versions, ", "))
	if lastRejection != nil {
		err = fmt.Errorf("%w (last: %v)", err, lastRejection)
	}
	c.metrics.ObserveNegotiation(c.server.ID, "", time.Since(started), err)
	c.logger.Warn("protocol negotiation failed", telemetry.EventField(telemetry.EventNegotiateFailure), zap.Error(err))
	return err
}

func (c *Connector) initialize(ctx context.Context, version string) (*mcp.InitializeResult, error) {
	params := &mcp.InitializeParams{
		ProtocolVersion: version,
		ClientInfo: &mcp.Implementation{
			Name:    domain.ClientName,
			Version: domain.ClientVersion,
		},
		Capabilities: &mcp.ClientCapabilities{},
	}
	raw, err := c.call(ctx, methodInitialize, params, c.callTimeout, version)
	if err != nil {
		return nil, err
	}
	var result mcp.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode initialize result: %w", err)
	}
	return &result, nil
}

func (c *Connector) notifyInitialized(ctx context.Context) error {
	notifyCtx, cancel := c.boundContext(ctx, c.callTimeout)
	defer cancel()
	if _, err := c.send(notifyCtx, &jsonrpc.Request{Method: methodInitialized, Params: json.RawMessage(`{}`)}, ""); err != nil {
		return fmt.Errorf("send %s: %w", methodInitialized, err)
	}
	return nil
}

// renegotiate drops the current session and runs Connect again.
func (c *Connector) renegotiate(ctx context.Context) error {
	c.mu.Lock()
	push := c.push
	c.push = nil
	c.session = Session{}
	c.ready = false
	c.sticky = ""
	c.mu.Unlock()
	push.Close()
	return c.Connect(ctx)
}

// isVersionRejection reports whether an initialize failure means the
// server does not support the offered protocol version.
func isVersionRejection(err error) bool {
	var status *statusError
	if errors.As(err, &status) {
		return status.StatusCode == http.StatusBadRequest && mentionsVersion(status.Body)
	}
	var remote *domain.RemoteToolError
	if errors.As(err, &remote) {
		return mentionsVersion(remote.Message)
	}
	return false
}

func mentionsVersion(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "protocol") || strings.Contains(lower, "version")
}
