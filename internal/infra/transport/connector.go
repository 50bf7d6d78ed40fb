package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"mcpagent/internal/domain"
	"mcpagent/internal/infra/telemetry"
)

const (
	methodInitialize  = "initialize"
	methodInitialized = "notifications/initialized"
	methodToolsList   = "tools/list"
	methodToolsCall   = "tools/call"

	headerProtocolVersion = "MCP-Protocol-Version"
	headerSessionID       = "Mcp-Session-Id"
	headerLegacySessionID = "X-Session-Id"

	maxResponseBytes = 32 << 20
)

// Session is the negotiated state of one connector.
type Session struct {
	ProtocolVersion string
	SessionID       string
	Mode            domain.TransportMode
	ServerName      string
}

// Options configures a Connector.
type Options struct {
	ProtocolVersions []string
	CallTimeout      time.Duration
	GreetingTimeout  time.Duration
	RoundTripper     http.RoundTripper
	Logger           *zap.Logger
	Metrics          domain.Metrics
}

// Connector is a session-bound JSON-RPC client for one tool server.
type Connector struct {
	server          domain.ServerDescriptor
	endpoints       endpoints
	client          *http.Client
	versions        []string
	callTimeout     time.Duration
	greetingTimeout time.Duration
	logger          *zap.Logger
	metrics         domain.Metrics
	pending         *pendingCalls
	nextID          atomic.Int64

	connectMu sync.Mutex

	mu      sync.Mutex
	session Session
	ready   bool
	sticky  endpointVariant
	push    *pushChannel
	tools   []domain.ToolDescriptor

	closeOnce sync.Once
	closed    chan struct{}
	// life is canceled by Close and bounds every in-flight POST.
	life      context.Context
	stopLife  context.CancelFunc
}

func NewConnector(server domain.ServerDescriptor, opts Options) (*Connector, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	eps, err := newEndpoints(server.BaseURL)
	if err != nil {
		return nil, domain.E(domain.CodeInvalidArgument, "new connector", fmt.Sprintf("server %s", server.ID), err)
	}
	client, err := newHTTPClient(server, opts.RoundTripper)
	if err != nil {
		return nil, err
	}
	versions := opts.ProtocolVersions
	if len(versions) == 0 {
		versions = domain.DefaultProtocolVersions
	}
	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = domain.DefaultCallTimeoutSeconds * time.Second
	}
	greetingTimeout := opts.GreetingTimeout
	if greetingTimeout <= 0 {
		greetingTimeout = domain.DefaultGreetingTimeoutMillis * time.Millisecond
	}
	named := logger.Named("connector").With(telemetry.ServerIDField(server.ID))
	life, stopLife := context.WithCancel(context.Background())
	return &Connector{
		server:          server,
		endpoints:       eps,
		client:          client,
		versions:        append([]string(nil), versions...),
		callTimeout:     callTimeout,
		greetingTimeout: greetingTimeout,
		logger:          named,
		metrics:         metrics,
		pending:         newPendingCalls(named),
		closed:          make(chan struct{}),
		life:            life,
		stopLife:        stopLife,
	}, nil
}

// Session returns a copy of the negotiated session.
func (c *Connector) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Tools returns the catalog discovered by the last ListTools.
func (c *Connector) Tools() []domain.ToolDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ToolDescriptor(nil), c.tools...)
}

// Call issues method and waits for its result. A session reported as
// expired is renegotiated once and the call retried once.
func (c *Connector) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if c.isClosed() {
		return nil, domain.ErrConnectionClosed
	}
	if !c.isReady() {
		return nil, domain.E(domain.CodeFailedPrecond, method, "session is not negotiated", nil)
	}
	result, err := c.call(ctx, method, params, timeout, "")
	if err == nil || !errors.Is(err, domain.ErrSessionExpired) {
		return result, err
	}

	c.logger.Info("session expired; renegotiating",
		telemetry.EventField(telemetry.EventSessionExpired),
		telemetry.MethodField(method),
		zap.Error(err),
	)
	if err := c.renegotiate(ctx); err != nil {
		return nil, fmt.Errorf("renegotiate after session expiry: %w", err)
	}
	return c.call(ctx, method, params, timeout, "")
}

// Notify sends a one-way notification.
func (c *Connector) Notify(ctx context.Context, method string, params any) error {
	if c.isClosed() {
		return domain.ErrConnectionClosed
	}
	if strings.TrimSpace(method) == "" {
		return errors.New("method is required")
	}
	rawParams, err := encodeParams(params)
	if err != nil {
		return err
	}
	notifyCtx, cancel := c.boundContext(ctx, c.callTimeout)
	defer cancel()
	if _, err := c.send(notifyCtx, &jsonrpc.Request{Method: method, Params: rawParams}, ""); err != nil {
		if c.isClosed() {
			return domain.ErrConnectionClosed
		}
		return fmt.Errorf("notify %s: %w", method, err)
	}
	return nil
}

// ListTools enumerates the server's tools, following pagination cursors.
func (c *Connector) ListTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	var tools []domain.ToolDescriptor
	cursor := ""
	for page := 0; page < domain.DefaultToolsPageLimit; page++ {
		raw, err := c.Call(ctx, methodToolsList, &mcp.ListToolsParams{Cursor: cursor}, 0)
		if err != nil {
			return nil, err
		}
		var result mcp.ListToolsResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("decode tools/list result: %w", err)
		}
		for _, tool := range result.Tools {
			if tool == nil || strings.TrimSpace(tool.Name) == "" {
				continue
			}
			descriptor := domain.ToolDescriptor{
				Name:        tool.Name,
				Description: tool.Description,
			}
			if tool.InputSchema != nil {
				schema, err := json.Marshal(tool.InputSchema)
				if err == nil {
					descriptor.InputSchema = schema
				}
			}
			tools = append(tools, descriptor)
		}
		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}

	c.mu.Lock()
	c.tools = append([]domain.ToolDescriptor(nil), tools...)
	c.mu.Unlock()
	return tools, nil
}

// CallTool invokes one tool and returns the raw result object.
func (c *Connector) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	return c.Call(ctx, methodToolsCall, &mcp.CallToolParams{Name: name, Arguments: args}, 0)
}

// Close stops the push channel reader and fails every pending call.
func (c *Connector) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.stopLife()
		c.pending.close(domain.ErrConnectionClosed)
		c.mu.Lock()
		push := c.push
		c.push = nil
		c.ready = false
		c.mu.Unlock()
		push.Close()
	})
	return nil
}

func (c *Connector) call(ctx context.Context, method string, params any, timeout time.Duration, version string) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.callTimeout
	}
	rawParams, err := encodeParams(params)
	if err != nil {
		return nil, err
	}
	id, err := jsonrpc.MakeID(float64(c.nextID.Add(1)))
	if err != nil {
		return nil, fmt.Errorf("build request id: %w", err)
	}
	waiter, err := c.pending.register(id)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	callCtx, cancel := c.boundContext(ctx, timeout)
	defer cancel()

	resp, err := c.send(callCtx, &jsonrpc.Request{ID: id, Method: method, Params: rawParams}, version)
	if err != nil {
		c.pending.remove(id)
		if c.isClosed() {
			err = domain.ErrConnectionClosed
		} else {
			err = c.timeoutError(ctx, callCtx, method, timeout, err)
		}
		c.observeCall(method, started, err)
		return nil, err
	}

	if resp != nil {
		c.pending.remove(id)
		if c.isClosed() {
			c.logger.Debug("dropping inline reply received after close", telemetry.MethodField(method))
			c.observeCall(method, started, domain.ErrConnectionClosed)
			return nil, domain.ErrConnectionClosed
		}
	} else {
		select {
		case result := <-waiter:
			if result.err != nil {
				c.observeCall(method, started, result.err)
				return nil, result.err
			}
			resp = result.resp
		case <-callCtx.Done():
			c.pending.remove(id)
			err := c.timeoutError(ctx, callCtx, method, timeout, callCtx.Err())
			c.observeCall(method, started, err)
			return nil, err
		}
	}

	if resp.Error != nil {
		err := remoteError(method, resp.Error)
		c.observeCall(method, started, err)
		return nil, err
	}
	c.observeCall(method, started, nil)
	if len(resp.Result) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return resp.Result, nil
}

// boundContext derives a context that ends at the timeout, when ctx ends, or
// when the connector is closed.
func (c *Connector) boundContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	bounded, cancel := context.WithTimeout(ctx, timeout)
	stop := context.AfterFunc(c.life, cancel)
	return bounded, func() {
		stop()
		cancel()
	}
}

func (c *Connector) timeoutError(parent, callCtx context.Context, method string, timeout time.Duration, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		c.logger.Warn("call timed out",
			telemetry.EventField(telemetry.EventCallTimeout),
			telemetry.MethodField(method),
			telemetry.DurationField(timeout),
		)
		return fmt.Errorf("%w: %s after %s", domain.ErrCallTimeout, method, timeout)
	}
	return err
}

// send posts one envelope, walking the endpoint variants. A nil response
// with a nil error means the server accepted the message without an inline
// reply.
func (c *Connector) send(ctx context.Context, req *jsonrpc.Request, version string) (*jsonrpc.Response, error) {
	body, err := jsonrpc.EncodeMessage(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", req.Method, err)
	}

	c.mu.Lock()
	sessionID := c.session.SessionID
	sticky := c.sticky
	if version == "" {
		version = c.session.ProtocolVersion
	}
	c.mu.Unlock()

	var lastErr error
	sawNotFound := false
	for _, variant := range candidates(sticky, sessionID) {
		resp, err := c.post(ctx, variant, body, req, version, sessionID)
		if err != nil {
			var fallback *fallbackError
			if errors.As(err, &fallback) {
				c.logger.Debug("endpoint variant rejected request",
					telemetry.MethodField(req.Method),
					zap.String("variant", string(variant)),
					zap.Error(err),
				)
				lastErr = err
				sawNotFound = sawNotFound || fallback.notFound
				continue
			}
			return nil, err
		}
		c.mu.Lock()
		c.sticky = variant
		c.mu.Unlock()
		return resp, nil
	}

	if sawNotFound && sessionID != "" {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrSessionExpired, req.Method, lastErr)
	}
	return nil, fmt.Errorf("%w: no endpoint accepted %s: %v", domain.ErrServerFailure, req.Method, lastErr)
}

func (c *Connector) post(ctx context.Context, variant endpointVariant, body []byte, req *jsonrpc.Request, version, sessionID string) (*jsonrpc.Response, error) {
	target := c.endpoints.URL(variant, sessionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if version != "" {
		httpReq.Header.Set(headerProtocolVersion, version)
	}
	if sessionID != "" {
		httpReq.Header.Set(headerSessionID, sessionID)
		httpReq.Header.Set(headerLegacySessionID, sessionID)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("post %s: %w", req.Method, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &fallbackError{variant: variant, status: resp.StatusCode, reason: "read body", cause: err}
	}

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusGone:
		return nil, &fallbackError{variant: variant, status: resp.StatusCode, notFound: true, reason: preview(payload)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{StatusCode: resp.StatusCode, Body: preview(payload)}
	}

	c.captureSessionHeader(resp.Header)

	if !req.ID.IsValid() {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(payload)
	if resp.StatusCode == http.StatusAccepted || len(trimmed) == 0 {
		if c.pushLive() {
			return nil, nil
		}
		return nil, &fallbackError{variant: variant, status: resp.StatusCode, reason: "no inline reply and no push channel"}
	}
	if looksLikeEventStream(resp.Header.Get("Content-Type"), trimmed) {
		if inline, ok := responseFromEventBody(trimmed, req.ID); ok {
			return inline, nil
		}
		if c.pushLive() {
			return nil, nil
		}
		return nil, &fallbackError{variant: variant, status: resp.StatusCode, reason: "event stream without response envelope"}
	}
	inline, ok := decodeEnvelope(string(trimmed))
	if !ok {
		return nil, &fallbackError{variant: variant, status: resp.StatusCode, reason: "undecodable body: " + preview(trimmed)}
	}
	return inline, nil
}

func (c *Connector) captureSessionHeader(header http.Header) {
	sessionID := strings.TrimSpace(header.Get(headerSessionID))
	if sessionID == "" {
		return
	}
	c.mu.Lock()
	if c.session.SessionID != sessionID {
		c.session.SessionID = sessionID
		c.logger.Debug("session id assigned", zap.String("sessionId", sessionID))
	}
	c.mu.Unlock()
}

// adoptGreeting records a session id announced on the push channel. The
// first greeting wins.
func (c *Connector) adoptGreeting(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.SessionID != "" {
		return false
	}
	c.session.SessionID = sessionID
	c.sticky = variantLegacySession
	return true
}

func (c *Connector) observeCall(method string, started time.Time, err error) {
	metric := domain.CallMetric{
		ServerID: c.server.ID,
		Method:   method,
		Status:   domain.CallStatusSuccess,
		Duration: time.Since(started),
	}
	if err != nil {
		metric.Status = domain.CallStatusError
		metric.Code, _ = domain.CodeFrom(err)
	}
	c.metrics.ObserveCall(metric)
}

func (c *Connector) pushLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.push.Live()
}

func (c *Connector) isReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *Connector) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func encodeParams(params any) (json.RawMessage, error) {
	if params == nil {
		return json.RawMessage(`{}`), nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}

func remoteError(method string, err error) error {
	remote := &domain.RemoteToolError{Method: method, Message: err.Error()}
	var wire *jsonrpc.Error
	if errors.As(err, &wire) {
		remote.Code = wire.Code
		remote.Message = wire.Message
	}
	if mentionsExpiredSession(remote.Message) {
		return fmt.Errorf("%w: %w", domain.ErrSessionExpired, remote)
	}
	return remote
}

func mentionsExpiredSession(message string) bool {
	lower := strings.ToLower(message)
	if !strings.Contains(lower, "session") {
		return false
	}
	for _, marker := range []string{"not found", "expired", "invalid", "unknown"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// fallbackError marks a response that should move the call to the next
// endpoint variant.
type fallbackError struct {
	variant  endpointVariant
	status   int
	notFound bool
	reason   string
	cause    error
}

func (e *fallbackError) Error() string {
	msg := fmt.Sprintf("%s endpoint: status %d", e.variant, e.status)
	if e.reason != "" {
		msg += ": " + e.reason
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *fallbackError) Unwrap() error {
	return e.cause
}

type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

func preview(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > domain.DefaultMaxErrorBodyPreviewLen {
		return text[:domain.DefaultMaxErrorBodyPreviewLen]
	}
	return text
}
