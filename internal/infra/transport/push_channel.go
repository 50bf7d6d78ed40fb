package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mcpagent/internal/domain"
)

// pushChannel is the reader side of a legacy GET stream. It routes response
// envelopes to pending calls and reports the session greeting.
type pushChannel struct {
	logger    *zap.Logger
	pending   *pendingCalls
	onSession func(string) bool

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	live      atomic.Bool
	greeted   chan struct{}
	greetOnce sync.Once
}

type pushChannelOptions struct {
	Client    *http.Client
	URL       string
	Header    http.Header
	Pending   *pendingCalls
	OnSession func(string) bool
	Logger    *zap.Logger
}

func openPushChannel(ctx context.Context, opts pushChannelOptions) (*pushChannel, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}

	readerCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(readerCtx, http.MethodGet, opts.URL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build push request: %w", err)
	}
	for key, values := range opts.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	stop := context.AfterFunc(ctx, cancel)
	resp, err := client.Do(req)
	stop()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open push channel: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open push channel: unexpected status %d", resp.StatusCode)
	}
	if !strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/event-stream") {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open push channel: unexpected content type %q", resp.Header.Get("Content-Type"))
	}

	p := &pushChannel{
		logger:    logger,
		pending:   opts.Pending,
		onSession: opts.OnSession,
		ctx:       readerCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		greeted:   make(chan struct{}),
	}
	p.live.Store(true)
	go p.run(resp.Body)
	return p, nil
}

func (p *pushChannel) run(body io.ReadCloser) {
	defer close(p.done)
	defer body.Close()

	err := readEventStream(body, func(chunk eventChunk) bool {
		p.handleChunk(chunk)
		return true
	})
	p.live.Store(false)
	if p.ctx.Err() != nil {
		return
	}
	p.logger.Warn("push channel ended", zap.Error(err))
	p.pending.failAll(fmt.Errorf("push channel ended: %w", domain.ErrConnectionClosed))
}

func (p *pushChannel) handleChunk(chunk eventChunk) {
	for _, data := range chunk.Data {
		if json.Valid([]byte(strings.TrimSpace(data))) {
			continue
		}
		sessionID, ok := sessionFromGreeting(data)
		if !ok {
			continue
		}
		if p.onSession != nil && p.onSession(sessionID) {
			p.logger.Debug("push channel session captured", zap.String("sessionId", sessionID))
		}
		p.greetOnce.Do(func() { close(p.greeted) })
	}

	last := chunk.LastData()
	resp, ok := decodeEnvelope(last)
	if !ok {
		if strings.TrimSpace(last) != "" && json.Valid([]byte(strings.TrimSpace(last))) {
			p.logger.Debug("unmatched push event", zap.String("event", chunk.Event))
		}
		return
	}
	if !p.pending.deliver(resp) {
		p.logger.Debug("unmatched push response", zap.String("event", chunk.Event))
	}
}

// Live reports whether the stream is still being read.
func (p *pushChannel) Live() bool {
	return p != nil && p.live.Load()
}

// WaitGreeting waits until the greeting arrives, the stream ends or timeout
// elapses. It reports whether a greeting was seen.
func (p *pushChannel) WaitGreeting(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.greeted:
		return true
	case <-p.done:
		return false
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (p *pushChannel) Close() {
	if p == nil {
		return
	}
	p.cancel()
	<-p.done
}
