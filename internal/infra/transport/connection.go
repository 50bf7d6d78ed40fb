package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"go.uber.org/zap"
)

type callResult struct {
	resp *jsonrpc.Response
	err  error
}

// pendingCalls correlates responses with waiting calls. Every waiter is
// removed from the table before it is fulfilled, so a waiter receives at
// most one result.
type pendingCalls struct {
	logger *zap.Logger

	mu      sync.Mutex
	waiters map[string]chan callResult
	closed  error
}

func newPendingCalls(logger *zap.Logger) *pendingCalls {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &pendingCalls{
		logger:  logger,
		waiters: make(map[string]chan callResult),
	}
}

func (p *pendingCalls) register(id jsonrpc.ID) (<-chan callResult, error) {
	key, err := idKey(id)
	if err != nil {
		return nil, err
	}
	ch := make(chan callResult, 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed != nil {
		return nil, p.closed
	}
	if _, exists := p.waiters[key]; exists {
		return nil, fmt.Errorf("duplicate request id %s", key)
	}
	p.waiters[key] = ch
	return ch, nil
}

// deliver fulfills the waiter for resp.ID. It reports false when no call is
// waiting for that id.
func (p *pendingCalls) deliver(resp *jsonrpc.Response) bool {
	key, err := idKey(resp.ID)
	if err != nil {
		p.logger.Debug("drop response with invalid id", zap.Error(err))
		return false
	}
	p.mu.Lock()
	ch := p.waiters[key]
	delete(p.waiters, key)
	p.mu.Unlock()
	if ch == nil {
		p.logger.Debug("drop response with no pending call", zap.String("id", key))
		return false
	}
	ch <- callResult{resp: resp}
	return true
}

func (p *pendingCalls) remove(id jsonrpc.ID) {
	key, err := idKey(id)
	if err != nil {
		return
	}
	p.mu.Lock()
	delete(p.waiters, key)
	p.mu.Unlock()
}

// failAll fails every waiting call with err.
func (p *pendingCalls) failAll(err error) {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = make(map[string]chan callResult)
	p.mu.Unlock()
	for _, ch := range waiters {
		ch <- callResult{err: err}
	}
}

// close fails every waiting call and rejects later registrations.
func (p *pendingCalls) close(err error) {
	p.mu.Lock()
	if p.closed == nil {
		p.closed = err
	}
	waiters := p.waiters
	p.waiters = make(map[string]chan callResult)
	p.mu.Unlock()
	for _, ch := range waiters {
		ch <- callResult{err: err}
	}
}

func (p *pendingCalls) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

func idKey(id jsonrpc.ID) (string, error) {
	if !id.IsValid() {
		return "", errors.New("missing request id")
	}
	raw := id.Raw()
	switch typed := raw.(type) {
	case string:
		return "s:" + typed, nil
	case float64:
		return fmt.Sprintf("n:%v", int64(typed)), nil
	case int:
		return fmt.Sprintf("n:%v", typed), nil
	case int64:
		return fmt.Sprintf("n:%v", typed), nil
	case json.Number:
		return "n:" + typed.String(), nil
	default:
		return "", fmt.Errorf("unsupported id type %T", raw)
	}
}
