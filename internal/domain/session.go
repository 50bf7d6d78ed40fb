package domain

import (
	"context"
	"encoding/json"
)

// ToolSession is a negotiated session with a tool server whose catalog has
// been discovered.
type ToolSession interface {
	Tools() []ToolDescriptor
	CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
	Close() error
}

// SessionFactory opens a fresh session for one server turn.
type SessionFactory interface {
	Open(ctx context.Context, server ServerDescriptor) (ToolSession, error)
}
