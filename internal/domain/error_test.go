package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeFrom(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
		ok   bool
	}{
		{name: "nil", err: nil},
		{name: "plain", err: errors.New("boom")},
		{name: "domain error", err: E(CodeUnauthenticated, "call", "denied", nil), want: CodeUnauthenticated, ok: true},
		{name: "remote", err: fmt.Errorf("call: %w", &RemoteToolError{Method: "tools/call", Code: -32000}), want: CodeRemote, ok: true},
		{name: "negotiation", err: fmt.Errorf("x: %w", ErrProtocolNegotiation), want: CodeProtocol, ok: true},
		{name: "session expired", err: ErrSessionExpired, want: CodeSessionExpired, ok: true},
		{name: "timeout", err: ErrCallTimeout, want: CodeDeadlineExceeded, ok: true},
		{name: "closed", err: ErrConnectionClosed, want: CodeUnavailable, ok: true},
		{name: "no tools", err: ErrNoToolsDiscovered, want: CodeMisconfigured, ok: true},
		{name: "capability", err: ErrCapabilityUnavailable, want: CodeMisconfigured, ok: true},
		{name: "snapshot", err: ErrSnapshotUnparsable, want: CodeUnparsableResult, ok: true},
		{name: "not found", err: ErrServerNotFound, want: CodeNotFound, ok: true},
		{name: "config", err: ErrInvalidConfig, want: CodeInvalidArgument, ok: true},
		{name: "tool failed", err: ErrToolFailed, want: CodeServerUnavailable, ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := CodeFrom(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestError_Format(t *testing.T) {
	assert.Equal(t, "load config: INVALID_ARGUMENT: bad", E(CodeInvalidArgument, "load config", "bad", ErrInvalidConfig).Error())
	assert.Equal(t, "NOT_FOUND: missing", E(CodeNotFound, "", "missing", nil).Error())
	assert.Equal(t, "open: UNAVAILABLE", E(CodeUnavailable, "open", "", nil).Error())

	wrapped := E(CodeInvalidArgument, "load config", "bad", ErrInvalidConfig)
	require.ErrorIs(t, wrapped, ErrInvalidConfig)
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(CodeInternal, "op", nil))

	inner := E(CodeNotFound, "", "gone", ErrServerNotFound)
	outer := Wrap(CodeInternal, "select", inner)
	assert.Equal(t, CodeNotFound, outer.Code)
	assert.Equal(t, "select", outer.Op)
	assert.ErrorIs(t, outer, ErrServerNotFound)

	plain := Wrap(CodeInternal, "dial", context.Canceled)
	assert.Equal(t, "dial: INTERNAL: context canceled", plain.Error())
}

func TestPenalizeWithBackoff(t *testing.T) {
	assert.False(t, PenalizeWithBackoff(nil))
	assert.False(t, PenalizeWithBackoff(fmt.Errorf("%w: server a", ErrNoToolsDiscovered)))
	assert.True(t, PenalizeWithBackoff(ErrCapabilityUnavailable))
	assert.True(t, PenalizeWithBackoff(ErrCallTimeout))
}
