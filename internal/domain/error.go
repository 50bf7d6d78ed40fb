package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeInvalidArgument   ErrorCode = "INVALID_ARGUMENT"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeUnavailable       ErrorCode = "UNAVAILABLE"
	CodeFailedPrecond     ErrorCode = "FAILED_PRECONDITION"
	CodeUnauthenticated   ErrorCode = "UNAUTHENTICATED"
	CodeInternal          ErrorCode = "INTERNAL"
	CodeCanceled          ErrorCode = "CANCELED"
	CodeDeadlineExceeded  ErrorCode = "DEADLINE_EXCEEDED"
	CodeProtocol          ErrorCode = "PROTOCOL"
	CodeSessionExpired    ErrorCode = "SESSION_EXPIRED"
	CodeRemote            ErrorCode = "REMOTE"
	CodeMisconfigured     ErrorCode = "MISCONFIGURED"
	CodeUnparsableResult  ErrorCode = "UNPARSABLE_RESULT"
	CodeServerUnavailable ErrorCode = "SERVER_FAILURE"
)

var (
	ErrProtocolNegotiation   = errors.New("protocol negotiation failed")
	ErrSessionExpired        = errors.New("session expired")
	ErrCallTimeout           = errors.New("call timed out")
	ErrConnectionClosed      = errors.New("connection closed")
	ErrNoToolsDiscovered     = errors.New("no tools discovered")
	ErrServerFailure         = errors.New("server failure")
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	ErrSnapshotUnparsable    = errors.New("snapshot unparsable")
	ErrToolFailed            = errors.New("tool reported failure")
	ErrServerNotFound        = errors.New("server not found")
	ErrInvalidConfig         = errors.New("invalid config")
)

type Error struct {
	Code      ErrorCode
	Op        string
	Message   string
	Cause     error
	Retryable bool
	Meta      map[string]string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: msg,
		Cause:   cause,
	}
}

func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{
			Code:      existing.Code,
			Op:        op,
			Message:   existing.Message,
			Cause:     existing.Cause,
			Retryable: existing.Retryable,
			Meta:      existing.Meta,
		}
	}
	return E(code, op, "", err)
}

// RemoteToolError is a JSON-RPC error envelope reported by the tool server.
type RemoteToolError struct {
	Method  string
	Code    int64
	Message string
}

func (e *RemoteToolError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s error %d: %s", e.Method, e.Code, e.Message)
}

func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code, true
	}
	var remoteErr *RemoteToolError
	if errors.As(err, &remoteErr) {
		return CodeRemote, true
	}
	switch {
	case errors.Is(err, ErrProtocolNegotiation):
		return CodeProtocol, true
	case errors.Is(err, ErrSessionExpired):
		return CodeSessionExpired, true
	case errors.Is(err, ErrCallTimeout):
		return CodeDeadlineExceeded, true
	case errors.Is(err, ErrConnectionClosed):
		return CodeUnavailable, true
	case errors.Is(err, ErrNoToolsDiscovered), errors.Is(err, ErrCapabilityUnavailable):
		return CodeMisconfigured, true
	case errors.Is(err, ErrSnapshotUnparsable):
		return CodeUnparsableResult, true
	case errors.Is(err, ErrServerNotFound):
		return CodeNotFound, true
	case errors.Is(err, ErrInvalidConfig):
		return CodeInvalidArgument, true
	case errors.Is(err, ErrServerFailure), errors.Is(err, ErrToolFailed):
		return CodeServerUnavailable, true
	default:
		return "", false
	}
}

// PenalizeWithBackoff reports whether a failed server turn should put the
// server into backoff. Configuration problems are not penalized.
func PenalizeWithBackoff(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrNoToolsDiscovered)
}
