package telemetry

import (
	"time"

	"go.uber.org/zap"
)

const (
	FieldEvent      = "event"
	FieldServerID   = "serverID"
	FieldMethod     = "method"
	FieldTool       = "tool"
	FieldTarget     = "target"
	FieldPhase      = "phase"
	FieldAttempt    = "attempt"
	FieldVersion    = "protocolVersion"
	FieldDurationMs = "duration_ms"
	FieldRunID      = "run_id"
	FieldTraceID    = "trace_id"
	FieldSpanID     = "span_id"
)

const (
	EventNegotiateSuccess = "negotiate_success"
	EventNegotiateFailure = "negotiate_failure"
	EventSessionExpired   = "session_expired"
	EventCallTimeout      = "call_timeout"
	EventToolsDiscovered  = "tools_discovered"
	EventAttemptStart     = "attempt_start"
	EventAttemptSuccess   = "attempt_success"
	EventAttemptFailure   = "attempt_failure"
	EventBackoffSkip      = "backoff_skip"
	EventClickFallback    = "click_fallback"
	EventVerdict          = "verdict"
	EventRunDone          = "run_done"
)

func EventField(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func ServerIDField(serverID string) zap.Field {
	return zap.String(FieldServerID, serverID)
}

func MethodField(method string) zap.Field {
	return zap.String(FieldMethod, method)
}

func ToolField(tool string) zap.Field {
	return zap.String(FieldTool, tool)
}

func TargetField(target string) zap.Field {
	return zap.String(FieldTarget, target)
}

func PhaseField(phase string) zap.Field {
	return zap.String(FieldPhase, phase)
}

func AttemptField(attempt int) zap.Field {
	return zap.Int(FieldAttempt, attempt)
}

func VersionField(version string) zap.Field {
	return zap.String(FieldVersion, version)
}

func DurationField(duration time.Duration) zap.Field {
	return zap.Int64(FieldDurationMs, duration.Milliseconds())
}

func RunIDField(value string) zap.Field {
	return zap.String(FieldRunID, value)
}

func TraceIDField(value string) zap.Field {
	return zap.String(FieldTraceID, value)
}

func SpanIDField(value string) zap.Field {
	return zap.String(FieldSpanID, value)
}
