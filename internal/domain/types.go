package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// TransportMode selects how a connector reaches a tool server.
type TransportMode string

const (
	// TransportAuto opens a push channel when the server offers one and
	// otherwise uses request/response only.
	TransportAuto TransportMode = "auto"
	// TransportStreamableHTTP negotiates via headers; responses arrive inline.
	TransportStreamableHTTP TransportMode = "streamable_http"
	// TransportSSE binds the session to a GET push channel first.
	TransportSSE TransportMode = "sse"
)

func NormalizeTransport(mode TransportMode) TransportMode {
	trimmed := strings.ToLower(strings.TrimSpace(string(mode)))
	switch trimmed {
	case "":
		return DefaultTransportMode
	case "auto":
		return TransportAuto
	case "streamable_http", "streamable-http", "http":
		return TransportStreamableHTTP
	case "sse", "legacy":
		return TransportSSE
	default:
		return TransportMode(trimmed)
	}
}

func IsKnownTransport(mode TransportMode) bool {
	switch NormalizeTransport(mode) {
	case TransportAuto, TransportStreamableHTTP, TransportSSE:
		return true
	default:
		return false
	}
}

// AuthConfig carries an optional server credential.
type AuthConfig struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

// BearerToken returns the token when the credential is a bearer token.
func (a *AuthConfig) BearerToken() string {
	if a == nil {
		return ""
	}
	if !strings.EqualFold(strings.TrimSpace(a.Type), DefaultBearerAuthType) {
		return ""
	}
	return strings.TrimSpace(a.Token)
}

// ToolDescriptor is a tool discovered through tools/list.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ServerDescriptor describes one candidate tool server.
type ServerDescriptor struct {
	ID        string            `json:"id"`
	BaseURL   string            `json:"baseURL"`
	Auth      *AuthConfig       `json:"auth,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Healthy   bool              `json:"healthy"`
	Transport TransportMode     `json:"transport,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Tools     []ToolDescriptor  `json:"tools,omitempty"`
}

// ToolNames lists the names of the discovered tool catalog.
func (s ServerDescriptor) ToolNames() []string {
	names := make([]string, 0, len(s.Tools))
	for _, tool := range s.Tools {
		names = append(names, tool.Name)
	}
	return names
}

// Candidate is one entry of a ranked shortlist.
type Candidate struct {
	ServerID string  `json:"server_id"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason"`
}

// Locator identifies an element on the remote page.
type Locator struct {
	DomID string `json:"domId,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Selector returns a CSS selector for the locator, if it has a domain id.
func (l Locator) Selector() string {
	id := strings.TrimSpace(l.DomID)
	if id == "" {
		return ""
	}
	return "#" + id
}

// Interaction describes what to do on every target page.
type Interaction struct {
	Control Locator `json:"control"`
	Verdict Locator `json:"verdict"`
	Key     string  `json:"key"`
}

// Verdict classifies a verdict text.
type Verdict string

const (
	VerdictSuccess      Verdict = "success"
	VerdictFailure      Verdict = "failure"
	VerdictUndetermined Verdict = "undetermined"
)

// Success returns a tri-state view of the verdict.
func (v Verdict) Success() *bool {
	switch v {
	case VerdictSuccess:
		ok := true
		return &ok
	case VerdictFailure:
		ok := false
		return &ok
	default:
		return nil
	}
}

// ClickMethod records which click strategy succeeded.
type ClickMethod string

const (
	ClickByRef      ClickMethod = "ref"
	ClickBySelector ClickMethod = "selector"
	ClickByKey      ClickMethod = "key"
)

// TargetOutput is the per-target outcome of one server turn.
type TargetOutput struct {
	URL         string      `json:"url"`
	Ref         string      `json:"ref,omitempty"`
	ClickMethod ClickMethod `json:"clickMethod"`
	VerdictText string      `json:"verdictText"`
	Verdict     Verdict     `json:"verdict"`
	Success     *bool       `json:"success"`
}

// RunResult is the final result of a successful run.
type RunResult struct {
	ServerID string                  `json:"server"`
	Outputs  map[string]TargetOutput `json:"outputs"`
}

// RankRequest is the input to a scorer.
type RankRequest struct {
	Task            string
	Targets         []string
	Servers         []ServerDescriptor
	PreferredRegion string
}

// Clock returns the current time. Readings carry the monotonic clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
