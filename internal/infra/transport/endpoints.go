package transport

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"mcpagent/internal/domain"
)

type endpointVariant string

const (
	variantPrimary        endpointVariant = "primary"
	variantPrimarySession endpointVariant = "primary+session"
	variantLegacy         endpointVariant = "legacy"
	variantLegacySession  endpointVariant = "legacy+session"
)

var variantOrder = []endpointVariant{variantPrimary, variantPrimarySession, variantLegacy, variantLegacySession}

func (v endpointVariant) withSession() bool {
	return v == variantPrimarySession || v == variantLegacySession
}

// endpoints resolves the POST and push-channel URLs of one server.
type endpoints struct {
	primary *url.URL
	legacy  *url.URL
}

func newEndpoints(baseURL string) (endpoints, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return endpoints{}, errors.New("base url is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return endpoints{}, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return endpoints{}, fmt.Errorf("unsupported base url scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return endpoints{}, errors.New("base url host is required")
	}
	return endpoints{
		primary: primaryURL(parsed),
		legacy:  legacyURL(parsed),
	}, nil
}

// primaryURL is the header-negotiated endpoint. A base pointing at the
// legacy path is rewritten to the primary path.
func primaryURL(base *url.URL) *url.URL {
	out := *base
	path := strings.TrimRight(out.Path, "/")
	if strings.HasSuffix(path, domain.DefaultLegacyEndpointSuffix) {
		out.Path = strings.TrimSuffix(path, domain.DefaultLegacyEndpointSuffix) + domain.DefaultPrimaryEndpointSuffix
	}
	return &out
}

// legacyURL derives the push-channel endpoint: a /sse base is kept, a /mcp
// base is rewritten to /sse, anything else gets /sse appended.
func legacyURL(base *url.URL) *url.URL {
	out := *base
	path := strings.TrimRight(out.Path, "/")
	switch {
	case strings.HasSuffix(path, domain.DefaultLegacyEndpointSuffix):
		out.Path = path
	case strings.HasSuffix(path, domain.DefaultPrimaryEndpointSuffix):
		out.Path = strings.TrimSuffix(path, domain.DefaultPrimaryEndpointSuffix) + domain.DefaultLegacyEndpointSuffix
	default:
		out.Path = path + domain.DefaultLegacyEndpointSuffix
	}
	return &out
}

// PushURL returns the URL opened with GET for the push channel.
func (e endpoints) PushURL() string {
	return e.legacy.String()
}

// URL renders the POST target of a variant.
func (e endpoints) URL(variant endpointVariant, sessionID string) string {
	var base url.URL
	switch variant {
	case variantLegacy, variantLegacySession:
		base = *e.legacy
	default:
		base = *e.primary
	}
	if variant.withSession() && sessionID != "" {
		query := base.Query()
		query.Set(domain.DefaultSessionQueryParameter, sessionID)
		base.RawQuery = query.Encode()
	}
	return base.String()
}

// candidates orders the variants to try: the sticky variant first, then the
// fixed order. Session-suffixed variants are skipped until a session id is
// known.
func candidates(sticky endpointVariant, sessionID string) []endpointVariant {
	out := make([]endpointVariant, 0, len(variantOrder))
	allowed := func(v endpointVariant) bool {
		return !v.withSession() || sessionID != ""
	}
	if sticky != "" && allowed(sticky) {
		out = append(out, sticky)
	}
	for _, v := range variantOrder {
		if v == sticky || !allowed(v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// sessionFromGreeting extracts the session id from a push-channel greeting
// such as "/sse?sessionId=abc".
func sessionFromGreeting(payload string) (string, bool) {
	trimmed := strings.TrimSpace(payload)
	marker := domain.DefaultSessionQueryParameter + "="
	if !strings.Contains(trimmed, marker) {
		return "", false
	}
	if parsed, err := url.Parse(trimmed); err == nil {
		if id := strings.TrimSpace(parsed.Query().Get(domain.DefaultSessionQueryParameter)); id != "" {
			return id, true
		}
	}
	_, rest, _ := strings.Cut(trimmed, marker)
	end := strings.IndexAny(rest, "&\" \t")
	if end >= 0 {
		rest = rest[:end]
	}
	rest = strings.TrimSpace(rest)
	return rest, rest != ""
}
