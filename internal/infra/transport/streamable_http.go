package transport

import (
	"errors"
	"net/http"
	"strings"

	"mcpagent/internal/domain"
)

// newHTTPClient builds a client that stamps the server's static headers and
// bearer credential on every request. The client has no overall timeout:
// calls are bounded by their context and the push stream is long-lived.
func newHTTPClient(server domain.ServerDescriptor, base http.RoundTripper) (*http.Client, error) {
	headers := http.Header{}
	for key, value := range server.Headers {
		name := http.CanonicalHeaderKey(strings.TrimSpace(key))
		if name == "" {
			return nil, errors.New("http headers contain empty key")
		}
		headers.Set(name, value)
	}
	if token := server.Auth.BearerToken(); token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	if base == nil {
		base = http.DefaultTransport
	}
	if base == nil {
		return nil, errors.New("default http transport is nil")
	}

	return &http.Client{
		Transport: &headerRoundTripper{
			base:    base,
			headers: headers,
		},
	}, nil
}

type headerRoundTripper struct {
	base    http.RoundTripper
	headers http.Header
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(h.headers) > 0 {
		req = req.Clone(req.Context())
		for key, values := range h.headers {
			req.Header.Del(key)
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}
	}
	return h.base.RoundTrip(req)
}
