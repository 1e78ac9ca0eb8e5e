package backend

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gofrs/uuid/v5"
)

// CorrelationHeader is attached to every outbound request.
const CorrelationHeader = "X-Correlation-ID"

// DefaultAuthPrefixes is the authenticated-area allowlist: only these paths
// get a bearer token, and only a 401 from them forces a logout.
var DefaultAuthPrefixes = []string{"/auth/me", "/api/"}

// NewCorrelationID returns a fresh identifier. Call it once per process and
// pass the value into Config; it is reused for every request of that process.
func NewCorrelationID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return "00000000-0000-4000-8000-000000000000"
	}
	return id.String()
}

// TokenSource yields the current bearer token, if any.
type TokenSource interface {
	Token(ctx context.Context) (string, bool)
}

// UnauthorizedFunc is invoked when an authenticated-area request returns 401.
type UnauthorizedFunc func(ctx context.Context, path string)

// Transport decorates outbound requests and watches for 401s.
type Transport struct {
	base          http.RoundTripper
	tokens        TokenSource
	correlationID string
	authPrefixes  []string

	mu             sync.RWMutex
	onUnauthorized UnauthorizedFunc
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, tokens TokenSource, correlationID string, authPrefixes []string) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if len(authPrefixes) == 0 {
		authPrefixes = DefaultAuthPrefixes
	}
	return &Transport{base: base, tokens: tokens, correlationID: correlationID, authPrefixes: authPrefixes}
}

// OnUnauthorized installs the forced-logout hook.
func (t *Transport) OnUnauthorized(fn UnauthorizedFunc) {
	t.mu.Lock()
	t.onUnauthorized = fn
	t.mu.Unlock()
}

// RequiresAuth reports whether path is on the authenticated-area allowlist.
func (t *Transport) RequiresAuth(path string) bool {
	for _, p := range t.authPrefixes {
		if path == p || strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// RoundTrip implements http.RoundTripper. The caller's request is not mutated.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if t.correlationID != "" {
		r.Header.Set(CorrelationHeader, t.correlationID)
	}

	protected := t.RequiresAuth(r.URL.Path)
	if protected && t.tokens != nil {
		if tok, ok := t.tokens.Token(r.Context()); ok {
			r.Header.Set("Authorization", "Bearer "+tok)
		}
	} else {
		r.Header.Del("Authorization")
	}

	resp, err := t.base.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && protected {
		t.mu.RLock()
		fn := t.onUnauthorized
		t.mu.RUnlock()
		if fn != nil {
			fn(r.Context(), r.URL.Path)
		}
	}
	return resp, nil
}
