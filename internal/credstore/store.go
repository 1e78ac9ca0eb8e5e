// Package credstore persists the bearer credential and the selected operating context.
//
// It is the only code allowed to touch durable storage for identity. Every
// operation degrades to a no-op or an empty result when storage is absent or
// failing; nothing here returns an error to the caller.
package credstore

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/and161185/consulta/internal/model"
	"github.com/and161185/consulta/internal/storage"
)

// Durable storage keys.
const (
	KeyToken          = "auth_token"
	KeyTokenExpiry    = "auth_token_expiry"
	KeyCurrentContext = "auth_current_context"
)

// ExpiryBuffer keeps a request from racing the server-side expiry.
const ExpiryBuffer = 30 * time.Second

// Store implements credential and context persistence over a Storage.
type Store struct {
	st  storage.Storage
	log *zap.Logger
	now func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithLogger attaches a logger for degraded storage reports.
func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.log = l } }

// New constructs a Store; a nil st models an environment without durable storage.
func New(st storage.Storage, opts ...Option) *Store {
	s := &Store{st: st, log: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Available reports whether durable storage is present.
func (s *Store) Available() bool { return s.st != nil }

// SetToken overwrites the persisted credential. The token content is not inspected.
func (s *Store) SetToken(ctx context.Context, token string, expiresAt time.Time) {
	s.guard("set token", func() error {
		if err := s.st.Set(ctx, KeyToken, token); err != nil {
			return err
		}
		return s.st.Set(ctx, KeyTokenExpiry, expiresAt.UTC().Format(time.RFC3339Nano))
	})
}

// Token returns the stored token if present and not expired. An expired
// credential is cleared as a side effect.
func (s *Store) Token(ctx context.Context) (string, bool) {
	if s.st == nil {
		return "", false
	}
	if s.IsExpired(ctx) {
		s.Clear(ctx)
		return "", false
	}
	var tok string
	var ok bool
	s.guard("get token", func() error {
		var err error
		tok, ok, err = s.st.Get(ctx, KeyToken)
		return err
	})
	if !ok || tok == "" {
		return "", false
	}
	return tok, true
}

// Expiry returns the persisted expiry, if any.
func (s *Store) Expiry(ctx context.Context) (time.Time, bool) {
	var raw string
	var ok bool
	s.guard("get expiry", func() error {
		var err error
		raw, ok, err = s.st.Get(ctx, KeyTokenExpiry)
		return err
	})
	if !ok {
		return time.Time{}, false
	}
	exp, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		s.log.Debug("unparseable token expiry", zap.Error(err))
		return time.Time{}, false
	}
	return exp, true
}

// IsExpired is true unless a persisted expiry exists and expiresAt-30s is still in the future.
func (s *Store) IsExpired(ctx context.Context) bool {
	exp, ok := s.Expiry(ctx)
	if !ok {
		return true
	}
	return !exp.Add(-ExpiryBuffer).After(s.now())
}

// Clear removes token and expiry. It is idempotent.
func (s *Store) Clear(ctx context.Context) {
	s.guard("clear token", func() error {
		err1 := s.st.Delete(ctx, KeyToken)
		err2 := s.st.Delete(ctx, KeyTokenExpiry)
		if err1 != nil {
			return err1
		}
		return err2
	})
}

// LoadContext returns the persisted operating context. A corrupt value is dropped.
func (s *Store) LoadContext(ctx context.Context) *model.Context {
	var raw string
	var ok bool
	s.guard("get context", func() error {
		var err error
		raw, ok, err = s.st.Get(ctx, KeyCurrentContext)
		return err
	})
	if !ok || raw == "" {
		return nil
	}
	var c model.Context
	if err := json.Unmarshal([]byte(raw), &c); err != nil || !c.Type.Valid() {
		s.log.Debug("dropping unreadable persisted context")
		s.ClearContext(ctx)
		return nil
	}
	return &c
}

// SaveContext overwrites the persisted operating context.
func (s *Store) SaveContext(ctx context.Context, c model.Context) {
	s.guard("set context", func() error {
		b, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return s.st.Set(ctx, KeyCurrentContext, string(b))
	})
}

// ClearContext removes the persisted operating context. It is idempotent.
func (s *Store) ClearContext(ctx context.Context) {
	s.guard("clear context", func() error {
		return s.st.Delete(ctx, KeyCurrentContext)
	})
}

// guard runs a storage operation, turning errors and panics into log lines.
func (s *Store) guard(op string, fn func() error) {
	if s.st == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("identity storage panicked", zap.String("op", op), zap.String("reason", fmt.Sprint(r)))
		}
	}()
	if err := fn(); err != nil {
		s.log.Warn("identity storage unavailable", zap.String("op", op), zap.Error(err))
	}
}
