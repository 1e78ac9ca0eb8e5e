package credstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/consulta/internal/model"
	"github.com/and161185/consulta/internal/storage"
)

type brokenStorage struct{ panics bool }

func (b brokenStorage) Get(context.Context, string) (string, bool, error) {
	if b.panics {
		panic("quota exceeded")
	}
	return "", false, errors.New("storage disabled")
}
func (b brokenStorage) Set(context.Context, string, string) error {
	if b.panics {
		panic("quota exceeded")
	}
	return errors.New("storage disabled")
}
func (b brokenStorage) Delete(context.Context, string) error { return errors.New("storage disabled") }

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestToken_RoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := New(storage.NewMemory(), WithClock(fixedClock(now)))

	_, ok := s.Token(ctx)
	require.False(t, ok)
	require.True(t, s.IsExpired(ctx))

	s.SetToken(ctx, "tok", now.Add(time.Hour))
	tok, ok := s.Token(ctx)
	require.True(t, ok)
	require.Equal(t, "tok", tok)
	require.False(t, s.IsExpired(ctx))

	exp, ok := s.Expiry(ctx)
	require.True(t, ok)
	require.True(t, exp.Equal(now.Add(time.Hour)))
}

func TestToken_ExpiryBufferAndClearing(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mem := storage.NewMemory()

	// exactly at expiresAt-30s the token is already unusable
	s := New(mem, WithClock(fixedClock(now)))
	s.SetToken(ctx, "tok", now.Add(ExpiryBuffer))
	require.True(t, s.IsExpired(ctx))
	_, ok := s.Token(ctx)
	require.False(t, ok)

	_, present, _ := mem.Get(ctx, KeyToken)
	require.False(t, present, "expired token must be cleared from storage")
	_, present, _ = mem.Get(ctx, KeyTokenExpiry)
	require.False(t, present)

	// one nanosecond inside the buffer edge is still valid
	s.SetToken(ctx, "tok", now.Add(ExpiryBuffer+time.Nanosecond))
	_, ok = s.Token(ctx)
	require.True(t, ok)
}

func TestClear_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())
	s.SetToken(ctx, "tok", time.Now().Add(time.Hour))
	s.Clear(ctx)
	s.Clear(ctx)
	_, ok := s.Token(ctx)
	require.False(t, ok)
}

func TestUnparseableExpiryIsExpired(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	require.NoError(t, mem.Set(ctx, KeyToken, "tok"))
	require.NoError(t, mem.Set(ctx, KeyTokenExpiry, "tomorrow"))
	s := New(mem)
	require.True(t, s.IsExpired(ctx))
	_, ok := s.Token(ctx)
	require.False(t, ok)
}

func TestNoStorage_DegradesSilently(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	require.False(t, s.Available())
	s.SetToken(ctx, "tok", time.Now().Add(time.Hour))
	_, ok := s.Token(ctx)
	assert.False(t, ok)
	assert.True(t, s.IsExpired(ctx))
	s.Clear(ctx)
	s.SaveContext(ctx, model.Context{Type: model.ContextAdmin, ID: "1"})
	assert.Nil(t, s.LoadContext(ctx))
	s.ClearContext(ctx)
}

func TestFailingStorage_NeverPropagates(t *testing.T) {
	ctx := context.Background()
	for _, st := range []storage.Storage{brokenStorage{}, brokenStorage{panics: true}} {
		s := New(st)
		require.NotPanics(t, func() {
			s.SetToken(ctx, "tok", time.Now().Add(time.Hour))
			_, ok := s.Token(ctx)
			assert.False(t, ok)
			s.Clear(ctx)
			s.SaveContext(ctx, model.Context{Type: model.ContextPatient, ID: "9"})
			assert.Nil(t, s.LoadContext(ctx))
			s.ClearContext(ctx)
		})
	}
}

func TestContext_RoundTripAndCorruption(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	s := New(mem)

	require.Nil(t, s.LoadContext(ctx))

	want := model.Context{Type: model.ContextProfessional, ID: "2", Name: "Dr. Ruiz", Slug: "dr-ruiz"}
	s.SaveContext(ctx, want)
	got := s.LoadContext(ctx)
	require.NotNil(t, got)
	require.Equal(t, want, *got)

	s.ClearContext(ctx)
	require.Nil(t, s.LoadContext(ctx))

	require.NoError(t, mem.Set(ctx, KeyCurrentContext, `{"type":"OWNER","id":"1"}`))
	require.Nil(t, s.LoadContext(ctx))
	_, present, _ := mem.Get(ctx, KeyCurrentContext)
	require.False(t, present, "unreadable context must be dropped")
}
