package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/uuid/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/and161185/consulta/internal/backend"
	"github.com/and161185/consulta/internal/errs"
	"github.com/and161185/consulta/internal/model"
	"github.com/and161185/consulta/internal/service"
)

type memAccounts struct {
	mu   sync.Mutex
	byID map[uuid.UUID]model.Account
}

func (m *memAccounts) Create(_ context.Context, a *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byID == nil {
		m.byID = map[uuid.UUID]model.Account{}
	}
	for _, have := range m.byID {
		if have.Email == a.Email {
			return errs.ErrAlreadyExists
		}
	}
	m.byID[a.ID] = *a
	return nil
}

func (m *memAccounts) GetByID(_ context.Context, id uuid.UUID) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &a, nil
}

func (m *memAccounts) GetByEmail(_ context.Context, email string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if strings.EqualFold(a.Email, email) {
			return &a, nil
		}
	}
	return nil, errs.ErrNotFound
}

type openLimiter struct{ blocked bool }

func (l openLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	return !l.blocked, 0, nil
}
func (openLimiter) Success(context.Context, string, []byte) error { return nil }
func (openLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	return false, 0, nil
}

func newAuth(t *testing.T) service.AuthService {
	t.Helper()
	s := service.NewAuthService(&memAccounts{}, []byte("0123456789abcdef"), time.Hour, openLimiter{})
	def := model.Context{Type: model.ContextProfessional, ID: "p-7", Name: "Dr. Ruiz"}
	_, err := s.Register(context.Background(), service.NewAccount{
		Email:       "dana@example.com",
		Password:    "password1",
		FullName:    "Dana Ruiz",
		Roles:       []string{"Professional", "Client"},
		Permissions: []string{"Agenda.View"},
		Contexts: []model.Context{
			{Type: model.ContextPatient, ID: "u-dana", Name: "Dana"},
			def,
		},
		DefaultContext:        &def,
		ProfessionalProfileID: "p-7",
	})
	require.NoError(t, err)
	return s
}

func newServer(t *testing.T, auth service.AuthService, opts Options) (*httptest.Server, *Metrics) {
	t.Helper()
	m := NewMetrics()
	srv := httptest.NewServer(NewRouter(auth, zap.NewNop(), m, opts))
	t.Cleanup(srv.Close)
	return srv, m
}

type staticToken struct {
	mu  sync.Mutex
	tok string
}

func (s *staticToken) Token(context.Context) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tok, s.tok != ""
}

func TestLoginAndMe_RoundTripThroughClient(t *testing.T) {
	srv, m := newServer(t, newAuth(t), Options{})
	tokens := &staticToken{}
	c, err := backend.New(backend.Config{BaseURL: srv.URL, CorrelationID: "test-cid"}, tokens, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	res, err := c.Login(ctx, "Dana@Example.com", "password1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.True(t, res.ExpiresAt.After(time.Now()))
	assert.Equal(t, "Dana Ruiz", res.User.Name)
	assert.Equal(t, []string{"Professional", "Client"}, res.User.Roles)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoginsTotal.WithLabelValues(OutcomeSuccess)))

	tokens.mu.Lock()
	tokens.tok = res.Token
	tokens.mu.Unlock()

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, me.ID)
	assert.Equal(t, []string{"Agenda.View"}, me.Permissions)
	require.Len(t, me.Contexts, 2)
	require.NotNil(t, me.DefaultContext)
	assert.Equal(t, model.ContextProfessional, me.DefaultContext.Type)
	assert.True(t, me.HasProfessionalProfile)
	assert.Equal(t, "p-7", me.ProfessionalProfileID)
}

func TestLogin_Failures(t *testing.T) {
	srv, m := newServer(t, newAuth(t), Options{})
	post := func(body string) (*http.Response, problem) {
		resp, err := http.Post(srv.URL+"/auth/login", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		var p problem
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
		return resp, p
	}

	resp, p := post(`{"email":"dana@example.com","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, contentTypeProblem, resp.Header.Get("Content-Type"))
	assert.Equal(t, "invalid email or password", p.Detail)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoginsTotal.WithLabelValues(OutcomeInvalid)))

	resp, _ = post(`{"email":"ghost@example.com","password":"password1"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, p = post(`{"email":"not-an-email","password":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, http.StatusBadRequest, p.Status)

	resp, _ = post(`{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogin_Locked(t *testing.T) {
	s := service.NewAuthService(&memAccounts{}, []byte("0123456789abcdef"), time.Hour, openLimiter{blocked: true})
	srv, m := newServer(t, s, Options{})
	resp, err := http.Post(srv.URL+"/auth/login", "application/json",
		strings.NewReader(`{"email":"dana@example.com","password":"password1"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoginsTotal.WithLabelValues(OutcomeLocked)))
}

func TestLogin_PerIPRate(t *testing.T) {
	srv, _ := newServer(t, newAuth(t), Options{LoginRate: 2})
	codes := make([]int, 0, 3)
	for range 3 {
		resp, err := http.Post(srv.URL+"/auth/login", "application/json",
			strings.NewReader(`{"email":"dana@example.com","password":"wrong"}`))
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)
}

func TestMe_RequiresBearer(t *testing.T) {
	srv, _ := newServer(t, newAuth(t), Options{})
	for name, header := range map[string]string{
		"none":    "",
		"basic":   "Basic Zm9vOmJhcg==",
		"garbage": "Bearer not-a-jwt",
		"empty":   "Bearer ",
	} {
		t.Run(name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/auth/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

type vanishing struct{ service.AuthService }

func (vanishing) VerifyToken(string) (uuid.UUID, error) { return uuid.Must(uuid.NewV4()), nil }

func TestMe_VanishedAccount(t *testing.T) {
	srv, _ := newServer(t, vanishing{newAuth(t)}, Options{})
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/auth/me", nil)
	req.Header.Set("Authorization", "Bearer anything")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthzAndMetrics(t *testing.T) {
	var down atomic.Bool
	srv, _ := newServer(t, newAuth(t), Options{Health: func(context.Context) error {
		if down.Load() {
			return errors.New("db gone")
		}
		return nil
	}})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down.Store(true)
	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `consulta_idp_http_requests_total{code="200",method="GET",route="/healthz"} 1`)
	assert.Contains(t, string(body), `consulta_idp_http_requests_total{code="503",method="GET",route="/healthz"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newServer(t, newAuth(t), Options{CORSOrigins: []string{"http://localhost:4200"}})
	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:4200", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestNotFoundIsProblem(t *testing.T) {
	srv, _ := newServer(t, newAuth(t), Options{})
	resp, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, contentTypeProblem, resp.Header.Get("Content-Type"))
}

func TestRecover(t *testing.T) {
	h := Recover(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAccountIDFromCtx(t *testing.T) {
	_, ok := AccountIDFromCtx(context.Background())
	assert.False(t, ok)
	id := uuid.Must(uuid.NewV4())
	got, ok := AccountIDFromCtx(WithAccountID(context.Background(), id))
	assert.True(t, ok)
	assert.Equal(t, id, got)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusOf(errs.ErrAlreadyExists))
	assert.Equal(t, http.StatusNotFound, statusOf(errs.ErrNotFound))
	assert.Equal(t, http.StatusForbidden, statusOf(errs.ErrForbidden))
	assert.Equal(t, http.StatusInternalServerError, statusOf(errors.New("x")))
}
