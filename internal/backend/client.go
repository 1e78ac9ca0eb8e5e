// Package backend is the HTTP client for the identity endpoints the session core consumes.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/and161185/consulta/internal/errs"
	"github.com/and161185/consulta/internal/model"
)

const (
	pathLogin = "/auth/login"
	pathMe    = "/auth/me"

	maxBody = 1 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL       string        `validate:"required,url"`
	CorrelationID string        `validate:"required"`
	Timeout       time.Duration `validate:"gte=0"`
	AuthPrefixes  []string
	// Base is the underlying transport; nil selects http.DefaultTransport.
	Base http.RoundTripper `validate:"-"`
}

// Client calls /auth/login and /auth/me.
type Client struct {
	base      *url.URL
	http      *http.Client
	transport *Transport
	validate  *validator.Validate
	log       *zap.Logger
}

// New builds a Client. tokens supplies the bearer for authenticated-area requests.
func New(cfg Config, tokens TokenSource, log *zap.Logger) (*Client, error) {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("backend config: %w: %v", errs.ErrValidation, err)
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	tr := NewTransport(cfg.Base, tokens, cfg.CorrelationID, cfg.AuthPrefixes)
	return &Client{
		base:      u,
		http:      &http.Client{Transport: tr, Timeout: cfg.Timeout},
		transport: tr,
		validate:  v,
		log:       log,
	}, nil
}

// Transport exposes the decorating transport, e.g. to install the 401 hook
// or to share it with other API clients.
func (c *Client) Transport() *Transport { return c.transport }

// Login exchanges credentials for a token and a provisional identity.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	req := loginRequest{Email: strings.TrimSpace(email), Password: password}
	if err := c.validate.Struct(req); err != nil {
		return LoginResult{}, &ProblemError{
			HTTPStatus: http.StatusBadRequest,
			Problem: model.ProblemInfo{
				Status: http.StatusBadRequest,
				Title:  "Invalid credentials format",
				Detail: "a valid email and a password are required",
			},
			cause: err,
		}
	}

	var out loginResponse
	if err := c.do(ctx, http.MethodPost, pathLogin, req, &out); err != nil {
		return LoginResult{}, err
	}
	res, err := out.result()
	if err != nil {
		return LoginResult{}, c.malformed(err)
	}
	return res, nil
}

// Me fetches and normalizes the canonical current-user record.
func (c *Client) Me(ctx context.Context) (model.Identity, error) {
	var out meResponse
	if err := c.do(ctx, http.MethodGet, pathMe, nil, &out); err != nil {
		return model.Identity{}, err
	}
	id, err := out.identity()
	if err != nil {
		return model.Identity{}, c.malformed(err)
	}
	return id, nil
}

func (c *Client) malformed(err error) error {
	c.log.Warn("unexpected response shape", zap.Error(err))
	return &ProblemError{HTTPStatus: http.StatusInternalServerError, Problem: UnexpectedProblem(), cause: err}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		c.log.Debug("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return &ProblemError{Problem: NetworkProblem(), cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return &ProblemError{Problem: NetworkProblem(), cause: err}
	}
	c.log.Debug("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("dur", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProblemError{HTTPStatus: resp.StatusCode, Problem: ParseProblem(resp.StatusCode, raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return c.malformed(fmt.Errorf("%s %s: %w: %v", method, path, errs.ErrMalformedResponse, err))
	}
	return nil
}
