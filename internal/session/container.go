// Package session owns the authenticated session: who is logged in, which
// context they act in, and the transitions between those states.
package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/consulta/internal/backend"
	"github.com/and161185/consulta/internal/errs"
	"github.com/and161185/consulta/internal/model"
	"github.com/and161185/consulta/internal/observe"
)

// ErrSuperseded is returned when a response arrives after a logout or a
// newer login replaced the session it was meant for.
var ErrSuperseded = errors.New("session: superseded by a newer operation")

// Backend is the identity API the container calls.
type Backend interface {
	Login(ctx context.Context, email, password string) (backend.LoginResult, error)
	Me(ctx context.Context) (model.Identity, error)
}

// Credentials is the durable credential and context persistence.
type Credentials interface {
	Token(ctx context.Context) (string, bool)
	SetToken(ctx context.Context, token string, expiresAt time.Time)
	Clear(ctx context.Context)
	LoadContext(ctx context.Context) *model.Context
	SaveContext(ctx context.Context, c model.Context)
	ClearContext(ctx context.Context)
}

// Navigator is the host's navigation surface.
type Navigator interface {
	Current() string
	Navigate(to model.Redirect)
}

type noopNavigator struct{}

func (noopNavigator) Current() string        { return "" }
func (noopNavigator) Navigate(model.Redirect) {}

// Container is the only writer of Session. Readers take snapshots or subscribe.
type Container struct {
	api   Backend
	creds Credentials
	nav   Navigator
	log   *zap.Logger

	state *observe.Subject[model.Session]

	// epoch moves on logout and on login; responses started under an older
	// epoch are discarded.
	epoch    atomic.Uint64
	inflight atomic.Int32
}

// Option customizes a Container.
type Option func(*Container)

// WithNavigator sets the navigation collaborator.
func WithNavigator(n Navigator) Option { return func(c *Container) { c.nav = n } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(c *Container) { c.log = l } }

// New constructs a Container holding an empty session.
func New(api Backend, creds Credentials, opts ...Option) *Container {
	c := &Container{
		api:   api,
		creds: creds,
		nav:   noopNavigator{},
		log:   zap.NewNop(),
		state: observe.NewSubject(model.Session{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Snapshot returns the latest session value.
func (c *Container) Snapshot() model.Session { return c.state.Get() }

// Subscribe registers fn for every replacement of the session. fn must not
// call mutating Container methods synchronously.
func (c *Container) Subscribe(fn func(model.Session)) (cancel func()) {
	return c.state.Subscribe(fn)
}

// Initialize restores a persisted session. It returns errs.ErrNoSession
// without any I/O when no valid credential is stored.
func (c *Container) Initialize(ctx context.Context) (model.Identity, error) {
	if _, ok := c.creds.Token(ctx); !ok {
		return model.Identity{}, errs.ErrNoSession
	}
	return c.LoadSession(ctx)
}

// Login authenticates and installs a provisional session. Permissions and
// contexts stay empty until LoadSession runs.
func (c *Container) Login(ctx context.Context, email, password string) (model.Identity, error) {
	epoch := c.begin()
	res, err := c.api.Login(ctx, email, password)
	if err != nil {
		p := backend.ProblemOf(err)
		c.commit(epoch, func(s model.Session) model.Session {
			s.LastError = &p
			return s
		})
		return model.Identity{}, err
	}

	user := res.User
	applied := c.commit(epoch, func(model.Session) model.Session {
		c.creds.SetToken(ctx, res.Token, res.ExpiresAt)
		c.epoch.Add(1)
		return model.Session{IsAuthenticated: true, User: &user}
	})
	if !applied {
		return model.Identity{}, ErrSuperseded
	}
	c.log.Info("signed in", zap.String("user_id", user.ID))
	return user, nil
}

// LoadSession fetches the canonical identity and resolves the active context.
// A 401 tears the session down; any other failure only records LastError.
func (c *Container) LoadSession(ctx context.Context) (model.Identity, error) {
	return c.fetch(ctx, false)
}

// RefreshSession is LoadSession that keeps the active context while the
// server still lists it.
func (c *Container) RefreshSession(ctx context.Context) (model.Identity, error) {
	return c.fetch(ctx, true)
}

func (c *Container) fetch(ctx context.Context, keepCurrent bool) (model.Identity, error) {
	epoch := c.begin()
	id, err := c.api.Me(ctx)
	if err != nil {
		if errors.Is(err, errs.ErrUnauthorized) {
			p := backend.SessionExpiredProblem()
			if c.commit(epoch, func(model.Session) model.Session {
				c.teardown(ctx)
				return model.Session{LastError: &p}
			}) {
				c.log.Info("credential rejected, session cleared")
			}
			return model.Identity{}, err
		}
		p := backend.ProblemOf(err)
		c.commit(epoch, func(s model.Session) model.Session {
			s.LastError = &p
			return s
		})
		return model.Identity{}, err
	}

	applied := c.commit(epoch, func(s model.Session) model.Session {
		var chosen *model.Context
		if keepCurrent && s.CurrentContext != nil {
			if own, ok := id.FindContext(*s.CurrentContext); ok {
				chosen = &own
			}
		}
		if chosen == nil {
			// on refresh the persisted value is the context that just vanished
			var persisted *model.Context
			if !keepCurrent {
				persisted = c.creds.LoadContext(ctx)
			}
			chosen = ResolveContext(persisted, id.DefaultContext, id.Contexts)
		}
		if chosen != nil {
			c.creds.SaveContext(ctx, *chosen)
		} else {
			c.creds.ClearContext(ctx)
		}
		return model.Session{IsAuthenticated: true, User: &id, CurrentContext: chosen}
	})
	if !applied {
		return model.Identity{}, ErrSuperseded
	}
	return id, nil
}

// SwitchContext activates target if the user holds it (by type and id).
// Switching to the active context is a successful no-op.
func (c *Container) SwitchContext(ctx context.Context, target model.Context) bool {
	s := c.state.Get()
	if !s.IsAuthenticated {
		return false
	}
	own, ok := s.User.FindContext(target)
	if !ok {
		return false
	}
	if s.CurrentContext != nil && *s.CurrentContext == own {
		return true
	}

	switched := false
	c.state.Update(func(s model.Session) model.Session {
		own, ok := s.User.FindContext(target)
		if !s.IsAuthenticated || !ok {
			return s
		}
		c.creds.SaveContext(ctx, own)
		s.CurrentContext = &own
		switched = true
		return s
	})
	if switched {
		c.log.Debug("context switched", zap.String("type", string(own.Type)), zap.String("id", own.ID))
	}
	return switched
}

// Logout clears the credential and persisted context, resets the session and
// navigates to the login page.
func (c *Container) Logout(ctx context.Context) {
	c.reset(ctx, nil)
	c.nav.Navigate(model.Redirect{Path: model.RouteLogin})
}

// HandleUnauthorized is the forced logout triggered by a 401 from an
// authenticated-area request. The page the user was on becomes the return target.
func (c *Container) HandleUnauthorized(ctx context.Context) {
	from := c.nav.Current()
	p := backend.SessionExpiredProblem()
	c.reset(ctx, &p)
	c.log.Info("session expired, forced logout", zap.String("from", from))
	c.nav.Navigate(model.LoginRedirect(from))
}

func (c *Container) reset(ctx context.Context, problem *model.ProblemInfo) {
	c.epoch.Add(1)
	c.state.Update(func(model.Session) model.Session {
		c.teardown(ctx)
		return model.Session{IsLoading: c.inflight.Load() > 0, LastError: problem}
	})
}

func (c *Container) teardown(ctx context.Context) {
	c.creds.Clear(ctx)
	c.creds.ClearContext(ctx)
}

// begin marks an operation in flight and captures the epoch it belongs to.
func (c *Container) begin() uint64 {
	c.inflight.Add(1)
	c.state.Update(func(s model.Session) model.Session {
		s.IsLoading = true
		return s
	})
	return c.epoch.Load()
}

// commit settles an in-flight operation. fn runs only while epoch is current;
// the loading flag is recomputed either way.
func (c *Container) commit(epoch uint64, fn func(model.Session) model.Session) bool {
	applied := false
	c.state.Update(func(s model.Session) model.Session {
		loading := c.inflight.Add(-1) > 0
		if c.epoch.Load() == epoch {
			s = fn(s)
			applied = true
		}
		s.IsLoading = loading
		return s
	})
	if !applied {
		c.log.Debug("discarding stale session response")
	}
	return applied
}
