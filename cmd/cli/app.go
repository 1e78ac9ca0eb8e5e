package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/and161185/consulta/internal/backend"
	"github.com/and161185/consulta/internal/checkpoint"
	"github.com/and161185/consulta/internal/config"
	"github.com/and161185/consulta/internal/credstore"
	"github.com/and161185/consulta/internal/errs"
	"github.com/and161185/consulta/internal/logging"
	"github.com/and161185/consulta/internal/menu"
	"github.com/and161185/consulta/internal/model"
	"github.com/and161185/consulta/internal/profile"
	"github.com/and161185/consulta/internal/session"
	"github.com/and161185/consulta/internal/storage"
)

// Navigator keys share the identity storage so the page a command was
// looking at outlives the process.
const (
	keyNavCurrent = "nav_current"
	keyNavLast    = "nav_last"
)

// navigator is the CLI's stand-in for a router: it remembers the page the
// user is "on" and the last redirect the session core asked for. Without
// durable storage it only remembers for the current command.
type navigator struct {
	mu      sync.Mutex
	ctx     context.Context
	st      storage.Storage
	log     *zap.Logger
	current string
	last    *model.Redirect
}

func newNavigator(ctx context.Context, st storage.Storage, log *zap.Logger) *navigator {
	n := &navigator{ctx: ctx, st: st, log: log}
	if st == nil {
		return n
	}
	if v, ok, err := st.Get(ctx, keyNavCurrent); err == nil && ok {
		n.current = v
	}
	if v, ok, err := st.Get(ctx, keyNavLast); err == nil && ok {
		var r model.Redirect
		if json.Unmarshal([]byte(v), &r) == nil {
			n.last = &r
		}
	}
	return n
}

func (n *navigator) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

func (n *navigator) Navigate(r model.Redirect) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.current = r.URL()
	n.last = &r
	n.save()
}

func (n *navigator) visit(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.current = path
	n.save()
}

// Last returns the most recent redirect, if any.
func (n *navigator) Last() (model.Redirect, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.last == nil {
		return model.Redirect{}, false
	}
	return *n.last, true
}

// pendingReturn is the page a login redirect promised to come back to.
func (n *navigator) pendingReturn() (string, bool) {
	r, ok := n.Last()
	if !ok || r.Path != model.RouteLogin {
		return "", false
	}
	ret := r.Params[model.ParamReturnURL]
	return ret, ret != ""
}

// arrive consumes a pending login redirect and lands on its return page.
func (n *navigator) arrive(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.current = path
	n.last = nil
	n.save()
}

// save must be called with mu held. Failures are logged and dropped.
func (n *navigator) save() {
	if n.st == nil {
		return
	}
	err := n.st.Set(n.ctx, keyNavCurrent, n.current)
	if err == nil {
		if n.last == nil {
			err = n.st.Delete(n.ctx, keyNavLast)
		} else {
			var b []byte
			if b, err = json.Marshal(n.last); err == nil {
				err = n.st.Set(n.ctx, keyNavLast, string(b))
			}
		}
	}
	if err != nil {
		n.log.Debug("navigator state not saved", zap.Error(err))
	}
}

// app is one CLI invocation's wiring.
type app struct {
	cfg     config.Client
	log     *zap.Logger
	creds   *credstore.Store
	api     *backend.Client
	session *session.Container
	nav     *navigator
	guard   *checkpoint.Guard
	menu    *menu.Menu
	profile *profile.Tracker
	closers []func()
}

func newApp(ctx context.Context, cfg config.Client) (*app, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: logging.New(cfg.Env, cfg.LogLevel)}

	st, closeStore := openStorage(ctx, cfg, a.log)
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}
	a.creds = credstore.New(st, credstore.WithLogger(a.log))
	a.nav = newNavigator(ctx, st, a.log)

	var err error
	a.api, err = backend.New(backend.Config{
		BaseURL:       cfg.APIURL,
		CorrelationID: backend.NewCorrelationID(),
		Timeout:       cfg.Timeout,
	}, a.creds, a.log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.session = session.New(a.api, a.creds, session.WithNavigator(a.nav), session.WithLogger(a.log))
	a.api.Transport().OnUnauthorized(func(ctx context.Context, _ string) {
		a.session.HandleUnauthorized(ctx)
	})

	table, err := loadTable(cfg.RoutesFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.guard = checkpoint.NewGuard(table, checkpoint.WithEnv(cfg.Env), checkpoint.WithLogger(a.log))

	if a.menu, err = loadMenu(cfg.MenuFile); err != nil {
		a.Close()
		return nil, err
	}

	a.profile = profile.NewTracker(a.session)
	a.closers = append(a.closers, a.profile.Close)
	return a, nil
}

// Close releases storage connections and observers.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.log.Sync()
}

// restore brings back the persisted session. A missing credential is not an
// error; a failed load leaves the problem in the session for the caller to show.
func (a *app) restore(ctx context.Context, warn io.Writer) {
	_, err := a.session.Initialize(ctx)
	if err == nil || errors.Is(err, errs.ErrNoSession) {
		return
	}
	a.log.Debug("restore session", zap.Error(err))
	if p := a.session.Snapshot().LastError; p != nil {
		fmt.Fprintf(warn, "warning: %s: %s\n", p.Title, p.Detail)
	}
}

// openStorage never fails: an unreachable redis degrades to process memory,
// so the command runs with a session that is not kept.
func openStorage(ctx context.Context, cfg config.Client, log *zap.Logger) (storage.Storage, func()) {
	switch cfg.Storage {
	case config.StorageFile:
		return storage.NewFile(cfg.StorageDir), nil
	case config.StorageRedis:
		rdb, err := storage.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Warn("redis storage unavailable, session will not be kept",
				zap.String("addr", cfg.RedisAddr), zap.Error(err))
			return storage.NewMemory(), nil
		}
		return storage.NewRedis(rdb, ""), func() { _ = rdb.Close() }
	case config.StorageMemory:
		return storage.NewMemory(), nil
	default:
		return nil, nil
	}
}

func loadTable(path string) (*checkpoint.Table, error) {
	if path == "" {
		return checkpoint.DefaultTable()
	}
	return checkpoint.LoadTableFile(path)
}

func loadMenu(path string) (*menu.Menu, error) {
	if path == "" {
		return menu.Default()
	}
	return menu.LoadFile(path)
}
