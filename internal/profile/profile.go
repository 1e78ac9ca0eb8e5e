// Package profile derives the coarse UI profile (menu and layout variant) of a user.
//
// The profile is UX guidance only. Enforcement is the backend's 403 and the
// permission checkpoint.
package profile

import (
	"slices"
	"sync"

	"github.com/and161185/consulta/internal/authz"
	"github.com/and161185/consulta/internal/model"
	"github.com/and161185/consulta/internal/observe"
)

// Resolve picks exactly one profile; precedence is ADMIN > PROFESSIONAL > CLIENT.
func Resolve(authenticated bool, roles, permissions []string) model.UIProfile {
	switch {
	case !authenticated:
		return model.ProfileClient
	case authz.HasRole(roles, authz.RoleSuperAdmin):
		return model.ProfileAdmin
	case authz.HasAnyByPrefix(permissions, authz.AdminPrefixes):
		return model.ProfileAdmin
	case authz.HasRole(roles, authz.RoleProfessional),
		authz.HasAnyByPrefix(permissions, authz.ProfessionalPrefixes):
		return model.ProfileProfessional
	default:
		return model.ProfileClient
	}
}

// FromSession applies Resolve to a session snapshot.
func FromSession(s model.Session) model.UIProfile {
	return Resolve(s.IsAuthenticated, s.Roles(), s.Permissions())
}

// BaseRoute is the landing route of a profile.
func BaseRoute(p model.UIProfile) string {
	switch p {
	case model.ProfileAdmin:
		return model.RouteAdminArea
	case model.ProfileProfessional:
		return model.RouteProfessionalDashboard
	default:
		return model.RouteClientHome
	}
}

// Source is the reactive session projection a Tracker follows.
type Source interface {
	Snapshot() model.Session
	Subscribe(fn func(model.Session)) (cancel func())
}

// Tracker keeps the derived profile current as the session changes.
type Tracker struct {
	subject *observe.Subject[model.UIProfile]
	cancel  func()

	mu   sync.Mutex
	last inputs
}

type inputs struct {
	authenticated bool
	roles, perms  []string
}

func (a inputs) equal(b inputs) bool {
	return a.authenticated == b.authenticated && slices.Equal(a.roles, b.roles) && slices.Equal(a.perms, b.perms)
}

// NewTracker starts following src. Call Close to stop.
func NewTracker(src Source) *Tracker {
	s := src.Snapshot()
	in := inputs{s.IsAuthenticated, s.Roles(), s.Permissions()}
	t := &Tracker{
		subject: observe.NewSubject(Resolve(in.authenticated, in.roles, in.perms)),
		last:    in,
	}
	t.cancel = src.Subscribe(t.onSession)
	return t
}

func (t *Tracker) onSession(s model.Session) {
	in := inputs{s.IsAuthenticated, s.Roles(), s.Permissions()}
	t.mu.Lock()
	if in.equal(t.last) {
		t.mu.Unlock()
		return
	}
	t.last = in
	t.mu.Unlock()

	next := Resolve(in.authenticated, in.roles, in.perms)
	if next != t.subject.Get() {
		t.subject.Publish(next)
	}
}

// Current returns the latest derived profile.
func (t *Tracker) Current() model.UIProfile { return t.subject.Get() }

// Subscribe is notified only when the derived profile changes.
func (t *Tracker) Subscribe(fn func(model.UIProfile)) (cancel func()) {
	return t.subject.Subscribe(fn)
}

// Close detaches the tracker from its source.
func (t *Tracker) Close() { t.cancel() }
