package checkpoint

import (
	"net/url"

	"go.uber.org/zap"

	"github.com/and161185/consulta/internal/authz"
	"github.com/and161185/consulta/internal/model"
	"github.com/and161185/consulta/internal/profile"
	"github.com/and161185/consulta/internal/session"
)

// EnvProduction silences developer warnings.
const EnvProduction = "production"

// Guard evaluates policies against a session snapshot.
type Guard struct {
	table *Table
	env   string
	log   *zap.Logger
}

// Option customizes a Guard.
type Option func(*Guard)

// WithEnv sets the deployment environment name.
func WithEnv(env string) Option { return func(g *Guard) { g.env = env } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(g *Guard) { g.log = l } }

// NewGuard builds a Guard over table; a nil table treats every path as public.
func NewGuard(table *Table, opts ...Option) *Guard {
	g := &Guard{table: table, log: zap.NewNop()}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Check looks up the policies declared for requested and evaluates them.
// requested may carry a query string; it is kept in the login return target.
func (g *Guard) Check(requested string, s model.Session) Decision {
	if g.table == nil {
		return Allow()
	}
	route, ok := g.table.Lookup(pathOf(requested))
	if !ok {
		return Allow()
	}
	return g.Evaluate(requested, s, route.Policies...)
}

// Evaluate runs policies in order and stops at the first redirect.
// Unauthenticated users always go to login; no policies means authenticated-only.
func (g *Guard) Evaluate(requested string, s model.Session, policies ...Policy) Decision {
	if !s.IsAuthenticated || s.User == nil {
		return RedirectTo(model.LoginRedirect(requested))
	}
	for _, p := range policies {
		if d := g.evaluate(requested, s, p); !d.Allowed {
			g.log.Debug("navigation denied",
				zap.String("path", requested),
				zap.String("policy", string(p.Kind())),
				zap.String("redirect", d.Redirect.URL()),
			)
			return d
		}
	}
	return Allow()
}

func (g *Guard) evaluate(requested string, s model.Session, p Policy) Decision {
	switch p := p.(type) {
	case RolePolicy:
		return g.role(requested, s, p)
	case PermissionPolicy:
		return g.permission(requested, s, p)
	case ContextPolicy:
		return g.context(requested, s, p)
	case ProfilePolicy:
		return g.profile(requested, s, p)
	default:
		return RedirectTo(model.Redirect{Path: model.RouteForbidden})
	}
}

func (g *Guard) role(requested string, s model.Session, p RolePolicy) Decision {
	if len(p.Roles) == 0 {
		return Allow()
	}
	roles := s.Roles()
	ok := authz.HasAnyRole(roles, p.Roles)
	if p.Mode == RoleModeAll {
		ok = authz.HasAllRoles(roles, p.Roles)
	}
	if ok {
		return Allow()
	}
	if p.RedirectTo != "" {
		return RedirectTo(model.Redirect{Path: p.RedirectTo})
	}
	if authz.HasRole(roles, authz.RoleProfessional) && pathOf(requested) != model.RouteProfessionalDashboard {
		return RedirectTo(model.Redirect{Path: model.RouteProfessionalDashboard})
	}
	return RedirectTo(model.Redirect{Path: model.RouteForbidden})
}

func (g *Guard) permission(requested string, s model.Session, p PermissionPolicy) Decision {
	deny := RedirectTo(model.Redirect{Path: model.RouteForbidden})
	if p.RedirectTo != "" {
		deny = RedirectTo(model.Redirect{Path: p.RedirectTo})
	}
	if len(p.Any) == 0 && len(p.All) == 0 {
		if g.env != EnvProduction {
			g.log.Warn("permission checkpoint without permissionsAny or permissionsAll, denying",
				zap.String("path", requested))
		}
		return deny
	}
	perms := s.Permissions()
	if len(p.Any) > 0 && !authz.HasAny(perms, p.Any) {
		return deny
	}
	if len(p.All) > 0 && !authz.HasAll(perms, p.All) {
		return deny
	}
	return Allow()
}

func (g *Guard) context(requested string, s model.Session, p ContextPolicy) Decision {
	if p.Required == "" || s.User.HasContextType(p.Required) {
		return Allow()
	}
	if p.RedirectTo != "" {
		return RedirectTo(model.Redirect{Path: p.RedirectTo})
	}
	return awayFrom(requested, session.DefaultRoute(s.CurrentContext))
}

func (g *Guard) profile(requested string, s model.Session, p ProfilePolicy) Decision {
	if p.Required == "" {
		return Allow()
	}
	have := profile.FromSession(s)
	if have == p.Required {
		return Allow()
	}
	return awayFrom(requested, profile.BaseRoute(have))
}

// awayFrom redirects to target unless that is the page being denied.
func awayFrom(requested, target string) Decision {
	if target == pathOf(requested) {
		target = model.RouteForbidden
	}
	return RedirectTo(model.Redirect{Path: target})
}

func pathOf(requested string) string {
	if u, err := url.Parse(requested); err == nil {
		return u.Path
	}
	return requested
}
