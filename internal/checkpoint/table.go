package checkpoint

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/and161185/consulta/internal/errs"
	"github.com/and161185/consulta/internal/model"
)

//go:embed routes.yaml
var defaultRoutes []byte

// RouteSpec is one route's declaration in the route table file.
type RouteSpec struct {
	Path              string   `yaml:"path" validate:"required,startswith=/"`
	Guards            []Kind   `yaml:"guards" validate:"unique,dive,oneof=role permission context profile"`
	Roles             []string `yaml:"roles" validate:"dive,required"`
	RoleMode          RoleMode `yaml:"roleMode" validate:"omitempty,oneof=any all"`
	PermissionsAny    []string `yaml:"permissionsAny" validate:"dive,required"`
	PermissionsAll    []string `yaml:"permissionsAll" validate:"dive,required"`
	RequiredContext   string   `yaml:"requiredContext" validate:"omitempty,oneof=ADMIN PROFESSIONAL PATIENT"`
	RequiredUIProfile string   `yaml:"requiredUIProfile" validate:"omitempty,oneof=CLIENT PROFESSIONAL ADMIN"`
	RedirectTo        string   `yaml:"redirectTo" validate:"omitempty,startswith=/"`
}

type tableFile struct {
	Routes []RouteSpec `yaml:"routes" validate:"dive"`
}

// Route is a compiled route: its pattern and policies in evaluation order.
type Route struct {
	Pattern  string
	Policies []Policy
}

// Table maps request paths to route policies. Paths that match no route are public.
type Table struct {
	mux    *chi.Mux
	routes map[string]Route
}

// DefaultTable returns the built-in route table.
func DefaultTable() (*Table, error) {
	return LoadTable(bytes.NewReader(defaultRoutes))
}

// LoadTableFile reads a route table from path.
func LoadTableFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open routes: %w", err)
	}
	defer f.Close()
	return LoadTable(f)
}

// LoadTable decodes and validates a route table. Unknown fields are errors.
func LoadTable(r io.Reader) (*Table, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var tf tableFile
	if err := dec.Decode(&tf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode routes: %w", err)
	}
	if err := validator.New().Struct(tf); err != nil {
		return nil, fmt.Errorf("routes: %w: %v", errs.ErrValidation, err)
	}

	t := &Table{mux: chi.NewRouter(), routes: make(map[string]Route, len(tf.Routes))}
	for _, rs := range tf.Routes {
		route, err := compile(rs)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", rs.Path, err)
		}
		if _, dup := t.routes[rs.Path]; dup {
			return nil, fmt.Errorf("route %s: %w: declared twice", rs.Path, errs.ErrValidation)
		}
		if err := register(t.mux, rs.Path); err != nil {
			return nil, fmt.Errorf("route %s: %w: %v", rs.Path, errs.ErrValidation, err)
		}
		t.routes[rs.Path] = route
	}
	return t, nil
}

// register adds pattern to the mux; chi panics on malformed patterns.
func register(mux *chi.Mux, pattern string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	mux.Get(pattern, func(http.ResponseWriter, *http.Request) {})
	return nil
}

func compile(rs RouteSpec) (Route, error) {
	route := Route{Pattern: rs.Path}
	for _, k := range rs.Guards {
		switch k {
		case KindRole:
			mode := rs.RoleMode
			if mode == "" {
				mode = RoleModeAny
			}
			route.Policies = append(route.Policies, RolePolicy{Roles: rs.Roles, Mode: mode, RedirectTo: rs.RedirectTo})
		case KindPermission:
			route.Policies = append(route.Policies, PermissionPolicy{Any: rs.PermissionsAny, All: rs.PermissionsAll, RedirectTo: rs.RedirectTo})
		case KindContext:
			route.Policies = append(route.Policies, ContextPolicy{Required: model.ContextType(rs.RequiredContext), RedirectTo: rs.RedirectTo})
		case KindProfile:
			route.Policies = append(route.Policies, ProfilePolicy{Required: model.UIProfile(rs.RequiredUIProfile)})
		}
	}

	// a requirement with no guard to read it would silently never apply
	orphan := func(set bool, k Kind, field string) error {
		if set && !slices.Contains(rs.Guards, k) {
			return fmt.Errorf("%w: %s declared without the %s guard", errs.ErrValidation, field, k)
		}
		return nil
	}
	return route, errors.Join(
		orphan(len(rs.Roles) > 0 || rs.RoleMode != "", KindRole, "roles/roleMode"),
		orphan(len(rs.PermissionsAny) > 0 || len(rs.PermissionsAll) > 0, KindPermission, "permissionsAny/permissionsAll"),
		orphan(rs.RequiredContext != "", KindContext, "requiredContext"),
		orphan(rs.RequiredUIProfile != "", KindProfile, "requiredUIProfile"),
	)
}

// Lookup finds the route declared for path.
func (t *Table) Lookup(path string) (Route, bool) {
	rctx := chi.NewRouteContext()
	if !t.mux.Match(rctx, http.MethodGet, path) || len(rctx.RoutePatterns) == 0 {
		return Route{}, false
	}
	r, ok := t.routes[rctx.RoutePatterns[len(rctx.RoutePatterns)-1]]
	return r, ok
}

// Routes lists the compiled routes sorted by pattern.
func (t *Table) Routes() []Route {
	out := make([]Route, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Route) int { return strings.Compare(a.Pattern, b.Pattern) })
	return out
}
