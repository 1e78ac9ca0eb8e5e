// Package checkpoint decides, before a protected navigation completes,
// whether to allow it or where to redirect instead.
package checkpoint

import (
	"github.com/and161185/consulta/internal/model"
)

// Kind names a policy variant.
type Kind string

const (
	KindRole       Kind = "role"
	KindPermission Kind = "permission"
	KindContext    Kind = "context"
	KindProfile    Kind = "profile"
)

// Policy is one of RolePolicy, PermissionPolicy, ContextPolicy or ProfilePolicy.
type Policy interface {
	Kind() Kind
	sealed()
}

// RoleMode selects any-of or all-of role matching.
type RoleMode string

const (
	RoleModeAny RoleMode = "any"
	RoleModeAll RoleMode = "all"
)

// RolePolicy is the legacy role-list check. No roles means no restriction.
type RolePolicy struct {
	Roles      []string
	Mode       RoleMode
	RedirectTo string
}

// PermissionPolicy is the RBAC check. Declaring neither list denies access.
type PermissionPolicy struct {
	Any        []string
	All        []string
	RedirectTo string
}

// ContextPolicy requires the user to hold a context of the given type,
// selected or not. An empty Required means no restriction.
type ContextPolicy struct {
	Required   model.ContextType
	RedirectTo string
}

// ProfilePolicy requires a UI profile. It shapes navigation only; the
// backend's 403 and PermissionPolicy are the enforcement.
type ProfilePolicy struct {
	Required model.UIProfile
}

func (RolePolicy) Kind() Kind       { return KindRole }
func (PermissionPolicy) Kind() Kind { return KindPermission }
func (ContextPolicy) Kind() Kind    { return KindContext }
func (ProfilePolicy) Kind() Kind    { return KindProfile }

func (RolePolicy) sealed()       {}
func (PermissionPolicy) sealed() {}
func (ContextPolicy) sealed()    {}
func (ProfilePolicy) sealed()    {}

// Decision is the outcome of a checkpoint.
type Decision struct {
	Allowed  bool
	Redirect model.Redirect
}

// Allow is the permissive decision.
func Allow() Decision { return Decision{Allowed: true} }

// RedirectTo denies and sends the user to r.
func RedirectTo(r model.Redirect) Decision { return Decision{Redirect: r} }

func (d Decision) String() string {
	if d.Allowed {
		return "allow"
	}
	return "redirect " + d.Redirect.URL()
}
