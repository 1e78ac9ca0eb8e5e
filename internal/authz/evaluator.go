// Package authz implements the pure permission and role combinators.
//
// Roles and permissions are separate schemes. They are evaluated
// independently and never merged into one set: a role is not a permission.
package authz

import "strings"

// Well-known roles.
const (
	RoleSuperAdmin   = "SuperAdmin"
	RoleAdmin        = "Admin"
	RoleProfessional = "Professional"
	RoleClient       = "Client"
)

// HasAny reports whether user and required intersect. An empty required set
// yields false; callers that treat "no requirement" as "no restriction" must
// check for that themselves.
func HasAny(user, required []string) bool {
	if len(required) == 0 || len(user) == 0 {
		return false
	}
	set := toSet(user)
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

// HasAll reports whether required is a subset of user.
func HasAll(user, required []string) bool {
	set := toSet(user)
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}

// HasAnyByPrefix reports whether any user permission starts with any prefix.
// Empty prefixes are ignored so that "" never grants everything.
func HasAnyByPrefix(user, prefixes []string) bool {
	for _, p := range prefixes {
		if p == "" {
			continue
		}
		for _, u := range user {
			if strings.HasPrefix(u, p) {
				return true
			}
		}
	}
	return false
}

// HasAnyRole is HasAny over role strings.
func HasAnyRole(roles, required []string) bool { return HasAny(roles, required) }

// HasAllRoles is HasAll over role strings.
func HasAllRoles(roles, required []string) bool { return HasAll(roles, required) }

// HasRole reports whether roles contains role.
func HasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func toSet(xs []string) map[string]struct{} {
	set := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		set[x] = struct{}{}
	}
	return set
}
