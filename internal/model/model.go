// Package model defines domain entities shared by the session core and the dev backend.
package model

import (
	"net/url"
	"strings"
	"time"
)

// Credential is the opaque bearer token plus its client-held expiry.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// ContextType names one of the operating capacities a user may act in.
type ContextType string

const (
	ContextAdmin        ContextType = "ADMIN"
	ContextProfessional ContextType = "PROFESSIONAL"
	ContextPatient      ContextType = "PATIENT"
)

// ParseContextType accepts any casing of a known context type.
func ParseContextType(s string) (ContextType, bool) {
	t := ContextType(strings.ToUpper(strings.TrimSpace(s)))
	return t, t.Valid()
}

// Valid reports whether t is one of the known context types.
func (t ContextType) Valid() bool {
	switch t {
	case ContextAdmin, ContextProfessional, ContextPatient:
		return true
	default:
		return false
	}
}

// Context is one operating capacity of a user.
type Context struct {
	Type ContextType `json:"type" yaml:"type"`
	ID   string      `json:"id" yaml:"id"`
	Name string      `json:"name" yaml:"name"`
	Slug string      `json:"slug,omitempty" yaml:"slug,omitempty"`
}

// Same compares contexts by (type, id); names and slugs are display data.
func (c Context) Same(o Context) bool {
	return c.Type == o.Type && c.ID == o.ID
}

// Identity is an immutable snapshot of the current user. It is replaced
// wholesale on every load and never patched in place.
type Identity struct {
	ID                     string
	Email                  string
	Name                   string
	Roles                  []string
	Permissions            []string
	Contexts               []Context
	DefaultContext         *Context
	ProfessionalProfileID  string
	HasProfessionalProfile bool
}

// FindContext returns the identity's own copy of the context matching c by (type, id).
func (i *Identity) FindContext(c Context) (Context, bool) {
	if i == nil {
		return Context{}, false
	}
	for _, own := range i.Contexts {
		if own.Same(c) {
			return own, true
		}
	}
	return Context{}, false
}

// HasContextType reports whether any held context has type t.
func (i *Identity) HasContextType(t ContextType) bool {
	if i == nil {
		return false
	}
	for _, c := range i.Contexts {
		if c.Type == t {
			return true
		}
	}
	return false
}

// ProblemInfo is the normalized error shape recorded as Session.LastError.
type ProblemInfo struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// Session is the single source of truth for who is logged in.
type Session struct {
	IsAuthenticated bool
	User            *Identity
	CurrentContext  *Context
	IsLoading       bool
	LastError       *ProblemInfo
}

// Roles returns the user's roles or nil when unauthenticated.
func (s Session) Roles() []string {
	if !s.IsAuthenticated || s.User == nil {
		return nil
	}
	return s.User.Roles
}

// Permissions returns the user's permissions or nil when unauthenticated.
func (s Session) Permissions() []string {
	if !s.IsAuthenticated || s.User == nil {
		return nil
	}
	return s.User.Permissions
}

// UIProfile is the coarse display variant used for menus and layouts.
type UIProfile string

const (
	ProfileClient       UIProfile = "CLIENT"
	ProfileProfessional UIProfile = "PROFESSIONAL"
	ProfileAdmin        UIProfile = "ADMIN"
)

// Redirect is a navigation target with query parameters.
type Redirect struct {
	Path   string
	Params map[string]string
}

// URL renders the redirect as path?query with stable parameter order.
func (r Redirect) URL() string {
	if len(r.Params) == 0 {
		return r.Path
	}
	q := url.Values{}
	for k, v := range r.Params {
		q.Set(k, v)
	}
	return r.Path + "?" + q.Encode()
}
