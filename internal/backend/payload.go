package backend

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/and161185/consulta/internal/errs"
	"github.com/and161185/consulta/internal/model"
)

// flexString accepts a JSON string or number; ids arrive in both shapes.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return fmt.Errorf("id: not a string or number: %s", b)
	}
	*f = flexString(b)
	return nil
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      struct {
		ID       flexString `json:"id"`
		UserName string     `json:"userName"`
		Email    string     `json:"email"`
		Roles    []string   `json:"roles"`
	} `json:"user"`
}

// LoginResult is the credential plus the provisional identity fragment.
// Permissions and contexts are not part of the login response.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      model.Identity
}

func (r loginResponse) result() (LoginResult, error) {
	if r.Token == "" || r.ExpiresAt.IsZero() || r.User.ID == "" {
		return LoginResult{}, fmt.Errorf("login response: %w", errs.ErrMalformedResponse)
	}
	return LoginResult{
		Token:     r.Token,
		ExpiresAt: r.ExpiresAt,
		User: model.Identity{
			ID:          string(r.User.ID),
			Email:       r.User.Email,
			Name:        firstNonEmpty(r.User.UserName, r.User.Email),
			Roles:       nonNil(r.User.Roles),
			Permissions: []string{},
			Contexts:    []model.Context{},
		},
	}, nil
}

// RawContext is a context as the backend sends it: either a bare type name
// ("PATIENT") or a structured object. Exactly one of Bare and Object is set.
type RawContext struct {
	Bare   string
	Object *ContextObject
}

// ContextObject is the structured context shape.
type ContextObject struct {
	Type string     `json:"type"`
	ID   flexString `json:"id"`
	Name string     `json:"name"`
	Slug string     `json:"slug"`
}

// UnmarshalJSON accepts a string or an object. Any other value, or an object
// with mistyped fields, leaves r empty so Normalize drops it.
func (r *RawContext) UnmarshalJSON(b []byte) error {
	*r = RawContext{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '"':
		if err := json.Unmarshal(b, &r.Bare); err != nil {
			r.Bare = ""
		}
	case '{':
		var obj ContextObject
		if err := json.Unmarshal(b, &obj); err == nil {
			r.Object = &obj
		}
	}
	return nil
}

// Owner carries the identity fields used to synthesize missing context data.
type Owner struct {
	UserID                string
	DisplayName           string
	ProfessionalProfileID string
}

// Normalize turns either shape into a model.Context. Unknown types are rejected.
func (r RawContext) Normalize(o Owner) (model.Context, bool) {
	var c model.Context
	var typ string
	if r.Object != nil {
		typ = r.Object.Type
		c.ID = string(r.Object.ID)
		c.Name = r.Object.Name
		c.Slug = r.Object.Slug
	} else {
		typ = r.Bare
	}
	t, ok := model.ParseContextType(typ)
	if !ok {
		return model.Context{}, false
	}
	c.Type = t
	if c.ID == "" {
		c.ID = o.UserID
		if t == model.ContextProfessional && o.ProfessionalProfileID != "" {
			c.ID = o.ProfessionalProfileID
		}
	}
	if c.Name == "" {
		c.Name = o.DisplayName
		if t == model.ContextAdmin {
			c.Name = "Administration"
		}
	}
	return c, c.ID != ""
}

type meResponse struct {
	UserID                 flexString   `json:"userId"`
	ID                     flexString   `json:"id"`
	Email                  string       `json:"email"`
	Name                   string       `json:"name"`
	FullName               string       `json:"fullName"`
	Roles                  []string     `json:"roles"`
	Permissions            []string     `json:"permissions"`
	Contexts               []RawContext `json:"contexts"`
	DefaultContext         *RawContext  `json:"defaultContext"`
	ProfessionalProfileID  flexString   `json:"professionalProfileId"`
	HasProfessionalProfile *bool        `json:"hasProfessionalProfile"`
}

// identity normalizes the tolerant /auth/me shape. Only the user id is required.
func (m meResponse) identity() (model.Identity, error) {
	id := firstNonEmpty(string(m.UserID), string(m.ID))
	if id == "" {
		return model.Identity{}, fmt.Errorf("current user: missing id: %w", errs.ErrMalformedResponse)
	}
	name := firstNonEmpty(m.Name, m.FullName, displayFromEmail(m.Email), id)
	o := Owner{UserID: id, DisplayName: name, ProfessionalProfileID: string(m.ProfessionalProfileID)}

	contexts := make([]model.Context, 0, len(m.Contexts)+1)
	add := func(c model.Context) {
		for _, have := range contexts {
			if have.Same(c) {
				return
			}
		}
		contexts = append(contexts, c)
	}
	for _, rc := range m.Contexts {
		if c, ok := rc.Normalize(o); ok {
			add(c)
		}
	}

	var def *model.Context
	if m.DefaultContext != nil {
		if c, ok := m.DefaultContext.Normalize(o); ok {
			add(c)
			def = &c
		}
	}

	hasProf := o.ProfessionalProfileID != ""
	if m.HasProfessionalProfile != nil {
		hasProf = *m.HasProfessionalProfile
	}

	return model.Identity{
		ID:                     id,
		Email:                  m.Email,
		Name:                   name,
		Roles:                  nonNil(m.Roles),
		Permissions:            nonNil(m.Permissions),
		Contexts:               contexts,
		DefaultContext:         def,
		ProfessionalProfileID:  o.ProfessionalProfileID,
		HasProfessionalProfile: hasProf,
	}, nil
}

func displayFromEmail(email string) string {
	local, _, ok := strings.Cut(email, "@")
	if !ok {
		return email
	}
	return local
}

func nonNil(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}
