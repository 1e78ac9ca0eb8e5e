// Package menu filters navigation menus down to what the current user may see.
//
// Hiding an item is cosmetic. Route checkpoints and the backend still decide.
package menu

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/and161185/consulta/internal/authz"
	"github.com/and161185/consulta/internal/errs"
	"github.com/and161185/consulta/internal/model"
)

//go:embed menu.yaml
var defaultMenu []byte

// Item is a menu entry; an item without a path is a group.
type Item struct {
	ID              string   `yaml:"id" validate:"required"`
	Label           string   `yaml:"label" validate:"required"`
	Path            string   `yaml:"path" validate:"required_without=Children,omitempty,startswith=/"`
	PermissionsAny  []string `yaml:"permissionsAny" validate:"dive,required"`
	PermissionsAll  []string `yaml:"permissionsAll" validate:"dive,required"`
	Roles           []string `yaml:"roles" validate:"dive,required"`
	RequiredContext string   `yaml:"requiredContext" validate:"omitempty,oneof=ADMIN PROFESSIONAL PATIENT"`
	Children        []Item   `yaml:"children" validate:"dive"`
}

func (it Item) unrestricted() bool {
	return len(it.PermissionsAny) == 0 && len(it.PermissionsAll) == 0 &&
		len(it.Roles) == 0 && it.RequiredContext == ""
}

// Menu holds one item list per UI profile.
type Menu struct {
	Client       []Item `yaml:"client" validate:"dive"`
	Professional []Item `yaml:"professional" validate:"dive"`
	Admin        []Item `yaml:"admin" validate:"dive"`
}

// Default returns the built-in menu.
func Default() (*Menu, error) { return Load(bytes.NewReader(defaultMenu)) }

// LoadFile reads a menu definition from path.
func LoadFile(path string) (*Menu, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open menu: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes and validates a menu definition.
func Load(r io.Reader) (*Menu, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var m Menu
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode menu: %w", err)
	}
	if err := validator.New().Struct(m); err != nil {
		return nil, fmt.Errorf("menu: %w: %v", errs.ErrValidation, err)
	}
	return &m, nil
}

// ForProfile returns the item list shown for profile p.
func (m *Menu) ForProfile(p model.UIProfile) []Item {
	switch p {
	case model.ProfileAdmin:
		return m.Admin
	case model.ProfileProfessional:
		return m.Professional
	default:
		return m.Client
	}
}

// Filter returns the items s may see, preserving order. A group whose
// children are all hidden disappears with them. The input is not modified.
func Filter(items []Item, s model.Session) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if !Visible(it, s) {
			continue
		}
		if len(it.Children) > 0 {
			kids := Filter(it.Children, s)
			if len(kids) == 0 && it.Path == "" {
				continue
			}
			it.Children = kids
		}
		out = append(out, it)
	}
	return out
}

// Visible applies an item's own requirements, ignoring its children.
func Visible(it Item, s model.Session) bool {
	if it.unrestricted() {
		return true
	}
	if !s.IsAuthenticated || s.User == nil {
		return false
	}
	if len(it.PermissionsAny) > 0 && !authz.HasAny(s.Permissions(), it.PermissionsAny) {
		return false
	}
	if len(it.PermissionsAll) > 0 && !authz.HasAll(s.Permissions(), it.PermissionsAll) {
		return false
	}
	if len(it.Roles) > 0 && !authz.HasAnyRole(s.Roles(), it.Roles) {
		return false
	}
	if it.RequiredContext != "" && !s.User.HasContextType(model.ContextType(it.RequiredContext)) {
		return false
	}
	return true
}
