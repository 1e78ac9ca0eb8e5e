package menu

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/consulta/internal/errs"
	"github.com/and161185/consulta/internal/model"
)

func ids(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func session(roles, perms []string, contexts ...model.Context) model.Session {
	return model.Session{IsAuthenticated: true, User: &model.Identity{ID: "u1", Roles: roles, Permissions: perms, Contexts: contexts}}
}

func TestDefault_Loads(t *testing.T) {
	m, err := Default()
	require.NoError(t, err)
	assert.NotEmpty(t, m.ForProfile(model.ProfileClient))
	assert.NotEmpty(t, m.ForProfile(model.ProfileProfessional))
	assert.NotEmpty(t, m.ForProfile(model.ProfileAdmin))
	assert.Equal(t, "overview", m.ForProfile(model.ProfileAdmin)[0].ID)
}

func TestFilter_Anonymous(t *testing.T) {
	m, err := Default()
	require.NoError(t, err)
	got := Filter(m.ForProfile(model.ProfileClient), model.Session{})
	assert.Equal(t, []string{"search"}, ids(got), "groups with only restricted children vanish")
}

func TestFilter_Patient(t *testing.T) {
	m, err := Default()
	require.NoError(t, err)
	s := session([]string{"Client"}, nil, model.Context{Type: model.ContextPatient, ID: "u1"})
	got := Filter(m.ForProfile(model.ProfileClient), s)
	assert.Equal(t, []string{"search", "appointments", "requests", "account"}, ids(got))
	assert.Equal(t, []string{"account-profile", "account-security"}, ids(got[3].Children))
}

func TestFilter_AdminPartialGrants(t *testing.T) {
	m, err := Default()
	require.NoError(t, err)
	s := session([]string{"Admin"}, []string{"Users.View", "Catalog.Edit"})
	got := Filter(m.ForProfile(model.ProfileAdmin), s)
	assert.Equal(t, []string{"overview", "people", "catalog"}, ids(got))
	assert.Equal(t, []string{"users"}, ids(got[1].Children))

	// the source menu is untouched
	assert.Len(t, m.Admin[1].Children, 3)
}

func TestFilter_AllOfAndRoles(t *testing.T) {
	items := []Item{
		{ID: "both", Label: "b", Path: "/b", PermissionsAll: []string{"A", "B"}},
		{ID: "role", Label: "r", Path: "/r", Roles: []string{"SuperAdmin"}},
		{ID: "mixed", Label: "m", Path: "/m", PermissionsAny: []string{"A"}, Roles: []string{"Admin"}},
	}
	assert.Equal(t, []string{"both"}, ids(Filter(items, session(nil, []string{"A", "B"}))))
	assert.Equal(t, []string{"role"}, ids(Filter(items, session([]string{"SuperAdmin"}, nil))))
	assert.Equal(t, []string{"mixed"}, ids(Filter(items, session([]string{"Admin"}, []string{"A"}))))
	// a role named like a permission does not satisfy a permission requirement
	assert.Empty(t, Filter(items, session([]string{"A", "B"}, nil)))
}

func TestFilter_GroupWithPathSurvives(t *testing.T) {
	items := []Item{{
		ID: "g", Label: "g", Path: "/g",
		Children: []Item{{ID: "c", Label: "c", Path: "/g/c", Roles: []string{"Admin"}}},
	}}
	got := Filter(items, model.Session{})
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Children)
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]string{
		"unknown field":     "client:\n  - id: a\n    label: A\n    path: /a\n    role: [X]\n",
		"missing label":     "client:\n  - id: a\n    path: /a\n",
		"no path no kids":   "client:\n  - id: a\n    label: A\n",
		"relative path":     "admin:\n  - id: a\n    label: A\n    path: a\n",
		"bad context":       "client:\n  - id: a\n    label: A\n    path: /a\n    requiredContext: GUEST\n",
		"nested bad child":  "client:\n  - id: g\n    label: G\n    children:\n      - id: c\n        path: /c\n",
		"empty permission":  "client:\n  - id: a\n    label: A\n    path: /a\n    permissionsAny: ['']\n",
		"unknown section":   "guest:\n  - id: a\n    label: A\n    path: /a\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
	_, err := Load(strings.NewReader("client:\n  - id: a\n    label: A\n"))
	require.ErrorIs(t, err, errs.ErrValidation)
}
