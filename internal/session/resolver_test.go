package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/consulta/internal/model"
)

var (
	adminCtx = model.Context{Type: model.ContextAdmin, ID: "1", Name: "Administration"}
	profCtx  = model.Context{Type: model.ContextProfessional, ID: "2", Name: "Dr Who"}
	patCtx   = model.Context{Type: model.ContextPatient, ID: "3", Name: "Who"}
)

func ptr(c model.Context) *model.Context { return &c }

func TestResolveContext(t *testing.T) {
	all := []model.Context{adminCtx, profCtx, patCtx}
	cases := []struct {
		name      string
		persisted *model.Context
		def       *model.Context
		available []model.Context
		want      *model.Context
	}{
		{"persisted still listed", ptr(patCtx), ptr(profCtx), all, ptr(patCtx)},
		{"persisted revoked falls to default", ptr(model.Context{Type: model.ContextAdmin, ID: "9"}), ptr(profCtx), all, ptr(profCtx)},
		{"no persisted uses default", nil, ptr(profCtx), []model.Context{adminCtx, profCtx}, ptr(profCtx)},
		{"no default uses first", nil, nil, all, ptr(adminCtx)},
		{"empty list ignores stale persisted", ptr(adminCtx), nil, nil, nil},
		{"default not held is ignored", nil, ptr(patCtx), []model.Context{adminCtx}, ptr(adminCtx)},
		{"nothing at all", nil, nil, nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveContext(tc.persisted, tc.def, tc.available)
			assert.Equal(t, tc.want, got)
			// deterministic
			assert.Equal(t, got, ResolveContext(tc.persisted, tc.def, tc.available))
		})
	}
}

func TestResolveContext_ReturnsListedCopy(t *testing.T) {
	stale := model.Context{Type: model.ContextProfessional, ID: "2", Name: "old name"}
	available := []model.Context{profCtx}
	got := ResolveContext(&stale, nil, available)
	require.NotNil(t, got)
	assert.Equal(t, "Dr Who", got.Name)

	got.Name = "mutated"
	assert.Equal(t, "Dr Who", available[0].Name)
}

func TestDefaultRoute(t *testing.T) {
	assert.Equal(t, model.RouteAdminArea, DefaultRoute(&adminCtx))
	assert.Equal(t, model.RouteProfessionalDashboard, DefaultRoute(&profCtx))
	assert.Equal(t, model.RoutePatientArea, DefaultRoute(&patCtx))
	assert.Equal(t, model.RoutePatientArea, DefaultRoute(nil))
}
