package session

import "github.com/and161185/consulta/internal/model"

// ResolveContext picks the operating context at load time:
// the persisted one if the server still lists it, else the default, else
// the first available, else nil. The returned value is always the copy held
// in available, so display fields reflect the latest server data.
func ResolveContext(persisted, def *model.Context, available []model.Context) *model.Context {
	find := func(c *model.Context) *model.Context {
		if c == nil {
			return nil
		}
		for i := range available {
			if available[i].Same(*c) {
				out := available[i]
				return &out
			}
		}
		return nil
	}
	if c := find(persisted); c != nil {
		return c
	}
	if c := find(def); c != nil {
		return c
	}
	if len(available) > 0 {
		out := available[0]
		return &out
	}
	return nil
}

// DefaultRoute is the post-login landing route for a context.
// A missing context lands in the least privileged area.
func DefaultRoute(c *model.Context) string {
	if c == nil {
		return model.RoutePatientArea
	}
	switch c.Type {
	case model.ContextAdmin:
		return model.RouteAdminArea
	case model.ContextProfessional:
		return model.RouteProfessionalDashboard
	default:
		return model.RoutePatientArea
	}
}
