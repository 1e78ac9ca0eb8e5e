package model

// Navigation targets known to the session core.
const (
	RouteLogin                 = "/login"
	RouteForbidden             = "/forbidden"
	RouteAdminArea             = "/admin"
	RouteProfessionalDashboard = "/professional/dashboard"
	RoutePatientArea           = "/patient"
	RouteClientHome            = "/"

	// ParamReturnURL carries the originally requested path on login redirects.
	ParamReturnURL = "returnUrl"
)

// LoginRedirect builds the login redirect preserving the attempted destination.
func LoginRedirect(returnURL string) Redirect {
	if returnURL == "" || returnURL == RouteLogin {
		return Redirect{Path: RouteLogin}
	}
	return Redirect{Path: RouteLogin, Params: map[string]string{ParamReturnURL: returnURL}}
}
