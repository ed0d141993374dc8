package session

// Route is an abstract navigation target. The UI layer maps routes to actual
// screens or URLs; the session subsystem only decides where to go.
type Route string

const (
	// RouteLogin is the credential entry surface.
	RouteLogin Route = "login"
	// RouteSessionExpired is shown when credentials are long expired and the
	// user must re-authenticate from scratch.
	RouteSessionExpired Route = "session-expired"
	// RouteTokenRefresh is shown when credentials are short expired and an
	// automatic recovery attempt is appropriate.
	RouteTokenRefresh Route = "token-refresh"
	// RouteDoctorDashboard is the doctor home surface.
	RouteDoctorDashboard Route = "doctor-dashboard"
	// RoutePatientDashboard is the patient home surface.
	RoutePatientDashboard Route = "patient-dashboard"
)

// Navigator receives navigation decisions. reason carries a human-readable
// message for forced logouts; it is empty for ordinary navigation.
type Navigator interface {
	NavigateTo(route Route, reason string)
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func(route Route, reason string)

func (f NavigatorFunc) NavigateTo(route Route, reason string) { f(route, reason) }
