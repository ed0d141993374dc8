package backend

// Auth endpoint paths, relative to the portal base URL.
// All backend routes are defined here to ensure consistency and prevent typos.
const (
	RouteLogin       = "/api/auth/login"
	RouteRegister    = "/api/auth/register"
	RouteRefresh     = "/api/auth/refresh"
	RouteLogout      = "/api/auth/logout"
	RouteCurrentUser = "/api/auth/current-user"
)
