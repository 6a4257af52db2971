package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	RouteIndex = "/"

	// Auth Routes - Login & Logout
	RouteLogin    = "/login"
	RouteCallback = "/callback"
	RouteLogout   = "/logout"
	RouteAccount  = "/account"

	// API Routes
	RouteAPIUserInfo = "/api/userinfo"

	RouteHealth = "/healthz"
	RouteStatic = "/static/"
)
