package server

import (
	"net/http"
)

func (s *Server) initRoutes() error {
	index, err := s.IndexHandler()
	if err != nil {
		return err
	}
	s.RegisterRouteFunc("GET "+RouteIndex+"{$}", ChainMiddleware(index, s.HTMLMiddleWare(s.EnsureValidMiddleware(redirectToLogin))...))

	// LOGIN
	s.RegisterRouteFunc("GET "+RouteLogin, ChainMiddleware(s.LoginHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc("GET "+RouteCallback, ChainMiddleware(s.CallbackHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc("GET "+RouteLogout, ChainMiddleware(s.LogoutHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc("GET "+RouteAccount, ChainMiddleware(s.AccountHandler(), s.LoggingMiddleware))

	// API routes
	s.RegisterRouteFunc("GET "+RouteAPIUserInfo, ChainMiddleware(s.APIUserInfoHandler(), s.APIMiddleware(s.EnsureValidMiddleware(continueAnonymous))...))

	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
	s.RegisterRouteHandler("GET "+RouteStatic, http.StripPrefix(RouteStatic, FileServerHandler()))
	return nil
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
