package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-oidc-testapp/auth"
	"github.com/jrsteele09/go-oidc-testapp/internal/config"
	"github.com/jrsteele09/go-oidc-testapp/sessions"
	"github.com/rs/zerolog/log"
)

type Server struct {
	env          string // Environment (e.g., "DEV", "PROD")
	mux          *http.ServeMux
	routes       []string
	config       config.Config
	auth         *auth.Manager
	sessions     sessions.Repo
	cookies      *sessions.CookieCodec
	newSessionID func() string
}

// ServerOption defines a function type to modify the Server instance.
type ServerOption func(*Server)

// WithSessionIDFunc replaces the session ID generator (primarily for testing)
func WithSessionIDFunc(newID func() string) ServerOption {
	return func(s *Server) {
		s.newSessionID = newID
	}
}

func New(config config.Config, manager *auth.Manager, sessionRepo sessions.Repo, cookies *sessions.CookieCodec, options ...ServerOption) (*Server, error) {
	if config == nil {
		return nil, fmt.Errorf("[Server New] config is required")
	}
	if manager == nil {
		return nil, fmt.Errorf("[Server New] auth manager is required")
	}
	if sessionRepo == nil {
		return nil, fmt.Errorf("[Server New] session repo is required")
	}
	if cookies == nil {
		return nil, fmt.Errorf("[Server New] cookie codec is required")
	}

	s := &Server{
		mux:          http.NewServeMux(),
		config:       config,
		auth:         manager,
		sessions:     sessionRepo,
		cookies:      cookies,
		newSessionID: uuid.NewString,
	}
	s.env = config.GetEnv()

	for _, opt := range options {
		opt(s)
	}

	if err := s.initRoutes(); err != nil {
		return nil, fmt.Errorf("[Server New] %w", err)
	}
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		method, path, ok := strings.Cut(route, " ")
		if !ok {
			method, path = "", route
		}
		log.Debug().Msgf("[%-19s] %s", colourMethod(method), path)
	}
}
