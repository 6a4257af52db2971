package server

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-oidc-testapp/internal/errors"
	"github.com/jrsteele09/go-oidc-testapp/internal/logging"
	"github.com/jrsteele09/go-oidc-testapp/sessions"
	"github.com/rs/zerolog/log"
)

type contextKey string

const sessionContextKey contextKey = "session"

// sessionFromContext returns the session attached by SessionMiddleware
func sessionFromContext(ctx context.Context) *sessions.Session {
	s, _ := ctx.Value(sessionContextKey).(*sessions.Session)
	return s
}

func withSession(r *http.Request, s *sessions.Session) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), sessionContextKey, s))
}

// SessionMiddleware attaches the browser's session to the request. A missing
// or tampered cookie gets a new anonymous session and cookie; a valid cookie
// whose session is gone keeps its ID with an anonymous session. Anonymous
// sessions are only stored once a handler changes them.
func (s *Server) SessionMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, err := s.cookies.Read(r)
		if err != nil {
			sessionID = s.newSessionID()
			s.cookies.Write(w, sessionID)
			next(w, withSession(r, sessions.New(sessionID, s.auth.Now())))
			return
		}

		session, err := s.sessions.Get(r.Context(), sessionID)
		switch {
		case errors.Is(err, errors.ErrSessionNotFound):
			session = sessions.New(sessionID, s.auth.Now())
		case err != nil:
			log.Error().Err(err).Str("session_id", logging.ShortID(sessionID)).Msg("failed to load session")
			http.Error(w, "Failed to load session", http.StatusInternalServerError)
			return
		}

		next(w, withSession(r, session))
	}
}

// expiredAction decides how a request continues once its session expired
type expiredAction int

const (
	redirectToLogin   expiredAction = iota // HTML pages
	continueAnonymous                      // JSON APIs answer 401 themselves
)

// EnsureValidMiddleware refreshes the session's access token when it is about
// to expire. When the refresh fails the session is destroyed and the request
// is either redirected to the login route or continues anonymously.
func (s *Server) EnsureValidMiddleware(onExpired expiredAction) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			session := sessionFromContext(r.Context())
			if session == nil || !session.IsAuthenticated() {
				next(w, r)
				return
			}

			refreshed, _, err := s.auth.EnsureValidByID(r.Context(), session.ID)
			switch {
			case err == nil:
				next(w, withSession(r, refreshed))

			case errors.Is(err, errors.ErrAuthExpired), errors.Is(err, errors.ErrSessionNotFound):
				s.cookies.Clear(w)
				if onExpired == redirectToLogin {
					http.Redirect(w, r, RouteLogin, http.StatusFound)
					return
				}
				next(w, withSession(r, sessions.New(session.ID, s.auth.Now())))

			default:
				log.Error().Err(err).Str("session_id", logging.ShortID(session.ID)).Msg("token lifecycle check failed")
				http.Error(w, "Failed to validate session", http.StatusInternalServerError)
			}
		}
	}
}
