package server

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/jrsteele09/go-oidc-testapp/auth"
	"github.com/jrsteele09/go-oidc-testapp/idp"
	"github.com/jrsteele09/go-oidc-testapp/internal/errors"
	"github.com/jrsteele09/go-oidc-testapp/internal/logging"
	"github.com/rs/zerolog/log"
)

const contentTypeJSON = "application/json; charset=utf-8"

// IndexHandler renders the authenticated or anonymous home page
func (s *Server) IndexHandler() (http.HandlerFunc, error) {
	tmpl, err := ParseTemplate("index.html")
	if err != nil {
		return nil, err
	}

	return func(w http.ResponseWriter, r *http.Request) {
		session := sessionFromContext(r.Context())

		data := map[string]any{
			"AppName":     s.config.GetAppName(),
			"Realm":       s.config.GetRealm(),
			"ClientID":    s.config.GetClientID(),
			"ProviderURL": s.config.GetProviderURL(),
		}

		if session.IsAuthenticated() {
			expiresIn := wholeSeconds(session.ExpiresIn(s.auth.Now()))
			statusClass := ""
			if expiresIn < 60 {
				statusClass = "warning"
			}

			// Opaque access tokens are shown without claims
			accessClaims, _ := idp.DecodeClaims(session.AccessToken)

			data["Authenticated"] = true
			data["Claims"] = session.Claims
			data["AccessToken"] = session.AccessToken
			data["AccessTokenClaims"] = accessClaims
			data["IDToken"] = session.IDToken
			data["ExpiresIn"] = expiresIn
			data["StatusClass"] = statusClass
			data["RefreshThreshold"] = wholeSeconds(s.auth.RefreshThreshold())
		}

		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			log.Error().Err(err).Msg("failed to render index")
			http.Error(w, "Failed to render page", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = buf.WriteTo(w)
	}, nil
}

// LoginHandler stores a PKCE verifier on the session and redirects to the provider
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := sessionFromContext(r.Context())

		authURL, err := s.auth.StartLogin(r.Context(), session)
		if err != nil {
			log.Error().Err(err).Str("session_id", logging.ShortID(session.ID)).Msg("failed to store login session")
			http.Error(w, "Failed to store session", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// CallbackHandler completes the authorization code flow
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := sessionFromContext(r.Context())
		q := r.URL.Query()

		// New identity, new session ID
		authenticated, err := s.auth.FinishLogin(r.Context(), session, auth.CallbackParams{
			State:            q.Get("state"),
			Code:             q.Get("code"),
			Error:            q.Get("error"),
			ErrorDescription: q.Get("error_description"),
		}, s.newSessionID())
		switch {
		case errors.Is(err, errors.ErrCallback):
			http.Error(w, "Authentication failed: "+err.Error(), http.StatusInternalServerError)
			return
		case err != nil:
			log.Error().Err(err).Str("session_id", logging.ShortID(session.ID)).Msg("failed to store authenticated session")
			http.Error(w, "Failed to store session", http.StatusInternalServerError)
			return
		}
		s.cookies.Write(w, authenticated.ID)

		http.Redirect(w, r, RouteIndex, http.StatusFound)
	}
}

// LogoutHandler destroys the session and sends the browser to the provider's end-session endpoint
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := sessionFromContext(r.Context())

		logoutURL, err := s.auth.EndSession(r.Context(), session)
		if err != nil {
			log.Error().Err(err).Str("session_id", logging.ShortID(session.ID)).Msg("failed to delete session")
			if logoutURL == "" {
				logoutURL = s.auth.Logout(session)
			}
		}
		s.cookies.Clear(w)

		http.Redirect(w, r, logoutURL, http.StatusFound)
	}
}

// AccountHandler redirects to the provider's account console
func (s *Server) AccountHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, s.config.GetAccountURL(), http.StatusFound)
	}
}

// APIUserInfoHandler calls the provider's userinfo endpoint with the session's access token
func (s *Server) APIUserInfoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := sessionFromContext(r.Context())
		if !session.IsAuthenticated() {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
			return
		}

		userInfo, err := s.auth.UserInfo(r.Context(), session)
		if err != nil {
			log.Warn().Err(err).Str("session_id", logging.ShortID(session.ID)).Msg("userinfo request failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":          true,
			"userinfo":         userInfo,
			"token_expires_in": wholeSeconds(session.ExpiresIn(s.auth.Now())),
			"message":          "Token was automatically refreshed if needed",
		})
	}
}

// wholeSeconds floors d to seconds
func wholeSeconds(d time.Duration) int64 {
	return int64(math.Floor(d.Seconds()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
