package auth

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-oidc-testapp/internal/errors"
	"github.com/jrsteele09/go-oidc-testapp/internal/logging"
	"github.com/jrsteele09/go-oidc-testapp/sessions"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// CallbackParams are the query parameters the provider redirects back with.
type CallbackParams struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

// BeginLogin stores a new PKCE verifier and state on the session and returns
// the provider authorization URL. The session must be persisted by the caller.
func (m *Manager) BeginLogin(s *sessions.Session) string {
	s.CodeVerifier = m.newVerifier()
	s.State = oauth2.GenerateVerifier()

	log.Debug().Str("session_id", logging.ShortID(s.ID)).Msg("login started")
	return m.provider.AuthorizationURL(s.State, s.CodeVerifier)
}

// CompleteLogin exchanges the authorization code for tokens. On success the
// session holds the token set and the pending login is cleared. Every failure
// wraps errors.ErrCallback and leaves the session untouched.
func (m *Manager) CompleteLogin(ctx context.Context, s *sessions.Session, params CallbackParams) error {
	if err := m.completeLogin(ctx, s, params); err != nil {
		m.metrics.login(ctx, outcomeFailure)
		log.Warn().Err(err).Str("session_id", logging.ShortID(s.ID)).Msg("login failed")
		return err
	}

	m.metrics.login(ctx, outcomeSuccess)
	log.Info().Str("session_id", logging.ShortID(s.ID)).Dur("expires_in", s.ExpiresIn(m.nowTime())).Msg("login completed")
	return nil
}

func (m *Manager) completeLogin(ctx context.Context, s *sessions.Session, params CallbackParams) error {
	if params.Error != "" {
		return errors.Join(errors.ErrCallback, fmt.Errorf("%s: %s", params.Error, params.ErrorDescription))
	}
	if !s.HasPendingLogin() {
		return errors.Join(errors.ErrCallback, errors.ErrNoPendingLogin)
	}
	if s.State != "" && params.State != s.State {
		return errors.Join(errors.ErrCallback, errors.ErrInvalidState)
	}
	if params.Code == "" {
		return errors.Join(errors.ErrCallback, errors.ErrMissingCode)
	}

	tokens, err := m.provider.Exchange(ctx, params.Code, s.CodeVerifier)
	if err != nil {
		if errors.Is(err, errors.ErrCallback) {
			return err
		}
		return errors.Join(errors.ErrCallback, err)
	}

	s.SetTokens(sessions.Tokens{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		IDToken:      tokens.IDToken,
		Claims:       tokens.Claims,
		ExpiresAt:    m.nowTime().Add(tokens.ExpiresIn),
	})
	s.ClearPendingLogin()
	return nil
}

// StartLogin runs BeginLogin on the stored copy of s and persists it. It is
// serialized with refreshes of the same session so neither write loses the
// other's changes.
func (m *Manager) StartLogin(ctx context.Context, s *sessions.Session) (string, error) {
	unlock := m.locks.lock(s.ID)
	defer unlock()

	current, err := m.storedOrGiven(ctx, s)
	if err != nil {
		return "", err
	}
	authURL := m.BeginLogin(current)
	if err := m.sessions.Upsert(ctx, current); err != nil {
		return "", errors.Wrapf(err, "[StartLogin] store session")
	}
	return authURL, nil
}

// FinishLogin runs CompleteLogin on the stored copy of s, then stores the
// authenticated session under newID and deletes the old record. On failure
// the stored session is left as it was.
func (m *Manager) FinishLogin(ctx context.Context, s *sessions.Session, params CallbackParams, newID string) (*sessions.Session, error) {
	unlock := m.locks.lock(s.ID)
	defer unlock()

	current, err := m.storedOrGiven(ctx, s)
	if err != nil {
		return nil, err
	}
	if err := m.CompleteLogin(ctx, current, params); err != nil {
		return nil, err
	}

	previousID := current.ID
	current.ID = newID
	if err := m.sessions.Upsert(ctx, current); err != nil {
		return nil, errors.Wrapf(err, "[FinishLogin] store authenticated session")
	}
	if err := m.sessions.Delete(ctx, previousID); err != nil {
		log.Warn().Err(err).Str("session_id", logging.ShortID(previousID)).Msg("failed to delete pre-login session")
	}
	return current, nil
}
