// Package auth owns the token lifecycle of a browser session: starting a
// login, completing the callback, keeping the access token fresh through
// refresh token rotation, and tearing the session down when that fails.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-oidc-testapp/idp"
	"github.com/jrsteele09/go-oidc-testapp/internal/errors"
	"github.com/jrsteele09/go-oidc-testapp/internal/logging"
	"github.com/jrsteele09/go-oidc-testapp/sessions"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshThreshold is how close to expiry an access token may get before it is refreshed
const DefaultRefreshThreshold = 30 * time.Second

// DefaultRefreshTimeout bounds a shared refresh once it no longer follows the request that started it
const DefaultRefreshTimeout = 10 * time.Second

// Result reports what EnsureValid did to a session.
type Result int

const (
	ResultAnonymous Result = iota // Nothing to refresh
	ResultValid                   // Token far enough from expiry, session untouched
	ResultRefreshed               // Tokens replaced by a successful refresh
	ResultExpired                 // Refresh failed, tokens cleared
)

func (r Result) String() string {
	switch r {
	case ResultAnonymous:
		return "anonymous"
	case ResultValid:
		return "valid"
	case ResultRefreshed:
		return "refreshed"
	case ResultExpired:
		return "expired"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Manager applies the session token lifecycle against an identity provider.
type Manager struct {
	provider              idp.Provider
	sessions              sessions.Repo
	threshold             time.Duration
	refreshTimeout        time.Duration
	postLogoutRedirectURL string
	nowTime               func() time.Time
	newVerifier           func() string
	meterProvider         metric.MeterProvider
	metrics               *metrics
	group                 singleflight.Group
	locks                 sessionLocks
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

func WithRefreshThreshold(threshold time.Duration) ManagerOption {
	return func(m *Manager) {
		m.threshold = threshold
	}
}

// WithRefreshTimeout bounds the provider and store calls made by EnsureValidByID
func WithRefreshTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.refreshTimeout = timeout
	}
}

// WithPostLogoutRedirectURL sets where the provider sends the browser after logout
func WithPostLogoutRedirectURL(url string) ManagerOption {
	return func(m *Manager) {
		m.postLogoutRedirectURL = url
	}
}

// WithCodeVerifier replaces the PKCE verifier generator
func WithCodeVerifier(newVerifier func() string) ManagerOption {
	return func(m *Manager) {
		m.newVerifier = newVerifier
	}
}

// WithMeterProvider records lifecycle counters on mp instead of the global provider
func WithMeterProvider(mp metric.MeterProvider) ManagerOption {
	return func(m *Manager) {
		m.meterProvider = mp
	}
}

// NewManager creates a Manager. The session repo backs the ByID and stored
// session operations, which are serialized per session.
func NewManager(provider idp.Provider, repo sessions.Repo, options ...ManagerOption) (*Manager, error) {
	if provider == nil {
		return nil, errors.New("[NewManager] identity provider is required")
	}
	if repo == nil {
		return nil, errors.New("[NewManager] session repo is required")
	}

	m := &Manager{
		provider:       provider,
		sessions:       repo,
		threshold:      DefaultRefreshThreshold,
		refreshTimeout: DefaultRefreshTimeout,
		nowTime:        time.Now,
		newVerifier:    oauth2.GenerateVerifier,
		meterProvider:  otel.GetMeterProvider(),
	}

	for _, opt := range options {
		opt(m)
	}

	if m.threshold < 0 {
		return nil, fmt.Errorf("[NewManager] refresh threshold must not be negative: %s", m.threshold)
	}
	if m.refreshTimeout <= 0 {
		return nil, fmt.Errorf("[NewManager] refresh timeout must be positive: %s", m.refreshTimeout)
	}

	var err error
	if m.metrics, err = newMetrics(m.meterProvider); err != nil {
		return nil, errors.Wrapf(err, "[NewManager] metrics")
	}
	return m, nil
}

// RefreshThreshold returns the configured refresh window
func (m *Manager) RefreshThreshold() time.Duration {
	return m.threshold
}

// Now returns the manager's current time
func (m *Manager) Now() time.Time {
	return m.nowTime()
}

// EnsureValid refreshes the session's tokens when the access token expires
// within the refresh threshold. A failed refresh clears every token on the
// session and returns an error wrapping both errors.ErrAuthExpired and the
// provider's errors.ErrRefresh; the caller must destroy the session.
// EnsureValid never retries and is not safe for concurrent use on the same
// session; use EnsureValidByID for that.
func (m *Manager) EnsureValid(ctx context.Context, s *sessions.Session) (Result, error) {
	if s == nil || !s.IsAuthenticated() {
		return ResultAnonymous, nil
	}
	if s.RefreshToken == "" {
		// Nothing to refresh with; the token stays until it expires
		return ResultValid, nil
	}

	now := m.nowTime()
	timeUntilExpiry := s.ExpiresIn(now)
	if timeUntilExpiry >= m.threshold {
		return ResultValid, nil
	}

	logger := log.With().Str("session_id", logging.ShortID(s.ID)).Dur("expires_in", timeUntilExpiry).Logger()
	logger.Debug().Msg("access token expiring soon, refreshing")

	tokens, err := m.provider.Refresh(ctx, s.RefreshToken)
	if err != nil {
		s.ClearTokens()
		m.metrics.refresh(ctx, outcomeFailure)
		logger.Warn().Err(err).Msg("token refresh failed, session expired")
		return ResultExpired, errors.Join(errors.ErrAuthExpired, err)
	}

	next := sessions.Tokens{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		IDToken:      tokens.IDToken,
		Claims:       tokens.Claims,
		ExpiresAt:    now.Add(tokens.ExpiresIn),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = s.RefreshToken
	}
	if next.IDToken == "" {
		next.IDToken = s.IDToken
		next.Claims = s.Claims
	}
	s.SetTokens(next)

	m.metrics.refresh(ctx, outcomeSuccess)
	logger.Info().Dur("new_expires_in", tokens.ExpiresIn).Msg("tokens refreshed")
	return ResultRefreshed, nil
}

type ensureOutcome struct {
	session *sessions.Session
	result  Result
}

// EnsureValidByID loads the session, runs EnsureValid and persists the
// outcome: refreshed sessions are stored, expired ones deleted. Concurrent
// calls for the same session share one load and at most one refresh. The
// shared call is detached from ctx's cancellation and bounded by the refresh
// timeout instead, so one client going away does not expire the session for
// the others.
func (m *Manager) EnsureValidByID(ctx context.Context, sessionID string) (*sessions.Session, Result, error) {
	v, err, _ := m.group.Do(sessionID, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()

		unlock := m.locks.lock(sessionID)
		defer unlock()

		s, err := m.sessions.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		result, err := m.EnsureValid(ctx, s)
		switch {
		case errors.Is(err, errors.ErrAuthExpired):
			if delErr := m.sessions.Delete(ctx, sessionID); delErr != nil {
				log.Error().Err(delErr).Str("session_id", logging.ShortID(sessionID)).Msg("failed to delete expired session")
			}
			return ensureOutcome{session: s, result: result}, err
		case err != nil:
			return nil, err
		case result == ResultRefreshed:
			if err := m.sessions.Upsert(ctx, s); err != nil {
				return nil, errors.Wrapf(err, "[EnsureValidByID] store refreshed session")
			}
		}
		return ensureOutcome{session: s, result: result}, nil
	})

	outcome, ok := v.(ensureOutcome)
	if !ok {
		return nil, ResultAnonymous, err
	}
	// Waiters share the outcome, each gets its own copy
	return outcome.session.Clone(), outcome.result, err
}

// State classifies a session for display.
type State int

const (
	StateAnonymous State = iota
	StateFresh
	StateExpiringSoon
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateFresh:
		return "fresh"
	case StateExpiringSoon:
		return "expiring_soon"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (m *Manager) StateOf(s *sessions.Session) State {
	if s == nil || !s.IsAuthenticated() {
		return StateAnonymous
	}
	if s.ExpiresIn(m.nowTime()) >= m.threshold {
		return StateFresh
	}
	return StateExpiringSoon
}

// UserInfo fetches the provider's userinfo for the session. Failures never change the session.
func (m *Manager) UserInfo(ctx context.Context, s *sessions.Session) (idp.Claims, error) {
	if s == nil || !s.IsAuthenticated() {
		return nil, errors.ErrNotAuthenticated
	}
	return m.provider.UserInfo(ctx, s.AccessToken)
}

// EndSession deletes the stored session and returns the provider logout URL
// built from its ID token.
func (m *Manager) EndSession(ctx context.Context, s *sessions.Session) (string, error) {
	unlock := m.locks.lock(s.ID)
	defer unlock()

	current, err := m.storedOrGiven(ctx, s)
	if err != nil {
		return "", err
	}
	logoutURL := m.Logout(current)
	if err := m.sessions.Delete(ctx, current.ID); err != nil {
		return logoutURL, errors.Wrapf(err, "[EndSession] delete session")
	}
	log.Info().Str("session_id", logging.ShortID(current.ID)).Msg("session ended")
	return logoutURL, nil
}

// storedOrGiven returns the stored copy of s, or a copy of s itself when it
// has not been stored yet. Callers must hold the session's lock.
func (m *Manager) storedOrGiven(ctx context.Context, s *sessions.Session) (*sessions.Session, error) {
	current, err := m.sessions.Get(ctx, s.ID)
	switch {
	case errors.Is(err, errors.ErrSessionNotFound):
		return s.Clone(), nil
	case err != nil:
		return nil, err
	}
	return current, nil
}

// Logout returns the provider end-session URL for the session. The caller
// deletes the session.
func (m *Manager) Logout(s *sessions.Session) string {
	idTokenHint := ""
	if s != nil {
		idTokenHint = s.IDToken
		log.Info().Str("session_id", logging.ShortID(s.ID)).Bool("authenticated", s.IsAuthenticated()).Msg("logout")
	}
	return m.provider.EndSessionURL(idTokenHint, m.postLogoutRedirectURL)
}
