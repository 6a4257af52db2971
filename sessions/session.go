package sessions

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Session is the server-side state of one browser. It is either anonymous
// (no tokens) or holds a complete token set; a pending login additionally
// carries the PKCE verifier and state until the callback consumes them.
type Session struct {
	ID string `json:"id"`

	// Tokens. Always written together through SetTokens / ClearTokens.
	AccessToken  string         `json:"access_token,omitempty"`
	RefreshToken string         `json:"refresh_token,omitempty"` // Absent when the provider issues none
	IDToken      string         `json:"id_token,omitempty"`
	Claims       map[string]any `json:"claims,omitempty"` // ID token claims, display only
	ExpiresAt    time.Time      `json:"expires_at"`       // Access token expiry

	// Pending login (between /login and /callback)
	CodeVerifier string `json:"code_verifier,omitempty"`
	State        string `json:"state,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tokens is the all-or-nothing token set held by an authenticated session.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Claims       map[string]any
	ExpiresAt    time.Time
}

// New creates an anonymous session.
func New(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Session) IsAuthenticated() bool {
	return s.AccessToken != ""
}

func (s *Session) HasPendingLogin() bool {
	return s.CodeVerifier != ""
}

// SetTokens replaces every token field at once.
func (s *Session) SetTokens(t Tokens) {
	s.AccessToken = t.AccessToken
	s.RefreshToken = t.RefreshToken
	s.IDToken = t.IDToken
	s.Claims = maps.Clone(t.Claims)
	s.ExpiresAt = t.ExpiresAt
}

func (s *Session) Tokens() Tokens {
	return Tokens{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		IDToken:      s.IDToken,
		Claims:       maps.Clone(s.Claims),
		ExpiresAt:    s.ExpiresAt,
	}
}

// ClearTokens returns the session to the anonymous state.
func (s *Session) ClearTokens() {
	s.SetTokens(Tokens{})
}

func (s *Session) ClearPendingLogin() {
	s.CodeVerifier = ""
	s.State = ""
}

// ExpiresIn is the remaining lifetime of the access token; negative once expired.
func (s *Session) ExpiresIn(now time.Time) time.Duration {
	if s.ExpiresAt.IsZero() {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

// ExpiresAtMillis returns the access token expiry as epoch milliseconds.
func (s *Session) ExpiresAtMillis() int64 {
	if s.ExpiresAt.IsZero() {
		return 0
	}
	return s.ExpiresAt.UnixMilli()
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Claims = maps.Clone(s.Claims)
	return &c
}

// Marshal encodes a session for the blob based stores.
func Marshal(s *Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("[sessions Marshal] %w", err)
	}
	return data, nil
}

func Unmarshal(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("[sessions Unmarshal] %w", err)
	}
	return &s, nil
}
