// Package idp is the client side of an OpenID Connect identity provider:
// discovery, authorization URLs, code exchange, refresh, userinfo and
// end-session URLs. OIDCProvider is the go-oidc / x/oauth2 implementation;
// package idpfake provides stand-ins for tests.
package idp

import (
	"context"
	"time"
)

// Default scopes requested at login
var DefaultScopes = []string{"openid", "email", "profile"}

// Claims is a decoded set of JWT or userinfo claims.
type Claims map[string]any

// TokenSet is the result of a code exchange or a refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string // Empty when the provider did not issue or rotate one
	IDToken      string
	ExpiresIn    time.Duration // Lifetime of AccessToken
	Claims       Claims        // Verified ID token claims
}

// Provider is the identity provider capability used by the session lifecycle.
// Every method performs at most one network round trip and never retries.
type Provider interface {
	// AuthorizationURL builds the redirect to the provider's login page
	// using PKCE (S256) derived from codeVerifier.
	AuthorizationURL(state, codeVerifier string) string

	// Exchange trades an authorization code for tokens. Errors wrap errors.ErrCallback.
	Exchange(ctx context.Context, code, codeVerifier string) (*TokenSet, error)

	// Refresh obtains a new token set. Errors wrap errors.ErrRefresh.
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)

	// UserInfo calls the userinfo endpoint. Errors wrap errors.ErrUserinfo.
	UserInfo(ctx context.Context, accessToken string) (Claims, error)

	// EndSessionURL is the RP-initiated logout URL.
	EndSessionURL(idTokenHint, postLogoutRedirectURI string) string
}
