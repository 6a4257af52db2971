package idp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-oidc-testapp/internal/errors"
	"golang.org/x/oauth2"
)

// Config describes the relying party registration at the provider.
type Config struct {
	IssuerURL    string // e.g. "http://localhost:8080/realms/haiintel"
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// HTTPClient is used for every provider call when set.
	HTTPClient *http.Client
}

var _ Provider = (*OIDCProvider)(nil)

// OIDCProvider wraps the discovered OIDC provider and the OAuth2 configuration.
type OIDCProvider struct {
	provider           *oidc.Provider
	verifier           *oidc.IDTokenVerifier
	oauth2Config       oauth2.Config
	issuer             string
	endSessionEndpoint string
	httpClient         *http.Client
}

// Discover fetches the provider's discovery document and builds the client.
// Failures wrap errors.ErrDiscovery.
func Discover(ctx context.Context, cfg Config) (*OIDCProvider, error) {
	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, errors.Join(errors.ErrDiscovery, err)
	}

	// end_session_endpoint is not part of oidc.Provider's typed fields
	var metadata struct {
		Issuer             string `json:"issuer"`
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&metadata); err != nil {
		return nil, errors.Join(errors.ErrDiscovery, err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	return &OIDCProvider{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2Config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		issuer:             metadata.Issuer,
		endSessionEndpoint: metadata.EndSessionEndpoint,
		httpClient:         cfg.HTTPClient,
	}, nil
}

// Issuer returns the issuer identifier from the discovery document
func (p *OIDCProvider) Issuer() string {
	return p.issuer
}

func (p *OIDCProvider) AuthorizationURL(state, codeVerifier string) string {
	return p.oauth2Config.AuthCodeURL(state, oauth2.S256ChallengeOption(codeVerifier))
}

func (p *OIDCProvider) Exchange(ctx context.Context, code, codeVerifier string) (*TokenSet, error) {
	ctx = p.clientContext(ctx)

	token, err := p.oauth2Config.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, errors.Join(errors.ErrCallback, err)
	}

	ts, err := p.tokenSet(ctx, token, true)
	if err != nil {
		return nil, errors.Join(errors.ErrCallback, err)
	}
	return ts, nil
}

func (p *OIDCProvider) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, errors.Join(errors.ErrRefresh, fmt.Errorf("no refresh token"))
	}
	ctx = p.clientContext(ctx)

	// A token without an access token is always invalid, so the source refreshes.
	token, err := p.oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, errors.Join(errors.ErrRefresh, err)
	}

	ts, err := p.tokenSet(ctx, token, false)
	if err != nil {
		return nil, errors.Join(errors.ErrRefresh, err)
	}
	return ts, nil
}

func (p *OIDCProvider) UserInfo(ctx context.Context, accessToken string) (Claims, error) {
	ctx = p.clientContext(ctx)

	info, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	if err != nil {
		return nil, errors.Join(errors.ErrUserinfo, err)
	}

	var claims Claims
	if err := info.Claims(&claims); err != nil {
		return nil, errors.Join(errors.ErrUserinfo, err)
	}
	return claims, nil
}

// EndSessionURL falls back to postLogoutRedirectURI when the provider has no end_session_endpoint.
func (p *OIDCProvider) EndSessionURL(idTokenHint, postLogoutRedirectURI string) string {
	if p.endSessionEndpoint == "" {
		return postLogoutRedirectURI
	}
	return buildEndSessionURL(p.endSessionEndpoint, p.oauth2Config.ClientID, idTokenHint, postLogoutRedirectURI)
}

// tokenSet verifies the ID token (mandatory after a code exchange, optional
// after a refresh) and converts the oauth2 token.
func (p *OIDCProvider) tokenSet(ctx context.Context, token *oauth2.Token, requireIDToken bool) (*TokenSet, error) {
	ts := &TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    expiresIn(token),
	}
	if ts.ExpiresIn == 0 {
		// No expires_in: fall back to the access token's own exp claim
		if claims, err := DecodeClaims(token.AccessToken); err == nil {
			if exp, ok := claims.Expiry(); ok {
				ts.ExpiresIn = time.Until(exp).Round(time.Second)
			}
		}
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		if requireIDToken {
			return nil, fmt.Errorf("no id_token in token response")
		}
		return ts, nil
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("id token verification: %w", err)
	}
	if err := idToken.Claims(&ts.Claims); err != nil {
		return nil, fmt.Errorf("id token claims: %w", err)
	}
	ts.IDToken = rawIDToken
	return ts, nil
}

func (p *OIDCProvider) clientContext(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return oidc.ClientContext(ctx, p.httpClient)
}

func expiresIn(token *oauth2.Token) time.Duration {
	if token.ExpiresIn > 0 {
		return time.Duration(token.ExpiresIn) * time.Second
	}
	if !token.Expiry.IsZero() {
		return time.Until(token.Expiry).Round(time.Second)
	}
	return 0
}

func buildEndSessionURL(endpoint, clientID, idTokenHint, postLogoutRedirectURI string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return postLogoutRedirectURI
	}
	q := u.Query()
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	} else {
		q.Set("client_id", clientID)
	}
	if postLogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
