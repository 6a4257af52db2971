// Package idpfake provides identity provider stand-ins for tests: Provider is
// a scripted idp.Provider with no network, Server is a real OIDC issuer on
// httptest for exercising idp.OIDCProvider end to end.
package idpfake

import (
	"context"
	"fmt"
	"maps"
	"net/url"
	"sync"

	"github.com/jrsteele09/go-oidc-testapp/idp"
	"github.com/jrsteele09/go-oidc-testapp/internal/errors"
	"golang.org/x/oauth2"
)

// AuthEndpoint is the authorization URL base used by Provider
const AuthEndpoint = "https://idp.test/realms/haiintel/protocol/openid-connect/auth"

// EndSessionEndpoint is the logout URL base used by Provider
const EndSessionEndpoint = "https://idp.test/realms/haiintel/protocol/openid-connect/logout"

var _ idp.Provider = (*Provider)(nil)

type exchange struct {
	verifier string
	tokens   *idp.TokenSet
}

type refreshResult struct {
	tokens *idp.TokenSet
	err    error
}

// Provider is a scripted idp.Provider. Codes, refresh results and userinfo
// responses are queued up front; every call is counted.
type Provider struct {
	ClientID    string
	RedirectURL string

	// OnRefresh, when set, runs inside Refresh before the scripted result is
	// returned. Tests use it to hold a refresh in flight.
	OnRefresh func(refreshToken string)

	mu            sync.Mutex
	exchanges     map[string]exchange
	refreshes     []refreshResult
	userInfo      idp.Claims
	userInfoErr   error
	exchangeCalls int
	refreshCalls  int
	userInfoCalls int
	refreshTokens []string
}

func NewProvider() *Provider {
	return &Provider{
		ClientID:    "test-app",
		RedirectURL: "http://localhost:8000/callback",
		exchanges:   map[string]exchange{},
	}
}

// ExpectExchange makes code redeemable once with verifier
func (p *Provider) ExpectExchange(code, verifier string, tokens *idp.TokenSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchanges[code] = exchange{verifier: verifier, tokens: tokens}
}

// QueueRefresh appends a successful refresh result
func (p *Provider) QueueRefresh(tokens *idp.TokenSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshes = append(p.refreshes, refreshResult{tokens: tokens})
}

// QueueRefreshError appends a failing refresh result
func (p *Provider) QueueRefreshError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshes = append(p.refreshes, refreshResult{err: err})
}

// SetUserInfo sets the userinfo response for every access token
func (p *Provider) SetUserInfo(claims idp.Claims, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userInfo = claims
	p.userInfoErr = err
}

func (p *Provider) ExchangeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exchangeCalls
}

func (p *Provider) RefreshCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCalls
}

func (p *Provider) UserInfoCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userInfoCalls
}

// RefreshTokens lists the refresh tokens presented to Refresh, in order
func (p *Provider) RefreshTokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.refreshTokens...)
}

func (p *Provider) AuthorizationURL(state, codeVerifier string) string {
	q := url.Values{}
	q.Set("client_id", p.ClientID)
	q.Set("redirect_uri", p.RedirectURL)
	q.Set("response_type", "code")
	q.Set("scope", "openid email profile")
	q.Set("state", state)
	q.Set("code_challenge", oauth2.S256ChallengeFromVerifier(codeVerifier))
	q.Set("code_challenge_method", "S256")
	return AuthEndpoint + "?" + q.Encode()
}

func (p *Provider) Exchange(_ context.Context, code, codeVerifier string) (*idp.TokenSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchangeCalls++

	ex, ok := p.exchanges[code]
	if !ok {
		return nil, errors.Join(errors.ErrCallback, fmt.Errorf("invalid_grant: code not valid"))
	}
	delete(p.exchanges, code)

	if ex.verifier != codeVerifier {
		return nil, errors.Join(errors.ErrCallback, fmt.Errorf("invalid_grant: pkce verification failed"))
	}
	return cloneTokens(ex.tokens), nil
}

func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*idp.TokenSet, error) {
	p.mu.Lock()
	p.refreshCalls++
	p.refreshTokens = append(p.refreshTokens, refreshToken)
	if err := ctx.Err(); err != nil {
		p.mu.Unlock()
		return nil, errors.Join(errors.ErrRefresh, err)
	}
	var result refreshResult
	if len(p.refreshes) == 0 {
		result.err = fmt.Errorf("invalid_grant: no refresh scripted")
	} else {
		result, p.refreshes = p.refreshes[0], p.refreshes[1:]
	}
	onRefresh := p.OnRefresh
	p.mu.Unlock()

	if onRefresh != nil {
		onRefresh(refreshToken)
	}

	if result.err != nil {
		if errors.Is(result.err, errors.ErrRefresh) {
			return nil, result.err
		}
		return nil, errors.Join(errors.ErrRefresh, result.err)
	}
	return cloneTokens(result.tokens), nil
}

func (p *Provider) UserInfo(_ context.Context, accessToken string) (idp.Claims, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userInfoCalls++

	if p.userInfoErr != nil {
		if errors.Is(p.userInfoErr, errors.ErrUserinfo) {
			return nil, p.userInfoErr
		}
		return nil, errors.Join(errors.ErrUserinfo, p.userInfoErr)
	}
	return maps.Clone(p.userInfo), nil
}

func (p *Provider) EndSessionURL(idTokenHint, postLogoutRedirectURI string) string {
	q := url.Values{}
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	} else {
		q.Set("client_id", p.ClientID)
	}
	if postLogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	}
	return EndSessionEndpoint + "?" + q.Encode()
}

func cloneTokens(ts *idp.TokenSet) *idp.TokenSet {
	if ts == nil {
		return &idp.TokenSet{}
	}
	c := *ts
	c.Claims = maps.Clone(ts.Claims)
	return &c
}
