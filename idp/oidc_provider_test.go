package idp_test

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/go-oidc-testapp/idp"
	"github.com/jrsteele09/go-oidc-testapp/idp/idpfake"
	"github.com/jrsteele09/go-oidc-testapp/internal/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	testClientID     = "test-app"
	testClientSecret = "test-secret"
	testRedirectURL  = "http://localhost:8000/callback"
)

func discover(t *testing.T, srv *idpfake.Server) *idp.OIDCProvider {
	t.Helper()

	p, err := idp.Discover(context.Background(), idp.Config{
		IssuerURL:    srv.Issuer(),
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RedirectURL:  testRedirectURL,
		HTTPClient:   srv.Client(),
	})
	require.NoError(t, err)
	return p
}

// login runs the authorization code flow and returns the resulting tokens
func login(t *testing.T, srv *idpfake.Server, p *idp.OIDCProvider) *idp.TokenSet {
	t.Helper()

	verifier := oauth2.GenerateVerifier()
	code, _, err := srv.Authorize(p.AuthorizationURL("state-1", verifier), idpfake.DefaultSubject)
	require.NoError(t, err)

	tokens, err := p.Exchange(context.Background(), code, verifier)
	require.NoError(t, err)
	return tokens
}

func TestDiscover(t *testing.T) {
	srv := idpfake.NewServer(t, testClientID, testClientSecret)

	t.Run("success", func(t *testing.T) {
		p := discover(t, srv)
		require.Equal(t, srv.Issuer(), p.Issuer())
	})

	t.Run("unreachable issuer", func(t *testing.T) {
		_, err := idp.Discover(context.Background(), idp.Config{
			IssuerURL:  srv.Issuer() + "/realms/missing",
			ClientID:   testClientID,
			HTTPClient: srv.Client(),
		})
		require.ErrorIs(t, err, errors.ErrDiscovery)
	})
}

func TestOIDCProvider_AuthorizationURL(t *testing.T) {
	srv := idpfake.NewServer(t, testClientID, testClientSecret)
	p := discover(t, srv)

	verifier := oauth2.GenerateVerifier()
	u, err := url.Parse(p.AuthorizationURL("state-1", verifier))
	require.NoError(t, err)

	q := u.Query()
	require.True(t, strings.HasPrefix(u.String(), srv.Issuer()+idpfake.RouteAuthorize))
	require.Equal(t, testClientID, q.Get("client_id"))
	require.Equal(t, testRedirectURL, q.Get("redirect_uri"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "openid email profile", q.Get("scope"))
	require.Equal(t, "state-1", q.Get("state"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.Equal(t, oauth2.S256ChallengeFromVerifier(verifier), q.Get("code_challenge"))
}

func TestOIDCProvider_Exchange(t *testing.T) {
	ctx := context.Background()
	srv := idpfake.NewServer(t, testClientID, testClientSecret)
	p := discover(t, srv)

	t.Run("success", func(t *testing.T) {
		tokens := login(t, srv, p)
		require.NotEmpty(t, tokens.AccessToken)
		require.NotEmpty(t, tokens.RefreshToken)
		require.NotEmpty(t, tokens.IDToken)
		require.InDelta(t, idpfake.DefaultAccessTTL.Seconds(), tokens.ExpiresIn.Seconds(), 2)
		require.Equal(t, "testuser@haiintel.local", tokens.Claims.String("email"))
		require.Equal(t, idpfake.DefaultSubject, tokens.Claims.String("sub"))
	})

	t.Run("wrong verifier", func(t *testing.T) {
		code, _, err := srv.Authorize(p.AuthorizationURL("s", oauth2.GenerateVerifier()), idpfake.DefaultSubject)
		require.NoError(t, err)

		_, err = p.Exchange(ctx, code, oauth2.GenerateVerifier())
		require.ErrorIs(t, err, errors.ErrCallback)
	})

	t.Run("code is single use", func(t *testing.T) {
		verifier := oauth2.GenerateVerifier()
		code, _, err := srv.Authorize(p.AuthorizationURL("s", verifier), idpfake.DefaultSubject)
		require.NoError(t, err)

		_, err = p.Exchange(ctx, code, verifier)
		require.NoError(t, err)
		_, err = p.Exchange(ctx, code, verifier)
		require.ErrorIs(t, err, errors.ErrCallback)
	})

	t.Run("bad client secret", func(t *testing.T) {
		bad, err := idp.Discover(ctx, idp.Config{
			IssuerURL:    srv.Issuer(),
			ClientID:     testClientID,
			ClientSecret: "wrong",
			RedirectURL:  testRedirectURL,
			HTTPClient:   srv.Client(),
		})
		require.NoError(t, err)

		verifier := oauth2.GenerateVerifier()
		code, _, err := srv.Authorize(bad.AuthorizationURL("s", verifier), idpfake.DefaultSubject)
		require.NoError(t, err)
		_, err = bad.Exchange(ctx, code, verifier)
		require.ErrorIs(t, err, errors.ErrCallback)
	})
}

func TestOIDCProvider_Refresh(t *testing.T) {
	ctx := context.Background()
	srv := idpfake.NewServer(t, testClientID, testClientSecret)
	p := discover(t, srv)

	t.Run("rotates refresh token", func(t *testing.T) {
		tokens := login(t, srv, p)

		refreshed, err := p.Refresh(ctx, tokens.RefreshToken)
		require.NoError(t, err)
		require.NotEmpty(t, refreshed.AccessToken)
		require.NotEqual(t, tokens.RefreshToken, refreshed.RefreshToken)
		require.Equal(t, idpfake.DefaultSubject, refreshed.Claims.String("sub"))

		// The old refresh token was consumed by rotation
		_, err = p.Refresh(ctx, tokens.RefreshToken)
		require.ErrorIs(t, err, errors.ErrRefresh)
	})

	t.Run("keeps refresh token when not rotated", func(t *testing.T) {
		srv.SetRotateRefreshTokens(false)
		defer srv.SetRotateRefreshTokens(true)

		tokens := login(t, srv, p)
		refreshed, err := p.Refresh(ctx, tokens.RefreshToken)
		require.NoError(t, err)
		require.Equal(t, tokens.RefreshToken, refreshed.RefreshToken)
	})

	t.Run("revoked", func(t *testing.T) {
		tokens := login(t, srv, p)
		srv.RevokeRefreshTokens()

		_, err := p.Refresh(ctx, tokens.RefreshToken)
		require.ErrorIs(t, err, errors.ErrRefresh)
	})

	t.Run("empty refresh token", func(t *testing.T) {
		before := srv.TokenRequests()
		_, err := p.Refresh(ctx, "")
		require.ErrorIs(t, err, errors.ErrRefresh)
		require.Equal(t, before, srv.TokenRequests())
	})
}

func TestOIDCProvider_UserInfo(t *testing.T) {
	ctx := context.Background()
	srv := idpfake.NewServer(t, testClientID, testClientSecret)
	p := discover(t, srv)
	tokens := login(t, srv, p)

	info, err := p.UserInfo(ctx, tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "testuser@haiintel.local", info.String("email"))
	require.Equal(t, "Test User", info.String("name"))

	_, err = p.UserInfo(ctx, "not-a-token")
	require.ErrorIs(t, err, errors.ErrUserinfo)
}

func TestOIDCProvider_EndSessionURL(t *testing.T) {
	srv := idpfake.NewServer(t, testClientID, testClientSecret)
	p := discover(t, srv)

	u, err := url.Parse(p.EndSessionURL("id-token", "http://localhost:8000/"))
	require.NoError(t, err)
	require.Equal(t, srv.Issuer()+idpfake.RouteEndSession, u.Scheme+"://"+u.Host+u.Path)
	require.Equal(t, "id-token", u.Query().Get("id_token_hint"))
	require.Equal(t, "http://localhost:8000/", u.Query().Get("post_logout_redirect_uri"))

	u, err = url.Parse(p.EndSessionURL("", "http://localhost:8000/"))
	require.NoError(t, err)
	require.Equal(t, testClientID, u.Query().Get("client_id"))

	t.Run("no end_session_endpoint", func(t *testing.T) {
		srv.SetEndSessionSupported(false)
		p := discover(t, srv)
		require.Equal(t, "http://localhost:8000/", p.EndSessionURL("id-token", "http://localhost:8000/"))
	})
}

func TestDecodeClaims(t *testing.T) {
	srv := idpfake.NewServer(t, testClientID, testClientSecret)
	srv.SetAccessTokenTTL(time.Minute)
	tokens := login(t, srv, discover(t, srv))

	claims, err := idp.DecodeClaims(tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, idpfake.DefaultSubject, claims.String("sub"))

	exp, ok := claims.Expiry()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(time.Minute), exp, 5*time.Second)

	_, err = idp.DecodeClaims("not.a.jwt")
	require.Error(t, err)
	require.Empty(t, idp.Claims{}.String("sub"))
}
