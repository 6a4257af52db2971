package idpfake

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-oidc-testapp/idp"
	"golang.org/x/oauth2"
)

// Keycloak style endpoint paths, relative to the issuer
const (
	RouteDiscovery  = "/.well-known/openid-configuration"
	RouteAuthorize  = "/protocol/openid-connect/auth"
	RouteToken      = "/protocol/openid-connect/token"
	RouteUserInfo   = "/protocol/openid-connect/userinfo"
	RouteJWKS       = "/protocol/openid-connect/certs"
	RouteEndSession = "/protocol/openid-connect/logout"
)

const (
	DefaultSubject   = "testuser"
	DefaultAccessTTL = 5 * time.Minute

	contentTypeJSON        = "application/json; charset=utf-8"
	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"
)

// TokenResponse is the token endpoint response body (RFC 6749 section 5.1)
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

type pendingCode struct {
	subject     string
	challenge   string
	redirectURI string
	scope       string
}

// Server is an in-process OpenID Connect issuer backed by httptest. It signs
// RS256 tokens, enforces PKCE S256 and rotates refresh tokens.
type Server struct {
	srv          *httptest.Server
	keyPair      *KeyPair
	clientID     string
	clientSecret string

	mu             sync.Mutex
	accessTTL      time.Duration
	rotate         bool
	omitEndSession bool
	users          map[string]idp.Claims
	codes          map[string]pendingCode
	refreshTokens  map[string]string // refresh token -> subject
	accessTokens   map[string]string // access token -> subject
	tokenRequests  int
	refreshGrants  int
}

// NewServer starts an issuer that accepts the given client credentials. The
// server is closed when the test finishes.
func NewServer(t testing.TB, clientID, clientSecret string) *Server {
	t.Helper()

	keyPair, err := GenerateRSAKeyPair(uuid.NewString(), 2048)
	if err != nil {
		t.Fatalf("idpfake: %v", err)
	}

	s := &Server{
		keyPair:       keyPair,
		clientID:      clientID,
		clientSecret:  clientSecret,
		accessTTL:     DefaultAccessTTL,
		rotate:        true,
		users:         map[string]idp.Claims{},
		codes:         map[string]pendingCode{},
		refreshTokens: map[string]string{},
		accessTokens:  map[string]string{},
	}
	s.AddUser(DefaultSubject, idp.Claims{
		"email":              "testuser@haiintel.local",
		"email_verified":     true,
		"name":               "Test User",
		"preferred_username": "testuser",
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+RouteDiscovery, s.discovery())
	mux.HandleFunc("GET "+RouteJWKS, s.jwks())
	mux.HandleFunc("GET "+RouteAuthorize, s.authorize())
	mux.HandleFunc("POST "+RouteToken, s.token())
	mux.HandleFunc(RouteUserInfo, s.userInfo())
	mux.HandleFunc("GET "+RouteEndSession, s.endSession())

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

// Issuer is the issuer URL, also the discovery base
func (s *Server) Issuer() string {
	return s.srv.URL
}

// Client returns an HTTP client that talks to the server
func (s *Server) Client() *http.Client {
	return s.srv.Client()
}

// AddUser registers claims returned for subject in tokens and userinfo
func (s *Server) AddUser(subject string, claims idp.Claims) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := maps.Clone(claims)
	if c == nil {
		c = idp.Claims{}
	}
	c["sub"] = subject
	s.users[subject] = c
}

// SetAccessTokenTTL changes expires_in for tokens issued from now on
func (s *Server) SetAccessTokenTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTTL = ttl
}

// SetRotateRefreshTokens controls whether a refresh grant issues a new refresh token.
// When disabled the response carries no refresh_token and the old one stays valid.
func (s *Server) SetRotateRefreshTokens(rotate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotate = rotate
}

// SetEndSessionSupported toggles end_session_endpoint in the discovery document
func (s *Server) SetEndSessionSupported(supported bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitEndSession = !supported
}

// RevokeRefreshTokens invalidates every outstanding refresh token
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.refreshTokens)
}

// RefreshGrants counts successful refresh_token grants
func (s *Server) RefreshGrants() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshGrants
}

// TokenRequests counts every call to the token endpoint
func (s *Server) TokenRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenRequests
}

// Authorize plays the user's side of the login for subject: it validates the
// authorization URL and returns the code and state the provider would redirect with.
func (s *Server) Authorize(authURL, subject string) (code, state string, err error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return "", "", err
	}
	return s.issueCode(u.Query(), subject)
}

func (s *Server) issueCode(q url.Values, subject string) (string, string, error) {
	if q.Get("client_id") != s.clientID {
		return "", "", fmt.Errorf("unknown client_id %q", q.Get("client_id"))
	}
	if q.Get("response_type") != "code" {
		return "", "", fmt.Errorf("unsupported response_type %q", q.Get("response_type"))
	}
	if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" {
		return "", "", fmt.Errorf("PKCE S256 code challenge required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[subject]; !ok {
		return "", "", fmt.Errorf("unknown user %q", subject)
	}

	code := randomToken()
	s.codes[code] = pendingCode{
		subject:     subject,
		challenge:   q.Get("code_challenge"),
		redirectURI: q.Get("redirect_uri"),
		scope:       q.Get("scope"),
	}
	return code, q.Get("state"), nil
}

func (s *Server) discovery() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		baseURL := s.Issuer()

		resp := map[string]any{
			"issuer":                                baseURL,
			"authorization_endpoint":                baseURL + RouteAuthorize,
			"token_endpoint":                        baseURL + RouteToken,
			"userinfo_endpoint":                     baseURL + RouteUserInfo,
			"jwks_uri":                              baseURL + RouteJWKS,
			"response_types_supported":              []string{"code"},
			"subject_types_supported":               []string{"public"},
			"id_token_signing_alg_values_supported": []string{"RS256"},
			"scopes_supported":                      idp.DefaultScopes,
			"grant_types_supported":                 []string{grantAuthorizationCode, grantRefreshToken},
			"code_challenge_methods_supported":      []string{"S256"},
			"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post"},
		}

		s.mu.Lock()
		if !s.omitEndSession {
			resp["end_session_endpoint"] = baseURL + RouteEndSession
		}
		s.mu.Unlock()

		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) jwks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keySet, err := s.keyPair.JWKS()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, keySet)
	}
}

// authorize logs in DefaultSubject (or login_hint) without a login page
func (s *Server) authorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		subject := q.Get("login_hint")
		if subject == "" {
			subject = DefaultSubject
		}

		redirectURI, err := url.Parse(q.Get("redirect_uri"))
		if err != nil || q.Get("redirect_uri") == "" {
			http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
			return
		}

		code, state, err := s.issueCode(q, subject)
		back := redirectURI.Query()
		if err != nil {
			back.Set("error", "invalid_request")
			back.Set("error_description", err.Error())
		} else {
			back.Set("code", code)
		}
		back.Set("state", state)
		redirectURI.RawQuery = back.Encode()

		http.Redirect(w, r, redirectURI.String(), http.StatusFound)
	}
}

func (s *Server) token() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.tokenRequests++
		s.mu.Unlock()

		if err := r.ParseForm(); err != nil {
			writeJSONError(w, "invalid_request", "Failed to parse form data", http.StatusBadRequest)
			return
		}

		clientID, clientSecret, ok := r.BasicAuth()
		if !ok {
			clientID, clientSecret = r.PostFormValue("client_id"), r.PostFormValue("client_secret")
		} else {
			clientID, _ = url.QueryUnescape(clientID)
			clientSecret, _ = url.QueryUnescape(clientSecret)
		}
		if clientID != s.clientID || clientSecret != s.clientSecret {
			writeJSONError(w, "invalid_client", "Invalid client credentials", http.StatusUnauthorized)
			return
		}

		var (
			resp *TokenResponse
			err  error
		)
		switch r.PostFormValue("grant_type") {
		case grantAuthorizationCode:
			resp, err = s.exchangeCode(r.PostFormValue("code"), r.PostFormValue("code_verifier"), r.PostFormValue("redirect_uri"))
		case grantRefreshToken:
			resp, err = s.refresh(r.PostFormValue("refresh_token"))
		default:
			writeJSONError(w, "unsupported_grant_type", r.PostFormValue("grant_type"), http.StatusBadRequest)
			return
		}
		if err != nil {
			writeJSONError(w, "invalid_grant", err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) exchangeCode(code, verifier, redirectURI string) (*TokenResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.codes[code]
	if !ok {
		return nil, fmt.Errorf("code not valid")
	}
	delete(s.codes, code)

	if verifier == "" || oauth2.S256ChallengeFromVerifier(verifier) != pending.challenge {
		return nil, fmt.Errorf("pkce verification failed")
	}
	if pending.redirectURI != "" && redirectURI != pending.redirectURI {
		return nil, fmt.Errorf("incorrect redirect_uri")
	}

	refreshToken := randomToken()
	s.refreshTokens[refreshToken] = pending.subject
	return s.issueTokens(pending.subject, refreshToken, pending.scope)
}

func (s *Server) refresh(refreshToken string) (*TokenResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subject, ok := s.refreshTokens[refreshToken]
	if !ok {
		return nil, fmt.Errorf("token is not active")
	}

	rotated := ""
	if s.rotate {
		delete(s.refreshTokens, refreshToken)
		rotated = randomToken()
		s.refreshTokens[rotated] = subject
	}
	s.refreshGrants++
	return s.issueTokens(subject, rotated, strings.Join(idp.DefaultScopes, " "))
}

// issueTokens must be called with s.mu held
func (s *Server) issueTokens(subject, refreshToken, scope string) (*TokenResponse, error) {
	now := time.Now()
	user := s.users[subject]

	accessClaims := jwt.MapClaims{
		"iss":   s.Issuer(),
		"sub":   subject,
		"aud":   "account",
		"azp":   s.clientID,
		"typ":   "Bearer",
		"scope": scope,
		"iat":   now.Unix(),
		"exp":   now.Add(s.accessTTL).Unix(),
		"jti":   uuid.NewString(),
	}
	accessToken, err := s.keyPair.Sign(accessClaims)
	if err != nil {
		return nil, err
	}

	idClaims := jwt.MapClaims{}
	maps.Copy(idClaims, user)
	maps.Copy(idClaims, jwt.MapClaims{
		"iss": s.Issuer(),
		"sub": subject,
		"aud": s.clientID,
		"azp": s.clientID,
		"typ": "ID",
		"iat": now.Unix(),
		"exp": now.Add(s.accessTTL).Unix(),
		"jti": uuid.NewString(),
	})
	idToken, err := s.keyPair.Sign(idClaims)
	if err != nil {
		return nil, err
	}

	s.accessTokens[accessToken] = subject
	return &TokenResponse{
		AccessToken:  accessToken,
		IDToken:      idToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTTL / time.Second),
		RefreshToken: refreshToken,
		Scope:        scope,
	}, nil
}

func (s *Server) userInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accessToken, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeJSONError(w, "invalid_request", "Missing bearer token", http.StatusUnauthorized)
			return
		}

		s.mu.Lock()
		subject, known := s.accessTokens[accessToken]
		claims := maps.Clone(s.users[subject])
		s.mu.Unlock()

		if !known {
			writeJSONError(w, "invalid_token", "Token verification failed", http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, claims)
	}
}

func (s *Server) endSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redirect := r.URL.Query().Get("post_logout_redirect_uri"); redirect != "" {
			http.Redirect(w, r, redirect, http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func randomToken() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}
