package sessions

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-oidc-testapp/internal/errors"
	"golang.org/x/crypto/hkdf"
)

// CookieName is the name of the cookie carrying the signed session ID
const CookieName = "sid"

const cookieKeyInfo = "oidc-testapp session cookie v1"

// CookieCodec signs session IDs so that a client cannot pick another session's ID.
type CookieCodec struct {
	key    []byte
	secure bool
	maxAge time.Duration
}

// NewCookieCodec derives the HMAC key from secret with HKDF-SHA256.
func NewCookieCodec(secret string, secure bool, maxAge time.Duration) (*CookieCodec, error) {
	if secret == "" {
		return nil, fmt.Errorf("[sessions NewCookieCodec] session secret is required")
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(cookieKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("[sessions NewCookieCodec] derive key: %w", err)
	}
	return &CookieCodec{key: key, secure: secure, maxAge: maxAge}, nil
}

// Encode returns "<id>.<signature>".
func (c *CookieCodec) Encode(sessionID string) string {
	return sessionID + "." + c.sign(sessionID)
}

// Decode verifies the signature and returns the session ID.
func (c *CookieCodec) Decode(value string) (string, error) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" || sig == "" {
		return "", errors.ErrInvalidCookie
	}
	if !hmac.Equal([]byte(sig), []byte(c.sign(id))) {
		return "", errors.ErrInvalidCookie
	}
	return id, nil
}

// Read returns the verified session ID from the request cookie.
func (c *CookieCodec) Read(r *http.Request) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return "", errors.ErrInvalidCookie
	}
	return c.Decode(cookie.Value)
}

func (c *CookieCodec) Write(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    c.Encode(sessionID),
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(c.maxAge.Seconds()),
	})
}

// Clear deletes the cookie in the browser.
func (c *CookieCodec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func (c *CookieCodec) sign(value string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
