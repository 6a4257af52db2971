package idp

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DecodeClaims reads the payload of a JWT without verifying its signature.
// Only use it on tokens that came straight from the token endpoint.
func DecodeClaims(rawToken string) (Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return nil, fmt.Errorf("decode token claims: %w", err)
	}
	return Claims(claims), nil
}

// String returns the string claim name, or "" when absent or not a string
func (c Claims) String(name string) string {
	v, _ := c[name].(string)
	return v
}

// Expiry returns the exp claim as a time
func (c Claims) Expiry() (time.Time, bool) {
	exp, err := jwt.MapClaims(c).GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
