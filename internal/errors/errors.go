package errors

import (
	"errors"
	"fmt"
)

// Common error types for the OIDC test application
var (
	// Identity provider errors
	ErrDiscovery = errors.New("oidc discovery failed")
	ErrCallback  = errors.New("authorization callback failed")
	ErrRefresh   = errors.New("token refresh failed")
	ErrUserinfo  = errors.New("userinfo request failed")

	// Lifecycle errors
	ErrAuthExpired      = errors.New("authentication expired")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNoPendingLogin   = errors.New("no pending login")
	ErrInvalidState     = errors.New("invalid state parameter")
	ErrMissingCode      = errors.New("missing authorization code")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidCookie   = errors.New("invalid session cookie")

	// Config errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Join returns an error that wraps both the sentinel and the cause so that
// errors.Is matches either of them.
func Join(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// New is errors.New, re-exported so callers need a single errors import
func New(text string) error {
	return errors.New(text)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
