package auth

import "errors"

var (
	// ErrInvalidToken is the single outcome of every token verification failure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUnauthorized is returned for a wrong proof or an unusable session token.
	ErrUnauthorized = errors.New("invalid credentials")
	// ErrRateLimited is returned when a client has too many recent failed logins.
	ErrRateLimited = errors.New("too many failed login attempts")
	// ErrInvalidName is returned when the display name is empty or too long.
	ErrInvalidName = errors.New("display name must be between 1 and 50 characters")
)
