package auth

import "errors"

// Error types for token verification
var (
	// ErrInvalidToken indicates the token is malformed, has a bad
	// signature, or carries unusable claims.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken indicates the token was valid but has expired.
	ErrExpiredToken = errors.New("expired token")
)
