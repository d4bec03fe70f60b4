// Package auth verifies bearer tokens issued by the upstream identity
// service. This service never mints tokens; it only checks the HMAC
// signature and extracts the owner ID that every admission decision is
// keyed on.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/studioforge/forge-api/internal/config"
)

// Verifier validates bearer tokens and extracts the owner ID.
type Verifier interface {
	// VerifyToken checks the token signature and expiry and returns the
	// owner ID from the claims. Returns ErrExpiredToken or ErrInvalidToken.
	VerifyToken(ctx context.Context, token string) (uuid.UUID, error)
}

// hmacVerifier verifies HMAC-SHA signed tokens.
type hmacVerifier struct {
	signingKey []byte
	timeFunc   func() time.Time // Injectable for testing
	clockSkew  time.Duration
}

// tokenClaims is the claim structure shared with the identity service.
type tokenClaims struct {
	OwnerID uuid.UUID `json:"uid"`
	jwt.RegisteredClaims
}

var _ Verifier = (*hmacVerifier)(nil)

// NewVerifier creates a Verifier from auth configuration.
func NewVerifier(cfg config.AuthConfig) (Verifier, error) {
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters")
	}

	return &hmacVerifier{
		signingKey: []byte(cfg.JWTSecret),
		timeFunc:   time.Now,
		// Allow 2 minutes of clock skew to handle minor time drifts
		clockSkew: 2 * time.Minute,
	}, nil
}

// VerifyToken checks the token signature and expiry and returns the owner
// ID from the claims.
func (v *hmacVerifier) VerifyToken(_ context.Context, tokenString string) (uuid.UUID, error) {
	if tokenString == "" {
		return uuid.Nil, ErrInvalidToken
	}

	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return v.signingKey, nil
		},
		jwt.WithTimeFunc(v.timeFunc),
		jwt.WithLeeway(v.clockSkew),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, ErrExpiredToken
		}
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid || claims.OwnerID == uuid.Nil {
		return uuid.Nil, ErrInvalidToken
	}

	return claims.OwnerID, nil
}
