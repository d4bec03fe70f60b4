package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studioforge/forge-api/internal/auth"
)

// stubVerifier scripts token verification results.
type stubVerifier struct {
	ownerID uuid.UUID
	err     error
}

func (v *stubVerifier) VerifyToken(_ context.Context, _ string) (uuid.UUID, error) {
	if v.err != nil {
		return uuid.Nil, v.err
	}
	return v.ownerID, nil
}

func runAuth(t *testing.T, verifier auth.Verifier, authHeader string) (*httptest.ResponseRecorder, uuid.UUID, bool) {
	t.Helper()

	var gotOwner uuid.UUID
	var nextCalled bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		gotOwner, _ = GetOwnerID(r)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/123", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()

	NewAuthMiddleware(verifier).Authenticate(next).ServeHTTP(rec, req)
	return rec, gotOwner, nextCalled
}

func TestAuthenticate_ValidToken(t *testing.T) {
	ownerID := uuid.New()
	rec, gotOwner, nextCalled := runAuth(t, &stubVerifier{ownerID: ownerID}, "Bearer sometoken")

	require.True(t, nextCalled)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ownerID, gotOwner)
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	rec, _, nextCalled := runAuth(t, &stubVerifier{ownerID: uuid.New()}, "")

	assert.False(t, nextCalled)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticate_BadFormat(t *testing.T) {
	for _, header := range []string{"sometoken", "Basic abc", "Bearer a b"} {
		rec, _, nextCalled := runAuth(t, &stubVerifier{ownerID: uuid.New()}, header)
		assert.False(t, nextCalled, "header %q", header)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestAuthenticate_ExpiredToken(t *testing.T) {
	rec, _, nextCalled := runAuth(t, &stubVerifier{err: auth.ErrExpiredToken}, "Bearer expired")

	assert.False(t, nextCalled)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Token expired")
}

func TestAuthenticate_InvalidToken(t *testing.T) {
	rec, _, nextCalled := runAuth(t, &stubVerifier{err: auth.ErrInvalidToken}, "Bearer garbage")

	assert.False(t, nextCalled)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticate_VerifierFailure(t *testing.T) {
	rec, _, nextCalled := runAuth(t, &stubVerifier{err: errors.New("key service down")}, "Bearer sometoken")

	assert.False(t, nextCalled)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
