package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/studioforge/forge-api/internal/store"
	"github.com/stretchr/testify/assert"
)

// mockDBTX is a minimal store.DBTX stub for tests that never reach the
// database. Exec and query calls fail with a fixed error.
type mockDBTX struct {
	execErr error
}

func (m *mockDBTX) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if m.execErr != nil {
		return nil, m.execErr
	}
	return nil, errors.New("mockDBTX: ExecContext not configured")
}

func (m *mockDBTX) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	return nil, errors.New("mockDBTX: PrepareContext not configured")
}

func (m *mockDBTX) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, errors.New("mockDBTX: QueryContext not configured")
}

func (m *mockDBTX) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return &sql.Row{}
}

func TestNewPostgresTaskStore(t *testing.T) {
	s := NewPostgresTaskStore(&mockDBTX{})
	assert.NotNil(t, s)
	assert.NotNil(t, s.db)
}

func TestNewPostgresRateLimitStore(t *testing.T) {
	s := NewPostgresRateLimitStore(&mockDBTX{})
	assert.NotNil(t, s)
	assert.NotNil(t, s.db)
}

func TestRateLimitDecrementRejectsNonPositiveAmount(t *testing.T) {
	s := NewPostgresRateLimitStore(&mockDBTX{})

	for _, amount := range []int{0, -1} {
		ok, err := s.Decrement(context.Background(), uuid.New(), "generate_daily", amount)
		assert.False(t, ok)
		assert.ErrorIs(t, err, store.ErrInvalidEntity, "amount %d", amount)
	}
}

func TestTaskCreateRejectsInvalidEntity(t *testing.T) {
	s := NewPostgresTaskStore(&mockDBTX{})

	// Validation fails before any database call, so the mock is never hit.
	_, err := s.Create(context.Background(), uuid.Nil, "generation", []byte(`{}`))
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "abcde", truncate("abcdefgh", 5))
	assert.Equal(t, "", truncate("", 5))

	// Rune-aware: multi-byte characters are not split.
	long := strings.Repeat("é", maxErrorMessageLen+10)
	got := truncate(long, maxErrorMessageLen)
	assert.Equal(t, maxErrorMessageLen, len([]rune(got)))
}

func TestNullIfEmpty(t *testing.T) {
	assert.False(t, nullIfEmpty("").Valid)
	ns := nullIfEmpty("s3://bucket/key")
	assert.True(t, ns.Valid)
	assert.Equal(t, "s3://bucket/key", ns.String)
}

func TestMapError(t *testing.T) {
	assert.NoError(t, MapError(nil))
	assert.ErrorIs(t, MapError(sql.ErrNoRows), store.ErrNotFound)

	plain := errors.New("connection refused")
	assert.Equal(t, plain, MapError(plain))
}
