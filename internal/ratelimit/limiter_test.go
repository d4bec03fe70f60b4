package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/studioforge/forge-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryLimitStore is an in-memory store.RateLimitStore for limiter tests.
// Windows expire relative to a controllable clock.
type memoryLimitStore struct {
	counters map[string]*memoryCounter
	now      time.Time
	failRule string // CheckAndIncrement for this rule returns an error
}

type memoryCounter struct {
	count     int
	windowEnd time.Time
}

func newMemoryLimitStore() *memoryLimitStore {
	return &memoryLimitStore{
		counters: make(map[string]*memoryCounter),
		now:      time.Now().UTC(),
	}
}

func (m *memoryLimitStore) key(owner uuid.UUID, rule string) string {
	return owner.String() + "/" + rule
}

func (m *memoryLimitStore) CheckAndIncrement(
	ctx context.Context,
	ownerID uuid.UUID,
	rule store.RuleSpec,
) (store.Decision, error) {
	if rule.Name == m.failRule {
		return store.Decision{}, errors.New("store unavailable")
	}

	key := m.key(ownerID, rule.Name)
	counter, ok := m.counters[key]
	if !ok || !counter.windowEnd.After(m.now) {
		counter = &memoryCounter{windowEnd: m.now.Add(rule.Window)}
		m.counters[key] = counter
	}
	counter.count++

	remaining := rule.Limit - counter.count
	if remaining < 0 {
		remaining = 0
	}

	return store.Decision{
		Allowed:   counter.count <= rule.Limit,
		Remaining: remaining,
		ResetAt:   counter.windowEnd,
	}, nil
}

func (m *memoryLimitStore) Decrement(
	ctx context.Context,
	ownerID uuid.UUID,
	ruleName string,
	amount int,
) (bool, error) {
	counter, ok := m.counters[m.key(ownerID, ruleName)]
	if !ok || !counter.windowEnd.After(m.now) {
		return false, nil
	}
	counter.count -= amount
	if counter.count < 0 {
		counter.count = 0
	}
	return true, nil
}

func (m *memoryLimitStore) WithTx(tx *sql.Tx) store.RateLimitStore {
	return m
}

func (m *memoryLimitStore) countFor(owner uuid.UUID, rule string) int {
	if counter, ok := m.counters[m.key(owner, rule)]; ok {
		return counter.count
	}
	return 0
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func testRules() []store.RuleSpec {
	return []store.RuleSpec{
		{Name: "generate_monthly", Limit: 10, Window: 30 * 24 * time.Hour},
		{Name: "generate_daily", Limit: 3, Window: 24 * time.Hour},
	}
}

func TestNewLimiterValidatesDependencies(t *testing.T) {
	t.Parallel()

	_, err := NewLimiter(nil, testLogger())
	assert.ErrorIs(t, err, ErrNilStore)

	_, err = NewLimiter(newMemoryLimitStore(), nil)
	assert.ErrorIs(t, err, ErrNilLogger)

	limiter, err := NewLimiter(newMemoryLimitStore(), testLogger())
	require.NoError(t, err)
	assert.NotNil(t, limiter)
}

func TestChargeAllowsWithinBudget(t *testing.T) {
	t.Parallel()

	memStore := newMemoryLimitStore()
	limiter, err := NewLimiter(memStore, testLogger())
	require.NoError(t, err)

	owner := uuid.New()
	result, charges, err := limiter.Charge(context.Background(), owner, testRules())
	require.NoError(t, err)

	assert.True(t, result.Allowed)
	// Remaining reflects the tightest rule in the batch.
	assert.Equal(t, 2, result.Remaining)
	assert.Len(t, charges, 2)
	assert.Equal(t, 1, memStore.countFor(owner, "generate_monthly"))
	assert.Equal(t, 1, memStore.countFor(owner, "generate_daily"))
}

func TestChargeDeniesWhenAnyRuleExceeded(t *testing.T) {
	t.Parallel()

	memStore := newMemoryLimitStore()
	limiter, err := NewLimiter(memStore, testLogger())
	require.NoError(t, err)

	owner := uuid.New()
	rules := testRules()

	// Exhaust the daily rule (limit 3).
	for i := 0; i < 3; i++ {
		result, _, err := limiter.Charge(context.Background(), owner, rules)
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}

	result, charges, err := limiter.Charge(context.Background(), owner, rules)
	require.NoError(t, err)

	assert.False(t, result.Allowed)
	assert.Equal(t, "generate_daily", result.DeniedRule)
	assert.Equal(t, 0, result.Remaining)
	assert.False(t, result.ResetAt.IsZero())

	// Both increments still happened and are both recorded for refund:
	// the request as a whole did not proceed, so the monthly charge must
	// be reversible too.
	assert.Len(t, charges, 2)
	assert.Equal(t, 4, memStore.countFor(owner, "generate_monthly"))
	assert.Equal(t, 4, memStore.countFor(owner, "generate_daily"))
}

func TestChargeReturnsPartialChargesOnStoreFailure(t *testing.T) {
	t.Parallel()

	memStore := newMemoryLimitStore()
	memStore.failRule = "generate_daily"
	limiter, err := NewLimiter(memStore, testLogger())
	require.NoError(t, err)

	owner := uuid.New()
	_, charges, err := limiter.Charge(context.Background(), owner, testRules())

	require.Error(t, err)
	// The first rule was charged before the failure; the caller can still
	// refund it.
	require.Len(t, charges, 1)
	assert.Equal(t, "generate_monthly", charges[0].RuleName)
}

func TestChargeRequiresRules(t *testing.T) {
	t.Parallel()

	limiter, err := NewLimiter(newMemoryLimitStore(), testLogger())
	require.NoError(t, err)

	_, _, err = limiter.Charge(context.Background(), uuid.New(), nil)
	assert.ErrorIs(t, err, ErrNoRules)
}

func TestRefundReversesExactCharges(t *testing.T) {
	t.Parallel()

	memStore := newMemoryLimitStore()
	limiter, err := NewLimiter(memStore, testLogger())
	require.NoError(t, err)

	owner := uuid.New()
	_, charges, err := limiter.Charge(context.Background(), owner, testRules())
	require.NoError(t, err)

	require.NoError(t, limiter.Refund(context.Background(), charges))

	// Net zero: a refunded submission leaves the counters exactly where
	// they started.
	assert.Equal(t, 0, memStore.countFor(owner, "generate_monthly"))
	assert.Equal(t, 0, memStore.countFor(owner, "generate_daily"))
}

func TestRefundToleratesExpiredWindows(t *testing.T) {
	t.Parallel()

	memStore := newMemoryLimitStore()
	limiter, err := NewLimiter(memStore, testLogger())
	require.NoError(t, err)

	owner := uuid.New()
	_, charges, err := limiter.Charge(context.Background(), owner, testRules())
	require.NoError(t, err)

	// Expire every window, then refund: nothing to undo, no error.
	memStore.now = memStore.now.Add(31 * 24 * time.Hour)
	assert.NoError(t, limiter.Refund(context.Background(), charges))
}
