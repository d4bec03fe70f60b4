package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/studioforge/forge-api/internal/platform/logger"
	"github.com/studioforge/forge-api/internal/store"
)

// PostgresRateLimitStore implements the store.RateLimitStore interface using
// PostgreSQL. Counters use rolling windows: the window starts at the first
// increment for an (owner, rule) key and expires the rule's window length
// later. An expired row is recycled in place by the next increment rather
// than deleted, so no background cleanup is required for correctness.
type PostgresRateLimitStore struct {
	db store.DBTX
}

// Verify PostgresRateLimitStore implements store.RateLimitStore
var _ store.RateLimitStore = (*PostgresRateLimitStore)(nil)

// NewPostgresRateLimitStore creates a new PostgresRateLimitStore
func NewPostgresRateLimitStore(db store.DBTX) *PostgresRateLimitStore {
	return &PostgresRateLimitStore{
		db: db,
	}
}

// WithTx returns a new RateLimitStore instance backed by the provided transaction.
func (s *PostgresRateLimitStore) WithTx(tx *sql.Tx) store.RateLimitStore {
	return &PostgresRateLimitStore{db: tx}
}

// CheckAndIncrement increments the counter for (ownerID, rule.Name) and
// evaluates it against the rule's limit. The increment happens
// unconditionally as part of the check: the cost is paid even to learn the
// budget is exhausted, so that a subsequent Decrement has a concrete charge
// to undo. The whole operation is a single upsert, so two concurrent checks
// for the same key serialize on the row and never lose an increment.
func (s *PostgresRateLimitStore) CheckAndIncrement(
	ctx context.Context,
	ownerID uuid.UUID,
	rule store.RuleSpec,
) (store.Decision, error) {
	log := logger.FromContext(ctx)

	// The conflict branch either bumps the live window's count or, when the
	// stored window has expired, starts a fresh window at count 1.
	query := `
		INSERT INTO rate_limits (owner_id, rule_name, count, window_start, window_end)
		VALUES ($1, $2, 1, $3, $4)
		ON CONFLICT (owner_id, rule_name) DO UPDATE
		SET count        = CASE WHEN rate_limits.window_end <= $3 THEN 1 ELSE rate_limits.count + 1 END,
		    window_start = CASE WHEN rate_limits.window_end <= $3 THEN $3 ELSE rate_limits.window_start END,
		    window_end   = CASE WHEN rate_limits.window_end <= $3 THEN $4 ELSE rate_limits.window_end END
		RETURNING count, window_end
	`

	now := time.Now().UTC()
	windowEnd := now.Add(rule.Window)

	var (
		count   int
		resetAt time.Time
	)
	err := s.db.QueryRowContext(ctx, query, ownerID, rule.Name, now, windowEnd).
		Scan(&count, &resetAt)
	if err != nil {
		log.Error("failed to increment rate-limit counter",
			"owner_id", ownerID,
			"rule", rule.Name,
			"error", err)
		return store.Decision{}, MapError(err)
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}

	decision := store.Decision{
		Allowed:   count <= rule.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}

	if !decision.Allowed {
		log.Debug("rate limit exceeded",
			"owner_id", ownerID,
			"rule", rule.Name,
			"count", count,
			"limit", rule.Limit,
			"reset_at", resetAt)
	}

	return decision, nil
}

// Decrement reverses a prior increment, clamping the counter at zero.
// A key whose window has already expired is treated as a success no-op:
// the charge it would refund no longer counts against anyone.
func (s *PostgresRateLimitStore) Decrement(
	ctx context.Context,
	ownerID uuid.UUID,
	ruleName string,
	amount int,
) (bool, error) {
	log := logger.FromContext(ctx)

	if amount <= 0 {
		return false, fmt.Errorf("%w: refund amount must be positive, got %d",
			store.ErrInvalidEntity, amount)
	}

	query := `
		UPDATE rate_limits
		SET count = GREATEST(count - $1, 0)
		WHERE owner_id = $2 AND rule_name = $3 AND window_end > $4
	`

	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx, query, amount, ownerID, ruleName, now)
	if err != nil {
		log.Error("failed to decrement rate-limit counter",
			"owner_id", ownerID,
			"rule", ruleName,
			"error", err)
		return false, MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Expired or never charged: nothing to refund.
		log.Debug("rate-limit refund found no live counter",
			"owner_id", ownerID,
			"rule", ruleName)
		return false, nil
	}

	return true, nil
}
