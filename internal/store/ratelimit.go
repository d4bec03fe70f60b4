package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// RuleSpec describes a single admission rule: how many requests the rule
// allows per rolling window. The window starts at the first increment
// and expires Window later.
type RuleSpec struct {
	// Name identifies the rule, e.g. "generate_daily".
	Name string

	// Limit is the maximum count allowed within one window.
	Limit int

	// Window is the length of the rolling window.
	Window time.Duration
}

// Decision is the result of a rate-limit check.
type Decision struct {
	// Allowed is false if the post-increment count exceeds the rule's limit.
	Allowed bool

	// Remaining is the number of requests left in the current window,
	// clamped at zero.
	Remaining int

	// ResetAt is when the current window expires and the count resets.
	ResetAt time.Time
}

// RateLimitStore defines the interface for per-user, per-rule windowed
// counters. Counters are non-negative integers keyed by (owner, rule);
// each expires automatically at the end of its window.
// Version: 1.0
type RateLimitStore interface {
	// CheckAndIncrement increments the counter for (ownerID, rule.Name)
	// and evaluates it against the rule's limit. The increment happens
	// unconditionally as part of the check, so that a later refund has
	// something concrete to undo even when the check itself fails.
	CheckAndIncrement(ctx context.Context, ownerID uuid.UUID, rule RuleSpec) (Decision, error)

	// Decrement reverses a prior increment, clamping the counter at zero.
	// Returns whether a live counter existed to decrement; an already
	// expired window is a success no-op, not an error, since there is
	// nothing left to refund.
	Decrement(ctx context.Context, ownerID uuid.UUID, ruleName string, amount int) (bool, error)

	// WithTx returns a new RateLimitStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) RateLimitStore
}
