package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/studioforge/forge-api/internal/store"
)

// Common errors returned by the Limiter
var (
	ErrNilStore  = errors.New("rate-limit store cannot be nil")
	ErrNilLogger = errors.New("logger cannot be nil")
	ErrNoRules   = errors.New("at least one rule is required")
)

// Charge records one increment actually applied to a counter. A slice of
// these is the precise, replayable record of what a refund must undo.
type Charge struct {
	OwnerID  uuid.UUID
	RuleName string
	Amount   int
}

// ChargeSet is the exact set of (owner, rule, amount) tuples incremented for
// one admission request. Only increments that actually happened are recorded,
// never merely attempted ones.
type ChargeSet []Charge

// Result is the outcome of charging a batch of rules.
type Result struct {
	// Allowed is true only if every rule in the batch allowed the request.
	Allowed bool

	// DeniedRule names the first rule that denied the request, if any.
	DeniedRule string

	// Remaining is the smallest per-rule remaining budget across the batch.
	Remaining int

	// ResetAt is the reset time of the denying rule when denied, otherwise
	// the earliest reset across the batch.
	ResetAt time.Time
}

// Limiter evaluates batches of admission rules against the counter store and
// provides the single reusable refund primitive every rejection path uses.
type Limiter struct {
	store  store.RateLimitStore
	logger *slog.Logger
}

// NewLimiter creates a new Limiter.
// It returns an error if any of the required dependencies are nil.
func NewLimiter(limitStore store.RateLimitStore, logger *slog.Logger) (*Limiter, error) {
	if limitStore == nil {
		return nil, ErrNilStore
	}
	if logger == nil {
		return nil, ErrNilLogger
	}

	return &Limiter{
		store:  limitStore,
		logger: logger.With("component", "rate_limiter"),
	}, nil
}

// Charge evaluates and increments every rule in the batch for the owner.
// Evaluation continues through the whole batch even after a denial so that
// each counter reflects the attempt, and the returned ChargeSet records
// exactly which increments were applied. The caller decides whether the
// request proceeds; if it does not, passing the ChargeSet to Refund undoes
// every increment precisely.
//
// A store failure mid-batch returns the partial ChargeSet along with the
// error so the caller can still refund what was already applied.
func (l *Limiter) Charge(
	ctx context.Context,
	ownerID uuid.UUID,
	rules []store.RuleSpec,
) (Result, ChargeSet, error) {
	if len(rules) == 0 {
		return Result{}, nil, ErrNoRules
	}

	result := Result{Allowed: true, Remaining: -1}
	charges := make(ChargeSet, 0, len(rules))

	for _, rule := range rules {
		decision, err := l.store.CheckAndIncrement(ctx, ownerID, rule)
		if err != nil {
			return result, charges, fmt.Errorf(
				"failed to charge rule %q: %w", rule.Name, err)
		}

		// The increment was applied regardless of the decision.
		charges = append(charges, Charge{
			OwnerID:  ownerID,
			RuleName: rule.Name,
			Amount:   1,
		})

		if !decision.Allowed {
			if result.Allowed {
				result.Allowed = false
				result.DeniedRule = rule.Name
				result.ResetAt = decision.ResetAt
				result.Remaining = 0
			}
			continue
		}

		if result.Allowed {
			if result.Remaining < 0 || decision.Remaining < result.Remaining {
				result.Remaining = decision.Remaining
			}
			if result.ResetAt.IsZero() || decision.ResetAt.Before(result.ResetAt) {
				result.ResetAt = decision.ResetAt
			}
		}
	}

	if result.Remaining < 0 {
		result.Remaining = 0
	}

	return result, charges, nil
}

// Refund reverses every charge in the set, best effort. An expired or
// missing counter is a success no-op. Individual failures are logged and do
// not stop the rest of the set from being refunded; the first error is
// returned once all charges have been attempted.
func (l *Limiter) Refund(ctx context.Context, charges ChargeSet) error {
	var firstErr error

	for _, charge := range charges {
		refunded, err := l.store.Decrement(ctx, charge.OwnerID, charge.RuleName, charge.Amount)
		if err != nil {
			l.logger.Error("failed to refund rate-limit charge",
				"owner_id", charge.OwnerID,
				"rule", charge.RuleName,
				"amount", charge.Amount,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if !refunded {
			l.logger.Debug("refund was a no-op, counter expired or missing",
				"owner_id", charge.OwnerID,
				"rule", charge.RuleName)
		}
	}

	return firstErr
}
