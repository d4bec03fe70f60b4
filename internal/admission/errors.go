package admission

import (
	"errors"
	"fmt"
	"time"

	"github.com/studioforge/forge-api/internal/domain"
)

// Sentinel errors for admission outcomes. Both are user-visible rejections,
// not system faults; each is raised only after every charge made for the
// request has been refunded.
var (
	// ErrQuotaExceeded indicates that at least one rate-limit rule denied
	// the submission.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrActiveTaskExists indicates the owner already has a task in flight.
	ErrActiveTaskExists = errors.New("an active task already exists for this owner")

	// ErrInvalidPayload indicates the submission payload failed validation
	// for its kind.
	ErrInvalidPayload = errors.New("invalid task payload")
)

// QuotaExceededError carries the denying rule and its reset time so the API
// layer can surface retry metadata.
type QuotaExceededError struct {
	Rule    string
	ResetAt time.Time
}

// Error implements the error interface for QuotaExceededError.
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for rule %q, resets at %s", e.Rule, e.ResetAt.Format(time.RFC3339))
}

// Unwrap supports errors.Is(err, ErrQuotaExceeded).
func (e *QuotaExceededError) Unwrap() error {
	return ErrQuotaExceeded
}

// ActiveTaskError carries the owner's existing active task so the API layer
// can reference it in the conflict response.
type ActiveTaskError struct {
	Existing *domain.Task
}

// Error implements the error interface for ActiveTaskError.
func (e *ActiveTaskError) Error() string {
	return fmt.Sprintf("owner already has active task %s in status %s",
		e.Existing.ID, e.Existing.Status)
}

// Unwrap supports errors.Is(err, ErrActiveTaskExists).
func (e *ActiveTaskError) Unwrap() error {
	return ErrActiveTaskExists
}
