package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/studioforge/forge-api/internal/domain"
)

// TaskStore defines the interface for task persistence.
// Implementations must provide the atomic conditional operations below
// without requiring the caller to hold an external lock; the claim
// transition is the single synchronization point that prevents two
// workers from double-processing the same delivered message.
// Version: 1.0
type TaskStore interface {
	// Create saves a new task to the store in pending status.
	// Returns validation errors from the domain Task if data is invalid.
	Create(ctx context.Context, ownerID uuid.UUID, kind domain.TaskKind, payload json.RawMessage) (*domain.Task, error)

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// FindActiveForOwner returns the owner's task currently in pending or
	// processing status, or ErrTaskNotFound if the owner has no active task.
	// The read reflects the latest committed state.
	FindActiveForOwner(ctx context.Context, ownerID uuid.UUID) (*domain.Task, error)

	// ClaimIfPending atomically transitions the task from pending to
	// processing and returns it, but only if it was pending immediately
	// beforehand. Returns ErrTaskNotClaimable if the task was already
	// claimed, already terminal, or unknown.
	ClaimIfPending(ctx context.Context, taskID uuid.UUID, ownerID uuid.UUID) (*domain.Task, error)

	// Complete transitions the task from processing to completed and
	// records the artifact reference. Retrying the same terminal write
	// is a no-op, not an error.
	Complete(ctx context.Context, taskID uuid.UUID, resultRef string) error

	// Fail transitions the task to failed and records the error message.
	// Idempotent in the same way as Complete: a task already in a
	// terminal state is left untouched.
	Fail(ctx context.Context, taskID uuid.UUID, errorMessage string) error

	// SweepStale returns tasks in the given status whose updated_at
	// predates the cutoff. Used by the reaper.
	SweepStale(ctx context.Context, status domain.TaskStatus, olderThan time.Duration) ([]*domain.Task, error)

	// WithTx returns a new TaskStore instance that uses the provided transaction.
	// The transaction should be created and managed by the caller.
	WithTx(tx *sql.Tx) TaskStore
}
