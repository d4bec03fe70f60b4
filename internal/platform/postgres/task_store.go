package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/studioforge/forge-api/internal/domain"
	"github.com/studioforge/forge-api/internal/platform/logger"
	"github.com/studioforge/forge-api/internal/store"
)

// maxErrorMessageLen bounds the error text persisted on failed tasks.
// Pipeline errors can embed very long upstream responses.
const maxErrorMessageLen = 500

// taskColumns is the column list shared by every task SELECT/RETURNING.
const taskColumns = "id, owner_id, kind, status, payload, result_ref, error_message, created_at, updated_at"

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL
type PostgresTaskStore struct {
	db store.DBTX
}

// Verify PostgresTaskStore implements store.TaskStore
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// NewPostgresTaskStore creates a new PostgresTaskStore
func NewPostgresTaskStore(db store.DBTX) *PostgresTaskStore {
	return &PostgresTaskStore{
		db: db,
	}
}

// WithTx returns a new TaskStore instance backed by the provided transaction.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{db: tx}
}

// Create persists a new task in pending status.
func (s *PostgresTaskStore) Create(
	ctx context.Context,
	ownerID uuid.UUID,
	kind domain.TaskKind,
	payload json.RawMessage,
) (*domain.Task, error) {
	log := logger.FromContext(ctx)

	task, err := domain.NewTask(ownerID, kind, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO tasks (id, owner_id, kind, status, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = s.db.ExecContext(ctx, query,
		task.ID,
		task.OwnerID,
		task.Kind,
		task.Status,
		[]byte(task.Payload),
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to save task",
			"task_id", task.ID,
			"task_kind", task.Kind,
			"error", err)
		return nil, MapError(err)
	}

	return task, nil
}

// GetByID retrieves a task by its unique ID.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, store.ErrTaskNotFound
		}
		return nil, MapError(err)
	}

	return task, nil
}

// FindActiveForOwner returns the owner's pending or processing task, if any.
// The newest active task wins when the accepted double-submit race has let
// more than one slip through.
func (s *PostgresTaskStore) FindActiveForOwner(
	ctx context.Context,
	ownerID uuid.UUID,
) (*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE owner_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1
	`

	task, err := scanTask(s.db.QueryRowContext(ctx, query,
		ownerID, domain.TaskStatusPending, domain.TaskStatusProcessing))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, store.ErrTaskNotFound
		}
		return nil, MapError(err)
	}

	return task, nil
}

// ClaimIfPending atomically transitions the task from pending to processing.
// The single conditional UPDATE is the synchronization point: among however
// many workers receive a message for this task, exactly one sees a row come
// back. Everyone else gets store.ErrTaskNotClaimable.
func (s *PostgresTaskStore) ClaimIfPending(
	ctx context.Context,
	taskID uuid.UUID,
	ownerID uuid.UUID,
) (*domain.Task, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE tasks
		SET status = $1, updated_at = $2
		WHERE id = $3 AND owner_id = $4 AND status = $5
		RETURNING ` + taskColumns + `
	`

	now := time.Now().UTC()

	task, err := scanTask(s.db.QueryRowContext(ctx, query,
		domain.TaskStatusProcessing, now, taskID, ownerID, domain.TaskStatusPending))
	if err != nil {
		if IsNotFoundError(err) {
			log.Debug("task not claimable",
				"task_id", taskID,
				"owner_id", ownerID)
			return nil, store.ErrTaskNotClaimable
		}
		log.Error("failed to claim task",
			"task_id", taskID,
			"error", err)
		return nil, MapError(err)
	}

	return task, nil
}

// Complete transitions the task from processing to completed and records the
// artifact reference. Re-completing an already terminal task is a no-op so
// that broker redelivery after a crash between the terminal write and the
// acknowledgement stays safe.
func (s *PostgresTaskStore) Complete(ctx context.Context, taskID uuid.UUID, resultRef string) error {
	return s.finish(ctx, taskID, domain.TaskStatusCompleted, resultRef, "")
}

// Fail transitions the task to failed and records the error message,
// truncated to a bounded length. Tasks may be failed from either pending
// (reaper: never claimed) or processing (pipeline failure, worker death).
// Idempotent in the same way as Complete.
func (s *PostgresTaskStore) Fail(ctx context.Context, taskID uuid.UUID, errorMessage string) error {
	return s.finish(ctx, taskID, domain.TaskStatusFailed, "", truncate(errorMessage, maxErrorMessageLen))
}

// finish performs the terminal transition shared by Complete and Fail.
func (s *PostgresTaskStore) finish(
	ctx context.Context,
	taskID uuid.UUID,
	status domain.TaskStatus,
	resultRef string,
	errorMessage string,
) error {
	log := logger.FromContext(ctx)

	// Completed requires a prior claim; failed may also come straight from
	// pending via the reaper.
	var query string
	if status == domain.TaskStatusCompleted {
		query = `
			UPDATE tasks
			SET status = $1, result_ref = $2, error_message = $3, updated_at = $4
			WHERE id = $5 AND status = '` + string(domain.TaskStatusProcessing) + `'
		`
	} else {
		query = `
			UPDATE tasks
			SET status = $1, result_ref = $2, error_message = $3, updated_at = $4
			WHERE id = $5 AND status IN ('` + string(domain.TaskStatusPending) + `', '` + string(domain.TaskStatusProcessing) + `')
		`
	}

	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx, query,
		status,
		nullIfEmpty(resultRef),
		nullIfEmpty(errorMessage),
		now,
		taskID,
	)
	if err != nil {
		log.Error("failed to update task to terminal status",
			"task_id", taskID,
			"status", status,
			"error", err)
		return MapError(err)
	}

	if err := CheckRowsAffected(result, "task"); err != nil {
		// The conditional update matched nothing: either the task does not
		// exist, or it is already terminal. A repeated terminal write is a
		// no-op by contract, so look at the current state to tell them apart.
		current, getErr := s.GetByID(ctx, taskID)
		if getErr != nil {
			return getErr
		}
		if current.IsTerminal() {
			log.Debug("terminal write was a no-op, task already terminal",
				"task_id", taskID,
				"current_status", current.Status,
				"requested_status", status)
			return nil
		}
		return fmt.Errorf("%w: task %s is %s, cannot transition to %s",
			store.ErrUpdateFailed, taskID, current.Status, status)
	}

	return nil
}

// SweepStale returns tasks in the given status whose updated_at predates the
// cutoff. The reaper uses updated_at rather than created_at so that a task's
// claim refreshes its deadline.
func (s *PostgresTaskStore) SweepStale(
	ctx context.Context,
	status domain.TaskStatus,
	olderThan time.Duration,
) ([]*domain.Task, error) {
	log := logger.FromContext(ctx)

	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = $1 AND updated_at < $2
		ORDER BY created_at ASC
	`

	cutoff := time.Now().UTC().Add(-olderThan)

	rows, err := s.db.QueryContext(ctx, query, status, cutoff)
	if err != nil {
		log.Error("failed to query stale tasks",
			"status", status,
			"error", err)
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			log.Error("failed to scan stale task row",
				"status", status,
				"error", err)
			return nil, MapError(err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		log.Error("error iterating stale task rows",
			"status", status,
			"error", err)
		return nil, MapError(err)
	}

	return tasks, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads one task row in taskColumns order.
func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task         domain.Task
		payload      []byte
		resultRef    sql.NullString
		errorMessage sql.NullString
	)

	err := row.Scan(
		&task.ID,
		&task.OwnerID,
		&task.Kind,
		&task.Status,
		&payload,
		&resultRef,
		&errorMessage,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Payload = json.RawMessage(payload)
	task.ResultRef = resultRef.String
	task.ErrorMessage = errorMessage.String

	return &task, nil
}

// nullIfEmpty converts an empty string to a SQL NULL.
func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// truncate limits s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
