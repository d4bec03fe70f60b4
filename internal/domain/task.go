package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the processing state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// TaskKind identifies which job pipeline a task runs
type TaskKind string

// Supported task kinds
const (
	TaskKindGeneration TaskKind = "generation"
	TaskKindRefinement TaskKind = "refinement"
)

// Common validation errors for Task
var (
	ErrEmptyTaskID      = errors.New("task ID cannot be empty")
	ErrEmptyTaskOwnerID = errors.New("task owner ID cannot be empty")
	ErrEmptyTaskPayload = errors.New("task payload cannot be empty")
	ErrInvalidTaskKind  = errors.New("invalid task kind")
	ErrInvalidTaskStatus = errors.New("invalid task status")
)

// Task represents a single long-running generation or refinement job
// submitted by a user. It tracks ownership, the kind-specific input
// payload, the processing state, and the terminal outcome.
type Task struct {
	ID           uuid.UUID       `json:"id"`
	OwnerID      uuid.UUID       `json:"owner_id"`
	Kind         TaskKind        `json:"kind"`
	Status       TaskStatus      `json:"status"`
	Payload      json.RawMessage `json:"payload"`
	ResultRef    string          `json:"result_ref,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewTask creates a new Task with the given owner, kind, and payload.
// It generates a new UUID for the task ID, sets the status to pending,
// and sets the creation/update timestamps.
// Returns an error if validation fails.
func NewTask(ownerID uuid.UUID, kind TaskKind, payload json.RawMessage) (*Task, error) {
	task := &Task{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Kind:      kind,
		Status:    TaskStatusPending,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.OwnerID == uuid.Nil {
		return ErrEmptyTaskOwnerID
	}

	if !isValidTaskKind(t.Kind) {
		return ErrInvalidTaskKind
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	if len(t.Payload) == 0 {
		return ErrEmptyTaskPayload
	}

	return nil
}

// IsTerminal reports whether the task has reached a final state.
// Completed and Failed tasks never transition again.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// IsActive reports whether the task still occupies the owner's
// single active-task slot.
func (t *Task) IsActive() bool {
	return t.Status == TaskStatusPending || t.Status == TaskStatusProcessing
}

// isValidTaskKind checks if the given kind is a supported TaskKind.
func isValidTaskKind(kind TaskKind) bool {
	switch kind {
	case TaskKindGeneration, TaskKindRefinement:
		return true
	default:
		return false
	}
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}
