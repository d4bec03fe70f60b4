package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/studioforge/forge-api/internal/domain"
)

// Message validation errors
var (
	ErrMissingTaskID  = errors.New("dispatch message missing task_id")
	ErrMissingOwnerID = errors.New("dispatch message missing owner_id")
	ErrMissingKind    = errors.New("dispatch message missing kind")
)

// Message is the small broker-delivered pointer that triggers a worker
// invocation for a task. The payload is denormalized so a worker can skip a
// re-read, but the task store remains the source of truth; a message that
// disagrees with the store loses.
type Message struct {
	TaskID  uuid.UUID       `json:"task_id"`
	OwnerID uuid.UUID       `json:"owner_id"`
	Kind    domain.TaskKind `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage builds a dispatch message for the given task.
func NewMessage(task *domain.Task) Message {
	return Message{
		TaskID:  task.ID,
		OwnerID: task.OwnerID,
		Kind:    task.Kind,
		Payload: task.Payload,
	}
}

// Validate checks that the message carries the fields a worker needs.
// Malformed messages are failed without crashing the consumer.
func (m *Message) Validate() error {
	if m.TaskID == uuid.Nil {
		return ErrMissingTaskID
	}
	if m.OwnerID == uuid.Nil {
		return ErrMissingOwnerID
	}
	if m.Kind == "" {
		return ErrMissingKind
	}
	return nil
}

// Decode parses a raw broker payload into a Message and validates it.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode dispatch message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}
