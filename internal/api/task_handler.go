package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/studioforge/forge-api/internal/admission"
	"github.com/studioforge/forge-api/internal/api/shared"
	"github.com/studioforge/forge-api/internal/domain"
	"github.com/studioforge/forge-api/internal/store"
)

// SubmitTaskRequest is the request body for submitting a new task.
type SubmitTaskRequest struct {
	Kind    string          `json:"kind"    validate:"required,oneof=generation refinement"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// TaskResponse is the representation of a task returned by the API.
type TaskResponse struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	ResultRef    string    `json:"result_ref,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ConflictResponse is returned when the owner already has an active task.
type ConflictResponse struct {
	Error        string       `json:"error"`
	ExistingTask TaskResponse `json:"existing_task"`
	TraceID      string       `json:"trace_id,omitempty"`
}

// QuotaResponse is returned when an admission rule denies the submission.
type QuotaResponse struct {
	Error   string    `json:"error"`
	Rule    string    `json:"rule"`
	ResetAt time.Time `json:"reset_at"`
	TraceID string    `json:"trace_id,omitempty"`
}

// TaskHandler handles task submission and retrieval requests.
type TaskHandler struct {
	admissionService *admission.Service
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(admissionService *admission.Service) *TaskHandler {
	return &TaskHandler{admissionService: admissionService}
}

// SubmitTask handles POST /api/tasks requests.
//
// Accepted submissions return 202 with the pending task: completion is
// observed by polling GetTask, never synchronously.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := r.Context().Value(shared.OwnerIDContextKey).(uuid.UUID)
	if !ok || ownerID == uuid.Nil {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found or invalid")
		return
	}

	var req SubmitTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request: kind must be generation or refinement and payload is required")
		return
	}

	task, err := h.admissionService.Submit(r.Context(), ownerID, domain.TaskKind(req.Kind), req.Payload)
	if err != nil {
		h.respondSubmitError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, toTaskResponse(task))
}

// respondSubmitError maps admission rejections onto status codes.
func (h *TaskHandler) respondSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	var quotaErr *admission.QuotaExceededError
	if errors.As(err, &quotaErr) {
		shared.RespondWithJSON(w, r, http.StatusTooManyRequests, QuotaResponse{
			Error:   "Quota exceeded",
			Rule:    quotaErr.Rule,
			ResetAt: quotaErr.ResetAt,
			TraceID: shared.GetTraceID(r.Context()),
		})
		return
	}

	var activeErr *admission.ActiveTaskError
	if errors.As(err, &activeErr) {
		shared.RespondWithJSON(w, r, http.StatusConflict, ConflictResponse{
			Error:        "An active task already exists",
			ExistingTask: toTaskResponse(activeErr.Existing),
			TraceID:      shared.GetTraceID(r.Context()),
		})
		return
	}

	if errors.Is(err, admission.ErrInvalidPayload) {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task payload")
		return
	}

	shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
		"Failed to submit task", err)
}

// GetTask handles GET /api/tasks/{id} requests.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := r.Context().Value(shared.OwnerIDContextKey).(uuid.UUID)
	if !ok || ownerID == uuid.Nil {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found or invalid")
		return
	}

	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	task, err := h.admissionService.GetTask(r.Context(), ownerID, taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			// Another owner's task is indistinguishable from a missing one.
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to retrieve task", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, toTaskResponse(task))
}

// toTaskResponse converts a domain task to its API representation.
func toTaskResponse(task *domain.Task) TaskResponse {
	return TaskResponse{
		ID:           task.ID.String(),
		Kind:         string(task.Kind),
		Status:       string(task.Status),
		ResultRef:    task.ResultRef,
		ErrorMessage: task.ErrorMessage,
		CreatedAt:    task.CreatedAt,
		UpdatedAt:    task.UpdatedAt,
	}
}
