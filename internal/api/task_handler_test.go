package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studioforge/forge-api/internal/admission"
	"github.com/studioforge/forge-api/internal/api/shared"
	"github.com/studioforge/forge-api/internal/config"
	"github.com/studioforge/forge-api/internal/dispatch"
	"github.com/studioforge/forge-api/internal/domain"
	"github.com/studioforge/forge-api/internal/ratelimit"
	"github.com/studioforge/forge-api/internal/store"
)

// memTaskStore backs the admission service with in-memory task state.
type memTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
}

func (s *memTaskStore) Create(_ context.Context, ownerID uuid.UUID, kind domain.TaskKind, payload json.RawMessage) (*domain.Task, error) {
	task, err := domain.NewTask(ownerID, kind, payload)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return task, nil
}

func (s *memTaskStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[id]; ok {
		copied := *task
		return &copied, nil
	}
	return nil, store.ErrTaskNotFound
}

func (s *memTaskStore) FindActiveForOwner(_ context.Context, ownerID uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		if task.OwnerID == ownerID && task.IsActive() {
			copied := *task
			return &copied, nil
		}
	}
	return nil, store.ErrTaskNotFound
}

func (s *memTaskStore) ClaimIfPending(_ context.Context, id, ownerID uuid.UUID) (*domain.Task, error) {
	return nil, store.ErrTaskNotClaimable
}

func (s *memTaskStore) Complete(_ context.Context, id uuid.UUID, resultRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[id]; ok {
		task.Status = domain.TaskStatusCompleted
		task.ResultRef = resultRef
		return nil
	}
	return store.ErrTaskNotFound
}

func (s *memTaskStore) Fail(_ context.Context, id uuid.UUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[id]; ok {
		task.Status = domain.TaskStatusFailed
		task.ErrorMessage = message
		return nil
	}
	return store.ErrTaskNotFound
}

func (s *memTaskStore) SweepStale(context.Context, domain.TaskStatus, time.Duration) ([]*domain.Task, error) {
	return nil, nil
}

func (s *memTaskStore) WithTx(*sql.Tx) store.TaskStore { return s }

// scriptedLimiter returns a fixed decision for every charge.
type scriptedLimiter struct {
	result ratelimit.Result
}

func (l *scriptedLimiter) Charge(_ context.Context, ownerID uuid.UUID, rules []store.RuleSpec) (ratelimit.Result, ratelimit.ChargeSet, error) {
	charges := make(ratelimit.ChargeSet, 0, len(rules))
	for _, rule := range rules {
		charges = append(charges, ratelimit.Charge{OwnerID: ownerID, RuleName: rule.Name, Amount: 1})
	}
	return l.result, charges, nil
}

func (l *scriptedLimiter) Refund(context.Context, ratelimit.ChargeSet) error { return nil }

// nopPublisher accepts every publish.
type nopPublisher struct{ err error }

func (p *nopPublisher) PublishTask(string, dispatch.Message) error { return p.err }

func testRules() *ratelimit.RuleSet {
	return ratelimit.NewRuleSet(config.RateLimitConfig{
		GenerateMonthlyLimit: 100,
		GenerateDailyLimit:   10,
		RefineMonthlyLimit:   50,
		MonthlyWindow:        30 * 24 * time.Hour,
		DailyWindow:          24 * time.Hour,
	})
}

func newTestHandler(t *testing.T, limiter admission.Limiter, tasks store.TaskStore) *TaskHandler {
	t.Helper()
	svc, err := admission.NewService(
		tasks,
		limiter,
		testRules(),
		&nopPublisher{},
		"forge.tasks",
		slog.Default(),
	)
	require.NoError(t, err)
	return NewTaskHandler(svc)
}

func allowedLimiter() *scriptedLimiter {
	return &scriptedLimiter{result: ratelimit.Result{Allowed: true, Remaining: 9}}
}

// asOwner attaches an authenticated owner ID to the request context.
func asOwner(r *http.Request, ownerID uuid.UUID) *http.Request {
	ctx := context.WithValue(r.Context(), shared.OwnerIDContextKey, ownerID)
	return r.WithContext(ctx)
}

func submitBody(t *testing.T, kind string, payload any) *bytes.Buffer {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]json.RawMessage{
		"kind":    json.RawMessage(fmt.Sprintf("%q", kind)),
		"payload": raw,
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func validGenerationPayload() domain.GenerationPayload {
	return domain.GenerationPayload{Prompt: "a lighthouse at dusk", Width: 1024, Height: 1024}
}

func TestSubmitTask_Accepted(t *testing.T) {
	handler := newTestHandler(t, allowedLimiter(), newMemTaskStore())
	ownerID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", submitBody(t, "generation", validGenerationPayload()))
	rec := httptest.NewRecorder()
	handler.SubmitTask(rec, asOwner(req, ownerID))

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp TaskResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "generation", resp.Kind)
	assert.Equal(t, "pending", resp.Status)
	assert.NotEmpty(t, resp.ID)
}

func TestSubmitTask_MissingOwner(t *testing.T) {
	handler := newTestHandler(t, allowedLimiter(), newMemTaskStore())

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", submitBody(t, "generation", validGenerationPayload()))
	rec := httptest.NewRecorder()
	handler.SubmitTask(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitTask_MalformedBody(t *testing.T) {
	handler := newTestHandler(t, allowedLimiter(), newMemTaskStore())

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	handler.SubmitTask(rec, asOwner(req, uuid.New()))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitTask_UnknownKind(t *testing.T) {
	handler := newTestHandler(t, allowedLimiter(), newMemTaskStore())

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", submitBody(t, "sculpture", validGenerationPayload()))
	rec := httptest.NewRecorder()
	handler.SubmitTask(rec, asOwner(req, uuid.New()))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitTask_InvalidPayload(t *testing.T) {
	handler := newTestHandler(t, allowedLimiter(), newMemTaskStore())

	req := httptest.NewRequest(http.MethodPost, "/api/tasks",
		submitBody(t, "generation", domain.GenerationPayload{Prompt: "", Width: 1024, Height: 1024}))
	rec := httptest.NewRecorder()
	handler.SubmitTask(rec, asOwner(req, uuid.New()))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitTask_QuotaExceeded(t *testing.T) {
	resetAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	limiter := &scriptedLimiter{result: ratelimit.Result{
		Allowed:    false,
		DeniedRule: ratelimit.RuleGenerateDaily,
		ResetAt:    resetAt,
	}}
	handler := newTestHandler(t, limiter, newMemTaskStore())

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", submitBody(t, "generation", validGenerationPayload()))
	rec := httptest.NewRecorder()
	handler.SubmitTask(rec, asOwner(req, uuid.New()))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var resp QuotaResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, ratelimit.RuleGenerateDaily, resp.Rule)
	assert.True(t, resp.ResetAt.Equal(resetAt))
}

func TestSubmitTask_ActiveTaskConflict(t *testing.T) {
	tasks := newMemTaskStore()
	handler := newTestHandler(t, allowedLimiter(), tasks)
	ownerID := uuid.New()

	payload, err := json.Marshal(validGenerationPayload())
	require.NoError(t, err)
	existing, err := tasks.Create(context.Background(), ownerID, domain.TaskKindGeneration, payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", submitBody(t, "generation", validGenerationPayload()))
	rec := httptest.NewRecorder()
	handler.SubmitTask(rec, asOwner(req, ownerID))

	require.Equal(t, http.StatusConflict, rec.Code)

	var resp ConflictResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, existing.ID.String(), resp.ExistingTask.ID)
}

// getTaskRequest routes a GET through chi so URLParam resolves.
func getTaskRequest(handler *TaskHandler, ownerID uuid.UUID, taskID string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Get("/api/tasks/{id}", handler.GetTask)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/"+taskID, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, asOwner(req, ownerID))
	return rec
}

func TestGetTask_Found(t *testing.T) {
	tasks := newMemTaskStore()
	handler := newTestHandler(t, allowedLimiter(), tasks)
	ownerID := uuid.New()

	payload, err := json.Marshal(validGenerationPayload())
	require.NoError(t, err)
	task, err := tasks.Create(context.Background(), ownerID, domain.TaskKindGeneration, payload)
	require.NoError(t, err)
	require.NoError(t, tasks.Complete(context.Background(), task.ID, "s3://forge-artifacts/manifest.json"))

	rec := getTaskRequest(handler, ownerID, task.ID.String())
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TaskResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "s3://forge-artifacts/manifest.json", resp.ResultRef)
}

func TestGetTask_OtherOwnerLooksMissing(t *testing.T) {
	tasks := newMemTaskStore()
	handler := newTestHandler(t, allowedLimiter(), tasks)

	payload, err := json.Marshal(validGenerationPayload())
	require.NoError(t, err)
	task, err := tasks.Create(context.Background(), uuid.New(), domain.TaskKindGeneration, payload)
	require.NoError(t, err)

	rec := getTaskRequest(handler, uuid.New(), task.ID.String())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTask_InvalidID(t *testing.T) {
	handler := newTestHandler(t, allowedLimiter(), newMemTaskStore())

	rec := getTaskRequest(handler, uuid.New(), "not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTask_NotFound(t *testing.T) {
	handler := newTestHandler(t, allowedLimiter(), newMemTaskStore())

	rec := getTaskRequest(handler, uuid.New(), uuid.New().String())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
