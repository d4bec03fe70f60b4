// Package admission implements the synchronous gate that decides whether a
// submission becomes a task: rate-limit charging, the single-active-task
// check, task creation, and dispatch. Every path that does not end with a
// created task refunds exactly the charges it made.
package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/studioforge/forge-api/internal/dispatch"
	"github.com/studioforge/forge-api/internal/domain"
	"github.com/studioforge/forge-api/internal/ratelimit"
	"github.com/studioforge/forge-api/internal/store"
)

// Dependency validation errors
var (
	ErrNilTaskStore = errors.New("task store cannot be nil")
	ErrNilLimiter   = errors.New("limiter cannot be nil")
	ErrNilRules     = errors.New("rule set cannot be nil")
	ErrNilPublisher = errors.New("publisher cannot be nil")
	ErrNilLogger    = errors.New("logger cannot be nil")
)

// Limiter is the rate-limit contract the admission service depends on.
type Limiter interface {
	Charge(ctx context.Context, ownerID uuid.UUID, rules []store.RuleSpec) (ratelimit.Result, ratelimit.ChargeSet, error)
	Refund(ctx context.Context, charges ratelimit.ChargeSet) error
}

// Publisher enqueues dispatch messages onto the broker.
type Publisher interface {
	PublishTask(subject string, msg dispatch.Message) error
}

// Service coordinates task admission.
type Service struct {
	tasks       store.TaskStore
	limiter     Limiter
	rules       *ratelimit.RuleSet
	publisher   Publisher
	taskSubject string
	logger      *slog.Logger
}

// NewService creates a new admission Service.
// It returns an error if any of the required dependencies are nil.
func NewService(
	tasks store.TaskStore,
	limiter Limiter,
	rules *ratelimit.RuleSet,
	publisher Publisher,
	taskSubject string,
	logger *slog.Logger,
) (*Service, error) {
	if tasks == nil {
		return nil, ErrNilTaskStore
	}
	if limiter == nil {
		return nil, ErrNilLimiter
	}
	if rules == nil {
		return nil, ErrNilRules
	}
	if publisher == nil {
		return nil, ErrNilPublisher
	}
	if logger == nil {
		return nil, ErrNilLogger
	}

	return &Service{
		tasks:       tasks,
		limiter:     limiter,
		rules:       rules,
		publisher:   publisher,
		taskSubject: taskSubject,
		logger:      logger.With("component", "admission"),
	}, nil
}

// Submit admits a new task for the owner or rejects the request.
//
// The quota is charged before the active-task check so that a single code
// path always pays first and refunds on any non-proceeding outcome. Two
// near-simultaneous submissions from the same owner can still both pass the
// active-task check before either creates its task; that residual race is
// accepted and bounded by keeping the check-then-create window short.
//
// Returns the created task, or ErrQuotaExceeded / ErrActiveTaskExists /
// ErrInvalidPayload as user-visible rejections. Any other error is a
// retryable system failure.
func (s *Service) Submit(
	ctx context.Context,
	ownerID uuid.UUID,
	kind domain.TaskKind,
	payload json.RawMessage,
) (*domain.Task, error) {
	log := s.logger.With("owner_id", ownerID, "kind", kind)

	// Validate the payload union before anything is charged: a malformed
	// request never costs quota.
	if _, err := domain.ParsePayload(kind, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	result, charges, err := s.limiter.Charge(ctx, ownerID, s.rules.ForKind(kind))
	if err != nil {
		// Partial charges from a mid-batch store failure are still refunded.
		s.refund(ctx, charges, "store failure during charge")
		return nil, fmt.Errorf("failed to evaluate rate limits: %w", err)
	}

	if !result.Allowed {
		// The denied request does not proceed, so every rule incremented
		// in this batch is refunded, including the ones that individually
		// allowed it.
		s.refund(ctx, charges, "quota exceeded")
		log.Info("submission rejected, quota exceeded",
			"rule", result.DeniedRule,
			"reset_at", result.ResetAt)
		return nil, &QuotaExceededError{Rule: result.DeniedRule, ResetAt: result.ResetAt}
	}

	existing, err := s.tasks.FindActiveForOwner(ctx, ownerID)
	if err != nil && !errors.Is(err, store.ErrTaskNotFound) {
		s.refund(ctx, charges, "store failure during active-task check")
		return nil, fmt.Errorf("failed to check for active task: %w", err)
	}
	if existing != nil {
		s.refund(ctx, charges, "active task conflict")
		log.Info("submission rejected, active task exists",
			"existing_task_id", existing.ID,
			"existing_status", existing.Status)
		return nil, &ActiveTaskError{Existing: existing}
	}

	task, err := s.tasks.Create(ctx, ownerID, kind, payload)
	if err != nil {
		s.refund(ctx, charges, "task creation failed")
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	if err := s.publisher.PublishTask(s.taskSubject, dispatch.NewMessage(task)); err != nil {
		// The task exists but no worker will ever see it. Fail it now so the
		// owner's slot frees immediately instead of waiting for the reaper,
		// and give the quota back since nothing was processed.
		log.Error("failed to publish dispatch message, failing task",
			"task_id", task.ID,
			"error", err)
		if failErr := s.tasks.Fail(ctx, task.ID, "dispatch failed: task was never queued"); failErr != nil {
			log.Error("failed to fail undispatched task, reaper will collect it",
				"task_id", task.ID,
				"error", failErr)
		}
		s.refund(ctx, charges, "dispatch failed")
		return nil, fmt.Errorf("failed to dispatch task: %w", err)
	}

	log.Info("task admitted",
		"task_id", task.ID,
		"remaining_quota", result.Remaining)
	return task, nil
}

// GetTask returns the owner's task by ID. Tasks belonging to other owners
// are reported as not found rather than forbidden.
func (s *Service) GetTask(ctx context.Context, ownerID uuid.UUID, taskID uuid.UUID) (*domain.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if task.OwnerID != ownerID {
		return nil, store.ErrTaskNotFound
	}

	return task, nil
}

// refund reverses charges on a non-proceeding path. Refund failures are
// logged, not propagated: the user-visible outcome of the request is already
// decided, and a stuck counter self-corrects when its window expires.
func (s *Service) refund(ctx context.Context, charges ratelimit.ChargeSet, reason string) {
	if len(charges) == 0 {
		return
	}
	if err := s.limiter.Refund(ctx, charges); err != nil {
		s.logger.Error("failed to refund charges",
			"reason", reason,
			"charge_count", len(charges),
			"error", err)
	}
}
