// Package reaper periodically fails tasks that have been stuck in a
// non-terminal status for too long. It is the time-based safety net behind
// the worker's crash window: a claimed task whose worker died, or a
// dispatched task whose message was lost, eventually becomes failed instead
// of blocking its owner's one-active-task slot forever.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/studioforge/forge-api/internal/config"
	"github.com/studioforge/forge-api/internal/domain"
	"github.com/studioforge/forge-api/internal/store"
)

// Failure messages recorded on reaped tasks. Distinguishable per timeout
// so an operator can tell a lost dispatch from a dead worker.
const (
	pendingTimeoutMessage    = "timed out waiting for a worker"
	processingTimeoutMessage = "processing timed out"
)

// sweepTimeout bounds one sweep run against a slow database.
const sweepTimeout = time.Minute

// Dependency validation errors
var (
	ErrNilTaskStore = errors.New("task store cannot be nil")
	ErrNilLogger    = errors.New("logger cannot be nil")
)

// Reaper sweeps stale tasks on a cron schedule.
type Reaper struct {
	tasks         store.TaskStore
	logger        *slog.Logger
	cron          *cron.Cron
	schedule      string
	pendingAge    time.Duration
	processingAge time.Duration
}

// New creates a Reaper from configuration.
// Both timeout ages must be positive; the processing age is expected to
// exceed the pending age but that is a deployment concern, not enforced
// here.
func New(tasks store.TaskStore, logger *slog.Logger, cfg config.ReaperConfig) (*Reaper, error) {
	if tasks == nil {
		return nil, ErrNilTaskStore
	}
	if logger == nil {
		return nil, ErrNilLogger
	}
	if cfg.PendingAge <= 0 || cfg.ProcessingAge <= 0 {
		return nil, fmt.Errorf("reaper timeout ages must be positive, got pending=%s processing=%s",
			cfg.PendingAge, cfg.ProcessingAge)
	}

	return &Reaper{
		tasks:         tasks,
		logger:        logger.With("component", "reaper"),
		cron:          cron.New(),
		schedule:      cfg.Schedule,
		pendingAge:    cfg.PendingAge,
		processingAge: cfg.ProcessingAge,
	}, nil
}

// Start registers the sweep on the configured schedule and starts the
// cron scheduler in its own goroutine.
func (r *Reaper) Start() error {
	if _, err := r.cron.AddFunc(r.schedule, r.runSweep); err != nil {
		return fmt.Errorf("invalid reaper schedule %q: %w", r.schedule, err)
	}
	r.cron.Start()
	r.logger.Info("reaper started",
		"schedule", r.schedule,
		"pending_age", r.pendingAge.String(),
		"processing_age", r.processingAge.String())
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("reaper stopped")
}

// runSweep is the cron entrypoint.
func (r *Reaper) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if err := r.Sweep(ctx); err != nil {
		r.logger.Error("sweep failed", "error", err)
	}
}

// Sweep fails all pending tasks older than the pending age and all
// processing tasks older than the processing age. A failure to reap one
// task is logged and does not stop the sweep; the task stays for the next
// run.
func (r *Reaper) Sweep(ctx context.Context) error {
	pendingReaped, err := r.sweepStatus(ctx, domain.TaskStatusPending, r.pendingAge, pendingTimeoutMessage)
	if err != nil {
		return fmt.Errorf("failed to sweep pending tasks: %w", err)
	}

	processingReaped, err := r.sweepStatus(ctx, domain.TaskStatusProcessing, r.processingAge, processingTimeoutMessage)
	if err != nil {
		return fmt.Errorf("failed to sweep processing tasks: %w", err)
	}

	if pendingReaped > 0 || processingReaped > 0 {
		r.logger.Info("sweep reaped stale tasks",
			"pending_reaped", pendingReaped,
			"processing_reaped", processingReaped)
	}

	return nil
}

// sweepStatus reaps one status bucket and returns how many tasks were
// transitioned to failed.
func (r *Reaper) sweepStatus(
	ctx context.Context,
	status domain.TaskStatus,
	olderThan time.Duration,
	message string,
) (int, error) {
	stale, err := r.tasks.SweepStale(ctx, status, olderThan)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, task := range stale {
		if err := r.tasks.Fail(ctx, task.ID, message); err != nil {
			// The claim-then-finish race: a worker may have finished the
			// task between our read and this write. Fail is idempotent on
			// terminal tasks, so anything else is a real error.
			r.logger.Error("failed to reap stale task",
				"task_id", task.ID,
				"status", status,
				"error", err)
			continue
		}
		reaped++
		r.logger.Warn("reaped stale task",
			"task_id", task.ID,
			"owner_id", task.OwnerID,
			"status", status,
			"age_threshold", olderThan.String())
	}

	return reaped, nil
}
