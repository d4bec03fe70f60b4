// Package worker implements the stateless message processor: it atomically
// claims a dispatched task, runs the kind-specific pipeline against the
// external generation and storage collaborators, and writes exactly one
// terminal state. Broker redelivery is the only retry mechanism; a
// redelivered message for a task that is no longer pending is a no-op.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/studioforge/forge-api/internal/dispatch"
	"github.com/studioforge/forge-api/internal/domain"
	"github.com/studioforge/forge-api/internal/store"
)

// Pipeline stage names recorded in failure messages so an operator can see
// where a task died without reading worker logs.
const (
	stageGenerateBase       = "generate_base"
	stageStoreBase          = "store_base"
	stageGenerateVariations = "generate_variations"
	stageStoreVariations    = "store_variations"
	stagePersistManifest    = "persist_manifest"
	stageFetchSource        = "fetch_source"
	stageRefine             = "refine"
	stageStoreRefined       = "store_refined"
)

// Dependency validation errors
var (
	ErrNilTaskStore     = errors.New("task store cannot be nil")
	ErrNilGenerator     = errors.New("generator cannot be nil")
	ErrNilArtifactStore = errors.New("artifact store cannot be nil")
	ErrNilLogger        = errors.New("logger cannot be nil")
)

// stageError attributes a pipeline failure to the stage that raised it.
type stageError struct {
	stage string
	err   error
}

// Error implements the error interface for stageError.
func (e *stageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.stage, e.err)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *stageError) Unwrap() error {
	return e.err
}

// atStage wraps an error with its stage name.
func atStage(stage string, err error) error {
	return &stageError{stage: stage, err: err}
}

// manifest is the final metadata object persisted for a generation task,
// tying the base artifact and its variations together under one reference.
type manifest struct {
	TaskID    uuid.UUID `json:"task_id"`
	BaseRef   string    `json:"base_ref"`
	Variation []string  `json:"variation_refs"`
}

// Processor handles dispatched task messages. It holds only process-lifetime
// client handles; no task-specific state survives between invocations.
type Processor struct {
	tasks     store.TaskStore
	generator Generator
	artifacts ArtifactStore
	logger    *slog.Logger
}

// NewProcessor creates a new Processor.
// It returns an error if any of the required dependencies are nil.
func NewProcessor(
	tasks store.TaskStore,
	generator Generator,
	artifacts ArtifactStore,
	logger *slog.Logger,
) (*Processor, error) {
	if tasks == nil {
		return nil, ErrNilTaskStore
	}
	if generator == nil {
		return nil, ErrNilGenerator
	}
	if artifacts == nil {
		return nil, ErrNilArtifactStore
	}
	if logger == nil {
		return nil, ErrNilLogger
	}

	return &Processor{
		tasks:     tasks,
		generator: generator,
		artifacts: artifacts,
		logger:    logger.With("component", "worker_processor"),
	}, nil
}

// HandleMessage processes one delivered dispatch message to completion.
//
// The claim is the first thing that happens: if the task is not pending
// (duplicate delivery, late delivery after the reaper, or another worker
// won the race), the message is acknowledged as a successful no-op.
// After a successful claim the task always reaches a terminal state before
// this method returns, except when the process itself dies, which is the
// reaper's problem.
func (p *Processor) HandleMessage(ctx context.Context, msg dispatch.Message) error {
	log := p.logger.With("task_id", msg.TaskID, "owner_id", msg.OwnerID, "kind", msg.Kind)

	task, err := p.tasks.ClaimIfPending(ctx, msg.TaskID, msg.OwnerID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotClaimable) {
			log.Info("task not claimable, skipping delivery")
			return nil
		}
		// Store unavailability: leave the task pending and let broker
		// redelivery retry.
		return fmt.Errorf("failed to claim task: %w", err)
	}

	log.Info("claimed task")

	resultRef, pipelineErr := p.runPipeline(ctx, task)
	if pipelineErr != nil {
		log.Error("pipeline failed", "error", pipelineErr)
		if failErr := p.tasks.Fail(ctx, task.ID, pipelineErr.Error()); failErr != nil {
			return fmt.Errorf("failed to record pipeline failure: %w", failErr)
		}
		// The task reached a terminal state; the message is done.
		return nil
	}

	if err := p.tasks.Complete(ctx, task.ID, resultRef); err != nil {
		return fmt.Errorf("failed to record completion: %w", err)
	}

	log.Info("task completed", "result_ref", resultRef)
	return nil
}

// runPipeline dispatches to the kind-specific pipeline and returns the
// result reference for the completed task.
func (p *Processor) runPipeline(ctx context.Context, task *domain.Task) (string, error) {
	switch task.Kind {
	case domain.TaskKindGeneration:
		return p.runGeneration(ctx, task)
	case domain.TaskKindRefinement:
		return p.runRefinement(ctx, task)
	default:
		return "", fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

// runGeneration executes the generation pipeline: produce the base
// artifact, then store it and derive variations concurrently (both depend
// only on the base, not on each other), then store the variations and
// persist the manifest that ties everything together.
func (p *Processor) runGeneration(ctx context.Context, task *domain.Task) (ref string, err error) {
	var payload domain.GenerationPayload
	if jsonErr := json.Unmarshal(task.Payload, &payload); jsonErr != nil {
		return "", atStage(stageGenerateBase, jsonErr)
	}

	// References created for this task, deleted best-effort if a later
	// stage fails.
	var created []string
	defer func() {
		if err != nil {
			p.cleanup(ctx, task.ID, created)
		}
	}()

	base, genErr := p.generator.GenerateBase(ctx, task.OwnerID, &payload)
	if genErr != nil {
		return "", atStage(stageGenerateBase, genErr)
	}

	var (
		wg         sync.WaitGroup
		baseRef    string
		storeErr   error
		variations []*Artifact
		varErr     error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		baseRef, storeErr = p.artifacts.Store(ctx, task.OwnerID, task.ID, base)
	}()
	go func() {
		defer wg.Done()
		variations, varErr = p.generator.GenerateVariations(ctx, task.OwnerID, base)
	}()
	wg.Wait()

	if storeErr != nil {
		return "", atStage(stageStoreBase, storeErr)
	}
	created = append(created, baseRef)
	if varErr != nil {
		return "", atStage(stageGenerateVariations, varErr)
	}

	variationRefs := make([]string, 0, len(variations))
	for _, variation := range variations {
		variationRef, storeVarErr := p.artifacts.Store(ctx, task.OwnerID, task.ID, variation)
		if storeVarErr != nil {
			return "", atStage(stageStoreVariations, storeVarErr)
		}
		created = append(created, variationRef)
		variationRefs = append(variationRefs, variationRef)
	}

	manifestData, marshalErr := json.Marshal(manifest{
		TaskID:    task.ID,
		BaseRef:   baseRef,
		Variation: variationRefs,
	})
	if marshalErr != nil {
		return "", atStage(stagePersistManifest, marshalErr)
	}

	manifestRef, manifestErr := p.artifacts.Store(ctx, task.OwnerID, task.ID, &Artifact{
		Name:     "manifest.json",
		MIMEType: "application/json",
		Data:     manifestData,
	})
	if manifestErr != nil {
		return "", atStage(stagePersistManifest, manifestErr)
	}

	return manifestRef, nil
}

// runRefinement executes the refinement pipeline: fetch the source
// artifact, refine it, store the result.
func (p *Processor) runRefinement(ctx context.Context, task *domain.Task) (ref string, err error) {
	var payload domain.RefinementPayload
	if jsonErr := json.Unmarshal(task.Payload, &payload); jsonErr != nil {
		return "", atStage(stageFetchSource, jsonErr)
	}

	source, fetchErr := p.artifacts.Fetch(ctx, payload.SourceRef)
	if fetchErr != nil {
		return "", atStage(stageFetchSource, fetchErr)
	}

	refined, refineErr := p.generator.Refine(ctx, task.OwnerID, source, &payload)
	if refineErr != nil {
		return "", atStage(stageRefine, refineErr)
	}

	refinedRef, storeErr := p.artifacts.Store(ctx, task.OwnerID, task.ID, refined)
	if storeErr != nil {
		return "", atStage(stageStoreRefined, storeErr)
	}

	return refinedRef, nil
}

// cleanup deletes artifacts this task stored before a later stage failed.
// Cleanup failures are logged, never allowed to mask the original pipeline
// error.
func (p *Processor) cleanup(ctx context.Context, taskID uuid.UUID, refs []string) {
	for _, ref := range refs {
		if err := p.artifacts.Delete(ctx, ref); err != nil {
			p.logger.Error("failed to clean up artifact after pipeline failure",
				"task_id", taskID,
				"ref", ref,
				"error", err)
		}
	}
}
