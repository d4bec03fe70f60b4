package worker

import (
	"context"

	"github.com/google/uuid"
	"github.com/studioforge/forge-api/internal/domain"
)

// Artifact is a generated or refined image held in memory between pipeline
// stages. Artifacts exist only for the duration of one invocation; nothing
// task-specific is cached across messages.
type Artifact struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Generator is the external generation service boundary. Implementations
// are process-lifetime handles constructed once per worker instance and
// injected into the processor; they are never rebuilt per message.
type Generator interface {
	// GenerateBase produces the base artifact for a generation request.
	GenerateBase(ctx context.Context, ownerID uuid.UUID, payload *domain.GenerationPayload) (*Artifact, error)

	// GenerateVariations derives alternate renditions from the base
	// artifact. Depends only on the base, so it can run while the base is
	// being stored.
	GenerateVariations(ctx context.Context, ownerID uuid.UUID, base *Artifact) ([]*Artifact, error)

	// Refine transforms a source artifact according to the instructions.
	Refine(ctx context.Context, ownerID uuid.UUID, source *Artifact, payload *domain.RefinementPayload) (*Artifact, error)
}

// ArtifactStore is the artifact persistence boundary.
type ArtifactStore interface {
	// Store persists the artifact under the task's namespace and returns a
	// reference sufficient for the owner to retrieve it later.
	Store(ctx context.Context, ownerID uuid.UUID, taskID uuid.UUID, artifact *Artifact) (string, error)

	// Fetch retrieves a previously stored artifact by reference.
	Fetch(ctx context.Context, ref string) (*Artifact, error)

	// Delete removes a stored artifact. Used only for best-effort cleanup
	// of objects this task created before a later stage failed.
	Delete(ctx context.Context, ref string) error
}
