package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/studioforge/forge-api/internal/config"
	"github.com/studioforge/forge-api/internal/domain"
	"github.com/studioforge/forge-api/internal/worker"
)

const defaultVariationCount = 3

// Generator implements the worker.Generator interface using Google's
// Gemini API to produce and refine image artifacts.
type Generator struct {
	// logger is used for structured logging
	logger *slog.Logger

	// client is the Gemini API client for making requests
	client *genai.Client

	// model is the name of the Gemini model to use
	model string

	// maxRetries bounds the number of retry attempts for transient errors
	maxRetries int

	// retryDelay is the base delay for exponential backoff
	retryDelay time.Duration

	// variationCount is the number of variations derived per base artifact
	variationCount int
}

// NewGenerator creates a new Generator with the provided dependencies.
// It returns an error if the logger is nil, the configuration is
// incomplete, or the Gemini client cannot be constructed.
func NewGenerator(ctx context.Context, logger *slog.Logger, cfg config.GeneratorConfig) (*Generator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}

	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	retryDelaySeconds := cfg.RetryDelaySeconds
	if retryDelaySeconds < 1 {
		retryDelaySeconds = 2
	}

	variationCount := cfg.VariationCount
	if variationCount <= 0 {
		variationCount = defaultVariationCount
	}

	return &Generator{
		logger:         logger.With("component", "gemini_generator"),
		client:         client,
		model:          cfg.ModelName,
		maxRetries:     maxRetries,
		retryDelay:     time.Duration(retryDelaySeconds) * time.Second,
		variationCount: variationCount,
	}, nil
}

// GenerateBase produces the base artifact for a generation request.
func (g *Generator) GenerateBase(
	ctx context.Context,
	ownerID uuid.UUID,
	payload *domain.GenerationPayload,
) (*worker.Artifact, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: payload cannot be nil", ErrInvalidConfig)
	}

	prompt := buildGenerationPrompt(payload)
	parts := []*genai.Part{genai.NewPartFromText(prompt)}

	g.logger.InfoContext(ctx, "generating base artifact",
		"owner_id", ownerID,
		"prompt_length", len(prompt))

	blob, err := g.callWithRetry(ctx, parts)
	if err != nil {
		return nil, err
	}

	return &worker.Artifact{
		Name:     "base" + extensionFor(blob.MIMEType),
		MIMEType: blob.MIMEType,
		Data:     blob.Data,
	}, nil
}

// GenerateVariations derives alternate renditions from the base artifact
// by feeding it back to the model with a variation instruction. Each
// variation is a separate model call; a failure on any of them fails the
// whole batch.
func (g *Generator) GenerateVariations(
	ctx context.Context,
	ownerID uuid.UUID,
	base *worker.Artifact,
) ([]*worker.Artifact, error) {
	if base == nil || len(base.Data) == 0 {
		return nil, fmt.Errorf("%w: base artifact cannot be empty", ErrInvalidResponse)
	}

	g.logger.InfoContext(ctx, "generating variations",
		"owner_id", ownerID,
		"count", g.variationCount)

	variations := make([]*worker.Artifact, 0, g.variationCount)
	for i := 0; i < g.variationCount; i++ {
		parts := []*genai.Part{
			genai.NewPartFromText(fmt.Sprintf(
				"Produce an alternate rendition of this image. Keep the subject and "+
					"composition recognizable but vary lighting, palette and texture. "+
					"This is variation %d of %d.", i+1, g.variationCount)),
			genai.NewPartFromBytes(base.Data, base.MIMEType),
		}

		blob, err := g.callWithRetry(ctx, parts)
		if err != nil {
			return nil, fmt.Errorf("variation %d: %w", i+1, err)
		}

		variations = append(variations, &worker.Artifact{
			Name:     fmt.Sprintf("variation-%d%s", i+1, extensionFor(blob.MIMEType)),
			MIMEType: blob.MIMEType,
			Data:     blob.Data,
		})
	}

	return variations, nil
}

// Refine transforms a source artifact according to the instructions.
func (g *Generator) Refine(
	ctx context.Context,
	ownerID uuid.UUID,
	source *worker.Artifact,
	payload *domain.RefinementPayload,
) (*worker.Artifact, error) {
	if source == nil || len(source.Data) == 0 {
		return nil, fmt.Errorf("%w: source artifact cannot be empty", ErrInvalidResponse)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: payload cannot be nil", ErrInvalidConfig)
	}

	g.logger.InfoContext(ctx, "refining artifact",
		"owner_id", ownerID,
		"source_name", source.Name)

	parts := []*genai.Part{
		genai.NewPartFromText("Modify this image as instructed. Instructions: " + payload.Instructions),
		genai.NewPartFromBytes(source.Data, source.MIMEType),
	}

	blob, err := g.callWithRetry(ctx, parts)
	if err != nil {
		return nil, err
	}

	return &worker.Artifact{
		Name:     "refined" + extensionFor(blob.MIMEType),
		MIMEType: blob.MIMEType,
		Data:     blob.Data,
	}, nil
}

// callWithRetry makes a call to the Gemini API with exponential backoff.
//
// Transient API errors are retried up to maxRetries times with jittered
// exponential backoff. Safety blocks and responses carrying no image data
// are permanent and returned immediately.
func (g *Generator) callWithRetry(ctx context.Context, parts []*genai.Part) (*genai.Blob, error) {
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	generateConfig := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for attempt := 0; ; attempt++ {
		attemptNum := attempt + 1
		g.logger.InfoContext(ctx, "making Gemini API call",
			"attempt", attemptNum,
			"max_attempts", g.maxRetries+1)

		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, generateConfig)
		if err == nil {
			blob, extractErr := extractImage(resp)
			if extractErr != nil {
				// Permanent: the call succeeded but the response is unusable.
				return nil, extractErr
			}
			return blob, nil
		}

		g.logger.ErrorContext(ctx, "Gemini API call failed",
			"attempt", attemptNum,
			"error", err)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt >= g.maxRetries {
			return nil, fmt.Errorf("%w: exceeded maximum retry attempts (%d): %v",
				ErrTransientFailure, g.maxRetries, err)
		}

		// delay = baseDelay * 2^attempt * (0.5 + rand(0, 0.5))
		backoff := float64(g.retryDelay) * math.Pow(2, float64(attempt))
		jitter := 0.5 + rng.Float64()*0.5
		delay := time.Duration(backoff * jitter)

		g.logger.InfoContext(ctx, "retrying after delay",
			"attempt", attemptNum,
			"delay", delay.String())

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// extractImage pulls the first inline image out of a model response,
// classifying empty and safety-blocked responses as permanent errors.
func extractImage(resp *genai.GenerateContentResponse) (*genai.Blob, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates in response", ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, ErrContentBlocked
	}
	if candidate.Content == nil {
		return nil, fmt.Errorf("%w: empty content in response", ErrInvalidResponse)
	}

	for _, part := range candidate.Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData, nil
		}
	}

	return nil, fmt.Errorf("%w: response contains no image data", ErrInvalidResponse)
}

// buildGenerationPrompt renders the payload into the model prompt.
func buildGenerationPrompt(payload *domain.GenerationPayload) string {
	var b strings.Builder
	b.WriteString("Generate an image. ")
	fmt.Fprintf(&b, "Target dimensions: %dx%d pixels. ", payload.Width, payload.Height)
	if payload.Style != "" {
		fmt.Fprintf(&b, "Style: %s. ", payload.Style)
	}
	b.WriteString("Description: ")
	b.WriteString(payload.Prompt)
	return b.String()
}

// extensionFor maps a MIME type to a file extension for artifact names.
func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
