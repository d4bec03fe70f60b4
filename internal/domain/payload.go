package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Payload validation errors
var (
	ErrEmptyPrompt       = errors.New("generation prompt cannot be empty")
	ErrInvalidDimensions = errors.New("generation dimensions must be positive")
	ErrEmptySourceRef    = errors.New("refinement source ref cannot be empty")
	ErrEmptyInstructions = errors.New("refinement instructions cannot be empty")
)

// Maximum artifact dimensions accepted at submission. Larger requests are
// rejected before a task is created rather than failed by the worker.
const MaxArtifactDimension = 4096

// GenerationPayload is the input schema for generation tasks.
type GenerationPayload struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style,omitempty"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Validate checks the generation payload fields.
func (p *GenerationPayload) Validate() error {
	if p.Prompt == "" {
		return ErrEmptyPrompt
	}
	if p.Width <= 0 || p.Height <= 0 {
		return ErrInvalidDimensions
	}
	if p.Width > MaxArtifactDimension || p.Height > MaxArtifactDimension {
		return fmt.Errorf("%w: maximum dimension is %d", ErrInvalidDimensions, MaxArtifactDimension)
	}
	return nil
}

// RefinementPayload is the input schema for refinement tasks.
type RefinementPayload struct {
	SourceRef    string `json:"source_ref"`
	Instructions string `json:"instructions"`
}

// Validate checks the refinement payload fields.
func (p *RefinementPayload) Validate() error {
	if p.SourceRef == "" {
		return ErrEmptySourceRef
	}
	if p.Instructions == "" {
		return ErrEmptyInstructions
	}
	return nil
}

// ParsePayload decodes and validates the raw payload for the given task kind.
// The payload is a tagged union keyed by kind: exactly one concrete schema
// exists per kind, and it is validated here, at the admission boundary,
// before a Task is ever created.
// Returns the decoded payload (either *GenerationPayload or
// *RefinementPayload) or an error describing the first validation failure.
func ParsePayload(kind TaskKind, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyTaskPayload
	}

	switch kind {
	case TaskKindGeneration:
		var p GenerationPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode generation payload: %w", err)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		return &p, nil

	case TaskKindRefinement:
		var p RefinementPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode refinement payload: %w", err)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		return &p, nil

	default:
		return nil, ErrInvalidTaskKind
	}
}
