// Package tools provides the fixed tool catalog the agent can call and the
// registry that validates and dispatches calls by name.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/capitalize-ai/agent-platform/internal/model"
)

// Tool is the capability every catalog entry implements.
type Tool interface {
	// Spec returns the immutable description handed to the model.
	Spec() model.ToolSpec

	// Execute runs the tool with arguments that already passed schema
	// validation. Implementations must be safe for concurrent use.
	Execute(ctx context.Context, args json.RawMessage) (any, error)
}

// Classifier is implemented by tools whose side effects depend on the
// arguments, e.g. a file tool that both reads and writes.
type Classifier interface {
	// Idempotent reports whether a call with args may be repeated and cached.
	Idempotent(args json.RawMessage) bool
}

// ArtifactProducer is implemented by results that created files.
type ArtifactProducer interface {
	Artifacts() []model.Artifact
}

// decodeArgs unmarshals validated arguments into the tool's args struct.
func decodeArgs[T any](tool string, raw json.RawMessage) (T, error) {
	var args T
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, fmt.Errorf("decode %s arguments: %w", tool, err)
	}
	return args, nil
}
