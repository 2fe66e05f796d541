// Package llm defines the text generation port.
package llm

import (
	"context"

	"github.com/Apsistec/fitos-app-sub001/internal/domain/coaching"
)

// Generator produces a reply from system instructions and prior turns.
// The last turn is the message being answered.
type Generator interface {
	Generate(ctx context.Context, system string, history []coaching.Turn) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, system string, history []coaching.Turn) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, system string, history []coaching.Turn) (string, error) {
	return f(ctx, system, history)
}
