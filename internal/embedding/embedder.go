// Package embedding turns text into vectors through an inference engine and
// rejects vectors that cannot be ranked.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/kalambet/taskpilot/internal/engine"
)

// ErrMalformed is returned when the engine produces an empty vector or one
// containing NaN or Inf.
var ErrMalformed = errors.New("malformed embedding")

// Embedder wraps an Engine to generate text embeddings.
type Embedder struct {
	engine engine.Engine
	model  string
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e engine.Engine, model string) *Embedder {
	return &Embedder{engine: e, model: model}
}

// Embed returns the embedding vector for a single text. Newlines are folded
// to spaces so a task embeds the same regardless of line wrapping.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, normalize(text))
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if err := Validate(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// Validate reports ErrMalformed for vectors that cannot be compared.
func Validate(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", ErrMalformed)
	}
	for i, f := range vec {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("%w: non-finite value at index %d", ErrMalformed, i)
		}
	}
	return nil
}

func normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
