package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/kalambet/taskpilot/internal/engine"
)

// mockEngine implements engine.Engine for testing.
type mockEngine struct {
	embedFn func(ctx context.Context, model string, text string) ([]float32, error)
}

func (m *mockEngine) Chat(_ context.Context, _ string, _ []engine.Message, _ *engine.Schema) (string, error) {
	return "", fmt.Errorf("not implemented")
}
func (m *mockEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	return m.embedFn(ctx, model, text)
}
func (m *mockEngine) IsRunning(_ context.Context) bool { return true }

func makeVector(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(i) * 0.001
	}
	return v
}

func TestEmbed_ReturnsDimension(t *testing.T) {
	var gotModel string
	mock := &mockEngine{
		embedFn: func(_ context.Context, model string, _ string) ([]float32, error) {
			gotModel = model
			return makeVector(384), nil
		},
	}
	e := NewEmbedder(mock, "all-minilm")

	vec, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 384 {
		t.Errorf("got %d dimensions, want 384", len(vec))
	}
	if gotModel != "all-minilm" {
		t.Errorf("model = %q, want all-minilm", gotModel)
	}
}

func TestEmbed_NormalizesWhitespace(t *testing.T) {
	var got string
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
			got = text
			return []float32{1}, nil
		},
	}
	if _, err := NewEmbedder(mock, "m").Embed(context.Background(), "  buy\nmilk \t today "); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got != "buy milk today" {
		t.Errorf("engine received %q", got)
	}
}

func TestEmbed_EngineError(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return nil, errors.New("connection refused")
		},
	}
	_, err := NewEmbedder(mock, "m").Embed(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("error = %q, want it to wrap the engine error", err)
	}
}

func TestEmbed_Malformed(t *testing.T) {
	tests := []struct {
		name string
		vec  []float32
	}{
		{"empty", []float32{}},
		{"nil", nil},
		{"nan", []float32{0.1, float32(math.NaN())}},
		{"inf", []float32{float32(math.Inf(1)), 0.2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockEngine{
				embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
					return tt.vec, nil
				},
			}
			_, err := NewEmbedder(mock, "m").Embed(context.Background(), "x")
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("got %v, want ErrMalformed", err)
			}
		})
	}
}
