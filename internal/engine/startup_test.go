package engine

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

type mockEngine struct {
	isRunning bool
	models    map[string]bool
	pulled    []string
}

func (m *mockEngine) Chat(_ context.Context, _ string, _ []Message, _ *Schema) (string, error) {
	return "", nil
}
func (m *mockEngine) Embed(_ context.Context, _ string, _ string) ([]float32, error) {
	return nil, nil
}
func (m *mockEngine) IsRunning(_ context.Context) bool { return m.isRunning }
func (m *mockEngine) HasModel(_ context.Context, name string) bool { return m.models[name] }
func (m *mockEngine) PullModel(_ context.Context, name string, cb func(PullProgress)) error {
	m.pulled = append(m.pulled, name)
	if cb != nil {
		cb(PullProgress{Status: "success"})
	}
	return nil
}

// remoteEngine has no model management, like an OpenAI-compatible API.
type remoteEngine struct{ up bool }

func (r remoteEngine) Chat(_ context.Context, _ string, _ []Message, _ *Schema) (string, error) {
	return "", nil
}
func (r remoteEngine) Embed(_ context.Context, _ string, _ string) ([]float32, error) {
	return nil, nil
}
func (r remoteEngine) IsRunning(_ context.Context) bool { return r.up }

func TestEnsureReady_AllModelsPresent(t *testing.T) {
	m := &mockEngine{
		isRunning: true,
		models:    map[string]bool{"llama3.2": true, "all-minilm": true},
	}
	if err := EnsureReady(context.Background(), m, "llama3.2", "all-minilm", io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 0 {
		t.Errorf("expected no pulls, got %v", m.pulled)
	}
}

func TestEnsureReady_PullsMissing(t *testing.T) {
	m := &mockEngine{
		isRunning: true,
		models:    map[string]bool{"llama3.2": true},
	}
	var out bytes.Buffer
	if err := EnsureReady(context.Background(), m, "llama3.2", "all-minilm", &out); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 1 || m.pulled[0] != "all-minilm" {
		t.Errorf("expected pull of all-minilm, got %v", m.pulled)
	}
	if !strings.Contains(out.String(), "model all-minilm: pulling...") {
		t.Errorf("missing progress output: %q", out.String())
	}
}

func TestEnsureReady_SameModelPulledOnce(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{}}
	if err := EnsureReady(context.Background(), m, "nomic", "nomic", io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 1 {
		t.Errorf("expected one pull, got %v", m.pulled)
	}
}

func TestEnsureReady_EngineDown(t *testing.T) {
	m := &mockEngine{isRunning: false, models: map[string]bool{}}
	if err := EnsureReady(context.Background(), m, "llama3.2", "all-minilm", io.Discard); err == nil {
		t.Fatal("expected error when engine is down")
	}
}

func TestEnsureReady_RemoteEngine(t *testing.T) {
	if err := EnsureReady(context.Background(), remoteEngine{up: true}, "gpt-4o-mini", "text-embedding-3-small", io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if err := EnsureReady(context.Background(), remoteEngine{up: false}, "", "", io.Discard); err == nil {
		t.Fatal("expected error when remote engine is unreachable")
	}
}
