// Package subtasks asks a chat model to break a task into smaller steps.
package subtasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/taskpilot/internal/engine"
)

const (
	minSubtasks = 5
	maxSubtasks = 7

	generationTimeout = 60 * time.Second
)

var (
	// ErrEmptyTitle is returned when the task title is blank.
	ErrEmptyTitle = errors.New("task title is required")
	// ErrGeneration is returned when the chat model call fails.
	ErrGeneration = errors.New("failed to generate subtasks")
	// ErrMalformed is returned when the model's reply is not a list of strings.
	ErrMalformed = errors.New("failed to parse generated subtasks")
)

// Chatter is the chat half of engine.Engine.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Generator produces subtask titles for a task.
type Generator struct {
	client  Chatter
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGenerator creates a Generator using the given chat client and model name.
func NewGenerator(client Chatter, model string) *Generator {
	return &Generator{
		client:  client,
		model:   model,
		timeout: generationTimeout,
		logger:  slog.Default().With("component", "subtasks"),
	}
}

// Generate returns up to seven subtask titles for title, in the order the
// model proposed them.
func (g *Generator) Generate(ctx context.Context, title string) ([]string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.client.Chat(ctx, g.model, BuildPrompt(title), subtasksSchema())
	if err != nil {
		g.logger.Warn("subtask generation chat failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	items, err := Parse(raw)
	if err != nil {
		g.logger.Warn("failed to parse subtasks from LLM response", "error", err, "response", raw)
		return nil, err
	}
	return items, nil
}

// Parse extracts subtask titles from a model reply. It accepts a bare JSON
// array or an object with a "subtasks" array, optionally inside a markdown
// code fence. Blank entries are dropped and at most seven are kept.
func Parse(raw string) ([]string, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var items []any
	if strings.HasPrefix(text, "[") {
		if err := json.Unmarshal([]byte(text), &items); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
	} else {
		var obj struct {
			Subtasks []any `json:"subtasks"`
		}
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		items = obj.Subtasks
	}

	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: item %d is %T, not a string", ErrMalformed, i, item)
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no subtasks", ErrMalformed)
	}
	if len(out) > maxSubtasks {
		out = out[:maxSubtasks]
	}
	return out, nil
}
