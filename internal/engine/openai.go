package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

var _ Engine = (*OpenAIEngine)(nil)

// OpenAIConfig configures an OpenAIEngine.
type OpenAIConfig struct {
	BaseURL    string // empty uses api.openai.com
	APIKey     string // empty sends "none", accepted by local servers
	ChatModel  string
	EmbedModel string
}

// OpenAIEngine talks to any OpenAI-compatible API through langchaingo. The
// embedding model is fixed at construction; the model argument to Embed is
// ignored.
type OpenAIEngine struct {
	llm      *openai.LLM
	embedder embeddings.Embedder
	logger   *slog.Logger
}

// NewOpenAIEngine builds the langchaingo client and embedder.
func NewOpenAIEngine(cfg OpenAIConfig) (*OpenAIEngine, error) {
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}
	opts := []openai.Option{openai.WithToken(token)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.ChatModel != "" {
		opts = append(opts, openai.WithModel(cfg.ChatModel))
	}
	if cfg.EmbedModel != "" {
		opts = append(opts, openai.WithEmbeddingModel(cfg.EmbedModel))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("creating openai embedder: %w", err)
	}

	return &OpenAIEngine{
		llm:      llm,
		embedder: embedder,
		logger:   slog.Default().With("component", "openai-engine"),
	}, nil
}

func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	content := make([]llms.MessageContent, len(messages))
	for i, m := range messages {
		content[i] = llms.TextParts(chatRole(m.Role), m.Content)
	}

	opts := []llms.CallOption{llms.WithTemperature(0.2)}
	if model != "" {
		opts = append(opts, llms.WithModel(model))
	}
	if jsonSchema != nil {
		opts = append(opts, llms.WithJSONMode())
	}

	resp, err := e.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat: no choices returned")
	}
	return resp.Choices[0].Content, nil
}

func (e *OpenAIEngine) Embed(ctx context.Context, _ string, text string) ([]float32, error) {
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		e.logger.Debug("embedding failed", "length", len(text), "err", err)
		return nil, fmt.Errorf("embed: %w", err)
	}
	return vec, nil
}

// IsRunning issues a tiny embedding request; OpenAI-compatible servers have
// no uniform health endpoint.
func (e *OpenAIEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.embedder.EmbedQuery(ctx, "ping")
	return err == nil
}

func chatRole(role string) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
