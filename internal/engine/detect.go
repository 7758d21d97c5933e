package engine

import "fmt"

// Backend names accepted by Detect.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Backend    string
	BaseURL    string
	APIKey     string
	ChatModel  string
	EmbedModel string
}

// Detect returns the Engine for cfg.Backend. An empty backend means Ollama.
func Detect(cfg DetectConfig) (Engine, error) {
	switch cfg.Backend {
	case "", BackendOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return NewOllamaEngine(baseURL), nil
	case BackendOpenAI:
		return NewOpenAIEngine(OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			ChatModel:  cfg.ChatModel,
			EmbedModel: cfg.EmbedModel,
		})
	default:
		return nil, fmt.Errorf("unknown engine backend %q", cfg.Backend)
	}
}
