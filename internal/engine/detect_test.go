package engine

import "testing"

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		cfg     DetectConfig
		want    string
		wantErr bool
	}{
		{"default is ollama", DetectConfig{}, "ollama", false},
		{"explicit ollama", DetectConfig{Backend: BackendOllama, BaseURL: "http://localhost:11434"}, "ollama", false},
		{"openai", DetectConfig{Backend: BackendOpenAI, BaseURL: "http://localhost:8080/v1", EmbedModel: "text-embedding-3-small"}, "openai", false},
		{"unknown", DetectConfig{Backend: "mlx"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Detect(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			switch tt.want {
			case "ollama":
				if _, ok := e.(*OllamaEngine); !ok {
					t.Errorf("Detect returned %T, want *OllamaEngine", e)
				}
			case "openai":
				if _, ok := e.(*OpenAIEngine); !ok {
					t.Errorf("Detect returned %T, want *OpenAIEngine", e)
				}
			}
		})
	}
}
