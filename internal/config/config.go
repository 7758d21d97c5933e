package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Engine   EngineConfig
	Storage  StorageConfig
	Auth     AuthConfig
	Search   SearchConfig
	Backfill BackfillConfig
	MCP      MCPConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
	// CORSOrigins is a comma-separated list of allowed browser origins.
	CORSOrigins string
}

type EngineConfig struct {
	Backend    string
	BaseURL    string
	APIKey     string
	ChatModel  string
	EmbedModel string
}

type StorageConfig struct {
	Driver      string
	DataDir     string
	PostgresDSN string
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type SearchConfig struct {
	Threshold    float64
	Limit        int
	Concurrency  int
	QueryTimeout time.Duration
}

type BackfillConfig struct {
	Interval  time.Duration
	BatchSize int
	Workers   int
}

type MCPConfig struct {
	UserID string
}

type LogConfig struct {
	Level string
}

// Origins splits CORSOrigins into a list, dropping blanks.
func (c ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        4000,
			MaxConns:    256,
			CORSOrigins: "*",
		},
		Engine: EngineConfig{
			Backend:    "ollama",
			ChatModel:  "llama3.2",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			Driver:  "sqlite",
			DataDir: defaultDataDir(),
		},
		Auth: AuthConfig{
			TokenTTL: 720 * time.Hour,
		},
		Search: SearchConfig{
			Threshold:    0.1,
			Limit:        5,
			Concurrency:  4,
			QueryTimeout: 10 * time.Second,
		},
		Backfill: BackfillConfig{
			Interval:  2 * time.Second,
			BatchSize: 32,
			Workers:   4,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the YAML file at
// $XDG_CONFIG_HOME/taskpilot/config.yaml and the environment.
//
// A .env file in the working directory is loaded into the environment first;
// variables that are already set win. Environment variables (TASKPILOT_*)
// override file values. Secrets are read from the environment only.
func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	return loadWith(newPlatformBackend())
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", path, err)
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("missing required config: JWT secret. " +
			"Set it via environment variable TASKPILOT_AUTH_JWT_SECRET or in a .env file")
	}
	switch c.Engine.Backend {
	case "ollama", "openai":
	default:
		return fmt.Errorf("invalid engine.backend %q: must be ollama or openai", c.Engine.Backend)
	}
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.driver is postgres but TASKPILOT_STORAGE_POSTGRES_DSN is not set")
		}
	default:
		return fmt.Errorf("invalid storage.driver %q: must be sqlite or postgres", c.Storage.Driver)
	}
	if c.Search.Limit <= 0 {
		return fmt.Errorf("search.limit must be positive")
	}
	return nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "taskpilot-data"
		}
	}
	return filepath.Join(dir, "taskpilot")
}
