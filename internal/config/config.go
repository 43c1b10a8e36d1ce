// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.recap/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, model, embedder (see validation.go for ranges)
//   - Storage: PostgreSQL connection (see storage.go)
//   - Retrieval: query expansion, top-K, context budget (see retrieval.go)
//   - Server: listen address, poll defaults
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidExpansionCount indicates the query expansion count is out of range.
	ErrInvalidExpansionCount = errors.New("invalid expansion count")

	// ErrInvalidTopK indicates the retrieval top-K is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-K")

	// ErrInvalidContextBudget indicates the context character budget is out of range.
	ErrInvalidContextBudget = errors.New("invalid context budget")

	// ErrInvalidContextCount indicates the optimized context count is out of range.
	ErrInvalidContextCount = errors.New("invalid context count")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// DefaultGeminiEmbedderModel is the default Gemini embedder model.
// gemini-embedding-001 supports truncation to 768 dimensions, matching the
// pgvector schema in db/migrations.
const DefaultGeminiEmbedderModel = "gemini-embedding-001"

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration
	Provider      string `mapstructure:"provider" json:"provider"`             // "gemini" (default) or "ollama"
	ModelName     string `mapstructure:"model_name" json:"model_name"`         // e.g. "gemini-2.5-flash", "llama3.3"
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"` // embedding model identifier
	OllamaHost    string `mapstructure:"ollama_host" json:"ollama_host"`       // only used when provider is "ollama"

	// Retrieval pipeline configuration (see retrieval.go)
	ExpansionCount    int `mapstructure:"expansion_count" json:"expansion_count"`
	RetrievalTopK     int `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`
	ContextMaxCount   int `mapstructure:"context_max_count" json:"context_max_count"`
	ContextCharBudget int `mapstructure:"context_char_budget" json:"context_char_budget"`
	HistoryTailLimit  int `mapstructure:"history_tail_limit" json:"history_tail_limit"`

	// Server configuration
	ListenAddr     string `mapstructure:"listen_addr" json:"listen_addr"`
	PollIntervalMs int    `mapstructure:"poll_interval_ms" json:"poll_interval_ms"`
	PollTimeoutMs  int    `mapstructure:"poll_timeout_ms" json:"poll_timeout_ms"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"-"` // never serialized
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".recap")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing configuration file is not an error; defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL takes precedence over individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// Validate immediately (fail-fast).
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultGeminiEmbedderModel)
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// Retrieval defaults
	viper.SetDefault("expansion_count", DefaultExpansionCount)
	viper.SetDefault("retrieval_top_k", DefaultRetrievalTopK)
	viper.SetDefault("context_max_count", DefaultContextMaxCount)
	viper.SetDefault("context_char_budget", DefaultContextCharBudget)
	viper.SetDefault("history_tail_limit", DefaultHistoryTailLimit)

	// Server defaults
	viper.SetDefault("listen_addr", "127.0.0.1:3500")
	viper.SetDefault("poll_interval_ms", 1000)
	viper.SetDefault("poll_timeout_ms", 30000)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "recap")
	viper.SetDefault("postgres_password", "recap_dev_password")
	viper.SetDefault("postgres_db_name", "recap")
	viper.SetDefault("postgres_ssl_mode", "disable")
}

// bindEnvVariables binds environment variable overrides explicitly.
// GEMINI_API_KEY is read directly by Genkit, not via viper; its presence is
// checked in Validate() based on the selected provider.
func bindEnvVariables() {
	// Hardcoded keys can't fail to bind; a panic here is a bug, not a
	// runtime condition.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "RECAP_PROVIDER")
	mustBind("model_name", "RECAP_MODEL_NAME")
	mustBind("embedder_model", "RECAP_EMBEDDER_MODEL")
	mustBind("ollama_host", "RECAP_OLLAMA_HOST")
	mustBind("listen_addr", "RECAP_LISTEN_ADDR")
}
