package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// validSSLModes are the sslmode values accepted by PostgreSQL.
var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// Provider and model configuration.
	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required for the gemini provider", ErrMissingAPIKey)
		}
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host cannot be empty", ErrInvalidOllamaHost)
		}
	default:
		return fmt.Errorf("%w: %q (supported: gemini, ollama)", ErrInvalidProvider, c.Provider)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// Retrieval pipeline configuration.
	if c.ExpansionCount < 1 || c.ExpansionCount > MaxExpansionCount {
		return fmt.Errorf("%w: must be between 1 and %d, got %d",
			ErrInvalidExpansionCount, MaxExpansionCount, c.ExpansionCount)
	}
	if c.RetrievalTopK < 1 || c.RetrievalTopK > MaxRetrievalTopK {
		return fmt.Errorf("%w: must be between 1 and %d, got %d",
			ErrInvalidTopK, MaxRetrievalTopK, c.RetrievalTopK)
	}
	if c.ContextMaxCount < 1 || c.ContextMaxCount > c.RetrievalTopK {
		return fmt.Errorf("%w: must be between 1 and retrieval_top_k (%d), got %d",
			ErrInvalidContextCount, c.RetrievalTopK, c.ContextMaxCount)
	}
	if c.ContextCharBudget < 256 {
		return fmt.Errorf("%w: must be at least 256 characters, got %d",
			ErrInvalidContextBudget, c.ContextCharBudget)
	}

	// PostgreSQL configuration.
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set", ErrInvalidPostgresPassword)
	}
	if c.PostgresPassword == "recap_dev_password" {
		slog.Warn("using default development password for PostgreSQL",
			"warning", "change postgres_password for production deployments")
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q (valid: %v)", ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
