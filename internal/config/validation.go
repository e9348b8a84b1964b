package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

var validSSLModes = map[string]bool{
	"disable":     true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks the configuration for correctness.
// Returns wrapped sentinel errors so callers can match with errors.Is.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if err := c.validateProvider(); err != nil {
		return err
	}
	if err := c.validateIngestion(); err != nil {
		return err
	}
	if err := c.validateRetrieval(); err != nil {
		return err
	}
	return c.validatePostgres()
}

func (c *Config) validateProvider() error {
	switch c.Provider {
	case ProviderGemini, ProviderGoogleAI:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable not set", ErrMissingAPIKey)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable not set", ErrMissingAPIKey)
		}
	case ProviderOllama:
		u, err := url.Parse(c.OllamaHost)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %q is not a valid http(s) URL", ErrInvalidOllamaHost, c.OllamaHost)
		}
	default:
		return fmt.Errorf("%w: %q (supported: gemini, ollama, openai)", ErrInvalidProvider, c.Provider)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}
	return nil
}

func (c *Config) validateIngestion() error {
	if strings.TrimSpace(c.DocsDir) == "" {
		return fmt.Errorf("%w: docs_dir is empty", ErrInvalidDocsDir)
	}
	if c.ChunkSize < 64 || c.ChunkSize > 32768 {
		return fmt.Errorf("%w: chunk_size %d out of range [64, 32768]", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must be in [0, chunk_size)", ErrInvalidChunking, c.ChunkOverlap)
	}
	return nil
}

func (c *Config) validateRetrieval() error {
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder model is empty", ErrInvalidEmbedderModel)
	}
	if c.TopK < 1 || c.TopK > MaxTopK {
		return fmt.Errorf("%w: top_k %d out of range [1, %d]", ErrInvalidTopK, c.TopK, MaxTopK)
	}
	return nil
}

func (c *Config) validatePostgres() error {
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range [1, 65535]", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword != "" && len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidPostgresPassword)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q (supported: disable, require, verify-ca, verify-full)",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}
	return nil
}

// NormalizeMaxHistoryMessages clamps max_history_messages to a sane value,
// falling back to the default for zero or negative settings.
func (c *Config) NormalizeMaxHistoryMessages() int32 {
	if c.MaxHistoryMessages <= 0 {
		return DefaultMaxHistoryMessages
	}
	return c.MaxHistoryMessages
}
