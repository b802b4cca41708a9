package config

import (
	"fmt"
	"regexp"
	"slices"
	"time"
)

// validProviders lists the supported AI providers.
var validProviders = []string{ProviderGemini, ProviderOpenAI, ProviderOllama, ProviderNone}

// validSSLModes lists accepted PostgreSQL SSL modes.
// Deprecated allow/prefer are excluded (MITM vulnerable).
var validSSLModes = []string{"disable", "require", "verify-ca", "verify-full"}

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// Provider / model validation
	if !slices.Contains(validProviders, c.Provider) {
		return fmt.Errorf("%w: %q is not one of %v", ErrInvalidProvider, c.Provider, validProviders)
	}

	if c.Provider != ProviderNone {
		if c.ModelName == "" {
			return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
		}
		if c.EmbedderModel == "" {
			return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
		}
	}

	if c.Provider == ProviderOllama && c.OllamaHost == "" {
		return fmt.Errorf("%w: ollama_host cannot be empty", ErrInvalidOllamaHost)
	}

	// PostgreSQL validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// Control Center validation. Zero disables caching entirely, which turns
	// every dashboard poll into a full fan-out; we reject it.
	if c.SnapshotTTL < time.Second || c.SnapshotTTL > time.Hour {
		return fmt.Errorf("%w: must be between 1s and 1h, got %s", ErrInvalidSnapshotTTL, c.SnapshotTTL)
	}

	// Custom PII patterns must compile at startup, not at first request.
	for _, p := range c.PIIPatterns {
		if p.Name == "" {
			return fmt.Errorf("%w: pattern name cannot be empty", ErrInvalidPIIPattern)
		}
		if _, err := regexp.Compile(p.Pattern); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidPIIPattern, p.Name, err)
		}
	}

	return nil
}
