// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (./config.yaml or /etc/simplechat/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, model, embedder (see ai fields below)
//   - Storage: PostgreSQL connection (see storage.go)
//   - Control: activity snapshot cache TTL
//   - PII: additional caller-defined patterns
//   - Tracing: OTLP exporter settings
//
// Security: sensitive data (passwords) is masked in MarshalJSON; never log
// the raw struct.
//
// Error handling: sentinel errors enable errors.Is() checks; wrap with
// fmt.Errorf("%w: details", ErrXxx).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidSnapshotTTL indicates the activity snapshot TTL is out of range.
	ErrInvalidSnapshotTTL = errors.New("invalid snapshot TTL")

	// ErrInvalidPIIPattern indicates a custom PII pattern failed to compile.
	ErrInvalidPIIPattern = errors.New("invalid PII pattern")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderNone   = "none" // retrieval-only mode, no model calls
)

const (
	// DefaultEmbedderModel is the default embedder.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultSnapshotTTL is the default Control Center snapshot cache TTL.
	DefaultSnapshotTTL = 30 * time.Second

	// DefaultMaxHistoryMessages is the default number of history messages
	// loaded for a chat turn.
	DefaultMaxHistoryMessages int32 = 50

	// MaxAllowedHistoryMessages caps history loading to prevent OOM.
	MaxAllowedHistoryMessages int32 = 5000

	// DefaultModelRequestsPerSecond is the default outbound model call
	// rate. Zero means no throttling.
	DefaultModelRequestsPerSecond float64 = 0
)

// PIIPattern is a caller-defined PII pattern added to the built-in table.
type PIIPattern struct {
	Name    string `mapstructure:"name" json:"name"`
	Pattern string `mapstructure:"pattern" json:"pattern"`
}

// TracingConfig holds OTLP trace exporter settings.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"` // OTLP/HTTP host:port
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields, update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider      string `mapstructure:"provider" json:"provider"`
	ModelName     string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	OllamaHost    string `mapstructure:"ollama_host" json:"ollama_host"`

	// Conversation history configuration
	MaxHistoryMessages int32 `mapstructure:"max_history_messages" json:"max_history_messages"`

	// ModelRequestsPerSecond throttles outbound model calls across the
	// whole process. Zero disables the limiter.
	ModelRequestsPerSecond float64 `mapstructure:"model_requests_per_second" json:"model_requests_per_second"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Control Center configuration
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl" json:"snapshot_ttl"`

	// PII analysis configuration
	PIIPatterns []PIIPattern `mapstructure:"pii_patterns" json:"pii_patterns"`

	// Tracing configuration
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`

	// Serve mode configuration
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Upstream identity provider used to mint access tokens for external
	// tool servers. All three must be set together; empty disables it.
	IdentityTokenURL     string `mapstructure:"identity_token_url" json:"identity_token_url"`
	IdentityClientID     string `mapstructure:"identity_client_id" json:"identity_client_id"`
	IdentityClientSecret string `mapstructure:"identity_client_secret" json:"identity_client_secret"` // SENSITIVE: masked in MarshalJSON
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/simplechat")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env cover everything.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{".", "/etc/simplechat"})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderNone)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("ollama_host", "http://localhost:11434")
	viper.SetDefault("max_history_messages", DefaultMaxHistoryMessages)
	viper.SetDefault("model_requests_per_second", DefaultModelRequestsPerSecond)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "simplechat")
	viper.SetDefault("postgres_password", "simplechat_dev_password")
	viper.SetDefault("postgres_db_name", "simplechat")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Control Center defaults
	viper.SetDefault("snapshot_ttl", DefaultSnapshotTTL)

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4318")
	viper.SetDefault("tracing.service_name", "simplechat")
	viper.SetDefault("tracing.environment", "dev")

	// Serve defaults
	viper.SetDefault("cors_origins", []string{"http://localhost:4200"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 60)
}

// bindEnvVariables binds environment variables explicitly.
// GEMINI_API_KEY and OPENAI_API_KEY are read directly by the Genkit
// provider plugins, not via viper.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "SIMPLECHAT_PROVIDER")
	mustBind("model_name", "SIMPLECHAT_MODEL_NAME")
	mustBind("embedder_model", "SIMPLECHAT_EMBEDDER_MODEL")
	mustBind("ollama_host", "SIMPLECHAT_OLLAMA_HOST")
	mustBind("model_requests_per_second", "SIMPLECHAT_MODEL_REQUESTS_PER_SECOND")

	mustBind("postgres_password", "SIMPLECHAT_POSTGRES_PASSWORD")

	mustBind("snapshot_ttl", "SIMPLECHAT_SNAPSHOT_TTL")

	mustBind("cors_origins", "SIMPLECHAT_CORS_ORIGINS")
	mustBind("trust_proxy", "SIMPLECHAT_TRUST_PROXY")
	mustBind("rate_burst", "SIMPLECHAT_RATE_BURST")

	mustBind("tracing.enabled", "SIMPLECHAT_TRACING_ENABLED")
	mustBind("tracing.endpoint", "SIMPLECHAT_TRACING_ENDPOINT")

	mustBind("identity_token_url", "SIMPLECHAT_IDENTITY_TOKEN_URL")
	mustBind("identity_client_id", "SIMPLECHAT_IDENTITY_CLIENT_ID")
	mustBind("identity_client_secret", "SIMPLECHAT_IDENTITY_CLIENT_SECRET")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 bytes or fewer are fully masked; longer secrets keep the
// first and last 2 characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(*c)
	masked.PostgresPassword = maskSecret(c.PostgresPassword)
	masked.IdentityClientSecret = maskSecret(c.IdentityClientSecret)
	return json.Marshal(masked)
}
