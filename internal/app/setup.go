package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/simplechat/simplechat/db"
	"github.com/simplechat/simplechat/internal/chat"
	"github.com/simplechat/simplechat/internal/config"
	"github.com/simplechat/simplechat/internal/control"
	"github.com/simplechat/simplechat/internal/conversation"
	"github.com/simplechat/simplechat/internal/document"
	"github.com/simplechat/simplechat/internal/mcp"
	"github.com/simplechat/simplechat/internal/observability"
	"github.com/simplechat/simplechat/internal/pii"
	"github.com/simplechat/simplechat/internal/tenant"
	"github.com/simplechat/simplechat/internal/token"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	a := &App{Config: cfg}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				slog.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	if cfg.Provider != config.ProviderNone {
		g, err := provideGenkit(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.Genkit = g

		a.Embedder = provideEmbedder(g, cfg)
		if a.Embedder == nil {
			return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
		}
	}

	a.Tenants = tenant.NewWithPool(pool, slog.Default())
	a.Conversations = conversation.NewWithPool(pool, slog.Default())
	a.Documents = document.NewWithPool(pool, a.Embedder, slog.Default())

	analyzer, err := pii.NewAnalyzer(customPatterns(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("building pii analyzer: %w", err)
	}
	a.Analyzer = analyzer

	a.Collector = control.NewCollector(a.Tenants, a.Conversations, a.Documents, cfg.SnapshotTTL, slog.Default())

	chatService, err := chat.New(chat.Config{
		Genkit:      a.Genkit,
		ModelName:   qualifiedModelName(cfg),
		History:     a.Conversations,
		Retriever:   provideRetriever(a),
		Workspaces:  a.Tenants,
		Logger:      slog.Default(),
		MaxHistory:  cfg.MaxHistoryMessages,
		RateLimiter: provideModelLimiter(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat service: %w", err)
	}
	a.Chat = chatService

	a.MCPClients = mcp.NewManager(slog.Default(), provideTokenSource(cfg))
	a.MCPClients.Connect(ctx, config.LoadMCPServers())

	return a, nil
}

// provideOtelShutdown sets up OTLP tracing before Genkit initialization,
// so the TracerProvider is ready when plugins register spans.
func provideOtelShutdown(ctx context.Context, cfg *config.Config) func() {
	if !cfg.Tracing.Enabled {
		return func() {}
	}

	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Tracing.Environment,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		slog.Warn("setting up tracing", "error", err)
		return func() {}
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default), ollama, and openai providers.
func provideGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g := genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery)
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		slog.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)
		return g, nil

	case config.ProviderOpenAI:
		g := genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		slog.Info("initialized Genkit with openai provider", "model", cfg.ModelName)
		return g, nil

	default: // gemini
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		slog.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
		return g, nil
	}
}

// provideEmbedder looks up the embedder registered by the provider plugin.
// Each provider registers embedders differently:
//   - gemini: GoogleAIEmbedder(g, modelName)
//   - ollama: registered in provideGenkit, keyed by server address
//   - openai: auto-registered in Init(), looked up by model name
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default: // gemini
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideRetriever returns the chat retriever. Without an embedder the
// document store cannot embed queries, so retrieval degrades to no hits
// instead of erroring every chat turn.
func provideRetriever(a *App) chat.Retriever {
	if a.Embedder == nil {
		return noRetriever{}
	}
	return a.Documents
}

type noRetriever struct{}

func (noRetriever) Search(context.Context, string, []uuid.UUID, int32) ([]document.SearchHit, error) {
	return nil, nil
}

// provideTokenSource builds the cached access-token source for external
// tool servers, or nil when no identity provider is configured.
func provideTokenSource(cfg *config.Config) mcp.TokenSource {
	if cfg.IdentityTokenURL == "" {
		return nil
	}

	source := token.NewClientCredentialsSource(nil,
		cfg.IdentityTokenURL, cfg.IdentityClientID, cfg.IdentityClientSecret)

	return token.NewCachedSource(source, slog.Default())
}

// provideModelLimiter builds the process-wide throttle for outbound model
// calls, or nil when the configured rate is zero.
func provideModelLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.ModelRequestsPerSecond <= 0 {
		return nil
	}

	burst := int(cfg.ModelRequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.ModelRequestsPerSecond), burst)
}

// qualifiedModelName prefixes the model name with its Genkit provider
// namespace when the config carries a bare name.
func qualifiedModelName(cfg *config.Config) string {
	if cfg.Provider == config.ProviderNone || cfg.ModelName == "" {
		return ""
	}
	if strings.Contains(cfg.ModelName, "/") {
		return cfg.ModelName
	}

	switch cfg.Provider {
	case config.ProviderOllama:
		return "ollama/" + cfg.ModelName
	case config.ProviderOpenAI:
		return "openai/" + cfg.ModelName
	default: // gemini
		return "googleai/" + cfg.ModelName
	}
}

// customPatterns converts configured PII patterns into analyzer customs.
func customPatterns(cfg *config.Config) []pii.Custom {
	customs := make([]pii.Custom, 0, len(cfg.PIIPatterns))
	for _, p := range cfg.PIIPatterns {
		customs = append(customs, pii.Custom{Name: p.Name, Pattern: p.Pattern})
	}
	return customs
}
