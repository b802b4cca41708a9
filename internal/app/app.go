// Package app provides application initialization and dependency wiring.
// Setup builds the full component graph; Close releases it in reverse order.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/simplechat/simplechat/internal/chat"
	"github.com/simplechat/simplechat/internal/config"
	"github.com/simplechat/simplechat/internal/control"
	"github.com/simplechat/simplechat/internal/conversation"
	"github.com/simplechat/simplechat/internal/document"
	"github.com/simplechat/simplechat/internal/mcp"
	"github.com/simplechat/simplechat/internal/pii"
	"github.com/simplechat/simplechat/internal/tenant"
)

// App is the core application container.
type App struct {
	Config *config.Config

	// Core services
	Genkit   *genkit.Genkit // nil in retrieval-only mode
	Embedder ai.Embedder    // nil in retrieval-only mode
	DBPool   *pgxpool.Pool

	// Domain stores and services
	Tenants       *tenant.Store
	Conversations *conversation.Store
	Documents     *document.Store
	Chat          *chat.Service
	Collector     *control.Collector
	Analyzer      *pii.Analyzer
	MCPClients    *mcp.Manager

	otelCleanup func()
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	slog.Info("shutting down application")

	if a.MCPClients != nil {
		if err := a.MCPClients.Close(); err != nil {
			slog.Warn("closing mcp clients", "error", err)
		}
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		slog.Info("database pool closed")
	}

	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}
