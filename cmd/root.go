// Package cmd provides CLI commands for SimpleChat.
//
// Commands:
//   - serve: HTTP API server (chat, search, PII analysis, control center)
//   - mcp: Model Context Protocol server for IDE integration
//   - migrate: apply database migrations and exit
//
// Signal handling and graceful shutdown are implemented
// for all long-running commands via context cancellation.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "simplechat",
	Short: "SimpleChat - multi-tenant chat and retrieval service",
	Long: `SimpleChat is a multi-tenant chat service with document retrieval,
PII analysis, and a Control Center activity dashboard.

Run "simplechat serve" to start the HTTP API server, or
"simplechat mcp" to expose its tools over the Model Context Protocol.`,
	SilenceUsage: true,
}

// Execute is the main entry point for the SimpleChat CLI application.
func Execute() error {
	// Initialize logger once at entry point.
	// IMPORTANT: logs go to stderr; in mcp mode stdout is reserved for JSON-RPC.
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	return rootCmd.Execute()
}
