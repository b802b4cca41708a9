// Package mcp exposes SimpleChat capabilities over the Model Context
// Protocol and connects to external MCP servers as a client. Tool handlers
// are pass-through adapters: they call the same store methods the HTTP
// layer uses and build the MCP response inline, without a conversion layer.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/simplechat/simplechat/internal/control"
	"github.com/simplechat/simplechat/internal/document"
	"github.com/simplechat/simplechat/internal/pii"
)

// DocumentSearcher finds document chunks relevant to a query.
type DocumentSearcher interface {
	Search(ctx context.Context, query string, workspaceIDs []uuid.UUID, topK int32) ([]document.SearchHit, error)
}

// WorkspaceResolver lists the workspaces a user may read.
type WorkspaceResolver interface {
	AccessibleWorkspaces(ctx context.Context, userID string) ([]uuid.UUID, error)
}

// SnapshotProvider returns the current activity snapshot.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (*control.ActivitySnapshot, error)
}

// Server wraps the MCP SDK server around SimpleChat's stores.
type Server struct {
	mcpServer *mcp.Server

	searcher   DocumentSearcher
	workspaces WorkspaceResolver
	analyzer   *pii.Analyzer
	snapshots  SnapshotProvider
}

// Config holds the server identity and its backing services. Searcher,
// Workspaces and Snapshots may be nil; the corresponding tools are then
// not registered.
type Config struct {
	Name    string
	Version string

	Searcher   DocumentSearcher
	Workspaces WorkspaceResolver
	Analyzer   *pii.Analyzer
	Snapshots  SnapshotProvider
}

// NewServer creates an MCP server with the tools the config enables.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		searcher:   cfg.Searcher,
		workspaces: cfg.Workspaces,
		analyzer:   cfg.Analyzer,
		snapshots:  cfg.Snapshots,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	return s, nil
}

// Run starts the server on the given transport. Blocks until the context
// is cancelled or the transport closes.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

func (s *Server) registerTools() error {
	if s.searcher != nil && s.workspaces != nil {
		if err := s.registerSearchDocuments(); err != nil {
			return err
		}
	}
	if s.analyzer != nil {
		if err := s.registerAnalyzePII(); err != nil {
			return err
		}
	}
	if s.snapshots != nil {
		if err := s.registerActivitySnapshot(); err != nil {
			return err
		}
	}
	return nil
}

// SearchDocumentsInput is the input schema for the search_documents tool.
type SearchDocumentsInput struct {
	UserID string `json:"user_id" jsonschema:"The user whose workspace visibility scopes the search"`
	Query  string `json:"query" jsonschema:"The natural-language search query"`
	TopK   int32  `json:"top_k,omitempty" jsonschema:"Maximum number of chunks to return (default 5)"`
}

func (s *Server) registerSearchDocuments() error {
	schema, err := jsonschema.For[SearchDocumentsInput](nil)
	if err != nil {
		return fmt.Errorf("schema for search_documents: %w", err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "search_documents",
		Description: "Search the user's accessible document workspaces by semantic similarity. " +
			"Returns the most relevant chunks with file names and similarity scores.",
		InputSchema: schema,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in SearchDocumentsInput) (*mcp.CallToolResult, any, error) {
		if in.UserID == "" {
			return errorResult("user_id is required"), nil, nil
		}
		if in.Query == "" {
			return errorResult("query is required"), nil, nil
		}
		if in.TopK <= 0 {
			in.TopK = 5
		}

		workspaceIDs, err := s.workspaces.AccessibleWorkspaces(ctx, in.UserID)
		if err != nil {
			return nil, nil, fmt.Errorf("resolving workspaces: %w", err)
		}

		hits, err := s.searcher.Search(ctx, in.Query, workspaceIDs, in.TopK)
		if err != nil {
			return nil, nil, fmt.Errorf("searching documents: %w", err)
		}

		return jsonResult(map[string]any{
			"query": in.Query,
			"hits":  hits,
		})
	})

	return nil
}

// AnalyzePIIInput is the input schema for the analyze_pii tool.
type AnalyzePIIInput struct {
	Text string `json:"text" jsonschema:"The text to scan for personally identifiable information"`
}

func (s *Server) registerAnalyzePII() error {
	schema, err := jsonschema.For[AnalyzePIIInput](nil)
	if err != nil {
		return fmt.Errorf("schema for analyze_pii: %w", err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "analyze_pii",
		Description: "Scan text for personally identifiable information (SSNs, credit cards, " +
			"emails, phone numbers and more). Returns findings by kind with redacted samples.",
		InputSchema: schema,
	}, func(_ context.Context, _ *mcp.CallToolRequest, in AnalyzePIIInput) (*mcp.CallToolResult, any, error) {
		if in.Text == "" {
			return errorResult("text is required"), nil, nil
		}

		findings := s.analyzer.Analyze(in.Text)

		return jsonResult(map[string]any{
			"findings": findings,
			"clean":    len(findings) == 0,
		})
	})

	return nil
}

// ActivitySnapshotInput is the input schema for the activity_snapshot tool.
// The tool takes no arguments.
type ActivitySnapshotInput struct{}

func (s *Server) registerActivitySnapshot() error {
	schema, err := jsonschema.For[ActivitySnapshotInput](nil)
	if err != nil {
		return fmt.Errorf("schema for activity_snapshot: %w", err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "activity_snapshot",
		Description: "Return the current system activity snapshot: user, group, conversation, " +
			"message and document counts plus estimated storage by workspace scope.",
		InputSchema: schema,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ ActivitySnapshotInput) (*mcp.CallToolResult, any, error) {
		snap, err := s.snapshots.Snapshot(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("collecting snapshot: %w", err)
		}

		return jsonResult(snap)
	})

	return nil
}

// jsonResult marshals v and wraps it as a single text content block.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

// errorResult reports an input problem back to the caller as a tool error
// rather than a protocol failure.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
