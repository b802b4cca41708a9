package mcp

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/simplechat/simplechat/internal/control"
	"github.com/simplechat/simplechat/internal/document"
	"github.com/simplechat/simplechat/internal/pii"
)

type fakeSearcher struct {
	hits []document.SearchHit
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, _ string, _ []uuid.UUID, _ int32) ([]document.SearchHit, error) {
	return f.hits, f.err
}

type fakeResolver struct {
	workspaces []uuid.UUID
}

func (f *fakeResolver) AccessibleWorkspaces(context.Context, string) ([]uuid.UUID, error) {
	return f.workspaces, nil
}

type fakeSnapshots struct {
	snap *control.ActivitySnapshot
	err  error
}

func (f *fakeSnapshots) Snapshot(context.Context) (*control.ActivitySnapshot, error) {
	return f.snap, f.err
}

func testConfig(t *testing.T) Config {
	t.Helper()

	analyzer, err := pii.NewAnalyzer()
	if err != nil {
		t.Fatalf("NewAnalyzer() unexpected error: %v", err)
	}

	return Config{
		Name:    "simplechat-test",
		Version: "0.0.1",
		Searcher: &fakeSearcher{hits: []document.SearchHit{
			{FileName: "handbook.pdf", Content: "remote work policy", Similarity: 0.91},
		}},
		Workspaces: &fakeResolver{workspaces: []uuid.UUID{uuid.New()}},
		Analyzer:   analyzer,
		Snapshots: &fakeSnapshots{snap: &control.ActivitySnapshot{
			Users:       4,
			Messages:    120,
			GeneratedAt: time.Now(),
		}},
	}
}

// connectServer creates a server from the config and an SDK client connected
// via in-memory transports. Both sessions are cleaned up via t.Cleanup.
func connectServer(t *testing.T, cfg Config) *mcp.ClientSession {
	t.Helper()

	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() unexpected error: %v", err)
	}

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	serverSession, err := server.mcpServer.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server.Connect() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	clientSession, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client.Connect() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = clientSession.Close() })

	return clientSession
}

func TestNewServer_RequiresIdentity(t *testing.T) {
	if _, err := NewServer(Config{Version: "1.0.0"}); err == nil {
		t.Error("NewServer() without name: error = nil, want failure")
	}
	if _, err := NewServer(Config{Name: "simplechat"}); err == nil {
		t.Error("NewServer() without version: error = nil, want failure")
	}
}

func TestProtocol_ListTools(t *testing.T) {
	session := connectServer(t, testConfig(t))

	result, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools() unexpected error: %v", err)
	}

	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
		if tool.Description == "" {
			t.Errorf("tool %q has empty description", tool.Name)
		}
	}
	sort.Strings(names)

	wantNames := []string{"activity_snapshot", "analyze_pii", "search_documents"}
	if len(names) != len(wantNames) {
		t.Fatalf("ListTools() returned %d tools, want %d\ngot:  %v\nwant: %v",
			len(names), len(wantNames), names, wantNames)
	}
	for i, got := range names {
		if got != wantNames[i] {
			t.Errorf("ListTools() tool[%d] = %q, want %q", i, got, wantNames[i])
		}
	}
}

func TestProtocol_ListTools_DisabledServices(t *testing.T) {
	cfg := testConfig(t)
	cfg.Searcher = nil
	cfg.Snapshots = nil

	session := connectServer(t, cfg)

	result, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools() unexpected error: %v", err)
	}

	if len(result.Tools) != 1 || result.Tools[0].Name != "analyze_pii" {
		t.Errorf("ListTools() = %v, want only analyze_pii", result.Tools)
	}
}

func TestProtocol_CallTool_AnalyzePII(t *testing.T) {
	session := connectServer(t, testConfig(t))

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "analyze_pii",
		Arguments: map[string]any{
			"text": "my ssn is 123-45-6789, reach me at bob@example.com",
		},
	})
	if err != nil {
		t.Fatalf("CallTool() unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("CallTool() returned tool error: %v", result.Content)
	}

	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] is %T, want *mcp.TextContent", result.Content[0])
	}

	var payload struct {
		Findings []pii.Finding `json:"findings"`
		Clean    bool          `json:"clean"`
	}
	if err := json.Unmarshal([]byte(text.Text), &payload); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}

	if payload.Clean {
		t.Error("clean = true, want findings")
	}

	kinds := make(map[pii.Kind]bool)
	for _, f := range payload.Findings {
		kinds[f.Kind] = true
	}
	if !kinds[pii.KindSSN] || !kinds[pii.KindEmail] {
		t.Errorf("findings kinds = %v, want ssn and email", kinds)
	}
}

func TestProtocol_CallTool_AnalyzePII_EmptyText(t *testing.T) {
	session := connectServer(t, testConfig(t))

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "analyze_pii",
		Arguments: map[string]any{"text": ""},
	})
	if err != nil {
		t.Fatalf("CallTool() unexpected error: %v", err)
	}

	if !result.IsError {
		t.Error("IsError = false, want tool error for empty text")
	}
}

func TestProtocol_CallTool_SearchDocuments(t *testing.T) {
	session := connectServer(t, testConfig(t))

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "search_documents",
		Arguments: map[string]any{
			"user_id": "alice@example.com",
			"query":   "remote work",
		},
	})
	if err != nil {
		t.Fatalf("CallTool() unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("CallTool() returned tool error: %v", result.Content)
	}

	text := result.Content[0].(*mcp.TextContent)
	if !strings.Contains(text.Text, "handbook.pdf") {
		t.Errorf("result %q does not mention the matched file", text.Text)
	}
}

func TestProtocol_CallTool_ActivitySnapshot(t *testing.T) {
	session := connectServer(t, testConfig(t))

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "activity_snapshot",
	})
	if err != nil {
		t.Fatalf("CallTool() unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("CallTool() returned tool error: %v", result.Content)
	}

	text := result.Content[0].(*mcp.TextContent)

	var snap control.ActivitySnapshot
	if err := json.Unmarshal([]byte(text.Text), &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	if snap.Users != 4 || snap.Messages != 120 {
		t.Errorf("snapshot = %d users / %d messages, want 4/120", snap.Users, snap.Messages)
	}
}
