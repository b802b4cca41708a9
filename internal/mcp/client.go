package mcp

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/simplechat/simplechat/internal/config"
	"github.com/simplechat/simplechat/internal/log"
	"github.com/simplechat/simplechat/internal/token"
)

// accessTokenEnv carries the upstream access token to spawned servers.
const accessTokenEnv = "SIMPLECHAT_ACCESS_TOKEN"

// TokenSource supplies the access token forwarded to spawned servers.
// A nil TokenSource means servers are launched without one.
type TokenSource interface {
	Get(ctx context.Context) (token.Token, error)
}

// RemoteTool identifies a tool on a connected external server.
type RemoteTool struct {
	Server      string `json:"server"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Manager maintains client sessions to external MCP servers launched as
// subprocesses over stdio. Safe for concurrent use after Connect.
type Manager struct {
	logger log.Logger
	tokens TokenSource

	mu       sync.RWMutex
	sessions map[string]*mcp.ClientSession
}

// NewManager creates an empty manager. tokens may be nil.
func NewManager(logger log.Logger, tokens TokenSource) *Manager {
	if logger == nil {
		logger = log.NewNop()
	}

	return &Manager{
		logger:   logger,
		tokens:   tokens,
		sessions: make(map[string]*mcp.ClientSession),
	}
}

// Connect launches each configured server and performs the MCP handshake.
// A server that fails to start is logged and skipped; the manager stays
// usable with the servers that did come up.
func (m *Manager) Connect(ctx context.Context, servers []config.MCPServerConfig) {
	for _, sc := range servers {
		session, err := m.connectOne(ctx, sc)
		if err != nil {
			m.logger.Warn("mcp server unavailable", "server", sc.Name, "error", err)
			continue
		}

		m.mu.Lock()
		m.sessions[sc.Name] = session
		m.mu.Unlock()

		m.logger.Info("mcp server connected", "server", sc.Name, "command", sc.Command)
	}
}

func (m *Manager) connectOne(ctx context.Context, sc config.MCPServerConfig) (*mcp.ClientSession, error) {
	cmd := exec.Command(sc.Command, sc.Args...)
	cmd.Env = append(os.Environ(), sc.Env...)

	if m.tokens != nil {
		tok, err := m.tokens.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquiring access token for %s: %w", sc.Name, err)
		}
		cmd.Env = append(cmd.Env, accessTokenEnv+"="+tok.Value)
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "simplechat",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", sc.Name, err)
	}

	return session, nil
}

// ListTools aggregates the tool catalogs of all connected servers,
// sorted by server then tool name.
func (m *Manager) ListTools(ctx context.Context) ([]RemoteTool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tools []RemoteTool
	for name, session := range m.sessions {
		result, err := session.ListTools(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("listing tools on %s: %w", name, err)
		}

		for _, tool := range result.Tools {
			tools = append(tools, RemoteTool{
				Server:      name,
				Name:        tool.Name,
				Description: tool.Description,
			})
		}
	}

	sort.Slice(tools, func(i, j int) bool {
		if tools[i].Server != tools[j].Server {
			return tools[i].Server < tools[j].Server
		}
		return tools[i].Name < tools[j].Name
	})

	return tools, nil
}

// CallTool invokes "server.tool" with the given arguments and returns the
// concatenated text content of the result.
func (m *Manager) CallTool(ctx context.Context, qualifiedName string, args map[string]any) (string, error) {
	server, tool, ok := strings.Cut(qualifiedName, ".")
	if !ok {
		return "", fmt.Errorf("tool name %q must be qualified as server.tool", qualifiedName)
	}

	m.mu.RLock()
	session, found := m.sessions[server]
	m.mu.RUnlock()

	if !found {
		return "", fmt.Errorf("mcp server %q is not connected", server)
	}

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("calling %s: %w", qualifiedName, err)
	}

	var sb strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}

	if result.IsError {
		return "", fmt.Errorf("tool %s failed: %s", qualifiedName, sb.String())
	}

	return sb.String(), nil
}

// Close shuts down all sessions. Errors are collected, not short-circuited.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []string
	for name, session := range m.sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
		delete(m.sessions, name)
	}

	if len(errs) > 0 {
		return fmt.Errorf("closing mcp sessions: %s", strings.Join(errs, "; "))
	}

	return nil
}
