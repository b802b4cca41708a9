package config

import "os"

// MCPServerConfig describes one external MCP server launched over stdio.
type MCPServerConfig struct {
	Name    string   `mapstructure:"name" json:"name"`
	Command string   `mapstructure:"command" json:"command"`
	Args    []string `mapstructure:"args" json:"args"`
	Env     []string `mapstructure:"env" json:"env"`
}

// LoadMCPServers returns the external MCP servers available to the chat
// plugin layer. Follows 12-factor configuration: servers are enabled by the
// presence of their credential environment variables.
//
// Supported servers:
//   - GitHub: GITHUB_TOKEN or GITHUB_PERSONAL_ACCESS_TOKEN
//   - Notion: NOTION_API_KEY
//   - Context7: always enabled (CONTEXT7_API_KEY optional)
func LoadMCPServers() []MCPServerConfig {
	var servers []MCPServerConfig

	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		token = os.Getenv("GITHUB_PERSONAL_ACCESS_TOKEN")
	}
	if token != "" {
		servers = append(servers, MCPServerConfig{
			Name:    "github",
			Command: "npx",
			Args:    []string{"-y", "@modelcontextprotocol/server-github"},
			Env:     []string{"GITHUB_PERSONAL_ACCESS_TOKEN=" + token},
		})
	}

	if apiKey := os.Getenv("NOTION_API_KEY"); apiKey != "" {
		servers = append(servers, MCPServerConfig{
			Name:    "notion",
			Command: "npx",
			Args:    []string{"-y", "@notionhq/mcp-server-notion"},
			Env:     []string{"NOTION_API_KEY=" + apiKey},
		})
	}

	// Context7 documentation search works without credentials; the API key
	// only raises rate limits.
	ctx7 := MCPServerConfig{
		Name:    "context7",
		Command: "npx",
		Args:    []string{"-y", "@upstash/context7-mcp"},
	}
	if apiKey := os.Getenv("CONTEXT7_API_KEY"); apiKey != "" {
		ctx7.Env = []string{"CONTEXT7_API_KEY=" + apiKey}
	}
	servers = append(servers, ctx7)

	return servers
}
