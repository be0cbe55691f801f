// Package mcpproxy brokers configured MCP tool servers: it connects on
// demand, lists their tools, and forwards invocations.
package mcpproxy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/codescope-dev/codescope/internal/apperror"
)

// ServerConfig describes one MCP server. Command starts a stdio server;
// URL points at a streamable HTTP server. Exactly one must be set.
type ServerConfig struct {
	Name    string   `json:"name"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
	URL     string   `json:"url,omitempty"`
}

// ToolInfo is one tool of a connected server.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// InvokeResult carries a tool invocation outcome. Tool failures land in
// ToolError rather than becoming transport errors.
type InvokeResult struct {
	Content   string `json:"content"`
	ToolError string `json:"tool_error,omitempty"`
}

// Proxy is the MCP server registry. Connections are established lazily
// and reused.
type Proxy struct {
	mu      sync.Mutex
	servers map[string]ServerConfig
	conns   map[string]*mcpclient.Client
}

// NewProxy creates a proxy seeded with the configured servers.
func NewProxy(configs []ServerConfig) *Proxy {
	p := &Proxy{
		servers: make(map[string]ServerConfig),
		conns:   make(map[string]*mcpclient.Client),
	}
	for _, c := range configs {
		p.servers[c.Name] = c
	}
	return p
}

// Register adds or replaces a server configuration. An existing
// connection under that name is dropped.
func (p *Proxy) Register(cfg ServerConfig) error {
	if cfg.Name == "" {
		return apperror.BadRequest("server name is required")
	}
	if (cfg.Command == "") == (cfg.URL == "") {
		return apperror.BadRequest("exactly one of command or url must be set")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.conns[cfg.Name]; ok {
		_ = conn.Close()
		delete(p.conns, cfg.Name)
	}
	p.servers[cfg.Name] = cfg
	return nil
}

// Deregister removes a server and closes its connection.
func (p *Proxy) Deregister(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.conns[name]; ok {
		_ = conn.Close()
		delete(p.conns, name)
	}
	delete(p.servers, name)
}

// ListServers returns the configured server names, sorted.
func (p *Proxy) ListServers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.servers))
	for name := range p.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListTools connects to a server if needed and lists its tools.
func (p *Proxy) ListTools(ctx context.Context, server string) ([]ToolInfo, error) {
	conn, err := p.connect(ctx, server)
	if err != nil {
		return nil, err
	}
	res, err := conn.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		p.drop(server)
		return nil, fmt.Errorf("failed to list tools of %s: %w", server, err)
	}
	tools := make([]ToolInfo, 0, len(res.Tools))
	for _, t := range res.Tools {
		tools = append(tools, ToolInfo{Name: t.Name, Description: t.Description})
	}
	return tools, nil
}

// Invoke calls a tool. A failing tool returns an InvokeResult with
// ToolError set; only transport and registry failures return an error.
func (p *Proxy) Invoke(ctx context.Context, server, tool string, args map[string]any) (InvokeResult, error) {
	conn, err := p.connect(ctx, server)
	if err != nil {
		return InvokeResult{}, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	res, err := conn.CallTool(ctx, req)
	if err != nil {
		p.drop(server)
		return InvokeResult{}, &apperror.Error{
			Code:    "tool_invocation_failed",
			Type:    apperror.TypeToolError,
			Message: fmt.Sprintf("invocation of %s/%s failed", server, tool),
			Cause:   err,
		}
	}

	text := flattenContent(res.Content)
	if res.IsError {
		return InvokeResult{ToolError: text}, nil
	}
	return InvokeResult{Content: text}, nil
}

// Close shuts every live connection. The proxy stays usable; connections
// reopen on demand.
func (p *Proxy) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, conn := range p.conns {
		_ = conn.Close()
		delete(p.conns, name)
	}
}

// connect returns a live client for the named server, dialing on first
// use.
func (p *Proxy) connect(ctx context.Context, server string) (*mcpclient.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[server]; ok {
		return conn, nil
	}
	cfg, ok := p.servers[server]
	if !ok {
		return nil, fmt.Errorf("mcp server %s: %w", server, apperror.ErrNotFound)
	}

	var (
		conn *mcpclient.Client
		err  error
	)
	if cfg.Command != "" {
		conn, err = mcpclient.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	} else {
		conn, err = mcpclient.NewStreamableHttpClient(cfg.URL)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start mcp client %s: %w", server, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "codescope", Version: "1.0"}
	if _, err := conn.Initialize(ctx, initReq); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize mcp server %s: %w", server, err)
	}

	p.conns[server] = conn
	return conn, nil
}

// drop discards a connection after a transport failure so the next call
// redials.
func (p *Proxy) drop(server string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.conns[server]; ok {
		_ = conn.Close()
		delete(p.conns, server)
	}
}

// flattenContent joins the text parts of a tool result.
func flattenContent(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
