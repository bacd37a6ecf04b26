package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPConfig describes one MCP server. Command servers speak stdio; URL
// servers speak streamable HTTP. Exactly one of Command or URL is set.
type MCPConfig struct {
	Name    string
	Command []string
	URL     string
	Env     map[string]string
}

// MCPSource connects to an MCP server and exposes its tools through a
// Registry.
type MCPSource struct {
	config  MCPConfig
	session *mcp.ClientSession
}

// NewMCPSource creates a source for the given server config.
func NewMCPSource(config MCPConfig) (*MCPSource, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("mcp server name cannot be empty")
	}
	if len(config.Command) == 0 && config.URL == "" {
		return nil, fmt.Errorf("mcp server %q needs a command or a url", config.Name)
	}
	return &MCPSource{config: config}, nil
}

// Connect establishes the session with the MCP server.
func (s *MCPSource) Connect(ctx context.Context) error {
	transport, err := s.transport(ctx)
	if err != nil {
		return err
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "chatterflow",
		Version: "1.0.0",
	}, &mcp.ClientOptions{})

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to MCP server %s: %w", s.config.Name, err)
	}
	s.session = session
	return nil
}

func (s *MCPSource) transport(ctx context.Context) (mcp.Transport, error) {
	if len(s.config.Command) > 0 {
		cmd := exec.CommandContext(ctx, s.config.Command[0], s.config.Command[1:]...)
		cmd.Env = os.Environ()
		for key, value := range s.config.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
		}
		return &mcp.CommandTransport{Command: cmd}, nil
	}

	return &mcp.StreamableClientTransport{
		Endpoint:   s.config.URL,
		HTTPClient: &http.Client{},
		MaxRetries: 5,
	}, nil
}

// RegisterTools lists the server's tools and registers a proxy for each.
func (s *MCPSource) RegisterTools(ctx context.Context, registry *Registry) (int, error) {
	if s.session == nil {
		return 0, fmt.Errorf("mcp source %q not connected", s.config.Name)
	}

	listed, err := s.session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return 0, fmt.Errorf("failed to list tools from %s: %w", s.config.Name, err)
	}

	registered := 0
	for _, t := range listed.Tools {
		proxy := &mcpTool{source: s, tool: t}
		if err := registry.RegisterFrom(proxy, "mcp:"+s.config.Name); err != nil {
			return registered, err
		}
		registered++
	}
	return registered, nil
}

// ServerInfo returns the connected server's self-reported identity.
func (s *MCPSource) ServerInfo() (name, version string, err error) {
	if s.session == nil {
		return "", "", fmt.Errorf("mcp source %q not connected", s.config.Name)
	}
	info := s.session.InitializeResult().ServerInfo
	if info == nil {
		return "", "", fmt.Errorf("mcp server %q reported no identity", s.config.Name)
	}
	return info.Name, info.Version, nil
}

// Close shuts down the session.
func (s *MCPSource) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	return err
}

// mcpTool proxies a server-side tool through the Tool interface.
type mcpTool struct {
	source *MCPSource
	tool   *mcp.Tool
}

func (t *mcpTool) Name() string        { return t.tool.Name }
func (t *mcpTool) Description() string { return t.tool.Description }

// Parameters converts the server's input schema into the local shape.
// Conversion goes through JSON since the SDK exposes a typed schema.
func (t *mcpTool) Parameters() Parameters {
	params := Parameters{Type: "object"}
	if t.tool.InputSchema == nil {
		return params
	}
	raw, err := json.Marshal(t.tool.InputSchema)
	if err != nil {
		return params
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return Parameters{Type: "object"}
	}
	if params.Type == "" {
		params.Type = "object"
	}
	return params
}

// Validate checks only that required arguments are present. The server
// owns full schema validation for its own tools.
func (t *mcpTool) Validate(args map[string]any) error {
	for _, required := range t.Parameters().Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("missing required argument %q", required)
		}
	}
	return nil
}

func (t *mcpTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	if t.source.session == nil {
		return nil, fmt.Errorf("mcp source %q not connected", t.source.config.Name)
	}

	response, err := t.source.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      t.tool.Name,
		Arguments: args,
	})
	if err != nil {
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("tool call failed: %v", err),
		}, nil
	}

	var data any
	if len(response.Content) > 0 {
		if textContent, ok := response.Content[0].(*mcp.TextContent); ok {
			data = textContent.Text
		} else {
			data = response.Content[0]
		}
	}

	if response.IsError {
		msg := "tool call reported an error"
		if text, ok := data.(string); ok && text != "" {
			msg = text
		}
		return &Result{Success: false, Error: msg}, nil
	}

	return &Result{Success: true, Data: data}, nil
}
