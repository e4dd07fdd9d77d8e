// Package mcp implements the tool executor port over the Model Context
// Protocol, launching each configured server as a stdio subprocess.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpprotocol "github.com/mark3labs/mcp-go/mcp"

	"github.com/Strob0t/ContextForge/internal/config"
	"github.com/Strob0t/ContextForge/internal/domain"
	"github.com/Strob0t/ContextForge/internal/port/modelclient"
)

// Executor connects to one MCP server and runs its tools.
type Executor struct {
	name   string
	client mcpclient.MCPClient
	tools  []mcpprotocol.Tool
}

// Connect launches the server process, performs the Initialize handshake
// and discovers the advertised tools.
func Connect(ctx context.Context, def config.MCPServer) (*Executor, error) {
	client, err := mcpclient.NewStdioMCPClient(def.Command, envMapToSlice(def.Env), def.Args...)
	if err != nil {
		return nil, fmt.Errorf("mcp %s: create client: %w", def.Name, err)
	}

	initReq := mcpprotocol.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpprotocol.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpprotocol.Implementation{
		Name:    "contextforge",
		Version: "1.0.0",
	}
	initResult, err := client.Initialize(ctx, initReq)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("mcp %s: initialize: %w", def.Name, err)
	}

	toolsResult, err := client.ListTools(ctx, mcpprotocol.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("mcp %s: tools/list: %w", def.Name, err)
	}

	slog.Info("mcp server connected",
		"name", def.Name,
		"server", initResult.ServerInfo.Name,
		"version", initResult.ServerInfo.Version,
		"tools", len(toolsResult.Tools))

	return &Executor{
		name:   def.Name,
		client: client,
		tools:  toolsResult.Tools,
	}, nil
}

// Name identifies the backing server.
func (e *Executor) Name() string { return e.name }

// Tools lists the discovered tool names.
func (e *Executor) Tools() []string {
	out := make([]string, len(e.tools))
	for i, t := range e.tools {
		out[i] = t.Name
	}
	return out
}

// Specs exposes the discovered tools in the form the model client advertises.
func (e *Executor) Specs() []modelclient.ToolSpec {
	out := make([]modelclient.ToolSpec, 0, len(e.tools))
	for _, t := range e.tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		out = append(out, modelclient.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Schema:      schema,
		})
	}
	return out
}

// Execute runs one tool call and flattens the result content to text.
func (e *Executor) Execute(ctx context.Context, tool string, args json.RawMessage) (string, error) {
	known := false
	for _, t := range e.tools {
		if t.Name == tool {
			known = true
			break
		}
	}
	if !known {
		return "", fmt.Errorf("%w: tool %q on server %q", domain.ErrNotFound, tool, e.name)
	}

	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return "", fmt.Errorf("%w: tool %q arguments: %v", domain.ErrValidation, tool, err)
		}
	}

	req := mcpprotocol.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = arguments

	result, err := e.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp %s: call %s: %w", e.name, tool, err)
	}

	text := flattenContent(result.Content)
	if result.IsError {
		return "", fmt.Errorf("mcp %s: tool %s reported error: %s", e.name, tool, text)
	}
	return text, nil
}

// Close shuts down the server subprocess.
func (e *Executor) Close() error {
	return e.client.Close()
}

func flattenContent(content []mcpprotocol.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(mcpprotocol.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// envMapToSlice converts a map to the KEY=VALUE slice format expected by exec.Cmd.
func envMapToSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
