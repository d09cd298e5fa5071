// Package mcpserver exposes the configured tasks to AI agents over the Model
// Context Protocol.
package mcpserver

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"saasloader/internal/service"
)

// Server is the MCP server for saasloader.
type Server struct {
	mcp    *server.MCPServer
	tasks  *service.TaskService
	logger *slog.Logger
}

// Deps holds what the server needs from the CLI layer.
type Deps struct {
	Tasks   *service.TaskService
	Logger  *slog.Logger
	Version string
}

// New creates and configures a new MCP server with all tools, resources and
// prompts.
func New(deps Deps) *Server {
	s := &Server{tasks: deps.Tasks, logger: deps.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s.mcp = server.NewMCPServer(
		"saasloader",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerTaskTools()
	s.registerResources()
	s.registerPrompts()
	return s
}

// ServeStdio serves on stdin/stdout until stdin closes. Logs must go to
// stderr while this runs.
func (s *Server) ServeStdio() error {
	s.logger.Info("mcp stdio server starting")
	return server.ServeStdio(s.mcp)
}

// ── Helpers ────────────────────────────────────────────────

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}
