// Package mcpserver exposes a fumen document to AI agents over the Model
// Context Protocol.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"fumen/internal/service"
)

// EventGraphChanged is emitted after every tool that changed the graph.
const EventGraphChanged = "mcp:graph-changed"

// Server is the MCP server for a fumen document.
// It exposes tools, resources, and prompts so AI agents can edit the canvas.
type Server struct {
	mcp     *server.MCPServer
	emitter service.EventEmitter
	layout  *LayoutEngine
	logger  *zap.Logger

	nodes     *service.NodeService
	documents *service.DocumentService
}

// Deps holds the services the MCP server works through.
type Deps struct {
	Nodes *service.NodeService
	// Documents, when set, is saved after every change.
	Documents *service.DocumentService
	Emitter   service.EventEmitter
	Logger    *zap.Logger
}

// New creates and configures a new MCP server with all tools and resources.
func New(deps Deps) *Server {
	s := &Server{
		emitter:   deps.Emitter,
		layout:    NewLayoutEngine(),
		logger:    deps.Logger,
		nodes:     deps.Nodes,
		documents: deps.Documents,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	s.mcp = server.NewMCPServer(
		"fumen-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerNodeTools()
	s.registerResources()
	s.registerPrompts()
	return s
}

// MCPServer returns the underlying server, for transports other than stdio.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	s.logger.Info("starting MCP stdio server")
	return server.ServeStdio(s.mcp)
}

// ── Helpers ────────────────────────────────────────────────

// changed notifies listeners and saves the document after a mutation.
func (s *Server) changed(ctx context.Context) error {
	if s.emitter != nil {
		s.emitter.Emit(ctx, EventGraphChanged, nil)
	}
	if s.documents == nil || s.documents.Info().Path == "" {
		return nil
	}
	if err := s.documents.Save(ctx); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

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
