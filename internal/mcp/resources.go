package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	graphURI      = "fumen://graph"
	nodeURIPrefix = "fumen://node/"
)

func (s *Server) registerResources() {
	// ── fumen://graph ──────────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		graphURI,
		"Canvas graph",
		mcp.WithResourceDescription("Every node and connection of the open document"),
		mcp.WithMIMEType("application/json"),
	), s.handleGraphResource)

	// ── fumen://node/{id} ──────────────────────────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			nodeURIPrefix+"{id}",
			"One node",
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleNodeResource,
	)
}

func (s *Server) handleGraphResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	graph, err := s.nodes.Graph(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]nodeSummary, 0, len(graph.Fields)+len(graph.Texts))
	for _, f := range graph.Fields {
		summaries = append(summaries, summarizeField(f))
	}
	for _, t := range graph.Texts {
		summaries = append(summaries, summarizeText(t))
	}

	data, err := json.MarshalIndent(map[string]any{
		"nodes":       summaries,
		"connections": graph.Connections,
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      graphURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleNodeResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	id, err := strconv.ParseInt(strings.TrimPrefix(uri, nodeURIPrefix), 10, 64)
	if err != nil || !strings.HasPrefix(uri, nodeURIPrefix) {
		return nil, fmt.Errorf("could not extract node id from URI: %s", uri)
	}

	res, err := s.handleGetNode(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Arguments: map[string]any{"id": float64(id)}},
	})
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     res.Content[0].(mcp.TextContent).Text,
		},
	}, nil
}
