package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("build_opener",
		mcp.WithPromptDescription("Lay out an opener as a chain of connected field nodes, one per placement"),
		mcp.WithArgument("opener",
			mcp.ArgumentDescription("Name of the opener, e.g. TKI or PCO"),
			mcp.RequiredArgument(),
		),
	), s.handleOpenerPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("annotate_fields",
		mcp.WithPromptDescription("Add a short text note next to every field node that has none"),
	), s.handleAnnotatePrompt)
}

func (s *Server) handleOpenerPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	opener := req.Params.Arguments["opener"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Lay out the %s opener", opener),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Lay out the "%s" opener on the canvas. Follow these steps:

1. Use list_nodes to see what is already on the canvas
2. For each placement, use create_field with a board whose "field" rows (top to bottom, 10 cells each, "_" for empty, IOTLJSZ for pieces, X for garbage) show the stack after that placement
3. Use connect_nodes to link each field to the next one (directionFrom right, directionTo left)
4. Use create_text to title the chain with "%s"
5. Finish with arrange_nodes so the chain reads left to right`, opener, opener),
				},
			},
		},
	}, nil
}

func (s *Server) handleAnnotatePrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Annotate field nodes",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: `Read the fumen://graph resource. For every field node without a text node within 80 pixels above it:

1. Describe the board in one short line (stack shape, holes, T-spin setups)
2. Use create_text with that line, placed 70 pixels above the field's centre
3. Use style_text to make the note size 12

Do not move or change any existing node.`,
				},
			},
		},
	}, nil
}
