package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"fumen/internal/domain"
)

func (s *Server) registerNodeTools() {
	// ── list_nodes ─────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("list_nodes",
		mcp.WithDescription("List the nodes on the canvas, optionally filtered by kind"),
		mcp.WithString("kind", mcp.Description("Filter by kind: field or text (optional)")),
	), s.handleListNodes)

	// ── get_node ───────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("get_node",
		mcp.WithDescription("Get one node with its full board or text"),
		mcp.WithNumber("id", mcp.Description("Node ID"), mcp.Required()),
	), s.handleGetNode)

	// ── create_field ───────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("create_field",
		mcp.WithDescription("Create a field node showing a Tetris board. Position is auto-calculated if not provided."),
		mcp.WithString("board",
			mcp.Description(`Board JSON, e.g. {"field":["__________","IIII__OO__"]} with rows top to bottom`),
			mcp.Required(),
		),
		mcp.WithNumber("x", mcp.Description("Centre X (optional, auto-layout if omitted)")),
		mcp.WithNumber("y", mcp.Description("Centre Y (optional, auto-layout if omitted)")),
	), s.handleCreateField)

	// ── create_text ────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("create_text",
		mcp.WithDescription("Create a text annotation. Position is auto-calculated if not provided."),
		mcp.WithString("text", mcp.Description("Text content"), mcp.Required()),
		mcp.WithNumber("x", mcp.Description("Centre X (optional, auto-layout if omitted)")),
		mcp.WithNumber("y", mcp.Description("Centre Y (optional, auto-layout if omitted)")),
		mcp.WithNumber("size", mcp.Description("Font size in pixels (optional)")),
		mcp.WithString("color", mcp.Description("Text colour (optional)")),
		mcp.WithString("backgroundColor", mcp.Description("Background colour (optional)")),
	), s.handleCreateText)

	// ── move_node ──────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("move_node",
		mcp.WithDescription("Move a node to a new position on the canvas"),
		mcp.WithNumber("id", mcp.Description("Node ID"), mcp.Required()),
		mcp.WithNumber("x", mcp.Description("New centre X"), mcp.Required()),
		mcp.WithNumber("y", mcp.Description("New centre Y"), mcp.Required()),
	), s.handleMoveNode)

	// ── set_board ──────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("set_board",
		mcp.WithDescription("Replace the board of a field node. Its thumbnail is re-rendered."),
		mcp.WithNumber("id", mcp.Description("Field node ID"), mcp.Required()),
		mcp.WithString("board", mcp.Description("Board JSON"), mcp.Required()),
	), s.handleSetBoard)

	// ── edit_text ──────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("edit_text",
		mcp.WithDescription("Replace the text of a text node"),
		mcp.WithNumber("id", mcp.Description("Text node ID"), mcp.Required()),
		mcp.WithString("text", mcp.Description("New text"), mcp.Required()),
	), s.handleEditText)

	// ── style_text ─────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("style_text",
		mcp.WithDescription("Change the size and colours of a text node. Omitted values are kept."),
		mcp.WithNumber("id", mcp.Description("Text node ID"), mcp.Required()),
		mcp.WithNumber("size", mcp.Description("Font size in pixels")),
		mcp.WithString("color", mcp.Description("Text colour")),
		mcp.WithString("backgroundColor", mcp.Description("Background colour")),
	), s.handleStyleText)

	// ── delete_node (destructive) ──────────────────────
	s.mcp.AddTool(mcp.NewTool("delete_node",
		mcp.WithDescription("🛑 DESTRUCTIVE: Delete a node and its connections."),
		mcp.WithNumber("id", mcp.Description("Node ID to delete"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleDeleteNode)

	// ── connect_nodes ──────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("connect_nodes",
		mcp.WithDescription("Draw an edge between two nodes"),
		mcp.WithNumber("fromId", mcp.Description("Source node ID"), mcp.Required()),
		mcp.WithNumber("toId", mcp.Description("Target node ID"), mcp.Required()),
		mcp.WithString("directionFrom", mcp.Description("Side of the source: top, right, bottom, left (default right)")),
		mcp.WithString("directionTo", mcp.Description("Side of the target: top, right, bottom, left (default left)")),
	), s.handleConnectNodes)

	// ── disconnect_nodes ───────────────────────────────
	s.mcp.AddTool(mcp.NewTool("disconnect_nodes",
		mcp.WithDescription("Remove an edge between two nodes"),
		mcp.WithNumber("fromId", mcp.Description("Source node ID"), mcp.Required()),
		mcp.WithNumber("toId", mcp.Description("Target node ID"), mcp.Required()),
		mcp.WithString("directionFrom", mcp.Description("Side of the source (default right)")),
		mcp.WithString("directionTo", mcp.Description("Side of the target (default left)")),
	), s.handleDisconnectNodes)

	// ── arrange_nodes ──────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("arrange_nodes",
		mcp.WithDescription("Auto-arrange all nodes in rows, fields first"),
		mcp.WithNumber("startX", mcp.Description("Starting X position (default 0)")),
		mcp.WithNumber("startY", mcp.Description("Starting Y position (default 0)")),
	), s.handleArrangeNodes)

	// ── refresh_thumbnails ─────────────────────────────
	s.mcp.AddTool(mcp.NewTool("refresh_thumbnails",
		mcp.WithDescription("Re-render every stale field thumbnail"),
	), s.handleRefreshThumbnails)
}

// ── Handlers ───────────────────────────────────────────────

type nodeSummary struct {
	ID    int64           `json:"id"`
	Kind  domain.Kind     `json:"kind"`
	X     float64         `json:"x"`
	Y     float64         `json:"y"`
	Board json.RawMessage `json:"board,omitempty"`
	Text  string          `json:"text,omitempty"`
}

func summarizeField(n domain.FieldNode) nodeSummary {
	out := nodeSummary{Kind: domain.KindField, Board: json.RawMessage(n.Board)}
	out.ID, _ = n.NodeID()
	out.X, out.Y = deref(n.X), deref(n.Y)
	if !json.Valid(n.Board) {
		out.Board = nil
	}
	return out
}

func summarizeText(n domain.TextNode) nodeSummary {
	out := nodeSummary{Kind: domain.KindText}
	out.ID, _ = n.NodeID()
	out.X, out.Y = deref(n.X), deref(n.Y)
	if n.Text != nil {
		out.Text = *n.Text
		if len(out.Text) > 200 {
			out.Text = out.Text[:200] + "..."
		}
	}
	return out
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (s *Server) handleListNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind := domain.Kind(getString(req.GetArguments(), "kind"))
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("unknown kind %q: %w", kind, domain.ErrInvalidInput)
	}
	graph, err := s.nodes.Graph(ctx)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}

	summaries := make([]nodeSummary, 0, len(graph.Fields)+len(graph.Texts))
	if kind == "" || kind == domain.KindField {
		for _, f := range graph.Fields {
			summaries = append(summaries, summarizeField(f))
		}
	}
	if kind == "" || kind == domain.KindText {
		for _, t := range graph.Texts {
			summaries = append(summaries, summarizeText(t))
		}
	}
	return jsonResult(map[string]any{
		"nodes":       summaries,
		"connections": graph.Connections,
		"currentId":   graph.CurrentID,
	})
}

func (s *Server) handleGetNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := getID(req.GetArguments(), "id")
	if err != nil {
		return nil, err
	}
	n, err := s.nodes.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	switch v := n.(type) {
	case domain.FieldNode:
		fresh := v.ThumbnailFresh()
		// Thumbnails are data URLs; agents get the board instead.
		v.Thumbnail = nil
		return jsonResult(struct {
			Kind domain.Kind `json:"kind"`
			domain.FieldNode
			Fresh bool `json:"thumbnailFresh"`
		}{domain.KindField, v, fresh})
	case domain.TextNode:
		return jsonResult(struct {
			Kind domain.Kind `json:"kind"`
			domain.TextNode
		}{domain.KindText, v})
	default:
		return nil, fmt.Errorf("node %d: %w", id, domain.ErrUnknownKind)
	}
}

func (s *Server) handleCreateField(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	board, err := parseBoard(getString(args, "board"))
	if err != nil {
		return nil, err
	}
	x, y, err := s.position(ctx, args, fieldW, fieldH)
	if err != nil {
		return nil, err
	}
	id, err := s.nodes.CreateField(ctx, board, x, y)
	if err != nil {
		return nil, err
	}
	if err := s.changed(ctx); err != nil {
		return nil, err
	}
	return jsonResult(map[string]any{"id": id, "x": x, "y": y})
}

func (s *Server) handleCreateText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	text := getString(args, "text")
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}
	size := int(getFloat(args, "size", 0))
	color, background := getString(args, "color"), getString(args, "backgroundColor")

	probe := domain.TextNode{Text: &text}
	if size > 0 {
		probe.Size = &size
	}
	box := TextBox(probe)
	x, y, err := s.position(ctx, args, box.W, box.H)
	if err != nil {
		return nil, err
	}
	id, err := s.nodes.CreateText(ctx, text, x, y)
	if err != nil {
		return nil, err
	}
	if size > 0 || color != "" || background != "" {
		if err := s.nodes.StyleText(ctx, id, size, color, background); err != nil {
			return nil, err
		}
	}
	if err := s.changed(ctx); err != nil {
		return nil, err
	}
	return jsonResult(map[string]any{"id": id, "x": x, "y": y})
}

// position returns the requested centre, or the next free slot when either
// coordinate is missing.
func (s *Server) position(ctx context.Context, args map[string]any, w, h float64) (float64, float64, error) {
	x, hasX := args["x"].(float64)
	y, hasY := args["y"].(float64)
	if hasX && hasY {
		return x, y, nil
	}
	boxes, err := s.boxes(ctx)
	if err != nil {
		return 0, 0, err
	}
	x, y = s.layout.NextPosition(boxes, w, h)
	return x, y, nil
}

// boxes returns the footprint of every node, fields first.
func (s *Server) boxes(ctx context.Context) ([]Box, error) {
	graph, err := s.nodes.Graph(ctx)
	if err != nil {
		return nil, err
	}
	boxes := make([]Box, 0, len(graph.Fields)+len(graph.Texts))
	for _, f := range graph.Fields {
		boxes = append(boxes, FieldBox(f))
	}
	for _, t := range graph.Texts {
		boxes = append(boxes, TextBox(t))
	}
	return boxes, nil
}

func (s *Server) handleMoveNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	id, err := getID(args, "id")
	if err != nil {
		return nil, err
	}
	x, hasX := args["x"].(float64)
	y, hasY := args["y"].(float64)
	if !hasX || !hasY {
		return nil, fmt.Errorf("x and y are required")
	}
	if err := s.nodes.MoveNode(ctx, id, x, y); err != nil {
		return nil, err
	}
	if err := s.changed(ctx); err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("Moved node %d to (%.0f, %.0f)", id, x, y)), nil
}

func (s *Server) handleSetBoard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	id, err := getID(args, "id")
	if err != nil {
		return nil, err
	}
	board, err := parseBoard(getString(args, "board"))
	if err != nil {
		return nil, err
	}
	if err := s.nodes.SetBoard(ctx, id, board); err != nil {
		return nil, err
	}
	if err := s.nodes.RefreshThumbnail(ctx, id); err != nil {
		s.logger.Warn("render thumbnail", zap.Int64("id", id), zap.Error(err))
	}
	if err := s.changed(ctx); err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("Updated board of node %d", id)), nil
}

func (s *Server) handleEditText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	id, err := getID(args, "id")
	if err != nil {
		return nil, err
	}
	text, ok := args["text"].(string)
	if !ok {
		return nil, fmt.Errorf("text is required")
	}
	if err := s.nodes.EditText(ctx, id, text); err != nil {
		return nil, err
	}
	if err := s.changed(ctx); err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("Updated text of node %d", id)), nil
}

func (s *Server) handleStyleText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	id, err := getID(args, "id")
	if err != nil {
		return nil, err
	}
	size := int(getFloat(args, "size", 0))
	if err := s.nodes.StyleText(ctx, id, size, getString(args, "color"), getString(args, "backgroundColor")); err != nil {
		return nil, err
	}
	if err := s.changed(ctx); err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("Styled node %d", id)), nil
}

func (s *Server) handleDeleteNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := getID(req.GetArguments(), "id")
	if err != nil {
		return nil, err
	}
	if err := s.nodes.DeleteNode(ctx, id); err != nil {
		return nil, err
	}
	if err := s.changed(ctx); err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("Deleted node %d", id)), nil
}

func connectionArgs(args map[string]any) (domain.Connection, error) {
	from, err := getID(args, "fromId")
	if err != nil {
		return domain.Connection{}, err
	}
	to, err := getID(args, "toId")
	if err != nil {
		return domain.Connection{}, err
	}
	c := domain.Connection{
		FromID:        from,
		ToID:          to,
		DirectionFrom: domain.DirectionRight,
		DirectionTo:   domain.DirectionLeft,
	}
	if d := getString(args, "directionFrom"); d != "" {
		c.DirectionFrom = domain.Direction(d)
	}
	if d := getString(args, "directionTo"); d != "" {
		c.DirectionTo = domain.Direction(d)
	}
	for _, d := range []domain.Direction{c.DirectionFrom, c.DirectionTo} {
		switch d {
		case domain.DirectionTop, domain.DirectionRight, domain.DirectionBottom, domain.DirectionLeft:
		default:
			return domain.Connection{}, fmt.Errorf("direction %q: %w", d, domain.ErrInvalidInput)
		}
	}
	return c, nil
}

func (s *Server) handleConnectNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := connectionArgs(req.GetArguments())
	if err != nil {
		return nil, err
	}
	if err := s.nodes.Connect(ctx, c); err != nil {
		return nil, err
	}
	if err := s.changed(ctx); err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("Connected %d (%s) to %d (%s)", c.FromID, c.DirectionFrom, c.ToID, c.DirectionTo)), nil
}

func (s *Server) handleDisconnectNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := connectionArgs(req.GetArguments())
	if err != nil {
		return nil, err
	}
	if err := s.nodes.Disconnect(ctx, c); err != nil {
		return nil, err
	}
	if err := s.changed(ctx); err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("Disconnected %d from %d", c.FromID, c.ToID)), nil
}

func (s *Server) handleArrangeNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	boxes, err := s.boxes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}

	arranged := s.layout.ArrangeGroup(boxes, getFloat(args, "startX", 0), getFloat(args, "startY", 0))
	for _, b := range arranged {
		if err := s.nodes.MoveNode(ctx, b.ID, b.X, b.Y); err != nil {
			return nil, fmt.Errorf("move node %d: %w", b.ID, err)
		}
	}
	if err := s.changed(ctx); err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("Arranged %d nodes", len(arranged))), nil
}

func (s *Server) handleRefreshThumbnails(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.nodes.RefreshThumbnails(ctx); err != nil {
		return nil, err
	}
	if err := s.changed(ctx); err != nil {
		return nil, err
	}
	return textResult("Thumbnails refreshed"), nil
}
