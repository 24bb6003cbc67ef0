package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fumen/internal/channel"
	"fumen/internal/domain"
	"fumen/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Node Service: canvas operations routed through the channel
// ─────────────────────────────────────────────────────────────

// NodeService is the entry point for canvas edits. Reads go to the store;
// every mutation goes through the active update channel so collaboration
// sees it.
type NodeService struct {
	store     *storage.GraphStore
	ch        channel.Channel
	selection *Selection
	jobs      JobGuard
	logger    *zap.Logger
}

// NewNodeService creates a NodeService. selection may be nil.
func NewNodeService(store *storage.GraphStore, ch channel.Channel, selection *Selection, logger *zap.Logger) *NodeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NodeService{store: store, ch: ch, selection: selection, logger: logger}
}

// CreateField adds a field node showing board at (x, y).
func (s *NodeService) CreateField(ctx context.Context, board domain.Board, x, y float64) (int64, error) {
	if board == nil {
		return 0, fmt.Errorf("create field: %w: board is required", domain.ErrInvalidInput)
	}
	id, err := s.ch.CreateNode(ctx, domain.FieldNode{X: &x, Y: &y, Board: board})
	if err != nil {
		return 0, fmt.Errorf("create field: %w", err)
	}
	return id, nil
}

// CreateText adds a text annotation at (x, y).
func (s *NodeService) CreateText(ctx context.Context, text string, x, y float64) (int64, error) {
	id, err := s.ch.CreateNode(ctx, domain.TextNode{X: &x, Y: &y, Text: &text})
	if err != nil {
		return 0, fmt.Errorf("create text: %w", err)
	}
	return id, nil
}

// GetNode returns a node or ErrNodeNotFound.
func (s *NodeService) GetNode(ctx context.Context, id int64) (domain.Node, error) {
	n, err := s.store.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("node %d: %w", id, domain.ErrNodeNotFound)
	}
	return n, nil
}

// MoveNode updates the position only.
func (s *NodeService) MoveNode(ctx context.Context, id int64, x, y float64) error {
	n, err := s.GetNode(ctx, id)
	if err != nil {
		return err
	}
	switch n.(type) {
	case domain.FieldNode:
		return s.ch.UpdateNode(ctx, domain.FieldNode{ID: &id, X: &x, Y: &y})
	default:
		return s.ch.UpdateNode(ctx, domain.TextNode{ID: &id, X: &x, Y: &y})
	}
}

// SetBoard replaces the board of a field node.
func (s *NodeService) SetBoard(ctx context.Context, id int64, board domain.Board) error {
	if err := s.requireKind(ctx, id, domain.KindField); err != nil {
		return err
	}
	return s.ch.UpdateNode(ctx, domain.FieldNode{ID: &id, Board: board})
}

// EditText replaces the text of a text node.
func (s *NodeService) EditText(ctx context.Context, id int64, text string) error {
	if err := s.requireKind(ctx, id, domain.KindText); err != nil {
		return err
	}
	return s.ch.UpdateNode(ctx, domain.TextNode{ID: &id, Text: &text})
}

// StyleText changes the font size and colours of a text node. Empty colours
// and a zero size are left as they are.
func (s *NodeService) StyleText(ctx context.Context, id int64, size int, color, background string) error {
	if err := s.requireKind(ctx, id, domain.KindText); err != nil {
		return err
	}
	upd := domain.TextNode{ID: &id}
	if size > 0 {
		upd.Size = &size
	}
	if color != "" {
		upd.Color = &color
	}
	if background != "" {
		upd.BackgroundColor = &background
	}
	return s.ch.UpdateNode(ctx, upd)
}

// DeleteNode removes a node and its connections.
func (s *NodeService) DeleteNode(ctx context.Context, id int64) error {
	n, err := s.GetNode(ctx, id)
	if err != nil {
		return err
	}
	return s.ch.DeleteNode(ctx, n.WithID(id))
}

// Connect links two nodes. Connections are local to the document.
func (s *NodeService) Connect(ctx context.Context, c domain.Connection) error {
	return s.store.Connect(ctx, c)
}

// Disconnect removes a link.
func (s *NodeService) Disconnect(ctx context.Context, c domain.Connection) error {
	return s.store.Disconnect(ctx, c)
}

// Graph returns everything the canvas draws.
func (s *NodeService) Graph(ctx context.Context) (*domain.GraphState, error) {
	fields, err := s.store.Fields(ctx)
	if err != nil {
		return nil, err
	}
	texts, err := s.store.Texts(ctx)
	if err != nil {
		return nil, err
	}
	conns, err := s.store.Connections(ctx)
	if err != nil {
		return nil, err
	}
	state := &domain.GraphState{Fields: fields, Texts: texts, Connections: conns, CurrentID: -1}
	if s.selection != nil {
		state.CurrentID = s.selection.Current()
	}
	return state, nil
}

// RefreshThumbnails re-renders stale thumbnails through the channel. A call
// made while a refresh is running returns immediately.
func (s *NodeService) RefreshThumbnails(ctx context.Context) error {
	if !s.jobs.TryLock(jobThumbnails) {
		s.logger.Debug("thumbnail refresh already running")
		return nil
	}
	defer s.jobs.Unlock(jobThumbnails)
	return s.store.RefreshAllThumbnails(ctx, s.ch)
}

// RefreshThumbnail re-renders one thumbnail if it is stale.
func (s *NodeService) RefreshThumbnail(ctx context.Context, id int64) error {
	return s.store.RefreshThumbnail(ctx, id, s.ch)
}

// Wait blocks until running background jobs finish or ctx ends.
func (s *NodeService) Wait(ctx context.Context) {
	s.jobs.WaitAll(ctx)
}

func (s *NodeService) requireKind(ctx context.Context, id int64, kind domain.Kind) error {
	n, err := s.GetNode(ctx, id)
	if err != nil {
		return err
	}
	if n.Kind() != kind {
		return fmt.Errorf("node %d is %s, not %s: %w", id, n.Kind(), kind, domain.ErrTypeMismatch)
	}
	return nil
}
