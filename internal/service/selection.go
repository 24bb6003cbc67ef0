package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bep/debounce"
	"go.uber.org/zap"

	"fumen/internal/domain"
	"fumen/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Selection: the current field node and its board
// ─────────────────────────────────────────────────────────────

// DefaultSettle is how long a user edit must stay quiet before it is written
// back to the node.
const DefaultSettle = 300 * time.Millisecond

// NodeReader is the read side of the store the selection resolves ids with.
type NodeReader interface {
	GetNode(ctx context.Context, id int64) (domain.Node, error)
	LatestFieldID(ctx context.Context) (int64, bool, error)
}

// NodeWriter is where board edits are written back; the channel switch in
// the application.
type NodeWriter interface {
	UpdateNode(ctx context.Context, n domain.Node) error
}

// SelectionState is sent to the frontend on every selection change.
type SelectionState struct {
	ID    int64        `json:"id"`
	Board domain.Board `json:"board,omitempty"`
}

type pendingEdit struct {
	id    int64
	board domain.Board
}

// Selection tracks which field node is shown in the board editor. Boards
// reach it two ways: following the selection or a store change (applied
// quietly, nothing is written), and user edits through EditBoard, which are
// written back once they settle.
type Selection struct {
	mu      sync.Mutex
	current int64
	board   domain.Board
	pending *pendingEdit

	reader    NodeReader
	writer    NodeWriter
	emitter   EventEmitter
	debounced func(func())
	logger    *zap.Logger
}

// NewSelection creates a selection with nothing selected.
func NewSelection(reader NodeReader, writer NodeWriter, emitter EventEmitter, settle time.Duration, logger *zap.Logger) *Selection {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Selection{
		current:   -1,
		reader:    reader,
		writer:    writer,
		emitter:   emitter,
		debounced: debounce.New(settle),
		logger:    logger,
	}
}

// Current returns the selected node id, or -1.
func (s *Selection) Current() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Board returns the board shown for the selection.
func (s *Selection) Board() domain.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Clone()
}

// SetCurrentNode selects a field node. A negative id clears the selection.
// A pending edit of the previous node is written first.
func (s *Selection) SetCurrentNode(ctx context.Context, id int64) error {
	if err := s.Flush(ctx); err != nil {
		s.logger.Warn("write back before selection change", zap.Error(err))
	}
	if id < 0 {
		s.set(ctx, -1, nil)
		return nil
	}
	n, err := s.reader.GetNode(ctx, id)
	if err != nil {
		return err
	}
	if n == nil {
		return fmt.Errorf("select %d: %w", id, domain.ErrNodeNotFound)
	}
	f, ok := n.(domain.FieldNode)
	if !ok {
		return fmt.Errorf("select %d (%s): %w", id, n.Kind(), domain.ErrTypeMismatch)
	}
	s.set(ctx, id, f.Board)
	return nil
}

// SelectLatest selects the newest field node, or clears the selection when
// there is none.
func (s *Selection) SelectLatest(ctx context.Context) error {
	id, ok, err := s.reader.LatestFieldID(ctx)
	if err != nil {
		return err
	}
	if !ok {
		id = -1
	}
	return s.SetCurrentNode(ctx, id)
}

func (s *Selection) set(ctx context.Context, id int64, board domain.Board) {
	s.mu.Lock()
	s.current = id
	s.board = board.Clone()
	s.mu.Unlock()
	s.emitter.Emit(ctx, EventSelectionChanged, SelectionState{ID: id, Board: board})
}

// EditBoard records a user edit of the selected board. The write-back goes
// through the node writer after the settle delay.
func (s *Selection) EditBoard(ctx context.Context, board domain.Board) error {
	s.mu.Lock()
	if s.current < 0 {
		s.mu.Unlock()
		return fmt.Errorf("edit board: %w", domain.ErrInvalidState)
	}
	s.board = board.Clone()
	s.pending = &pendingEdit{id: s.current, board: board.Clone()}
	s.mu.Unlock()

	wctx := context.WithoutCancel(ctx)
	s.debounced(func() {
		if err := s.Flush(wctx); err != nil {
			s.logger.Warn("board write back failed", zap.Error(err))
		}
	})
	return nil
}

// Flush writes a pending edit now.
func (s *Selection) Flush(ctx context.Context) error {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	return s.writer.UpdateNode(ctx, domain.FieldNode{ID: &p.id, Board: p.board})
}

// HandleStoreEvent keeps the selection in step with the store. Register it
// with GraphStore.Subscribe.
func (s *Selection) HandleStoreEvent(ev storage.Event) {
	ctx := context.Background()
	switch ev.Op {
	case storage.OpUpdated:
		f, ok := ev.Node.(domain.FieldNode)
		if !ok || f.Board == nil {
			return
		}
		s.mu.Lock()
		follow := ev.ID == s.current && s.pending == nil
		if follow {
			s.board = f.Board.Clone()
		}
		s.mu.Unlock()
		if follow {
			s.emitter.Emit(ctx, EventSelectionBoard, SelectionState{ID: ev.ID, Board: f.Board})
		}

	case storage.OpDeleted:
		s.mu.Lock()
		hit := ev.ID == s.current
		if hit && s.pending != nil && s.pending.id == ev.ID {
			s.pending = nil
		}
		s.mu.Unlock()
		if hit {
			if err := s.SetCurrentNode(ctx, ev.LatestFieldID); err != nil {
				s.logger.Warn("reselect after delete", zap.Error(err))
			}
		}

	case storage.OpLoaded:
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()
		if err := s.SetCurrentNode(ctx, ev.LatestFieldID); err != nil {
			s.logger.Warn("select after load", zap.Error(err))
		}
	}
}
