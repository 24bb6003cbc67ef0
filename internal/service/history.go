package service

import (
	"context"
	"sync"

	"fumen/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// History: linear undo/redo over board snapshots
// ─────────────────────────────────────────────────────────────

// HistoryCapacity is the number of entries kept before the oldest is evicted.
const HistoryCapacity = 40

// HistoryEntry is one undoable board state.
type HistoryEntry struct {
	Label string       `json:"label"`
	Board domain.Board `json:"board"`
	Note  string       `json:"note"`
}

// HistoryState is what the frontend needs to draw the history panel.
type HistoryState struct {
	Entries []HistoryEntry `json:"entries"`
	Index   int            `json:"index"`
}

// History is a bounded linear history. It is created fresh per document and
// never persisted.
type History struct {
	mu       sync.Mutex
	entries  []HistoryEntry
	index    int
	capacity int
	emitter  EventEmitter
}

// NewHistory creates an empty history. Undo and redo send the entry they land
// on to emitter as EventHistoryApply.
func NewHistory(capacity int, emitter EventEmitter) *History {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &History{index: -1, capacity: capacity, emitter: emitter}
}

// Push drops any redo tail, appends the entry, evicts the oldest entries over
// capacity and makes the new entry current.
func (h *History) Push(label string, board domain.Board, note string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries[:h.index+1], HistoryEntry{Label: label, Board: board.Clone(), Note: note})
	if over := len(h.entries) - h.capacity; over > 0 {
		h.entries = append([]HistoryEntry(nil), h.entries[over:]...)
	}
	h.index = len(h.entries) - 1
}

// Undo steps back one entry. It returns false and does nothing at the oldest
// entry.
func (h *History) Undo(ctx context.Context) (HistoryEntry, bool) {
	return h.step(ctx, -1)
}

// Redo steps forward one entry. It returns false and does nothing at the
// newest entry.
func (h *History) Redo(ctx context.Context) (HistoryEntry, bool) {
	return h.step(ctx, 1)
}

func (h *History) step(ctx context.Context, delta int) (HistoryEntry, bool) {
	h.mu.Lock()
	next := h.index + delta
	if next < 0 || next >= len(h.entries) {
		h.mu.Unlock()
		return HistoryEntry{}, false
	}
	h.index = next
	e := h.entries[next]
	h.mu.Unlock()

	h.emitter.Emit(ctx, EventHistoryApply, e)
	return e, true
}

// Current returns the entry at the index.
func (h *History) Current() (HistoryEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.index < 0 {
		return HistoryEntry{}, false
	}
	return h.entries[h.index], true
}

// Latest returns the newest entry, ignoring the index.
func (h *History) Latest() (HistoryEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return HistoryEntry{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// Index returns the current position, -1 when empty.
func (h *History) Index() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.index
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// State returns a copy of the entries and the index.
func (h *History) State() HistoryState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HistoryState{Entries: append([]HistoryEntry(nil), h.entries...), Index: h.index}
}

// Reset empties the history for a new document.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
	h.index = -1
}
