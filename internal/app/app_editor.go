package app

// ─────────────────────────────────────────────────────────────
// Board Editor Handlers: selection and history
// ─────────────────────────────────────────────────────────────

import (
	"encoding/json"
	"fmt"

	"fumen/internal/domain"
	"fumen/internal/service"
)

// SetCurrentNode selects the field node shown in the board editor; a
// negative id clears the selection.
func (a *App) SetCurrentNode(id int64) error {
	return a.selection.SetCurrentNode(a.ctx, id)
}

func (a *App) Selection() service.SelectionState {
	return service.SelectionState{ID: a.selection.Current(), Board: a.selection.Board()}
}

// EditBoard records an edit of the selected board made in the editor.
func (a *App) EditBoard(board string) error {
	if !json.Valid([]byte(board)) {
		return fmt.Errorf("edit board: %w: board is not JSON", domain.ErrInvalidInput)
	}
	return a.selection.EditBoard(a.ctx, domain.Board(board))
}

// PushHistory records the editor state after a user action.
func (a *App) PushHistory(label, board, note string) {
	a.history.Push(label, domain.Board(board), note)
}

// Undo steps back and applies the entry to the selected node.
func (a *App) Undo() (service.HistoryState, error) {
	return a.applyHistory(a.history.Undo(a.ctx))
}

// Redo steps forward and applies the entry to the selected node.
func (a *App) Redo() (service.HistoryState, error) {
	return a.applyHistory(a.history.Redo(a.ctx))
}

func (a *App) applyHistory(e service.HistoryEntry, moved bool) (service.HistoryState, error) {
	if moved && a.selection.Current() >= 0 {
		if err := a.selection.EditBoard(a.ctx, e.Board); err != nil {
			return a.history.State(), err
		}
	}
	return a.history.State(), nil
}

func (a *App) HistoryState() service.HistoryState {
	return a.history.State()
}
