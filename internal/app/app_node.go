package app

// ─────────────────────────────────────────────────────────────
// Node Handlers: thin delegates to NodeService
// ─────────────────────────────────────────────────────────────

import (
	"encoding/json"
	"fmt"

	"fumen/internal/domain"
)

func (a *App) GetGraph() (*domain.GraphState, error) {
	return a.nodes.Graph(a.ctx)
}

// CreateField adds a field node. board is the board JSON; an empty string
// starts an empty field.
func (a *App) CreateField(board string, x, y float64) (int64, error) {
	if board == "" {
		return a.nodes.CreateField(a.ctx, domain.Board(`{"field":[]}`), x, y)
	}
	if !json.Valid([]byte(board)) {
		return 0, fmt.Errorf("create field: %w: board is not JSON", domain.ErrInvalidInput)
	}
	return a.nodes.CreateField(a.ctx, domain.Board(board), x, y)
}

func (a *App) CreateText(text string, x, y float64) (int64, error) {
	return a.nodes.CreateText(a.ctx, text, x, y)
}

func (a *App) MoveNode(id int64, x, y float64) error {
	return a.nodes.MoveNode(a.ctx, id, x, y)
}

func (a *App) EditText(id int64, text string) error {
	return a.nodes.EditText(a.ctx, id, text)
}

func (a *App) StyleText(id int64, size int, color, background string) error {
	return a.nodes.StyleText(a.ctx, id, size, color, background)
}

func (a *App) DeleteNode(id int64) error {
	return a.nodes.DeleteNode(a.ctx, id)
}

func (a *App) ConnectNodes(c domain.Connection) error {
	return a.nodes.Connect(a.ctx, c)
}

func (a *App) DisconnectNodes(c domain.Connection) error {
	return a.nodes.Disconnect(a.ctx, c)
}

func (a *App) RefreshThumbnails() error {
	return a.nodes.RefreshThumbnails(a.ctx)
}
