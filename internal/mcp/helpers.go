package mcpserver

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"fumen/internal/domain"
)

// parseBoard checks that a board argument is JSON and returns it verbatim.
func parseBoard(data string) (domain.Board, error) {
	if !json.Valid([]byte(data)) {
		return nil, fmt.Errorf("board is not valid JSON: %w", domain.ErrInvalidInput)
	}
	return domain.Board(data), nil
}

// getID reads a node id given either as a JSON number or a numeric string.
func getID(args map[string]any, key string) (int64, error) {
	switch v := args[key].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%s must be an integer: %w", key, domain.ErrInvalidInput)
		}
		return int64(v), nil
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer: %w", key, domain.ErrInvalidInput)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("%s is required", key)
	}
}

func getFloat(args map[string]any, key string, fallback float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return fallback
}

func getString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func boolPtr(v bool) *bool { return &v }
