package service

import (
	"fmt"
	"sync"

	"fumen/internal/config"
)

// ─────────────────────────────────────────────────────────────
// Window Size Persistence
// ─────────────────────────────────────────────────────────────
//
// Saves and restores the main Wails window size between sessions in the
// window section of the config file.

// WindowSize holds the saved window dimensions.
type WindowSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// WindowSettingsService persists window size between sessions.
type WindowSettingsService struct {
	mu   sync.Mutex
	cfg  *config.Config
	path string
}

// NewWindowSettingsService creates a WindowSettingsService writing to path.
func NewWindowSettingsService(cfg *config.Config, path string) *WindowSettingsService {
	return &WindowSettingsService{cfg: cfg, path: path}
}

const (
	defaultWindowWidth  = 1280
	defaultWindowHeight = 800
	minWindowWidth      = 800
	minWindowHeight     = 600
)

// LoadWindowSize returns the saved window dimensions, or sensible defaults.
func (s *WindowSettingsService) LoadWindowSize() WindowSize {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return WindowSize{Width: defaultWindowWidth, Height: defaultWindowHeight}
	}
	w, h := s.cfg.Window.Width, s.cfg.Window.Height
	if w < minWindowWidth {
		w = defaultWindowWidth
	}
	if h < minWindowHeight {
		h = defaultWindowHeight
	}
	return WindowSize{Width: w, Height: h}
}

// SaveWindowSize persists the current window dimensions.
func (s *WindowSettingsService) SaveWindowSize(width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return fmt.Errorf("window settings: no config")
	}
	s.cfg.Window = config.Window{Width: width, Height: height}
	return s.cfg.Save(s.path)
}
