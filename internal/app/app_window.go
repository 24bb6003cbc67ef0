package app

import "fumen/internal/service"

// ============================================================
// Window size
// ============================================================

func (a *App) LoadWindowSize() service.WindowSize {
	return a.window.LoadWindowSize()
}

func (a *App) SaveWindowSize(width, height int) error {
	return a.window.SaveWindowSize(width, height)
}
