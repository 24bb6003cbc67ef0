package app

// ─────────────────────────────────────────────────────────────
// Document Handlers: thin delegates to DocumentService
// ─────────────────────────────────────────────────────────────

import (
	"path/filepath"
	"strings"

	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"fumen/internal/service"
)

// DocumentExt is the extension given to saved documents.
const DocumentExt = ".fumen"

var documentFilters = []wailsRuntime.FileFilter{
	{DisplayName: "fumen documents (*.fumen)", Pattern: "*" + DocumentExt},
}

func (a *App) DocumentInfo() service.DocumentInfo {
	return a.documents.Info()
}

func (a *App) NewDocument() error {
	return a.documents.New(a.ctx)
}

func (a *App) OpenDocument(path string) error {
	return a.documents.Open(a.ctx, path)
}

func (a *App) SaveDocument() error {
	return a.documents.Save(a.ctx)
}

// SaveDocumentAs writes to path, adding the document extension when missing.
func (a *App) SaveDocumentAs(path string) error {
	if filepath.Ext(path) == "" {
		path += DocumentExt
	}
	return a.documents.SaveAs(a.ctx, path)
}

// OpenDocumentDialog asks for a file and opens it. It returns the chosen
// path, empty when the dialog was cancelled.
func (a *App) OpenDocumentDialog() (string, error) {
	path, err := wailsRuntime.OpenFileDialog(a.ctx, wailsRuntime.OpenDialogOptions{
		Title:            "Open document",
		DefaultDirectory: a.cfg.DataDir,
		Filters:          documentFilters,
	})
	if err != nil || path == "" {
		return "", err
	}
	return path, a.documents.Open(a.ctx, path)
}

// SaveDocumentDialog asks where to save and saves there.
func (a *App) SaveDocumentDialog() (string, error) {
	name := "untitled" + DocumentExt
	if cur := a.documents.Info().Path; cur != "" {
		name = filepath.Base(cur)
	}
	path, err := wailsRuntime.SaveFileDialog(a.ctx, wailsRuntime.SaveDialogOptions{
		Title:            "Save document",
		DefaultDirectory: a.cfg.DataDir,
		DefaultFilename:  name,
		Filters:          documentFilters,
	})
	if err != nil || strings.TrimSpace(path) == "" {
		return "", err
	}
	if filepath.Ext(path) == "" {
		path += DocumentExt
	}
	return path, a.documents.SaveAs(a.ctx, path)
}
