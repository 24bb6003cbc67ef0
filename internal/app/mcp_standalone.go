package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"fumen/internal/channel"
	mcpserver "fumen/internal/mcp"
	"fumen/internal/render"
	"fumen/internal/service"
	"fumen/internal/storage"
)

// ServeMCP runs a standalone MCP server on stdin/stdout over the document at
// path, with no GUI. A missing file is created. Every change is saved, and a
// running app with the same document open reloads it.
func ServeMCP(path string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store := storage.New(
		storage.WithRenderer(render.NewPNG(render.DefaultCell)),
		storage.WithLogger(logger.Named("store")),
	)
	defer store.Close()
	if err := store.InitializeEmpty(ctx); err != nil {
		return err
	}

	local := channel.NewLocal(store, nil)
	docs := service.NewDocumentService(store, local, nil, logger.Named("document"))
	defer docs.Close(context.Background())

	switch _, err := os.Stat(path); {
	case err == nil:
		if err := docs.Open(ctx, path); err != nil {
			return err
		}
	case errors.Is(err, os.ErrNotExist):
		if err := docs.New(ctx); err != nil {
			return err
		}
		if err := docs.SaveAs(ctx, path); err != nil {
			return err
		}
	default:
		return fmt.Errorf("open %s: %w", path, err)
	}

	nodes := service.NewNodeService(store, local, nil, logger.Named("nodes"))
	defer nodes.Wait(context.Background())

	mcpSrv := mcpserver.New(mcpserver.Deps{
		Nodes:     nodes,
		Documents: docs,
		Logger:    logger.Named("mcp"),
	})

	errc := make(chan error, 1)
	go func() { errc <- mcpSrv.ServeStdio() }()
	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	case <-ctx.Done():
		return nil
	}
}
