// Package channel routes node mutations either straight into the local
// GraphStore or through the collaboration authority.
package channel

import (
	"context"

	"fumen/internal/domain"
)

// Channel is the path every node mutation and store load takes.
type Channel interface {
	// LoadStore replaces the whole store with blob. splash asks for the load
	// to go through the placeholder view.
	LoadStore(ctx context.Context, blob []byte, splash bool) error
	CreateNode(ctx context.Context, n domain.Node) (int64, error)
	UpdateNode(ctx context.Context, n domain.Node) error
	DeleteNode(ctx context.Context, n domain.Node) error
}

// Loader performs a splash-mediated store load.
type Loader interface {
	Load(ctx context.Context, blob []byte) error
}

// Store is the subset of storage.GraphStore the channels write to.
type Store interface {
	InitializeFromBinary(ctx context.Context, blob []byte) error
	CreateNode(ctx context.Context, n domain.Node) (int64, error)
	UpdateNode(ctx context.Context, n domain.Node) error
	DeleteNode(ctx context.Context, n domain.Node) error
}

func load(ctx context.Context, store Store, loader Loader, blob []byte, splash bool) error {
	if splash && loader != nil {
		return loader.Load(ctx, blob)
	}
	return store.InitializeFromBinary(ctx, blob)
}
