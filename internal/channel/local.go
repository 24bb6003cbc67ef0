package channel

import (
	"context"

	"fumen/internal/domain"
)

// Local applies mutations directly to the store.
type Local struct {
	store  Store
	loader Loader
}

// NewLocal returns a channel over store. loader may be nil, in which case
// splash loads fall back to a plain import.
func NewLocal(store Store, loader Loader) *Local {
	return &Local{store: store, loader: loader}
}

func (l *Local) LoadStore(ctx context.Context, blob []byte, splash bool) error {
	return load(ctx, l.store, l.loader, blob, splash)
}

func (l *Local) CreateNode(ctx context.Context, n domain.Node) (int64, error) {
	return l.store.CreateNode(ctx, n)
}

func (l *Local) UpdateNode(ctx context.Context, n domain.Node) error {
	return l.store.UpdateNode(ctx, n)
}

func (l *Local) DeleteNode(ctx context.Context, n domain.Node) error {
	return l.store.DeleteNode(ctx, n)
}
