package channel

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"fumen/internal/domain"
	"fumen/internal/protocol"
)

// Requester sends one request and hands the acknowledgement to apply.
// transport.Link implements it.
type Requester interface {
	Request(ctx context.Context, event string, body any, apply func(protocol.Frame) error) error
}

// Remote sends every mutation to the session authority and applies the
// record the authority sends back. Nothing touches the local store before the
// acknowledgement arrives.
type Remote struct {
	link    Requester
	store   Store
	loader  Loader
	timeout time.Duration
	retired atomic.Bool
}

// NewRemote returns a channel that relays through link. timeout bounds each
// round trip when ctx carries no deadline of its own; zero disables it.
func NewRemote(link Requester, store Store, loader Loader, timeout time.Duration) *Remote {
	return &Remote{link: link, store: store, loader: loader, timeout: timeout}
}

// Retire marks the channel as swapped out. Acknowledgements that arrive
// afterwards are discarded.
func (r *Remote) Retire() {
	r.retired.Store(true)
}

// Retired reports whether Retire was called.
func (r *Remote) Retired() bool {
	return r.retired.Load()
}

func (r *Remote) LoadStore(ctx context.Context, blob []byte, splash bool) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	if err := r.live(); err != nil {
		return err
	}
	body := protocol.DB{Blob: protocol.PackBlob(blob), Splash: splash}
	return r.link.Request(ctx, protocol.UpdateDB, body, func(ack protocol.Frame) error {
		if err := r.live(); err != nil {
			return err
		}
		var db protocol.DB
		if err := ack.Decode(&db); err != nil {
			return err
		}
		resolved, err := protocol.UnpackBlob(db.Blob)
		if err != nil {
			return err
		}
		return load(context.WithoutCancel(ctx), r.store, r.loader, resolved, splash)
	})
}

func (r *Remote) CreateNode(ctx context.Context, n domain.Node) (int64, error) {
	// apply may still run on the read loop after a timed-out round trip.
	var id atomic.Int64
	err := r.roundTrip(ctx, protocol.CreateNode, n, func(ctx context.Context, resolved domain.Node) error {
		if _, ok := resolved.NodeID(); !ok {
			return fmt.Errorf("%w: authority returned %s node without id", domain.ErrRequestFailed, resolved.Kind())
		}
		created, err := r.store.CreateNode(ctx, resolved)
		if err != nil {
			return err
		}
		id.Store(created)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id.Load(), nil
}

func (r *Remote) UpdateNode(ctx context.Context, n domain.Node) error {
	if _, ok := n.NodeID(); !ok {
		return fmt.Errorf("update %s node: %w", n.Kind(), domain.ErrInvalidState)
	}
	return r.roundTrip(ctx, protocol.UpdateNode, n, func(ctx context.Context, resolved domain.Node) error {
		return r.store.UpdateNode(ctx, resolved)
	})
}

// DeleteNode has no authority round trip yet.
func (r *Remote) DeleteNode(ctx context.Context, n domain.Node) error {
	return fmt.Errorf("remote delete: %w", domain.ErrNotImplemented)
}

func (r *Remote) roundTrip(ctx context.Context, event string, n domain.Node, apply func(context.Context, domain.Node) error) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	if err := r.live(); err != nil {
		return err
	}
	raw, err := protocol.EncodeNode(n)
	if err != nil {
		return err
	}
	return r.link.Request(ctx, event, raw, func(ack protocol.Frame) error {
		if err := r.live(); err != nil {
			return err
		}
		resolved, err := protocol.DecodeNode(ack.Body)
		if err != nil {
			return err
		}
		if resolved.Kind() != n.Kind() {
			return fmt.Errorf("%s: %w: sent %s, got %s", event, domain.ErrTypeMismatch, n.Kind(), resolved.Kind())
		}
		// The caller may already have given up waiting; the authority has
		// committed, so the replica still applies.
		return apply(context.WithoutCancel(ctx), resolved)
	})
}

func (r *Remote) live() error {
	if r.retired.Load() {
		return domain.ErrStaleChannel
	}
	return nil
}

func (r *Remote) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}
