package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fumen/internal/domain"
	"fumen/internal/service"
	"fumen/internal/storage"
)

// fakePresenter records view switches and answers the splash switch with a
// transition end, like the frontend does.
type fakePresenter struct {
	mu     sync.Mutex
	view   string
	views  []string
	loaded []bool
	store  *storage.GraphStore
	loader *service.Loader
	silent bool
}

func (p *fakePresenter) CurrentView() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

func (p *fakePresenter) SetView(ctx context.Context, view string) {
	_, hasField, _ := p.store.LatestFieldID(ctx)
	p.mu.Lock()
	p.view = view
	p.views = append(p.views, view)
	p.loaded = append(p.loaded, hasField)
	p.mu.Unlock()
	if view == service.SplashView && !p.silent {
		go func() {
			time.Sleep(10 * time.Millisecond)
			p.loader.TransitionEnd()
		}()
	}
}

func TestLoader_LoadsBehindSplash(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	sel := service.NewSelection(store, store, nil, 0, nil)
	p := &fakePresenter{view: "board", store: store}
	loader := service.NewLoader(store, sel, p, 10*time.Millisecond, nil)
	p.loader = loader

	blob, err := storage.Seed(ctx, domain.Board(`{"seed":true}`), 0, 0)
	require.NoError(t, err)

	require.NoError(t, loader.Load(ctx, blob))

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, []string{service.SplashView, "board"}, p.views)
	assert.Equal(t, []bool{false, true}, p.loaded, "the graph is only shown once loaded")
	assert.Equal(t, "board", p.view)

	id, _, err := store.LatestFieldID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, sel.Current())
}

func TestLoader_CorruptBlobRestoresView(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := &fakePresenter{view: "board", store: store}
	loader := service.NewLoader(store, nil, p, time.Millisecond, nil)
	p.loader = loader

	err := loader.Load(ctx, []byte("junk"))
	assert.ErrorIs(t, err, domain.ErrCorruptStore)
	assert.Equal(t, "board", p.CurrentView())
}

func TestLoader_CancelledWhileWaiting(t *testing.T) {
	store := newStore(t)
	p := &fakePresenter{view: "list", store: store, silent: true}
	loader := service.NewLoader(store, nil, p, time.Millisecond, nil)
	p.loader = loader

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := loader.Load(ctx, []byte("unused"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "list", p.CurrentView())
}

func TestLoader_WithoutPresenter(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	loader := service.NewLoader(store, nil, nil, 0, nil)

	blob, err := storage.Seed(ctx, domain.Board(`{}`), 0, 0)
	require.NoError(t, err)
	require.NoError(t, loader.Load(ctx, blob))

	_, ok, err := store.LatestFieldID(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
