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

type countingWriter struct {
	mu     sync.Mutex
	store  *storage.GraphStore
	writes int
}

func (w *countingWriter) UpdateNode(ctx context.Context, n domain.Node) error {
	w.mu.Lock()
	w.writes++
	w.mu.Unlock()
	return w.store.UpdateNode(ctx, n)
}

func (w *countingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}

func newStore(t *testing.T) *storage.GraphStore {
	t.Helper()
	s := storage.New()
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.InitializeEmpty(context.Background()))
	require.NoError(t, s.Flush(context.Background()))
	return s
}

func newSelection(t *testing.T, store *storage.GraphStore) (*service.Selection, *countingWriter, *service.MockEmitter) {
	t.Helper()
	w := &countingWriter{store: store}
	emitter := &service.MockEmitter{}
	sel := service.NewSelection(store, w, emitter, 20*time.Millisecond, nil)
	cancel := store.Subscribe(sel.HandleStoreEvent)
	t.Cleanup(cancel)
	return sel, w, emitter
}

func TestSelection_SetCurrentNode(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	sel, _, emitter := newSelection(t, store)

	fieldID, err := store.CreateNode(ctx, domain.FieldNode{Board: domain.Board(`{"a":1}`)})
	require.NoError(t, err)
	textID, err := store.CreateNode(ctx, domain.TextNode{Text: domain.Ptr("t")})
	require.NoError(t, err)

	require.NoError(t, sel.SetCurrentNode(ctx, fieldID))
	assert.Equal(t, fieldID, sel.Current())
	assert.Equal(t, domain.Board(`{"a":1}`), sel.Board())

	err = sel.SetCurrentNode(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNodeNotFound)
	err = sel.SetCurrentNode(ctx, textID)
	assert.ErrorIs(t, err, domain.ErrTypeMismatch)
	assert.Equal(t, fieldID, sel.Current(), "failed selection keeps the previous one")

	require.NoError(t, sel.SetCurrentNode(ctx, -1))
	assert.Equal(t, int64(-1), sel.Current())
	assert.Nil(t, sel.Board())

	changes := emitter.Named(service.EventSelectionChanged)
	require.Len(t, changes, 2)
	assert.Equal(t, int64(-1), changes[1].Data.(service.SelectionState).ID)
}

func TestSelection_FollowingStoreChangesDoesNotWriteBack(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	sel, w, emitter := newSelection(t, store)

	id, err := store.CreateNode(ctx, domain.FieldNode{Board: domain.Board(`{"v":1}`)})
	require.NoError(t, err)
	require.NoError(t, sel.SetCurrentNode(ctx, id))

	// A change applied by a peer lands in the store directly.
	require.NoError(t, store.UpdateNode(ctx, domain.FieldNode{ID: &id, Board: domain.Board(`{"v":2}`)}))
	require.NoError(t, store.Flush(ctx))
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, domain.Board(`{"v":2}`), sel.Board())
	assert.Equal(t, 0, w.count())
	assert.Len(t, emitter.Named(service.EventSelectionBoard), 1)
}

func TestSelection_UserEditIsWrittenBackOnce(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	sel, w, _ := newSelection(t, store)

	id, err := store.CreateNode(ctx, domain.FieldNode{Board: domain.Board(`{"v":1}`), X: domain.Ptr(3.0)})
	require.NoError(t, err)
	require.NoError(t, sel.SetCurrentNode(ctx, id))

	require.NoError(t, sel.EditBoard(ctx, domain.Board(`{"v":2}`)))
	require.NoError(t, sel.EditBoard(ctx, domain.Board(`{"v":3}`)))

	assert.Eventually(t, func() bool { return w.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	// The write's own echo must not trigger another write.
	require.NoError(t, store.Flush(ctx))
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, w.count())

	n, err := store.GetNode(ctx, id)
	require.NoError(t, err)
	f := n.(domain.FieldNode)
	assert.Equal(t, `{"v":3}`, string(f.Board))
	assert.Equal(t, 3.0, *f.X, "write-back only touches the board")
}

func TestSelection_EditWithoutSelection(t *testing.T) {
	sel, _, _ := newSelection(t, newStore(t))
	err := sel.EditBoard(context.Background(), domain.Board(`{}`))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestSelection_ChangingSelectionFlushesPendingEdit(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	w := &countingWriter{store: store}
	sel := service.NewSelection(store, w, nil, time.Hour, nil)

	a, err := store.CreateNode(ctx, domain.FieldNode{Board: domain.Board(`{"a":0}`)})
	require.NoError(t, err)
	b, err := store.CreateNode(ctx, domain.FieldNode{Board: domain.Board(`{"b":0}`)})
	require.NoError(t, err)

	require.NoError(t, sel.SetCurrentNode(ctx, a))
	require.NoError(t, sel.EditBoard(ctx, domain.Board(`{"a":1}`)))
	require.NoError(t, sel.SetCurrentNode(ctx, b))

	assert.Equal(t, 1, w.count())
	n, err := store.GetNode(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(n.(domain.FieldNode).Board))
}

func TestSelection_DeletingCurrentSelectsLatest(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	sel, _, _ := newSelection(t, store)

	first, err := store.CreateNode(ctx, domain.FieldNode{Board: domain.Board(`{}`)})
	require.NoError(t, err)
	second, err := store.CreateNode(ctx, domain.FieldNode{Board: domain.Board(`{}`)})
	require.NoError(t, err)
	require.NoError(t, sel.SetCurrentNode(ctx, second))

	require.NoError(t, store.DeleteNode(ctx, domain.FieldNode{ID: &second}))
	assert.Eventually(t, func() bool { return sel.Current() == first }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, store.DeleteNode(ctx, domain.FieldNode{ID: &first}))
	assert.Eventually(t, func() bool { return sel.Current() == -1 }, 2*time.Second, 10*time.Millisecond)
}
