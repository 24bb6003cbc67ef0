package storage_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fumen/internal/domain"
	"fumen/internal/storage"
)

func newStore(t *testing.T, opts ...storage.Option) *storage.GraphStore {
	t.Helper()
	s := storage.New(opts...)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.InitializeEmpty(context.Background()))
	return s
}

func board(s string) domain.Board { return domain.Board(s) }

func TestGraphStore_NotInitialized(t *testing.T) {
	ctx := context.Background()
	s := storage.New()
	defer s.Close()

	_, err := s.ExportBinary(ctx)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	_, err = s.GetNode(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	_, err = s.CreateNode(ctx, domain.TextNode{})
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	err = s.UpdateNode(ctx, domain.TextNode{ID: domain.Ptr[int64](1), X: domain.Ptr(1.0)})
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	err = s.DeleteNode(ctx, domain.TextNode{ID: domain.Ptr[int64](1)})
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	_, _, err = s.LatestFieldID(ctx)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	_, err = s.GetAllNodes(ctx)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestGraphStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	fieldID, err := s.CreateNode(ctx, domain.FieldNode{X: domain.Ptr(10.0), Y: domain.Ptr(20.0), Board: board(`{"b":1}`)})
	require.NoError(t, err)
	textID, err := s.CreateNode(ctx, domain.TextNode{X: domain.Ptr(1.5), Text: domain.Ptr("hello")})
	require.NoError(t, err)
	assert.Greater(t, textID, fieldID)

	n, err := s.GetNode(ctx, fieldID)
	require.NoError(t, err)
	f, ok := n.(domain.FieldNode)
	require.True(t, ok)
	assert.Equal(t, 10.0, *f.X)
	assert.Equal(t, 20.0, *f.Y)
	assert.Equal(t, `{"b":1}`, string(f.Board))
	assert.Nil(t, f.Thumbnail)
	assert.Nil(t, f.Hash)

	n, err = s.GetNode(ctx, textID)
	require.NoError(t, err)
	txt, ok := n.(domain.TextNode)
	require.True(t, ok)
	assert.Equal(t, "hello", *txt.Text)
	assert.Equal(t, 1.5, *txt.X)
	assert.Nil(t, txt.Y, "omitted attributes stay NULL")
	assert.Nil(t, txt.Size)
	assert.Nil(t, txt.Color)

	missing, err := s.GetNode(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGraphStore_CreateWithPresetID(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	id, err := s.CreateNode(ctx, domain.TextNode{ID: domain.Ptr[int64](42), Text: domain.Ptr("x")})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	next, err := s.CreateNode(ctx, domain.TextNode{})
	require.NoError(t, err)
	assert.Equal(t, int64(43), next)
}

func TestGraphStore_CreateFieldRequiresBoard(t *testing.T) {
	s := newStore(t)
	_, err := s.CreateNode(context.Background(), domain.FieldNode{X: domain.Ptr(1.0)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestGraphStore_PartialUpdateLeavesOtherFields(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	id, err := s.CreateNode(ctx, domain.TextNode{
		X:               domain.Ptr(5.0),
		Y:               domain.Ptr(6.0),
		Text:            domain.Ptr("note"),
		Size:            domain.Ptr(14),
		Color:           domain.Ptr("#fff"),
		BackgroundColor: domain.Ptr("#000"),
	})
	require.NoError(t, err)

	// recolor only
	require.NoError(t, s.UpdateNode(ctx, domain.TextNode{ID: &id, Color: domain.Ptr("#f00")}))
	// move only
	require.NoError(t, s.UpdateNode(ctx, domain.TextNode{ID: &id, X: domain.Ptr(0.0)}))

	n, err := s.GetNode(ctx, id)
	require.NoError(t, err)
	txt := n.(domain.TextNode)
	assert.Equal(t, 0.0, *txt.X, "explicit zero is written")
	assert.Equal(t, 6.0, *txt.Y)
	assert.Equal(t, "note", *txt.Text)
	assert.Equal(t, 14, *txt.Size)
	assert.Equal(t, "#f00", *txt.Color)
	assert.Equal(t, "#000", *txt.BackgroundColor)
}

func TestGraphStore_PartialUpdateField(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	id, err := s.CreateNode(ctx, domain.FieldNode{
		X: domain.Ptr(1.0), Y: domain.Ptr(2.0), Board: board(`{"v":1}`),
		Thumbnail: domain.Ptr("thumb"), Hash: domain.Ptr("h"),
	})
	require.NoError(t, err)

	require.NoError(t, s.UpdateNode(ctx, domain.FieldNode{ID: &id, Board: board(`{"v":2}`)}))

	n, err := s.GetNode(ctx, id)
	require.NoError(t, err)
	f := n.(domain.FieldNode)
	assert.Equal(t, `{"v":2}`, string(f.Board))
	assert.Equal(t, 1.0, *f.X)
	assert.Equal(t, 2.0, *f.Y)
	assert.Equal(t, "thumb", *f.Thumbnail)
	assert.False(t, f.ThumbnailFresh(), "hash no longer matches the new board")
}

func TestGraphStore_UpdateDeleteRequireID(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	err := s.UpdateNode(ctx, domain.TextNode{Text: domain.Ptr("x")})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	err = s.DeleteNode(ctx, domain.FieldNode{})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestGraphStore_UpdateMissingNode(t *testing.T) {
	s := newStore(t)
	err := s.UpdateNode(context.Background(), domain.TextNode{ID: domain.Ptr[int64](7), Text: domain.Ptr("x")})
	assert.ErrorIs(t, err, domain.ErrNodeNotFound)
}

func TestGraphStore_DeleteCascadesConnections(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	a, err := s.CreateNode(ctx, domain.FieldNode{Board: board(`{}`)})
	require.NoError(t, err)
	b, err := s.CreateNode(ctx, domain.TextNode{Text: domain.Ptr("b")})
	require.NoError(t, err)
	c, err := s.CreateNode(ctx, domain.TextNode{Text: domain.Ptr("c")})
	require.NoError(t, err)

	require.NoError(t, s.Connect(ctx, domain.Connection{FromID: a, ToID: b, DirectionFrom: domain.DirectionRight, DirectionTo: domain.DirectionLeft}))
	require.NoError(t, s.Connect(ctx, domain.Connection{FromID: b, ToID: c, DirectionFrom: domain.DirectionBottom, DirectionTo: domain.DirectionTop}))

	require.NoError(t, s.DeleteNode(ctx, domain.TextNode{ID: &b}))

	conns, err := s.Connections(ctx)
	require.NoError(t, err)
	assert.Empty(t, conns)

	n, err := s.GetNode(ctx, b)
	require.NoError(t, err)
	assert.Nil(t, n)

	texts, err := s.Texts(ctx)
	require.NoError(t, err)
	require.Len(t, texts, 1)
	assert.Equal(t, c, *texts[0].ID)
}

func TestGraphStore_LatestFieldID(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, ok, err := s.LatestFieldID(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	first, err := s.CreateNode(ctx, domain.FieldNode{Board: board(`{}`)})
	require.NoError(t, err)
	_, err = s.CreateNode(ctx, domain.TextNode{})
	require.NoError(t, err)
	second, err := s.CreateNode(ctx, domain.FieldNode{Board: board(`{}`)})
	require.NoError(t, err)

	id, ok, err := s.LatestFieldID(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, second, id)

	require.NoError(t, s.DeleteNode(ctx, domain.FieldNode{ID: &second}))
	id, _, err = s.LatestFieldID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, id)
}

func TestGraphStore_GetAllNodesInIDOrder(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for i := 0; i < 3; i++ {
		_, err := s.CreateNode(ctx, domain.TextNode{Size: domain.Ptr(i)})
		require.NoError(t, err)
		_, err = s.CreateNode(ctx, domain.FieldNode{Board: board(`{}`)})
		require.NoError(t, err)
	}

	nodes, err := s.GetAllNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 6)
	var last int64
	for i, n := range nodes {
		id, ok := n.NodeID()
		require.True(t, ok)
		assert.Greater(t, id, last)
		last = id
		if i%2 == 0 {
			assert.Equal(t, domain.KindText, n.Kind())
		} else {
			assert.Equal(t, domain.KindField, n.Kind())
		}
	}

	fields, err := s.GetAllOfKind(ctx, domain.KindField)
	require.NoError(t, err)
	assert.Len(t, fields, 3)

	_, err = s.GetAllOfKind(ctx, domain.Kind("circle"))
	assert.ErrorIs(t, err, domain.ErrUnknownKind)
}

func TestGraphStore_ExportScrubsDerivedFields(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	id, err := s.CreateNode(ctx, domain.FieldNode{
		Board: board(`{"v":1}`), Thumbnail: domain.Ptr("data:image/png;base64,AAA"), Hash: domain.Ptr("abc"),
	})
	require.NoError(t, err)

	blob, err := s.ExportBinary(ctx)
	require.NoError(t, err)

	imported := storage.New()
	defer imported.Close()
	require.NoError(t, imported.InitializeFromBinary(ctx, blob))

	fields, err := imported.Fields(ctx)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Nil(t, fields[0].Thumbnail)
	assert.Nil(t, fields[0].Hash)

	// The live store keeps its cache.
	n, err := s.GetNode(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, n.(domain.FieldNode).Thumbnail)

	// Exporting the scrubbed import again is stable.
	again, err := imported.ExportBinary(ctx)
	require.NoError(t, err)
	reimported := storage.New()
	defer reimported.Close()
	require.NoError(t, reimported.InitializeFromBinary(ctx, again))
	fields, err = reimported.Fields(ctx)
	require.NoError(t, err)
	assert.Nil(t, fields[0].Thumbnail)
}

func TestGraphStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.CreateNode(ctx, domain.FieldNode{X: domain.Ptr(3.0), Y: domain.Ptr(4.0), Board: board(`{"f":[1,2]}`)})
	require.NoError(t, err)
	_, err = s.CreateNode(ctx, domain.TextNode{Text: domain.Ptr("t"), Size: domain.Ptr(12), Color: domain.Ptr("red")})
	require.NoError(t, err)

	before, err := s.GetAllNodes(ctx)
	require.NoError(t, err)

	blob, err := s.ExportBinary(ctx)
	require.NoError(t, err)
	require.NoError(t, s.InitializeFromBinary(ctx, blob))

	after, err := s.GetAllNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestGraphStore_CorruptImportKeepsPriorStore(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	id, err := s.CreateNode(ctx, domain.TextNode{Text: domain.Ptr("keep")})
	require.NoError(t, err)

	err = s.InitializeFromBinary(ctx, []byte("definitely not a database"))
	assert.ErrorIs(t, err, domain.ErrCorruptStore)
	err = s.InitializeFromBinary(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrCorruptStore)

	n, err := s.GetNode(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "keep", *n.(domain.TextNode).Text)
}

func TestGraphStore_ReloadedStoresStayUsable(t *testing.T) {
	ctx := context.Background()
	blob, err := storage.Seed(ctx, board(`{"field":[]}`), 0, 0)
	require.NoError(t, err)

	s := storage.New()
	for i := range 3 {
		require.NoError(t, s.InitializeFromBinary(ctx, blob))
		_, err := s.CreateNode(ctx, domain.TextNode{Text: domain.Ptr("more")})
		require.NoError(t, err, "round %d", i)
		blob, err = s.ExportBinary(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	other := storage.New()
	defer other.Close()
	require.NoError(t, other.InitializeFromBinary(ctx, blob))
	texts, err := other.Texts(ctx)
	require.NoError(t, err)
	assert.Len(t, texts, 3)
}

func TestGraphStore_Seed(t *testing.T) {
	ctx := context.Background()
	blob, err := storage.Seed(ctx, board(`{"empty":true}`), 100, 200)
	require.NoError(t, err)

	s := storage.New()
	defer s.Close()
	require.NoError(t, s.InitializeFromBinary(ctx, blob))

	id, ok, err := s.LatestFieldID(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	n, err := s.GetNode(ctx, id)
	require.NoError(t, err)
	f := n.(domain.FieldNode)
	assert.Equal(t, 100.0, *f.X)
	assert.Equal(t, 200.0, *f.Y)
}

func TestGraphStore_EventsInCommitOrder(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Flush(ctx))

	var mu sync.Mutex
	var got []storage.Event
	cancel := s.Subscribe(func(ev storage.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	defer cancel()

	octx := storage.WithOrigin(ctx, "peer-1")
	id, err := s.CreateNode(octx, domain.TextNode{Text: domain.Ptr("a")})
	require.NoError(t, err)
	require.NoError(t, s.UpdateNode(ctx, domain.TextNode{ID: &id, Color: domain.Ptr("blue")}))
	// No attributes: no event.
	require.NoError(t, s.UpdateNode(ctx, domain.TextNode{ID: &id}))
	require.NoError(t, s.DeleteNode(ctx, domain.TextNode{ID: &id}))
	require.NoError(t, s.Flush(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	assert.Equal(t, storage.OpCreated, got[0].Op)
	assert.Equal(t, "peer-1", got[0].Origin)
	assert.Equal(t, id, got[0].ID)
	created, ok := got[0].Node.NodeID()
	assert.True(t, ok)
	assert.Equal(t, id, created)
	assert.Equal(t, storage.OpUpdated, got[1].Op)
	assert.Equal(t, "", got[1].Origin)
	assert.Equal(t, storage.OpDeleted, got[2].Op)
	assert.Equal(t, int64(-1), got[2].LatestFieldID)
}

func TestGraphStore_SubscriberMayReadStore(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	seen := make(chan domain.Node, 1)
	cancel := s.Subscribe(func(ev storage.Event) {
		if ev.Op != storage.OpCreated {
			return
		}
		n, err := s.GetNode(ctx, ev.ID)
		if err == nil {
			seen <- n
		}
	})
	defer cancel()

	_, err := s.CreateNode(ctx, domain.TextNode{Text: domain.Ptr("x")})
	require.NoError(t, err)

	select {
	case n := <-seen:
		assert.Equal(t, "x", *n.(domain.TextNode).Text)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not run")
	}
}

func TestGraphStore_ExportWithRunsInEventOrder(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Flush(ctx))

	var mu sync.Mutex
	var order []string
	cancel := s.Subscribe(func(ev storage.Event) {
		mu.Lock()
		order = append(order, string(ev.Op))
		mu.Unlock()
	})
	defer cancel()

	_, err := s.CreateNode(ctx, domain.TextNode{})
	require.NoError(t, err)
	require.NoError(t, s.ExportWith(ctx, func(blob []byte) {
		mu.Lock()
		order = append(order, "export")
		mu.Unlock()
	}))
	_, err = s.CreateNode(ctx, domain.TextNode{})
	require.NoError(t, err)
	require.NoError(t, s.Flush(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"created", "export", "created"}, order)
}

func TestGraphStore_LoadEmitsLatestField(t *testing.T) {
	ctx := context.Background()
	blob, err := storage.Seed(ctx, board(`{}`), 0, 0)
	require.NoError(t, err)

	s := storage.New()
	defer s.Close()
	loaded := make(chan storage.Event, 1)
	cancel := s.Subscribe(func(ev storage.Event) {
		if ev.Op == storage.OpLoaded {
			loaded <- ev
		}
	})
	defer cancel()

	require.NoError(t, s.InitializeFromBinary(ctx, blob))
	select {
	case ev := <-loaded:
		assert.Equal(t, int64(1), ev.LatestFieldID)
		assert.Equal(t, blob, ev.Blob)
	case <-time.After(2 * time.Second):
		t.Fatal("no loaded event")
	}
}

func TestGraphStore_AfterCommitRunsBetweenEvents(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Flush(ctx))

	var (
		mu    sync.Mutex
		trail []string
	)
	note := func(s string) {
		mu.Lock()
		trail = append(trail, s)
		mu.Unlock()
	}
	cancel := s.Subscribe(func(ev storage.Event) { note("event:" + string(ev.Op)) })
	defer cancel()

	hooked := storage.AfterCommit(ctx, func(ev storage.Event) {
		note("hook:" + string(ev.Op))
		id, ok := ev.Node.NodeID()
		assert.True(t, ok)
		assert.Equal(t, ev.ID, id)
	})
	id, err := s.CreateNode(hooked, domain.TextNode{Text: domain.Ptr("a")})
	require.NoError(t, err)
	require.NoError(t, s.UpdateNode(ctx, domain.TextNode{ID: &id, X: domain.Ptr(1.0)}))
	require.NoError(t, s.Flush(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"event:created", "hook:created", "event:updated"}, trail)
}

func TestGraphStore_AfterCommitOnNoOpAndFailure(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id, err := s.CreateNode(ctx, domain.TextNode{Text: domain.Ptr("a")})
	require.NoError(t, err)

	ran := make(chan storage.Event, 2)
	hooked := storage.AfterCommit(ctx, func(ev storage.Event) { ran <- ev })

	require.NoError(t, s.UpdateNode(hooked, domain.TextNode{ID: &id}))
	err = s.UpdateNode(hooked, domain.TextNode{ID: domain.Ptr[int64](404), X: domain.Ptr(1.0)})
	assert.ErrorIs(t, err, domain.ErrNodeNotFound)
	require.NoError(t, s.Flush(ctx))

	require.Len(t, ran, 1)
	ev := <-ran
	assert.Equal(t, storage.OpUpdated, ev.Op)
	assert.Equal(t, id, ev.ID)
}
