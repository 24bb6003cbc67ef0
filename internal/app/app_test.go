package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fumen/internal/config"
	"fumen/internal/domain"
	"fumen/internal/service"
)

const (
	wait = 3 * time.Second
	tick = 10 * time.Millisecond
)

// frontend records events and finishes every splash transition, the way the
// real view does.
type frontend struct {
	service.MockEmitter
	app *App
}

func (f *frontend) Emit(ctx context.Context, event string, data any) {
	f.MockEmitter.Emit(ctx, event, data)
	if event == service.EventViewSet && data == service.SplashView {
		go f.app.TransitionEnd()
	}
}

func (f *frontend) views() []any {
	var out []any
	for _, e := range f.Named(service.EventViewSet) {
		out = append(out, e.Data)
	}
	return out
}

func newApp(t *testing.T) (*App, *frontend) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Autosave.Enabled = false
	cfg.Editor.EditSettle = 10 * time.Millisecond
	cfg.Editor.SplashSettle = 10 * time.Millisecond

	a := New(Options{Config: cfg})
	fe := &frontend{app: a}
	require.NoError(t, a.wire(context.Background(), fe))
	t.Cleanup(func() { a.Shutdown(context.Background()) })
	return a, fe
}

func TestApp_StartsWithOneSelectedField(t *testing.T) {
	a, _ := newApp(t)

	graph, err := a.GetGraph()
	require.NoError(t, err)
	require.Len(t, graph.Fields, 1)
	assert.Empty(t, graph.Texts)
	id := *graph.Fields[0].ID
	assert.Equal(t, id, a.Selection().ID)
	assert.Equal(t, service.NewDocumentBoard, a.Selection().Board)

	assert.Eventually(t, func() bool {
		g, err := a.GetGraph()
		return err == nil && g.Fields[0].ThumbnailFresh()
	}, wait, tick, "startup renders the thumbnail")
}

func TestApp_BridgesStoreEvents(t *testing.T) {
	a, fe := newApp(t)

	id, err := a.CreateText("note", 5, 5)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		for _, e := range fe.Named(EventNodeCreated) {
			if ev, ok := e.Data.(NodeEvent); ok && ev.ID == id && ev.Kind == domain.KindText {
				return true
			}
		}
		return false
	}, wait, tick)

	require.NoError(t, a.EditText(id, "edited"))
	assert.Eventually(t, func() bool { return len(fe.Named(EventNodeUpdated)) > 0 }, wait, tick)

	require.NoError(t, a.DeleteNode(id))
	assert.Eventually(t, func() bool {
		deleted := fe.Named(EventNodeDeleted)
		return len(deleted) == 1 && deleted[0].Data.(NodeDeleted).ID == id
	}, wait, tick)
}

func TestApp_CreateFieldRendersThumbnail(t *testing.T) {
	a, _ := newApp(t)

	_, err := a.CreateField("{nope", 0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	id, err := a.CreateField(`{"field":["ZZ________"]}`, 100, 0)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		n, err := a.nodes.GetNode(context.Background(), id)
		return err == nil && n.(domain.FieldNode).ThumbnailFresh()
	}, wait, tick)
}

func TestApp_OpenDocumentGoesThroughSplash(t *testing.T) {
	a, fe := newApp(t)
	path := filepath.Join(t.TempDir(), "opener")

	require.NoError(t, a.SaveDocumentAs(path))
	assert.Equal(t, path+DocumentExt, a.DocumentInfo().Path)

	_, err := a.CreateText("unsaved", 0, 0)
	require.NoError(t, err)
	a.PushHistory("edit", `{"field":[]}`, "")

	require.NoError(t, a.OpenDocument(path+DocumentExt))
	assert.Equal(t, []any{service.SplashView, EditorView}, fe.views())
	assert.Eventually(t, func() bool { return len(fe.Named(EventStoreLoaded)) > 0 }, wait, tick)
	assert.Eventually(t, func() bool { return a.HistoryState().Index == -1 }, wait, tick, "a new document starts a new history")

	graph, err := a.GetGraph()
	require.NoError(t, err)
	assert.Empty(t, graph.Texts, "the unsaved text is gone")
	assert.False(t, a.DocumentInfo().Dirty)
}

func TestApp_UndoAppliesToSelection(t *testing.T) {
	a, _ := newApp(t)
	ctx := context.Background()
	first := domain.Board(`{"field":["I_________"]}`)
	second := domain.Board(`{"field":["II________"]}`)

	a.PushHistory("first", string(first), "")
	a.PushHistory("second", string(second), "")

	state, err := a.Undo()
	require.NoError(t, err)
	assert.Equal(t, 0, state.Index)
	assert.Equal(t, first, a.Selection().Board)

	require.NoError(t, a.selection.Flush(ctx))
	n, err := a.nodes.GetNode(ctx, a.Selection().ID)
	require.NoError(t, err)
	assert.Equal(t, first, n.(domain.FieldNode).Board)

	// Nothing older: no change.
	state, err = a.Undo()
	require.NoError(t, err)
	assert.Equal(t, 0, state.Index)

	state, err = a.Redo()
	require.NoError(t, err)
	assert.Equal(t, 1, state.Index)
	assert.Equal(t, second, a.Selection().Board)
}

func TestApp_ConnectUsesConfiguredRelay(t *testing.T) {
	a, _ := newApp(t)
	a.cfg.Relay.Address = "ws://127.0.0.1:1/ws"

	err := a.Connect("")
	assert.ErrorIs(t, err, domain.ErrConnectionFailed)
	assert.Equal(t, "disconnected", a.CollabStatus().State)
}
