package app

import (
	"context"
	"sync"

	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"
	"go.uber.org/zap"

	"fumen/internal/channel"
	"fumen/internal/collab"
	"fumen/internal/config"
	"fumen/internal/domain"
	"fumen/internal/render"
	"fumen/internal/service"
	"fumen/internal/storage"
)

// Frontend events bridged from the graph store.
const (
	EventNodeCreated = "node:created"
	EventNodeUpdated = "node:updated"
	EventNodeDeleted = "node:deleted"
	EventStoreLoaded = "store:loaded"
)

// EditorView is the view shown once the frontend is up.
const EditorView = "editor"

// NodeEvent is sent with EventNodeCreated and EventNodeUpdated. For an
// update Node holds only the attributes that changed.
type NodeEvent struct {
	ID   int64       `json:"id"`
	Kind domain.Kind `json:"kind"`
	Node domain.Node `json:"node"`
}

// NodeDeleted is sent with EventNodeDeleted.
type NodeDeleted struct {
	ID            int64       `json:"id"`
	Kind          domain.Kind `json:"kind"`
	LatestFieldID int64       `json:"latestFieldId"`
}

// Options configure the application.
type Options struct {
	Config     *config.Config
	ConfigPath string
	Logger     *zap.Logger
	// Document is opened once the frontend is ready. Empty starts an
	// untitled document.
	Document string
}

// App is the main Wails application struct.
// All exported methods are available as Wails bindings.
type App struct {
	ctx     context.Context
	cfg     *config.Config
	cfgPath string
	logger  *zap.Logger
	initial string
	emitter service.EventEmitter

	store     *storage.GraphStore
	sw        *channel.Switch
	local     *channel.Local
	selection *service.Selection
	loader    *service.Loader
	history   *service.History
	nodes     *service.NodeService
	documents *service.DocumentService
	session   *collab.Session
	window    *service.WindowSettingsService

	views *views

	unsubscribe []func()
}

// New creates a new App.
func New(opts Options) *App {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &App{
		cfg:     opts.Config,
		cfgPath: opts.ConfigPath,
		logger:  opts.Logger,
		initial: opts.Document,
		views:   &views{current: EditorView},
	}
}

// wailsEmitter forwards service events to the frontend.
type wailsEmitter struct {
	ctx context.Context
}

func (e wailsEmitter) Emit(_ context.Context, event string, data any) {
	wailsRuntime.EventsEmit(e.ctx, event, data)
}

// Startup is called when the app starts.
func (a *App) Startup(ctx context.Context) {
	if err := a.wire(ctx, wailsEmitter{ctx: ctx}); err != nil {
		a.logger.Error("startup failed", zap.Error(err))
		wailsRuntime.Quit(ctx)
	}
}

// wire builds the store, the channels and every service. It is Startup
// without the Wails runtime.
func (a *App) wire(ctx context.Context, emitter service.EventEmitter) error {
	a.ctx = ctx
	a.emitter = emitter
	a.views.emitter = emitter

	a.store = storage.New(
		storage.WithRenderer(render.NewPNG(render.DefaultCell)),
		storage.WithLogger(a.logger.Named("store")),
	)
	// An untitled document with one empty field until something is opened.
	blob, err := storage.Seed(ctx, service.NewDocumentBoard, 0, 0)
	if err != nil {
		return err
	}
	if err := a.store.InitializeFromBinary(ctx, blob); err != nil {
		return err
	}
	if err := a.store.Flush(ctx); err != nil {
		return err
	}

	// The switch starts on a placeholder and moves to the real local
	// channel once the loader that needs the selection exists.
	a.sw = channel.NewSwitch(channel.NewLocal(a.store, nil))
	a.selection = service.NewSelection(a.store, a.sw, emitter, a.cfg.Editor.EditSettle, a.logger.Named("selection"))
	a.loader = service.NewLoader(a.store, a.selection, a.views, a.cfg.Editor.SplashSettle, a.logger.Named("loader"))
	a.local = channel.NewLocal(a.store, a.loader)
	a.sw.Swap(a.local)

	a.history = service.NewHistory(service.HistoryCapacity, emitter)
	a.nodes = service.NewNodeService(a.store, a.sw, a.selection, a.logger.Named("nodes"))
	a.documents = service.NewDocumentService(a.store, a.sw, emitter, a.logger.Named("document"))
	a.session = collab.New(a.store, a.sw, a.local, a.loader, emitter, collab.Options{
		RequestTimeout: a.cfg.Relay.RequestTimeout,
		CursorInterval: a.cfg.Relay.CursorInterval,
	}, a.logger.Named("collab"))
	a.window = service.NewWindowSettingsService(a.cfg, a.cfgPath)

	a.unsubscribe = append(a.unsubscribe,
		a.store.Subscribe(a.selection.HandleStoreEvent),
		a.store.Subscribe(a.bridge),
	)

	if a.cfg.Autosave.Enabled {
		if err := a.documents.StartAutosave(ctx, a.cfg.Autosave.Spec); err != nil {
			return err
		}
	}
	if err := a.selection.SelectLatest(ctx); err != nil {
		return err
	}
	go a.refreshThumbnails()
	return nil
}

// DomReady is called once the frontend has loaded. It opens the document
// given on the command line.
func (a *App) DomReady(ctx context.Context) {
	if a.initial == "" {
		return
	}
	path := a.initial
	a.initial = ""
	go func() {
		if err := a.documents.Open(ctx, path); err != nil {
			a.logger.Error("open document", zap.String("path", path), zap.Error(err))
		}
	}()
}

// Shutdown is called when the app is closing.
func (a *App) Shutdown(ctx context.Context) {
	if a.session != nil {
		a.session.Disconnect()
	}
	if a.selection != nil {
		if err := a.selection.Flush(ctx); err != nil {
			a.logger.Warn("flush board edit", zap.Error(err))
		}
	}
	if a.documents != nil {
		if err := a.documents.Autosave(ctx); err != nil {
			a.logger.Warn("save on exit", zap.Error(err))
		}
		a.documents.Close(ctx)
	}
	if a.nodes != nil {
		a.nodes.Wait(ctx)
	}
	for _, cancel := range a.unsubscribe {
		cancel()
	}
	a.unsubscribe = nil
	if a.store != nil {
		a.store.Close()
	}
	a.logger.Sync()
}

// ── Presenter ──────────────────────────────────────────────

// views tracks the frontend's view for the loader.
type views struct {
	mu      sync.Mutex
	current string
	emitter service.EventEmitter
}

func (v *views) CurrentView() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// SetView asks the frontend to show view. The frontend answers with
// TransitionEnd once the switch is done.
func (v *views) SetView(ctx context.Context, view string) {
	v.mu.Lock()
	v.current = view
	v.mu.Unlock()
	v.emitter.Emit(ctx, service.EventViewSet, view)
}

// ViewChanged records a view switch the frontend made on its own.
func (a *App) ViewChanged(view string) {
	a.views.mu.Lock()
	a.views.current = view
	a.views.mu.Unlock()
}

// TransitionEnd reports that the frontend finished a view transition.
func (a *App) TransitionEnd() {
	a.loader.TransitionEnd()
}

// ── Store bridge ───────────────────────────────────────────

// bridge forwards store notifications to the frontend and keeps thumbnails
// in step with boards changed on this machine.
func (a *App) bridge(ev storage.Event) {
	switch ev.Op {
	case storage.OpCreated:
		a.emitter.Emit(a.ctx, EventNodeCreated, NodeEvent{ID: ev.ID, Kind: ev.Kind, Node: ev.Node})
	case storage.OpUpdated:
		a.emitter.Emit(a.ctx, EventNodeUpdated, NodeEvent{ID: ev.ID, Kind: ev.Kind, Node: ev.Node})
	case storage.OpDeleted:
		a.emitter.Emit(a.ctx, EventNodeDeleted, NodeDeleted{ID: ev.ID, Kind: ev.Kind, LatestFieldID: ev.LatestFieldID})
		return
	case storage.OpLoaded:
		a.history.Reset()
		a.emitter.Emit(a.ctx, EventStoreLoaded, nil)
		go a.refreshThumbnails()
		return
	}

	// Relayed changes are rendered by the machine that made them.
	if f, ok := ev.Node.(domain.FieldNode); ok && f.Board != nil && ev.Origin == "" {
		go func() {
			if err := a.nodes.RefreshThumbnail(a.ctx, ev.ID); err != nil {
				a.logger.Debug("refresh thumbnail", zap.Int64("id", ev.ID), zap.Error(err))
			}
		}()
	}
}

// refreshThumbnails renders every stale thumbnail. Guests leave it to the
// host, whose renders reach them as updates.
func (a *App) refreshThumbnails() {
	if a.session.Role() == collab.RoleGuest {
		return
	}
	if err := a.nodes.RefreshThumbnails(a.ctx); err != nil {
		a.logger.Warn("refresh thumbnails", zap.Error(err))
	}
}
