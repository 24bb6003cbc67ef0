package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"lukechampine.com/blake3"

	"fumen/internal/channel"
	"fumen/internal/domain"
	"fumen/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Document Service: the open file, autosave and external edits
// ─────────────────────────────────────────────────────────────

// Document events.
const (
	EventDocumentOpened   = "document:opened"
	EventDocumentSaved    = "document:saved"
	EventDocumentReloaded = "document:reloaded"
)

// NewDocumentBoard is the board of the field a new document starts with.
var NewDocumentBoard = domain.Board(`{"field":[]}`)

const reloadSettle = 200 * time.Millisecond

// DocumentInfo is sent with document events.
type DocumentInfo struct {
	Path  string `json:"path"`
	Dirty bool   `json:"dirty"`
}

// DocumentService binds the graph store to a file on disk. Loads go through
// the active channel, so opening a file while collaborating replaces the
// whole room's store.
type DocumentService struct {
	store   *storage.GraphStore
	ch      channel.Channel
	emitter EventEmitter
	logger  *zap.Logger
	jobs    JobGuard

	mu          sync.Mutex
	path        string
	dirty       bool
	digest      string // of the bytes last read from or written to path
	cronSched   *cron.Cron
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	unsubscribe func()
}

// NewDocumentService creates the service and starts tracking unsaved changes.
func NewDocumentService(store *storage.GraphStore, ch channel.Channel, emitter EventEmitter, logger *zap.Logger) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	s := &DocumentService{store: store, ch: ch, emitter: emitter, logger: logger}
	s.unsubscribe = store.Subscribe(func(ev storage.Event) {
		if derivedOnly(ev) {
			return
		}
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
	})
	return s
}

// derivedOnly reports an update that only set a thumbnail and its hash.
// Neither is saved, so the document stays clean.
func derivedOnly(ev storage.Event) bool {
	f, ok := ev.Node.(domain.FieldNode)
	return ev.Op == storage.OpUpdated && ok && f.Board == nil && f.X == nil && f.Y == nil
}

// Info returns the open path and whether there are unsaved changes.
func (s *DocumentService) Info() DocumentInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return DocumentInfo{Path: s.path, Dirty: s.dirty}
}

// New replaces the store with an untitled document holding one empty field.
func (s *DocumentService) New(ctx context.Context) error {
	blob, err := storage.Seed(ctx, NewDocumentBoard, 0, 0)
	if err != nil {
		return err
	}
	if err := s.load(ctx, blob); err != nil {
		return fmt.Errorf("new document: %w", err)
	}
	s.stopWatching()
	s.mu.Lock()
	s.path, s.digest = "", ""
	s.mu.Unlock()
	s.emit(ctx, EventDocumentOpened)
	return nil
}

// Open loads path and watches it for writes by other processes.
func (s *DocumentService) Open(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if err := s.load(ctx, data); err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	s.mu.Lock()
	s.path, s.digest = abs, digest(data)
	s.mu.Unlock()
	s.watch(abs)
	s.logger.Info("document opened", zap.String("path", abs))
	s.emit(ctx, EventDocumentOpened)
	return nil
}

// load replaces the store and starts clean once the load event is through.
func (s *DocumentService) load(ctx context.Context, blob []byte) error {
	if err := s.ch.LoadStore(ctx, blob, true); err != nil {
		return err
	}
	if err := s.store.Flush(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// Save writes the store to the open path.
func (s *DocumentService) Save(ctx context.Context) error {
	s.mu.Lock()
	path := s.path
	s.mu.Unlock()
	if path == "" {
		return fmt.Errorf("save: %w: document has no path yet", domain.ErrInvalidState)
	}
	return s.write(ctx, path)
}

// SaveAs writes the store to path and makes it the open document.
func (s *DocumentService) SaveAs(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err := s.write(ctx, abs); err != nil {
		return err
	}
	s.watch(abs)
	return nil
}

func (s *DocumentService) write(ctx context.Context, path string) error {
	if err := s.store.Flush(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	// Changes committed after this point stay dirty.
	s.dirty = false
	s.mu.Unlock()

	blob, err := s.store.ExportBinary(ctx)
	if err != nil {
		s.markDirty()
		return fmt.Errorf("save: %w", err)
	}
	if err := writeFileAtomic(path, blob); err != nil {
		s.markDirty()
		return fmt.Errorf("save %s: %w", path, err)
	}

	s.mu.Lock()
	s.path, s.digest = path, digest(blob)
	s.mu.Unlock()
	s.logger.Debug("document saved", zap.String("path", path), zap.Int("bytes", len(blob)))
	s.emit(ctx, EventDocumentSaved)
	return nil
}

func (s *DocumentService) markDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// Autosave saves when the document has a path and unsaved changes. A call
// made while a save is running returns immediately.
func (s *DocumentService) Autosave(ctx context.Context) error {
	if !s.jobs.TryLock(JobAutosave) {
		return nil
	}
	defer s.jobs.Unlock(JobAutosave)

	info := s.Info()
	if info.Path == "" || !info.Dirty {
		return nil
	}
	return s.Save(ctx)
}

// StartAutosave runs Autosave on a robfig/cron schedule such as "@every 30s".
func (s *DocumentService) StartAutosave(ctx context.Context, spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if err := s.Autosave(ctx); err != nil {
			s.logger.Warn("autosave failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("autosave schedule %q: %w", spec, err)
	}
	s.mu.Lock()
	prev := s.cronSched
	s.cronSched = c
	s.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
	c.Start()
	s.logger.Info("autosave scheduled", zap.String("spec", spec))
	return nil
}

// watch follows writes to path made by other processes and reloads the
// document through the active channel. Our own saves are recognised by
// their digest.
func (s *DocumentService) watch(path string) {
	s.stopWatching()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("document watcher unavailable", zap.Error(err))
		return
	}
	// Watch the directory: saves replace the file by rename.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		s.logger.Warn("watch document dir", zap.String("path", path), zap.Error(err))
		watcher.Close()
		return
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.watcher = watcher
	s.watchCancel = cancel
	s.mu.Unlock()

	settle := debounce.New(reloadSettle)
	go func() {
		for {
			select {
			case <-watchCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if abs, _ := filepath.Abs(event.Name); abs != path {
					continue
				}
				settle(func() {
					if watchCtx.Err() != nil {
						return
					}
					if err := s.reloadIfChanged(watchCtx, path); err != nil {
						s.logger.Warn("reload document", zap.String("path", path), zap.Error(err))
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("document watcher error", zap.Error(err))
			}
		}
	}()
}

func (s *DocumentService) reloadIfChanged(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	d := digest(data)
	s.mu.Lock()
	same := s.path != path || s.digest == d
	s.mu.Unlock()
	if same {
		return nil
	}
	if err := s.load(ctx, data); err != nil {
		return err
	}
	s.mu.Lock()
	s.digest = d
	s.mu.Unlock()
	s.logger.Info("document changed on disk, reloaded", zap.String("path", path))
	s.emit(ctx, EventDocumentReloaded)
	return nil
}

func (s *DocumentService) stopWatching() {
	s.mu.Lock()
	cancel, watcher := s.watchCancel, s.watcher
	s.watchCancel, s.watcher = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if watcher != nil {
		watcher.Close()
	}
}

// Close stops autosave and the file watcher and waits for a running save.
func (s *DocumentService) Close(ctx context.Context) {
	s.mu.Lock()
	c := s.cronSched
	s.cronSched = nil
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	s.stopWatching()
	if unsubscribe != nil {
		unsubscribe()
	}
	s.jobs.WaitAll(ctx)
}

func (s *DocumentService) emit(ctx context.Context, event string) {
	s.emitter.Emit(ctx, event, s.Info())
}

func digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// writeFileAtomic replaces path through a temporary file in the same
// directory.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".fumen-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
