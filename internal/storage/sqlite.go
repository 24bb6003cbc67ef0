package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"modernc.org/sqlite"

	"fumen/internal/domain"
)

// SchemaVersion is written to the config table of every new store.
const SchemaVersion = 1

// GraphStore is the in-process authority for the node graph. The database
// lives in memory; its only persistent form is the blob returned by
// ExportBinary.
type GraphStore struct {
	mu       sync.Mutex
	conn     *sql.DB // nil until initialized
	renderer Renderer
	logger   *zap.Logger
	events   *dispatcher
}

// Option configures a GraphStore.
type Option func(*GraphStore)

// WithRenderer sets the thumbnail renderer used by RefreshThumbnail.
func WithRenderer(r Renderer) Option {
	return func(s *GraphStore) { s.renderer = r }
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *GraphStore) { s.logger = l }
}

// New creates an uninitialized GraphStore. Call InitializeEmpty or
// InitializeFromBinary before any other operation.
func New(opts ...Option) *GraphStore {
	s := &GraphStore{logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	s.events = newDispatcher(s.logger)
	return s
}

// Close releases the database and stops notification delivery.
func (s *GraphStore) Close() error {
	s.events.close()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Initialized reports whether a schema has been loaded.
func (s *GraphStore) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// InitializeEmpty replaces the current store with an empty schema.
func (s *GraphStore) InitializeEmpty(ctx context.Context) error {
	conn, err := openMemory(ctx)
	if err != nil {
		return err
	}
	if err := migrate(ctx, conn); err != nil {
		conn.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	blob, err := serialize(ctx, conn)
	if err != nil {
		conn.Close()
		return err
	}
	s.install(ctx, conn, blob)
	return nil
}

// InitializeFromBinary replaces the current store with the database in blob.
// The blob is loaded and checked in a separate database first; on any failure
// the current store is left as it was.
func (s *GraphStore) InitializeFromBinary(ctx context.Context, blob []byte) error {
	conn, err := openMemory(ctx)
	if err != nil {
		return err
	}
	if err := restore(ctx, conn, blob); err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", domain.ErrCorruptStore, err)
	}
	if err := validateSchema(ctx, conn); err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", domain.ErrCorruptStore, err)
	}
	if _, err := conn.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		conn.Close()
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	s.install(ctx, conn, blob)
	return nil
}

func (s *GraphStore) install(ctx context.Context, conn *sql.DB, blob []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.conn
	s.conn = conn
	if old != nil {
		old.Close()
	}
	latest, _, err := latestFieldID(ctx, conn)
	if err != nil {
		s.logger.Warn("latest field after load", zap.Error(err))
	}
	s.commit(ctx, Event{
		Op:            OpLoaded,
		Origin:        OriginFrom(ctx),
		LatestFieldID: latest,
		Blob:          blob,
	})
}

// ExportBinary serializes the whole store. Thumbnails and content hashes are
// cleared in the exported copy so exports do not depend on local cache state.
func (s *GraphStore) ExportBinary(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exportLocked(ctx)
}

// ExportWith exports the store and hands the blob to fn from the notification
// goroutine, after every change committed before the export has been
// delivered and before any later change is.
func (s *GraphStore) ExportWith(ctx context.Context, fn func(blob []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, err := s.exportLocked(ctx)
	if err != nil {
		return err
	}
	s.events.call(func() { fn(blob) })
	return nil
}

func (s *GraphStore) exportLocked(ctx context.Context) ([]byte, error) {
	if s.conn == nil {
		return nil, domain.ErrNotInitialized
	}
	return scrub(ctx, s.conn)
}

// Seed builds the blob of a new document: an empty schema holding one field
// node with the given board at (x, y).
func Seed(ctx context.Context, board domain.Board, x, y float64) ([]byte, error) {
	s := New()
	defer s.Close()
	if err := s.InitializeEmpty(ctx); err != nil {
		return nil, err
	}
	if _, err := s.CreateNode(ctx, domain.FieldNode{X: &x, Y: &y, Board: board}); err != nil {
		return nil, fmt.Errorf("seed field: %w", err)
	}
	return s.ExportBinary(ctx)
}

// scrub clears derived columns in a file copy of conn and returns the
// copy's bytes. conn itself is not touched.
func scrub(ctx context.Context, conn *sql.DB) ([]byte, error) {
	dir, err := os.MkdirTemp("", "fumen-export-")
	if err != nil {
		return nil, fmt.Errorf("scrub: %w", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "export.db")

	if err := copyPages(ctx, conn, func(b backuper) (*sqlite.Backup, error) { return b.NewBackup(path) }); err != nil {
		return nil, fmt.Errorf("scrub: %w", err)
	}

	clone, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("scrub: %w", err)
	}
	defer clone.Close()
	clone.SetMaxOpenConns(1)
	if _, err := clone.ExecContext(ctx, `UPDATE field_data SET thumbnail = NULL, hash = NULL`); err != nil {
		return nil, fmt.Errorf("scrub: %w", err)
	}
	return serialize(ctx, clone)
}

func (s *GraphStore) db() (*sql.DB, error) {
	if s.conn == nil {
		return nil, domain.ErrNotInitialized
	}
	return s.conn, nil
}

func openMemory(ctx context.Context) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Every connection to ":memory:" is a separate database, so the pool must
	// hold exactly one connection for the life of the store.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)
	conn.SetConnMaxIdleTime(0)
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return conn, nil
}

func migrate(ctx context.Context, conn *sql.DB) error {
	migrations := []string{
		`PRAGMA foreign_keys = ON`,
		`CREATE TABLE nodes (
			id INTEGER PRIMARY KEY,
			type TEXT NOT NULL
		)`,
		`CREATE TABLE connections (
			from_id INTEGER,
			to_id INTEGER,
			direction_from TEXT,
			direction_to TEXT,
			PRIMARY KEY (from_id, to_id, direction_from, direction_to),
			FOREIGN KEY (from_id) REFERENCES nodes(id) ON DELETE CASCADE,
			FOREIGN KEY (to_id) REFERENCES nodes(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE field_data (
			id INTEGER PRIMARY KEY,
			data TEXT NOT NULL,
			thumbnail TEXT,
			hash TEXT,
			x REAL,
			y REAL,
			FOREIGN KEY (id) REFERENCES nodes(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE text_data (
			id INTEGER PRIMARY KEY,
			x REAL,
			y REAL,
			size INTEGER,
			text TEXT,
			color TEXT,
			backgroundColor TEXT,
			FOREIGN KEY (id) REFERENCES nodes(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE config (
			version INTEGER
		)`,
		fmt.Sprintf(`INSERT INTO config (version) VALUES (%d)`, SchemaVersion),
	}

	for _, m := range migrations {
		if _, err := conn.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %.40s: %w", m, err)
		}
	}
	return nil
}

var requiredTables = []string{"nodes", "field_data", "text_data", "connections", "config"}

func validateSchema(ctx context.Context, conn *sql.DB) error {
	rows, err := conn.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	found := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("read schema: %w", err)
		}
		found[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	for _, t := range requiredTables {
		if !found[t] {
			return fmt.Errorf("missing table %q", t)
		}
	}

	var version sql.NullInt64
	err = conn.QueryRowContext(ctx, `SELECT version FROM config LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !version.Valid) {
		return errors.New("missing schema version")
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version.Int64 > SchemaVersion {
		return fmt.Errorf("schema version %d is newer than %d", version.Int64, SchemaVersion)
	}
	return nil
}

// serializer and backuper are implemented by modernc.org/sqlite driver
// connections.
type serializer interface {
	Serialize() ([]byte, error)
}

type backuper interface {
	NewBackup(dstURI string) (*sqlite.Backup, error)
	NewRestore(srcURI string) (*sqlite.Backup, error)
}

func rawConn(ctx context.Context, conn *sql.DB, fn func(driverConn any) error) error {
	c, err := conn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer c.Close()
	return c.Raw(fn)
}

func serialize(ctx context.Context, conn *sql.DB) ([]byte, error) {
	var out []byte
	err := rawConn(ctx, conn, func(driverConn any) error {
		ser, ok := driverConn.(serializer)
		if !ok {
			return fmt.Errorf("sqlite driver %T cannot serialize", driverConn)
		}
		b, err := ser.Serialize()
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	return out, nil
}

// copyPages runs a whole online backup between conn and the database that
// start opens.
func copyPages(ctx context.Context, conn *sql.DB, start func(backuper) (*sqlite.Backup, error)) error {
	return rawConn(ctx, conn, func(driverConn any) error {
		b, ok := driverConn.(backuper)
		if !ok {
			return fmt.Errorf("sqlite driver %T cannot back up", driverConn)
		}
		bck, err := start(b)
		if err != nil {
			return err
		}
		for more := true; more; {
			if more, err = bck.Step(-1); err != nil {
				bck.Finish()
				return err
			}
		}
		return bck.Finish()
	})
}

// restore loads blob into conn. The blob is staged in a temporary file and
// copied page by page, so conn owns all of its memory.
func restore(ctx context.Context, conn *sql.DB, blob []byte) error {
	if len(blob) == 0 {
		return errors.New("empty blob")
	}
	dir, err := os.MkdirTemp("", "fumen-import-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "import.db")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return err
	}
	return copyPages(ctx, conn, func(b backuper) (*sqlite.Backup, error) { return b.NewRestore(path) })
}
