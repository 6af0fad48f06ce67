// Package sqlite is a reference implementation of the tabular API server.
// JSONL files in the data directory are the source of truth; SQLite is the
// query engine and is rebuilt from them on every Open.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrClosed is returned by operations on a closed Backend.
var ErrClosed = errors.New("backend closed")

// Backend stores tables and records and serves them over HTTP.
type Backend struct {
	mu      sync.RWMutex
	db      *sql.DB
	dataDir string
	token   string
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock sets the clock used for created and updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		if now != nil {
			b.now = now
		}
	}
}

// WithToken makes the HTTP handler require "Authorization: Bearer token".
func WithToken(token string) Option {
	return func(b *Backend) {
		b.token = token
	}
}

// Open creates dataDir if needed, builds a fresh SQLite database in it, and
// loads the JSONL files into it.
func Open(dataDir string, opts ...Option) (*Backend, error) {
	if dataDir == "" {
		dataDir = "."
	}
	b := &Backend{
		dataDir: dataDir,
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "tables.db")
	// The JSONL files are authoritative; start from an empty database.
	_ = os.Remove(dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serializes SQLite access and keeps PRAGMAs in effect.
	db.SetMaxOpenConns(1)

	for _, stmt := range schemaDDL {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	if err := loadAllJSONL(db, dataDir); err != nil {
		db.Close()
		return nil, fmt.Errorf("load JSONL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	b.db = db
	b.logger.Debug("backend opened", "data_dir", dataDir)
	return b, nil
}

// Close releases the database. Close is idempotent.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// DataDir returns the directory holding the JSONL files.
func (b *Backend) DataDir() string {
	return b.dataDir
}

func (b *Backend) timestamp() string {
	return b.now().UTC().Format(time.RFC3339Nano)
}

// generateUUID generates a UUID v7 for table IDs.
func generateUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
