// Package sqlite provides the public factory for the SQLite reference
// server. The server keeps tables and records under a data directory and
// serves the tabular API over HTTP through Backend.Handler, while the
// implementation stays internal.
package sqlite

import (
	"log/slog"

	"github.com/mesh-intelligence/tablecache/internal/sqlite"
)

// Backend is an open reference server.
type Backend = sqlite.Backend

// TableInfo describes one table held by a Backend.
type TableInfo = sqlite.TableInfo

// Option configures Open.
type Option = sqlite.Option

// ErrClosed is returned by calls on a closed Backend.
var ErrClosed = sqlite.ErrClosed

// WithLogger sets the request and error logger.
func WithLogger(l *slog.Logger) Option {
	return sqlite.WithLogger(l)
}

// WithToken requires every request to carry the bearer token.
func WithToken(token string) Option {
	return sqlite.WithToken(token)
}

// Open opens or creates the data directory and loads it.
//
// Example:
//
//	b, err := sqlite.Open(".tablecache-db")
//	if err != nil {
//	    return err
//	}
//	defer b.Close()
//	http.Handle("/api/", http.StripPrefix("/api", b.Handler()))
func Open(dataDir string, opts ...Option) (*Backend, error) {
	return sqlite.Open(dataDir, opts...)
}
