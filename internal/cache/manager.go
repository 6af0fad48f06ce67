// Package cache coordinates the remote API with the table store. Fetches
// load schemas and record pages into the store; mutations are applied to
// the store optimistically, sent to the server, and either reconciled with
// the server's answer or rolled back.
package cache

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mesh-intelligence/tablecache/internal/store"
	"github.com/mesh-intelligence/tablecache/pkg/types"
)

// TempIDFunc returns a provisional record ID. IDs must be negative and
// distinct for the lifetime of a Manager.
type TempIDFunc func() int64

// NewTempIDGenerator returns a TempIDFunc deriving IDs from the negated
// millisecond clock. When two calls land in the same millisecond the later
// one steps below the previous ID, so results are strictly decreasing.
func NewTempIDGenerator(now func() time.Time) TempIDFunc {
	var (
		mu   sync.Mutex
		last int64
	)
	return func() int64 {
		mu.Lock()
		defer mu.Unlock()
		id := -now().UnixMilli()
		if id >= last {
			id = last - 1
		}
		last = id
		return id
	}
}

// Manager runs fetches and mutations against one store and one API.
// It is safe for concurrent use.
type Manager struct {
	store  *store.Store
	api    types.API
	logger *slog.Logger
	now    func() time.Time
	tempID TempIDFunc
	seq    *atomic.Uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock sets the clock used for fetch timestamps and default temp IDs.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithTempIDGenerator replaces the provisional ID generator.
func WithTempIDGenerator(fn TempIDFunc) Option {
	return func(m *Manager) {
		m.tempID = fn
	}
}

// New returns a Manager writing to s and talking to api.
func New(s *store.Store, api types.API, opts ...Option) *Manager {
	m := &Manager{
		store:  s,
		api:    api,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
		seq:    new(atomic.Uint64),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tempID == nil {
		m.tempID = NewTempIDGenerator(m.now)
	}
	return m
}

// Store returns the store the Manager writes to.
func (m *Manager) Store() *store.Store {
	return m.store
}

// ClearTable resets the cached data of a table. Unknown names are ignored.
func (m *Manager) ClearTable(name string) {
	m.store.Dispatch(store.ClearTable{Name: name})
}

// ClearError clears the shared error so automatic fetches resume.
func (m *Manager) ClearError() {
	m.store.Dispatch(store.ClearError{})
}

func (m *Manager) tableID(name string) (string, error) {
	id, ok := store.SelectTableID(m.store.State(), name)
	if !ok {
		return "", fmt.Errorf("table %q: %w", name, types.ErrTableNotFound)
	}
	return id, nil
}
