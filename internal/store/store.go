// Package store holds the normalized in-memory cache of table schemas and
// records. State changes only through Actions; each Dispatch is one atomic
// transition published to readers as an immutable State.
package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mesh-intelligence/tablecache/pkg/types"
)

// LoadState is the loading flag of one resource class.
type LoadState string

// Loading flag values.
const (
	Idle    LoadState = "idle"
	Loading LoadState = "loading"
)

// LoadingFlags are shared by every table in a store.
type LoadingFlags struct {
	Records LoadState
	Schemas LoadState
}

// State is an immutable snapshot of the store. Readers obtain it from
// Store.State and query it with the Select functions.
type State struct {
	byID    map[string]*tableEntry
	byName  map[string]string
	allIDs  []string
	loading LoadingFlags
	err     string
}

// tableEntry is the cached data of one table. Entries reachable from a
// published State are never modified; writers copy them first.
type tableEntry struct {
	id            string
	name          string
	records       []types.Record
	schema        *types.Schema
	total         int
	initialized   bool
	nextPageToken string
	lastUpdated   time.Time
	fetchSeq      uint64 // highest record-fetch sequence applied
}

func newState() *State {
	return &State{
		byID:    map[string]*tableEntry{},
		byName:  map[string]string{},
		loading: LoadingFlags{Records: Idle, Schemas: Idle},
	}
}

// clone copies the indexes of s. Entries are shared until mutable is called.
func (s *State) clone() *State {
	next := &State{
		byID:    make(map[string]*tableEntry, len(s.byID)),
		byName:  make(map[string]string, len(s.byName)),
		allIDs:  append([]string(nil), s.allIDs...),
		loading: s.loading,
		err:     s.err,
	}
	for id, e := range s.byID {
		next.byID[id] = e
	}
	for name, id := range s.byName {
		next.byName[name] = id
	}
	return next
}

// mutable returns a private copy of the entry for tableID, or nil if the
// table is unknown.
func (s *State) mutable(tableID string) *tableEntry {
	e, ok := s.byID[tableID]
	if !ok {
		return nil
	}
	cp := *e
	cp.records = append([]types.Record(nil), e.records...)
	s.byID[tableID] = &cp
	return &cp
}

func (e *tableEntry) indexOf(id int64) int {
	for i, r := range e.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (e *tableEntry) reset() {
	e.records = nil
	e.schema = nil
	e.total = 0
	e.initialized = false
	e.nextPageToken = ""
	e.lastUpdated = time.Time{}
}

// Listener is called after every transition that changed the state.
type Listener func(*State)

// Store is the single shared cache of a Database. It is safe for concurrent
// use: writers are serialized and readers never block.
type Store struct {
	writeMu sync.Mutex
	state   atomic.Pointer[State]

	listenersMu  sync.Mutex
	listeners    map[int]Listener
	nextListener int
}

// New returns an empty Store.
func New() *Store {
	s := &Store{listeners: map[int]Listener{}}
	s.state.Store(newState())
	return s
}

// State returns the current snapshot.
func (s *Store) State() *State {
	return s.state.Load()
}

// Dispatch applies one action as a single atomic transition. Listeners run
// after the new state is published, outside the write lock. Dispatch
// reports whether the state changed.
func (s *Store) Dispatch(a Action) bool {
	s.writeMu.Lock()
	next := s.state.Load().clone()
	changed := a.apply(next)
	if changed {
		s.state.Store(next)
	}
	s.writeMu.Unlock()

	if changed {
		s.notify(next)
	}
	return changed
}

// Subscribe registers fn for state changes and returns a function that
// removes it. Listeners must not block.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

func (s *Store) notify(st *State) {
	s.listenersMu.Lock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}
