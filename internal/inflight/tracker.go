// Package inflight tracks outstanding requests by key so that overlapping
// callers share one network call.
package inflight

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Tracker collapses concurrent calls with the same key. One Tracker serves
// one Database; tests create their own.
type Tracker struct {
	group singleflight.Group

	mu      sync.Mutex
	pending map[string]int
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{pending: map[string]int{}}
}

// Key builds the request key of a resource class of a table, for example
// "schema_customers".
func Key(resource, table string) string {
	return resource + "_" + table
}

// Do runs fn unless a call with the same key is already outstanding, in
// which case it waits for that call and returns its result. shared reports
// whether the result came from another caller's call.
func (t *Tracker) Do(key string, fn func() (any, error)) (v any, err error, shared bool) {
	t.mu.Lock()
	t.pending[key]++
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		if t.pending[key]--; t.pending[key] <= 0 {
			delete(t.pending, key)
		}
		t.mu.Unlock()
	}()

	return t.group.Do(key, fn)
}

// InProgress reports whether a call with the given key is outstanding.
func (t *Tracker) InProgress(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending[key] > 0
}

// Waiting returns the number of callers currently inside Do for key,
// including the one running the call.
func (t *Tracker) Waiting(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending[key]
}
