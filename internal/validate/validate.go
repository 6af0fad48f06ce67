// Package validate checks a configuration against the server before a
// Database is built from it.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/mesh-intelligence/tablecache/internal/inflight"
	"github.com/mesh-intelligence/tablecache/pkg/types"
)

// Cache remembers table IDs the server has confirmed. Share one Cache
// between Validators to skip repeat pings.
type Cache struct {
	mu  sync.RWMutex
	ids map[string]bool
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{ids: map[string]bool{}}
}

// Has reports whether id was confirmed.
func (c *Cache) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ids[id]
}

// Add marks ids as confirmed.
func (c *Cache) Add(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.ids[id] = true
	}
}

// Len returns the number of confirmed IDs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}

// Validator pings the server for table IDs it has not confirmed yet.
type Validator struct {
	api     types.API
	cache   *Cache
	tracker *inflight.Tracker
	logger  *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithCache sets the confirmed-ID cache.
func WithCache(c *Cache) Option {
	return func(v *Validator) {
		if c != nil {
			v.cache = c
		}
	}
}

// WithTracker sets the tracker that collapses identical concurrent pings.
func WithTracker(t *inflight.Tracker) Option {
	return func(v *Validator) {
		if t != nil {
			v.tracker = t
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

// New returns a Validator using api. Without options it gets its own cache
// and tracker.
func New(api types.API, opts ...Option) *Validator {
	v := &Validator{
		api:     api,
		cache:   NewCache(),
		tracker: inflight.New(),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Check validates cfg locally and then confirms its tables with the server.
func (v *Validator) Check(ctx context.Context, cfg types.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return v.Tables(ctx, cfg.Tables)
}

// Tables confirms that every table ID in tables (name to ID) exists. IDs in
// the cache are not pinged again. Identical concurrent pings share one
// request. Failures match ErrValidation; unknown IDs are named together with
// their table names.
func (v *Validator) Tables(ctx context.Context, tables map[string]string) error {
	var pending []string
	for _, id := range tables {
		if !v.cache.Has(id) {
			pending = append(pending, id)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	slices.Sort(pending)
	pending = slices.Compact(pending)

	csv := strings.Join(pending, ",")
	val, err, shared := v.tracker.Do("ping_"+csv, func() (any, error) {
		return v.api.Ping(ctx, pending)
	})
	if err != nil {
		v.logger.Warn("table ping failed", "tables", csv, "error", err)
		return fmt.Errorf("%w: ping tables: %w", types.ErrValidation, err)
	}
	res := val.(types.PingResult)
	if shared {
		v.logger.Debug("joined in-flight table ping", "tables", csv)
	}

	if res.AllValid {
		v.cache.Add(pending...)
		return nil
	}
	v.cache.Add(res.ValidTables...)
	if len(res.InvalidTables) == 0 {
		return fmt.Errorf("%w: one or more tables could not be found", types.ErrValidation)
	}

	invalid := slices.Clone(res.InvalidTables)
	slices.Sort(invalid)
	var names []string
	for name, id := range tables {
		if slices.Contains(invalid, id) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return fmt.Errorf("%w: invalid tables: %s (table names: %s)", types.ErrValidation,
		strings.Join(invalid, ", "), strings.Join(names, ", "))
}
