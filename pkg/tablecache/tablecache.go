package tablecache

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/mesh-intelligence/tablecache/internal/cache"
	"github.com/mesh-intelligence/tablecache/internal/hook"
	"github.com/mesh-intelligence/tablecache/internal/inflight"
	"github.com/mesh-intelligence/tablecache/internal/remote"
	"github.com/mesh-intelligence/tablecache/internal/store"
	"github.com/mesh-intelligence/tablecache/internal/validate"
	"github.com/mesh-intelligence/tablecache/pkg/types"
)

// Handle is a consumer's view of one table, returned by Database.Use.
type Handle = hook.Handle

// HookOption configures a Handle.
type HookOption = hook.Option

// MutationOption configures one mutation call.
type MutationOption = cache.MutationOption

// ValidationCache remembers table IDs the server has confirmed. Sharing
// one between Databases skips repeated pings for the same tables.
type ValidationCache = validate.Cache

// Tracker collapses identical concurrent requests. Databases sharing one
// also share in-flight fetches and pings.
type Tracker = inflight.Tracker

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return inflight.New()
}

// NewValidationCache returns an empty ValidationCache.
func NewValidationCache() *ValidationCache {
	return validate.NewCache()
}

// WithInitialQuery sets the query of a Handle's first record fetch.
func WithInitialQuery(q types.QueryParams) HookOption {
	return hook.WithInitialQuery(q)
}

// WithOnError registers a callback invoked with the error of a failed
// mutation, in addition to the returned error.
func WithOnError(fn func(error)) MutationOption {
	return cache.WithOnError(fn)
}

// WithSharedError records a failed mutation request in the shared error
// field, which pauses Handle.Load until ClearError is called.
func WithSharedError() MutationOption {
	return cache.WithSharedError()
}

type options struct {
	api        types.API
	httpClient *http.Client
	logger     *slog.Logger
	validated  *ValidationCache
	tracker    *Tracker
	skipPing   bool
	tempID     func() int64
	now        func() time.Time
}

// Option configures Open.
type Option func(*options)

// WithAPI replaces the HTTP client with api. The Config's BaseURL and
// retry settings are still validated but not used.
func WithAPI(api types.API) Option {
	return func(o *options) {
		o.api = api
	}
}

// WithHTTPClient sets the http.Client the remote client sends requests on.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithLogger sets the logger for every component of the Database. The
// default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithValidationCache shares c for confirmed table IDs.
func WithValidationCache(c *ValidationCache) Option {
	return func(o *options) {
		o.validated = c
	}
}

// WithTracker sets the request tracker shared by the Database's handles.
func WithTracker(t *Tracker) Option {
	return func(o *options) {
		o.tracker = t
	}
}

// WithoutPing skips confirming the configured tables with the server.
func WithoutPing() Option {
	return func(o *options) {
		o.skipPing = true
	}
}

// WithTempIDGenerator replaces the generator of provisional record IDs.
// fn must return distinct negative values.
func WithTempIDGenerator(fn func() int64) Option {
	return func(o *options) {
		o.tempID = fn
	}
}

// WithClock sets the clock used for fetch timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Database caches the configured tables of one remote service. It is safe
// for concurrent use.
type Database struct {
	cfg     types.Config
	store   *store.Store
	mgr     *cache.Manager
	tracker *inflight.Tracker
	logger  *slog.Logger
}

// Open validates cfg, confirms its tables with the server, and returns a
// Database with an empty cache entry for every table. Validation failures
// match types.ErrValidation.
func Open(ctx context.Context, cfg types.Config, opts ...Option) (*Database, error) {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	api := o.api
	if api == nil {
		c, err := newClient(cfg, o)
		if err != nil {
			return nil, fmt.Errorf("open: %w", err)
		}
		api = c
	}

	tracker := o.tracker
	if tracker == nil {
		tracker = inflight.New()
	}

	if !o.skipPing {
		v := validate.New(api,
			validate.WithCache(o.validated),
			validate.WithTracker(tracker),
			validate.WithLogger(o.logger),
		)
		if err := v.Tables(ctx, cfg.Tables); err != nil {
			return nil, fmt.Errorf("open: %w", err)
		}
	}

	s := store.New()
	s.Dispatch(store.InitializeTables{Tables: maps.Clone(cfg.Tables)})

	mgrOpts := []cache.Option{cache.WithLogger(o.logger), cache.WithClock(o.now)}
	if o.tempID != nil {
		mgrOpts = append(mgrOpts, cache.WithTempIDGenerator(o.tempID))
	}

	cfg.Tables = maps.Clone(cfg.Tables)
	db := &Database{
		cfg:     cfg,
		store:   s,
		mgr:     cache.New(s, api, mgrOpts...),
		tracker: tracker,
		logger:  o.logger,
	}
	db.logger.Debug("database opened", "tables", len(cfg.Tables))
	return db, nil
}

func newClient(cfg types.Config, o options) (*remote.Client, error) {
	policy := remote.DefaultRetryPolicy()
	if cfg.RetryAttempts > 0 {
		policy.Attempts = cfg.RetryAttempts
	}
	if cfg.RetryDelay > 0 {
		policy.BaseDelay = cfg.RetryDelay
	}
	copts := []remote.Option{
		remote.WithRetry(policy),
		remote.WithUserAgent("tablecache/" + Version),
		remote.WithLogger(o.logger),
	}
	if cfg.Token != "" {
		copts = append(copts, remote.WithToken(cfg.Token))
	}
	if o.httpClient != nil {
		copts = append(copts, remote.WithHTTPClient(o.httpClient))
	}
	return remote.NewClient(cfg.BaseURL, copts...)
}
