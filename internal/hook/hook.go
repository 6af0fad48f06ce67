// Package hook is the consumer-facing view of one table. A Handle loads the
// table on demand, shares in-flight fetches with every other Handle on the
// same tracker, and forwards mutations to the cache Manager. Closing a
// Handle stops it from updating its own state; store updates from requests
// it started still apply.
package hook

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/tablecache/internal/cache"
	"github.com/mesh-intelligence/tablecache/internal/inflight"
	"github.com/mesh-intelligence/tablecache/internal/store"
	"github.com/mesh-intelligence/tablecache/pkg/types"
)

// Handle is bound to one table name. It is safe for concurrent use.
type Handle struct {
	table        string
	mgr          *cache.Manager
	tracker      *inflight.Tracker
	initialQuery types.QueryParams
	logger       *slog.Logger

	mu            sync.Mutex
	mounted       bool
	nextPageToken string
	unsubscribe   []func()
}

// Option configures a Handle.
type Option func(*Handle)

// WithInitialQuery sets the query of the first record fetch. Its Limit
// defaults to DefaultInitialLimit and its PageToken is ignored.
func WithInitialQuery(q types.QueryParams) Option {
	return func(h *Handle) {
		h.initialQuery = q
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handle) {
		if l != nil {
			h.logger = l
		}
	}
}

// New returns a mounted Handle for table.
func New(table string, mgr *cache.Manager, tracker *inflight.Tracker, opts ...Option) *Handle {
	h := &Handle{
		table:   table,
		mgr:     mgr,
		tracker: tracker,
		logger:  slog.New(slog.DiscardHandler),
		mounted: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.initialQuery = h.initialQuery.WithDefaultLimit(types.DefaultInitialLimit)
	h.initialQuery.PageToken = ""
	return h
}

// Name returns the table name the Handle is bound to.
func (h *Handle) Name() string { return h.table }

// Load fetches the schema if it is not cached and the first page of records
// if the table is not initialized. A fetch already running for the same
// table, from this or any other Handle on the tracker, is joined rather
// than repeated. Nothing is fetched while the store holds a shared error.
func (h *Handle) Load(ctx context.Context) error {
	st := h.mgr.Store().State()
	if msg := store.SelectError(st); msg != "" {
		h.logger.Debug("load skipped: shared error set", "table", h.table, "error", msg)
		return nil
	}

	var g errgroup.Group
	if store.SelectSchema(st, h.table) == nil {
		g.Go(func() error { return h.loadSchema(ctx) })
	}
	if !store.SelectIsInitialized(st, h.table) {
		g.Go(func() error { return h.loadRecords(ctx) })
	}
	return g.Wait()
}

func (h *Handle) loadSchema(ctx context.Context) error {
	_, err, _ := h.tracker.Do(inflight.Key(types.ResourceSchema, h.table), func() (any, error) {
		// An earlier call may have stored the schema after we looked.
		if store.SelectSchema(h.mgr.Store().State(), h.table) != nil {
			return nil, nil
		}
		return h.mgr.FetchSchema(ctx, h.table)
	})
	return err
}

func (h *Handle) loadRecords(ctx context.Context) error {
	v, err, _ := h.tracker.Do(inflight.Key(types.ResourceRecords, h.table), func() (any, error) {
		if store.SelectIsInitialized(h.mgr.Store().State(), h.table) {
			return nil, nil
		}
		return h.mgr.FetchRecords(ctx, h.table, h.initialQuery)
	})
	if err != nil {
		return err
	}
	if page, ok := v.(types.Page); ok {
		h.setNextPageToken(page.NextPageToken)
	}
	return nil
}

// Refresh fetches records with query, whose Limit defaults to
// DefaultRefreshLimit. A query without a page token replaces the cached
// records. It does nothing while records are loading. A failure is passed
// to onError, when non-nil, and returned.
func (h *Handle) Refresh(ctx context.Context, query types.QueryParams, onError func(error)) error {
	key := inflight.Key(types.ResourceRecords, h.table)
	if store.SelectIsLoading(h.mgr.Store().State()) || h.tracker.InProgress(key) {
		h.logger.Debug("refresh skipped: records loading", "table", h.table)
		return nil
	}
	query = query.WithDefaultLimit(types.DefaultRefreshLimit)

	v, err, _ := h.tracker.Do(key, func() (any, error) {
		return h.mgr.FetchRecords(ctx, h.table, query)
	})
	if err != nil {
		if onError != nil {
			onError(err)
		}
		return err
	}
	if page, ok := v.(types.Page); ok {
		h.setNextPageToken(page.NextPageToken)
	}
	return nil
}

// FetchNextPage fetches the page after the last one this Handle saw. It
// does nothing when there is no further page.
func (h *Handle) FetchNextPage(ctx context.Context, onError func(error)) error {
	token := h.NextPageToken()
	if token == "" {
		return nil
	}
	return h.Refresh(ctx, types.QueryParams{PageToken: token, Limit: types.DefaultRefreshLimit}, onError)
}

// NextPageToken returns the page token of the last page this Handle fetched.
func (h *Handle) NextPageToken() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextPageToken
}

func (h *Handle) setNextPageToken(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.mounted {
		return
	}
	h.nextPageToken = token
}

// AddRecord adds a record to the table.
func (h *Handle) AddRecord(ctx context.Context, fields types.Fields, opts ...cache.MutationOption) (types.Record, error) {
	return h.mgr.AddRecord(ctx, h.table, fields, opts...)
}

// AddRecords adds several records to the table.
func (h *Handle) AddRecords(ctx context.Context, fields []types.Fields, opts ...cache.MutationOption) ([]types.Record, error) {
	return h.mgr.AddRecords(ctx, h.table, fields, opts...)
}

// UpdateRecord updates a cached record.
func (h *Handle) UpdateRecord(ctx context.Context, id int64, fields types.Fields, opts ...cache.MutationOption) (types.Record, error) {
	return h.mgr.UpdateRecord(ctx, h.table, id, fields, opts...)
}

// DeleteRecord deletes a cached record.
func (h *Handle) DeleteRecord(ctx context.Context, id int64, opts ...cache.MutationOption) error {
	return h.mgr.DeleteRecord(ctx, h.table, id, opts...)
}

// DeleteRecords deletes several cached records.
func (h *Handle) DeleteRecords(ctx context.Context, ids []int64, opts ...cache.MutationOption) error {
	return h.mgr.DeleteRecords(ctx, h.table, ids, opts...)
}

// Table returns the current view of the table, nil if the name is unknown.
func (h *Handle) Table() *types.Table {
	return store.SelectTable(h.mgr.Store().State(), h.table)
}

// Records returns the cached records, never nil.
func (h *Handle) Records() []types.Record {
	return store.SelectRecords(h.mgr.Store().State(), h.table)
}

// Schema returns the cached schema, nil until fetched.
func (h *Handle) Schema() *types.Schema {
	return store.SelectSchema(h.mgr.Store().State(), h.table)
}

// IsLoading reports whether records are being fetched.
func (h *Handle) IsLoading() bool {
	return store.SelectIsLoading(h.mgr.Store().State())
}

// IsSchemaLoading reports whether a schema is being fetched.
func (h *Handle) IsSchemaLoading() bool {
	return store.SelectIsSchemaLoading(h.mgr.Store().State())
}

// Error returns the store's shared error, empty when there is none.
func (h *Handle) Error() string {
	return store.SelectError(h.mgr.Store().State())
}

// Subscribe calls fn with the table view after every store transition
// until the returned function is called or the Handle is closed.
func (h *Handle) Subscribe(fn func(*types.Table)) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.mounted {
		return func() {}
	}
	unsub := h.mgr.Store().Subscribe(func(st *store.State) {
		fn(store.SelectTable(st, h.table))
	})
	h.unsubscribe = append(h.unsubscribe, unsub)
	return unsub
}

// Close unmounts the Handle and drops its subscriptions. Requests already
// started keep running and still update the store.
func (h *Handle) Close() {
	h.mu.Lock()
	h.mounted = false
	unsubs := h.unsubscribe
	h.unsubscribe = nil
	h.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
}

// Mounted reports whether Close has not been called.
func (h *Handle) Mounted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mounted
}
