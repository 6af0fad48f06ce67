package tablecache

import (
	"context"
	"maps"

	"github.com/mesh-intelligence/tablecache/internal/hook"
	"github.com/mesh-intelligence/tablecache/internal/store"
	"github.com/mesh-intelligence/tablecache/pkg/types"
)

// GetTable returns a copy of the cached table, or nil if name is not
// configured.
func (db *Database) GetTable(name string) *types.Table {
	return store.SelectTable(db.store.State(), name).Clone()
}

// TableNames returns the configured table names in sorted order.
func (db *Database) TableNames() []string {
	return store.SelectTableNames(db.store.State())
}

// IsRecordsLoading reports whether a record fetch is in progress for any
// table.
func (db *Database) IsRecordsLoading() bool {
	return store.SelectIsLoading(db.store.State())
}

// IsSchemaLoading reports whether a schema fetch is in progress for any
// table.
func (db *Database) IsSchemaLoading() bool {
	return store.SelectIsSchemaLoading(db.store.State())
}

// Error returns the shared error message, empty when there is none.
func (db *Database) Error() string {
	return store.SelectError(db.store.State())
}

// ClearError clears the shared error.
func (db *Database) ClearError() {
	db.mgr.ClearError()
}

// ClearTable drops the cached data of one table. The table stays known.
func (db *Database) ClearTable(name string) {
	db.mgr.ClearTable(name)
}

// FetchSchema fetches and caches a table's schema.
func (db *Database) FetchSchema(ctx context.Context, name string) (types.Schema, error) {
	return db.mgr.FetchSchema(ctx, name)
}

// FetchRecords fetches one page of records. A query with a PageToken
// appends to the cached records; one without replaces them.
func (db *Database) FetchRecords(ctx context.Context, name string, query types.QueryParams) (types.Page, error) {
	return db.mgr.FetchRecords(ctx, name, query)
}

// EnsureLoaded fetches whatever of a table's schema and first page is not
// cached yet.
func (db *Database) EnsureLoaded(ctx context.Context, name string, query types.QueryParams) error {
	return db.mgr.EnsureLoaded(ctx, name, query)
}

// AddRecord creates a record. The cache shows it under a provisional
// negative ID until the server answers.
func (db *Database) AddRecord(ctx context.Context, name string, fields types.Fields, opts ...MutationOption) (types.Record, error) {
	return db.mgr.AddRecord(ctx, name, fields, opts...)
}

// AddRecords creates several records in one request.
func (db *Database) AddRecords(ctx context.Context, name string, fields []types.Fields, opts ...MutationOption) ([]types.Record, error) {
	return db.mgr.AddRecords(ctx, name, fields, opts...)
}

// UpdateRecord applies a partial update to a cached record.
func (db *Database) UpdateRecord(ctx context.Context, name string, id int64, fields types.Fields, opts ...MutationOption) (types.Record, error) {
	return db.mgr.UpdateRecord(ctx, name, id, fields, opts...)
}

// DeleteRecord deletes a cached record.
func (db *Database) DeleteRecord(ctx context.Context, name string, id int64, opts ...MutationOption) error {
	return db.mgr.DeleteRecord(ctx, name, id, opts...)
}

// DeleteRecords deletes several cached records in one request. Nothing is
// changed if any of them is not cached.
func (db *Database) DeleteRecords(ctx context.Context, name string, ids []int64, opts ...MutationOption) error {
	return db.mgr.DeleteRecords(ctx, name, ids, opts...)
}

// Use returns a mounted Handle for one table. Handles of the same Database
// share in-flight fetches. Close the Handle when done with it.
func (db *Database) Use(name string, opts ...HookOption) *Handle {
	opts = append([]HookOption{hook.WithLogger(db.logger)}, opts...)
	return hook.New(name, db.mgr, db.tracker, opts...)
}

// Subscribe calls fn after every cache change and returns a function that
// stops the calls. fn runs on the goroutine that made the change and must
// not block.
func (db *Database) Subscribe(fn func()) (unsubscribe func()) {
	return db.store.Subscribe(func(*store.State) { fn() })
}

// Config returns the configuration the Database was opened with.
func (db *Database) Config() types.Config {
	cfg := db.cfg
	cfg.Tables = maps.Clone(db.cfg.Tables)
	return cfg
}
