package cache

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/tablecache/internal/store"
	"github.com/mesh-intelligence/tablecache/pkg/types"
)

// FetchSchema loads the schema of a table into the store. It fails with
// ErrNotFound, without a network call, when the name is unknown. A failed
// request is returned and also recorded as the store's shared error.
//
// The request is not cancelled with ctx; it always runs to completion so
// the store ends up in a settled state.
func (m *Manager) FetchSchema(ctx context.Context, name string) (types.Schema, error) {
	id, err := m.tableID(name)
	if err != nil {
		return types.Schema{}, fmt.Errorf("fetch schema: %w", err)
	}

	m.store.Dispatch(store.SetLoading{Resource: types.ResourceSchema, Loading: true})
	schema, err := m.api.FetchSchema(context.WithoutCancel(ctx), id)
	if err != nil {
		m.logger.Warn("schema fetch failed", "table", name, "error", err)
		m.store.Dispatch(store.SetError{Message: err.Error()})
		return types.Schema{}, fmt.Errorf("fetch schema %q: %w", name, err)
	}

	m.store.Dispatch(store.StoreSchema{TableID: id, Schema: schema})
	m.logger.Debug("schema stored", "table", name, "fields", len(schema.Fields))
	return schema.Clone(), nil
}

// FetchRecords loads one page of records. A query without a page token
// replaces the cached records; a query with one appends to them. Limit
// defaults to DefaultInitialLimit.
//
// Each call takes a sequence number before it starts. If a later call has
// already been stored when this one returns, its page is discarded by the
// store but still returned to the caller.
func (m *Manager) FetchRecords(ctx context.Context, name string, query types.QueryParams) (types.Page, error) {
	id, err := m.tableID(name)
	if err != nil {
		return types.Page{}, fmt.Errorf("fetch records: %w", err)
	}
	query = query.WithDefaultLimit(types.DefaultInitialLimit)

	seq := m.seq.Add(1)
	m.store.Dispatch(store.SetLoading{Resource: types.ResourceRecords, Loading: true})
	page, err := m.api.FetchRecords(context.WithoutCancel(ctx), id, query)
	if err != nil {
		m.logger.Warn("record fetch failed", "table", name, "page_token", query.PageToken, "error", err)
		m.store.Dispatch(store.SetError{Message: err.Error()})
		return types.Page{}, fmt.Errorf("fetch records %q: %w", name, err)
	}

	m.store.Dispatch(store.StoreRecords{
		TableID:       id,
		Records:       page.Records,
		Total:         page.Total,
		NextPageToken: page.NextPageToken,
		Append:        query.IsNextPage(),
		Seq:           seq,
		At:            m.now(),
	})
	m.logger.Debug("records stored", "table", name, "count", len(page.Records), "total", page.Total, "append", query.IsNextPage())

	page.TableID = id
	page.Records = types.CloneRecords(page.Records)
	if page.Records == nil {
		page.Records = []types.Record{}
	}
	return page, nil
}

// EnsureLoaded fetches whatever of the schema and the first record page is
// not cached yet, concurrently. It returns the first error.
func (m *Manager) EnsureLoaded(ctx context.Context, name string, query types.QueryParams) error {
	if _, err := m.tableID(name); err != nil {
		return fmt.Errorf("ensure loaded: %w", err)
	}
	st := m.store.State()

	var g errgroup.Group
	if store.SelectSchema(st, name) == nil {
		g.Go(func() error {
			_, err := m.FetchSchema(ctx, name)
			return err
		})
	}
	if !store.SelectIsInitialized(st, name) {
		query.PageToken = ""
		g.Go(func() error {
			_, err := m.FetchRecords(ctx, name, query)
			return err
		})
	}
	return g.Wait()
}
