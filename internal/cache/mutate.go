package cache

import (
	"context"
	"fmt"
	"slices"

	"github.com/mesh-intelligence/tablecache/internal/store"
	"github.com/mesh-intelligence/tablecache/pkg/types"
)

// MutationOption configures how one mutation reports failure.
type MutationOption func(*mutationConfig)

type mutationConfig struct {
	onError func(error)
	shared  bool
}

// WithOnError calls fn with the error of a failed mutation. The error is
// still returned.
func WithOnError(fn func(error)) MutationOption {
	return func(c *mutationConfig) {
		c.onError = fn
	}
}

// WithSharedError records a failed request in the store's shared error,
// which pauses automatic fetches until it is cleared. Lookup failures are
// never recorded there.
func WithSharedError() MutationOption {
	return func(c *mutationConfig) {
		c.shared = true
	}
}

func newMutationConfig(opts []MutationOption) mutationConfig {
	var c mutationConfig
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// rejectLocal reports a failure that happened before any state changed.
func (c mutationConfig) rejectLocal(err error) error {
	if c.onError != nil {
		c.onError(err)
	}
	return err
}

// reject reports a failed request after its optimistic change was undone.
func (m *Manager) reject(c mutationConfig, err error) error {
	if c.shared {
		m.store.Dispatch(store.SetError{Message: err.Error()})
	}
	if c.onError != nil {
		c.onError(err)
	}
	return err
}

// AddRecord shows a provisional record with a negative ID at the end of the
// table, then creates it on the server. On success the provisional record
// is replaced by the server's; on failure it is removed again.
func (m *Manager) AddRecord(ctx context.Context, name string, fields types.Fields, opts ...MutationOption) (types.Record, error) {
	cfg := newMutationConfig(opts)
	id, err := m.tableID(name)
	if err != nil {
		return types.Record{}, cfg.rejectLocal(fmt.Errorf("add record: %w", err))
	}

	temp := types.Record{ID: m.tempID(), Fields: fields.Clone()}
	if temp.Fields == nil {
		temp.Fields = types.Fields{}
	}
	m.store.Dispatch(store.OptimisticAdd{TableID: id, Record: temp})

	rec, err := m.api.CreateRecord(context.WithoutCancel(ctx), id, fields)
	if err != nil {
		m.store.Dispatch(store.RollbackAdd{TableID: id, TempID: temp.ID})
		m.logger.Warn("add rolled back", "table", name, "temp_id", temp.ID, "error", err)
		return types.Record{}, m.reject(cfg, fmt.Errorf("add record to %q: %w", name, err))
	}

	m.store.Dispatch(store.ReconcileAdd{TableID: id, TempIDs: []int64{temp.ID}, Records: []types.Record{rec}})
	m.logger.Debug("add confirmed", "table", name, "temp_id", temp.ID, "id", rec.ID)
	return rec.Clone(), nil
}

// AddRecords is AddRecord for several records. The provisional records are
// added in one transition and, on failure, removed in one transition.
func (m *Manager) AddRecords(ctx context.Context, name string, fields []types.Fields, opts ...MutationOption) ([]types.Record, error) {
	cfg := newMutationConfig(opts)
	id, err := m.tableID(name)
	if err != nil {
		return nil, cfg.rejectLocal(fmt.Errorf("add records: %w", err))
	}
	if len(fields) == 0 {
		return []types.Record{}, nil
	}

	temps := make([]types.Record, len(fields))
	tempIDs := make([]int64, len(fields))
	for i, f := range fields {
		temps[i] = types.Record{ID: m.tempID(), Fields: f.Clone()}
		if temps[i].Fields == nil {
			temps[i].Fields = types.Fields{}
		}
		tempIDs[i] = temps[i].ID
	}
	m.store.Dispatch(store.OptimisticAddBatch{TableID: id, Records: temps})

	recs, err := m.api.CreateRecords(context.WithoutCancel(ctx), id, fields)
	if err != nil {
		m.store.Dispatch(store.RollbackAddBatch{TableID: id, TempIDs: tempIDs})
		m.logger.Warn("batch add rolled back", "table", name, "count", len(tempIDs), "error", err)
		return nil, m.reject(cfg, fmt.Errorf("add records to %q: %w", name, err))
	}

	m.store.Dispatch(store.ReconcileAdd{TableID: id, TempIDs: tempIDs, Records: recs})
	if len(recs) < len(tempIDs) {
		// The server created fewer records than asked; drop the unmatched ones.
		m.store.Dispatch(store.RollbackAddBatch{TableID: id, TempIDs: tempIDs[len(recs):]})
	}
	m.logger.Debug("batch add confirmed", "table", name, "count", len(recs))
	return types.CloneRecords(recs), nil
}

// UpdateRecord merges fields into a cached record, then sends the update.
// The record must be cached; otherwise ErrNotFound is returned before any
// request. On success the server's version replaces the cached one; on
// failure the record is restored exactly as it was.
func (m *Manager) UpdateRecord(ctx context.Context, name string, recordID int64, fields types.Fields, opts ...MutationOption) (types.Record, error) {
	cfg := newMutationConfig(opts)
	id, err := m.tableID(name)
	if err != nil {
		return types.Record{}, cfg.rejectLocal(fmt.Errorf("update record: %w", err))
	}
	snapshot, ok := store.SelectRecord(m.store.State(), name, recordID)
	if !ok {
		return types.Record{}, cfg.rejectLocal(fmt.Errorf("update record %d in %q: %w", recordID, name, types.ErrRecordNotFound))
	}
	snapshot = snapshot.Clone()

	m.store.Dispatch(store.OptimisticUpdate{TableID: id, RecordID: recordID, Fields: fields})

	rec, err := m.api.UpdateRecord(context.WithoutCancel(ctx), id, recordID, fields)
	if err != nil {
		m.store.Dispatch(store.RollbackUpdate{TableID: id, RecordID: recordID, Original: snapshot})
		m.logger.Warn("update rolled back", "table", name, "id", recordID, "error", err)
		return types.Record{}, m.reject(cfg, fmt.Errorf("update record %d in %q: %w", recordID, name, err))
	}

	rec.ID = recordID
	m.store.Dispatch(store.ConfirmRecord{TableID: id, Record: rec})
	return rec.Clone(), nil
}

// DeleteRecord removes a cached record, then deletes it on the server. On
// failure the record is added back at the end of the table.
func (m *Manager) DeleteRecord(ctx context.Context, name string, recordID int64, opts ...MutationOption) error {
	cfg := newMutationConfig(opts)
	id, err := m.tableID(name)
	if err != nil {
		return cfg.rejectLocal(fmt.Errorf("delete record: %w", err))
	}
	snapshot, ok := store.SelectRecord(m.store.State(), name, recordID)
	if !ok {
		return cfg.rejectLocal(fmt.Errorf("delete record %d in %q: %w", recordID, name, types.ErrRecordNotFound))
	}
	snapshot = snapshot.Clone()

	m.store.Dispatch(store.OptimisticDelete{TableID: id, RecordID: recordID})

	if err := m.api.DeleteRecord(context.WithoutCancel(ctx), id, recordID); err != nil {
		m.store.Dispatch(store.OptimisticAdd{TableID: id, Record: snapshot})
		m.logger.Warn("delete rolled back", "table", name, "id", recordID, "error", err)
		return m.reject(cfg, fmt.Errorf("delete record %d in %q: %w", recordID, name, err))
	}
	return nil
}

// DeleteRecords removes several cached records in one transition. Every ID
// must be cached: if any is missing nothing is removed and ErrNotFound names
// the missing IDs.
func (m *Manager) DeleteRecords(ctx context.Context, name string, recordIDs []int64, opts ...MutationOption) error {
	cfg := newMutationConfig(opts)
	id, err := m.tableID(name)
	if err != nil {
		return cfg.rejectLocal(fmt.Errorf("delete records: %w", err))
	}
	if len(recordIDs) == 0 {
		return nil
	}

	st := m.store.State()
	ids := slices.Clone(recordIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	var missing []int64
	snapshots := make([]types.Record, 0, len(ids))
	for _, rid := range ids {
		rec, ok := store.SelectRecord(st, name, rid)
		if !ok {
			missing = append(missing, rid)
			continue
		}
		snapshots = append(snapshots, rec.Clone())
	}
	if len(missing) > 0 {
		return cfg.rejectLocal(fmt.Errorf("delete records %v in %q: %w", missing, name, types.ErrRecordNotFound))
	}

	m.store.Dispatch(store.OptimisticDeleteBatch{TableID: id, RecordIDs: ids})

	if err := m.api.DeleteRecords(context.WithoutCancel(ctx), id, ids); err != nil {
		m.store.Dispatch(store.OptimisticAddBatch{TableID: id, Records: snapshots})
		m.logger.Warn("batch delete rolled back", "table", name, "count", len(ids), "error", err)
		return m.reject(cfg, fmt.Errorf("delete records in %q: %w", name, err))
	}
	return nil
}
