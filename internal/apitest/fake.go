// Package apitest provides an in-memory types.API for tests. It keeps real
// table data, counts calls per operation, and can fail or block chosen
// operations.
package apitest

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"sync"

	"github.com/mesh-intelligence/tablecache/pkg/types"
)

// Op names one API operation.
type Op string

// Operations of types.API.
const (
	OpFetchSchema   Op = "fetch_schema"
	OpFetchRecords  Op = "fetch_records"
	OpCreateRecord  Op = "create_record"
	OpCreateRecords Op = "create_records"
	OpUpdateRecord  Op = "update_record"
	OpDeleteRecord  Op = "delete_record"
	OpDeleteRecords Op = "delete_records"
	OpPing          Op = "ping"
)

type table struct {
	schema  types.Schema
	records []types.Record
}

// Fake is an in-memory types.API. The zero value is not usable; call New.
type Fake struct {
	mu     sync.Mutex
	tables map[string]*table
	calls  map[Op]int
	errs   map[Op]error
	gates  map[Op]chan struct{}
	nextID int64

	// FetchRecordsFunc, when set, answers record fetches instead of the
	// stored data.
	FetchRecordsFunc func(tableID string, query types.QueryParams) (types.Page, error)
}

var _ types.API = (*Fake)(nil)

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		tables: map[string]*table{},
		calls:  map[Op]int{},
		errs:   map[Op]error{},
		gates:  map[Op]chan struct{}{},
	}
}

// AddTable creates a table with the given schema and records. Server IDs
// for later creates continue after the highest ID seen.
func (f *Fake) AddTable(id string, schema types.Schema, records ...types.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[id] = &table{schema: schema.Clone(), records: types.CloneRecords(records)}
	for _, r := range records {
		f.nextID = max(f.nextID, r.ID)
	}
}

// Records returns the server-side records of a table.
func (f *Fake) Records(tableID string) []types.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableID]
	if !ok {
		return nil
	}
	return types.CloneRecords(t.records)
}

// Calls returns how many times op was called.
func (f *Fake) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls returns the number of calls across all operations.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// Fail makes every later call of op return err. A nil err restores normal
// behavior.
func (f *Fake) Fail(op Op, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// Block makes calls of op wait, after being counted, until release is
// called. release is safe to call more than once.
func (f *Fake) Block(op Op) (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gates[op] = gate
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gates[op] == gate {
				delete(f.gates, op)
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

// enter counts a call, waits on its gate, and returns the injected error.
func (f *Fake) enter(ctx context.Context, op Op) error {
	f.mu.Lock()
	f.calls[op]++
	gate := f.gates[op]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[op]
}

func notFound(op, what string) error {
	return &types.RemoteError{Op: op, StatusCode: http.StatusNotFound, Message: what + " not found"}
}

// FetchSchema implements types.API.
func (f *Fake) FetchSchema(ctx context.Context, tableID string) (types.Schema, error) {
	if err := f.enter(ctx, OpFetchSchema); err != nil {
		return types.Schema{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableID]
	if !ok {
		return types.Schema{}, notFound("fetch schema", "table")
	}
	return t.schema.Clone(), nil
}

// FetchRecords implements types.API. Page tokens are offsets into the
// records ordered by ID.
func (f *Fake) FetchRecords(ctx context.Context, tableID string, query types.QueryParams) (types.Page, error) {
	if err := f.enter(ctx, OpFetchRecords); err != nil {
		return types.Page{}, err
	}
	if f.FetchRecordsFunc != nil {
		return f.FetchRecordsFunc(tableID, query)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableID]
	if !ok {
		return types.Page{}, notFound("fetch records", "table")
	}
	offset := 0
	if query.PageToken != "" {
		n, err := strconv.Atoi(query.PageToken)
		if err != nil || n < 0 {
			return types.Page{}, &types.RemoteError{Op: "fetch records", StatusCode: http.StatusBadRequest, Message: "invalid page token"}
		}
		offset = n
	}
	limit := query.Limit
	if limit <= 0 {
		limit = len(t.records)
	}
	end := min(offset+limit, len(t.records))
	page := types.Page{TableID: tableID, Total: len(t.records), Records: []types.Record{}}
	if offset < end {
		page.Records = types.CloneRecords(t.records[offset:end])
	}
	if end < len(t.records) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

// CreateRecord implements types.API.
func (f *Fake) CreateRecord(ctx context.Context, tableID string, fields types.Fields) (types.Record, error) {
	if err := f.enter(ctx, OpCreateRecord); err != nil {
		return types.Record{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableID]
	if !ok {
		return types.Record{}, notFound("create record", "table")
	}
	return f.create(t, fields), nil
}

// CreateRecords implements types.API.
func (f *Fake) CreateRecords(ctx context.Context, tableID string, fields []types.Fields) ([]types.Record, error) {
	if err := f.enter(ctx, OpCreateRecords); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableID]
	if !ok {
		return nil, notFound("create records", "table")
	}
	out := make([]types.Record, len(fields))
	for i, fs := range fields {
		out[i] = f.create(t, fs)
	}
	return out, nil
}

func (f *Fake) create(t *table, fields types.Fields) types.Record {
	f.nextID++
	r := types.Record{ID: f.nextID, Fields: t.schema.Defaults()}.Merge(fields)
	t.records = append(t.records, r)
	return r.Clone()
}

// UpdateRecord implements types.API.
func (f *Fake) UpdateRecord(ctx context.Context, tableID string, recordID int64, fields types.Fields) (types.Record, error) {
	if err := f.enter(ctx, OpUpdateRecord); err != nil {
		return types.Record{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableID]
	if !ok {
		return types.Record{}, notFound("update record", "table")
	}
	i := slices.IndexFunc(t.records, func(r types.Record) bool { return r.ID == recordID })
	if i < 0 {
		return types.Record{}, notFound("update record", "record")
	}
	t.records[i] = t.records[i].Merge(fields)
	return t.records[i].Clone(), nil
}

// DeleteRecord implements types.API.
func (f *Fake) DeleteRecord(ctx context.Context, tableID string, recordID int64) error {
	if err := f.enter(ctx, OpDeleteRecord); err != nil {
		return err
	}
	return f.remove("delete record", tableID, []int64{recordID})
}

// DeleteRecords implements types.API.
func (f *Fake) DeleteRecords(ctx context.Context, tableID string, recordIDs []int64) error {
	if err := f.enter(ctx, OpDeleteRecords); err != nil {
		return err
	}
	return f.remove("delete records", tableID, recordIDs)
}

func (f *Fake) remove(op, tableID string, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableID]
	if !ok {
		return notFound(op, "table")
	}
	for _, id := range ids {
		if !slices.ContainsFunc(t.records, func(r types.Record) bool { return r.ID == id }) {
			return notFound(op, "record")
		}
	}
	t.records = slices.DeleteFunc(t.records, func(r types.Record) bool { return slices.Contains(ids, r.ID) })
	return nil
}

// Ping implements types.API.
func (f *Fake) Ping(ctx context.Context, tableIDs []string) (types.PingResult, error) {
	if err := f.enter(ctx, OpPing); err != nil {
		return types.PingResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	res := types.PingResult{AllValid: true, ValidTables: []string{}, InvalidTables: []string{}}
	for _, id := range tableIDs {
		if _, ok := f.tables[id]; ok {
			res.ValidTables = append(res.ValidTables, id)
			continue
		}
		res.AllValid = false
		res.InvalidTables = append(res.InvalidTables, id)
	}
	return res, nil
}
