package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/tablecache/pkg/types"
)

const customersID = "0190f3e4-7b2a-7c4d-9e1f-2a3b4c5d6e7f"

var testTables = map[string]string{"customers": customersID}

// newTestStore returns a store seeded with the customers table.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	require.True(t, s.Dispatch(InitializeTables{Tables: testTables}))
	return s
}

func makeRecords(from, to int, name string) []types.Record {
	out := make([]types.Record, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, types.Record{ID: int64(i), Fields: types.Fields{"name": fmt.Sprintf("%s-%d", name, i)}})
	}
	return out
}

func ids(records []types.Record) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func assertUniqueIDs(t *testing.T, records []types.Record) {
	t.Helper()
	seen := map[int64]bool{}
	for _, r := range records {
		require.False(t, seen[r.ID], "duplicate record id %d", r.ID)
		seen[r.ID] = true
	}
}

func TestInitializeTables(t *testing.T) {
	s := newTestStore(t)

	tbl := SelectTable(s.State(), "customers")
	require.NotNil(t, tbl)
	assert.Equal(t, customersID, tbl.ID)
	assert.Empty(t, tbl.Records)
	assert.Nil(t, tbl.Schema)
	assert.False(t, tbl.Initialized)
	assert.Empty(t, tbl.NextPageToken)

	id, ok := SelectTableID(s.State(), "customers")
	assert.True(t, ok)
	assert.Equal(t, customersID, id)

	assert.Nil(t, SelectTable(s.State(), "unknown"))
	_, ok = SelectTableID(s.State(), "unknown")
	assert.False(t, ok)
}

func TestInitializeTables_IdempotentForPopulatedTables(t *testing.T) {
	s := newTestStore(t)
	s.Dispatch(StoreRecords{TableID: customersID, Records: makeRecords(1, 3, "c"), Total: 3, NextPageToken: "tok", At: time.Unix(100, 0)})
	s.Dispatch(StoreSchema{TableID: customersID, Schema: types.Schema{Fields: []types.Field{{Name: "name", Type: types.FieldText}}}})
	before := SelectTable(s.State(), "customers")

	changed := s.Dispatch(InitializeTables{Tables: testTables})
	assert.False(t, changed, "re-initializing with the same config is a no-op")

	after := SelectTable(s.State(), "customers")
	assert.Equal(t, before, after)
	assert.True(t, after.Initialized)
}

func TestStoreRecords_FirstPageReplaces(t *testing.T) {
	s := newTestStore(t)
	s.Dispatch(SetLoading{Resource: types.ResourceRecords, Loading: true})
	require.True(t, SelectIsLoading(s.State()))

	s.Dispatch(StoreRecords{TableID: customersID, Records: makeRecords(1, 2, "c"), Total: 50, NextPageToken: "tok1"})

	tbl := SelectTable(s.State(), "customers")
	assert.Len(t, tbl.Records, 2)
	assert.True(t, tbl.Initialized)
	assert.Equal(t, "tok1", tbl.NextPageToken)
	assert.Equal(t, 50, tbl.Total)
	assert.False(t, tbl.LastUpdated.IsZero())
	assert.False(t, SelectIsLoading(s.State()))

	s.Dispatch(StoreRecords{TableID: customersID, Records: makeRecords(7, 7, "c"), Total: 1})
	assert.Equal(t, []int64{7}, ids(SelectRecords(s.State(), "customers")))
	assert.Empty(t, SelectTable(s.State(), "customers").NextPageToken)
}

func TestStoreRecords_AppendDeduplicates(t *testing.T) {
	s := newTestStore(t)
	s.Dispatch(StoreRecords{TableID: customersID, Records: makeRecords(1, 20, "p1"), Total: 34, NextPageToken: "tok1"})
	s.Dispatch(StoreRecords{TableID: customersID, Records: makeRecords(15, 34, "p2"), Total: 34, Append: true})

	records := SelectRecords(s.State(), "customers")
	require.Len(t, records, 34)
	assertUniqueIDs(t, records)
	for _, r := range records {
		switch {
		case r.ID >= 15:
			assert.Equal(t, fmt.Sprintf("p2-%d", r.ID), r.Fields["name"])
		default:
			assert.Equal(t, fmt.Sprintf("p1-%d", r.ID), r.Fields["name"])
		}
	}
	assert.Equal(t, int64(1), records[0].ID)
	assert.Equal(t, int64(34), records[33].ID)
}

func TestStoreRecords_DuplicatesWithinPage(t *testing.T) {
	s := newTestStore(t)
	page := []types.Record{
		{ID: 1, Fields: types.Fields{"v": "a"}},
		{ID: 1, Fields: types.Fields{"v": "b"}},
	}
	s.Dispatch(StoreRecords{TableID: customersID, Records: page, Total: 1})
	records := SelectRecords(s.State(), "customers")
	require.Len(t, records, 1)
	assert.Equal(t, "b", records[0].Fields["v"])
}

func TestStoreRecords_DiscardsStaleSequence(t *testing.T) {
	s := newTestStore(t)
	s.Dispatch(StoreRecords{TableID: customersID, Records: makeRecords(1, 2, "new"), Total: 2, NextPageToken: "tok2", Seq: 2})
	s.Dispatch(StoreRecords{TableID: customersID, Records: makeRecords(1, 5, "old"), Total: 5, NextPageToken: "tok1", Seq: 1})

	tbl := SelectTable(s.State(), "customers")
	assert.Len(t, tbl.Records, 2)
	assert.Equal(t, "tok2", tbl.NextPageToken)
	assert.Equal(t, "new-1", tbl.Records[0].Fields["name"])
}

func TestSetError_ForcesLoadingIdle(t *testing.T) {
	s := newTestStore(t)
	s.Dispatch(SetLoading{Resource: types.ResourceRecords, Loading: true})
	s.Dispatch(SetLoading{Resource: types.ResourceSchema, Loading: true})
	require.True(t, SelectIsSchemaLoading(s.State()))

	s.Dispatch(SetError{Message: "boom"})
	assert.Equal(t, "boom", SelectError(s.State()))
	assert.Equal(t, LoadingFlags{Records: Idle, Schemas: Idle}, SelectLoading(s.State()))

	s.Dispatch(ClearError{})
	assert.Empty(t, SelectError(s.State()))
	assert.False(t, s.Dispatch(ClearError{}))
}

func TestStoreRecordsClearsError(t *testing.T) {
	s := newTestStore(t)
	s.Dispatch(SetError{Message: "boom"})
	s.Dispatch(StoreRecords{TableID: customersID, Total: 0})
	assert.Empty(t, SelectError(s.State()))
}

func TestStoreSchemaKeepsError(t *testing.T) {
	s := newTestStore(t)
	s.Dispatch(SetError{Message: "boom"})
	s.Dispatch(StoreSchema{TableID: customersID, Schema: types.Schema{}})
	assert.Equal(t, "boom", SelectError(s.State()))
	assert.Equal(t, Idle, SelectLoading(s.State()).Schemas)
}

func TestOptimisticAddThenRollbackIsNoop(t *testing.T) {
	s := newTestStore(t)
	s.Dispatch(StoreRecords{TableID: customersID, Records: makeRecords(1, 2, "c"), Total: 50})
	before := SelectTable(s.State(), "customers").Clone()

	s.Dispatch(OptimisticAdd{TableID: customersID, Record: types.Record{ID: -1, Fields: types.Fields{"name": "Ann"}}})
	mid := SelectTable(s.State(), "customers")
	assert.Len(t, mid.Records, 3)
	assert.Equal(t, 51, mid.Total)
	assert.Equal(t, int64(-1), mid.Records[2].ID, "optimistic records go to the tail")

	s.Dispatch(RollbackAdd{TableID: customersID, TempID: -1})
	after := SelectTable(s.State(), "customers")
	assert.Equal(t, before.Records, after.Records)
	assert.Equal(t, before.Total, after.Total)
}

func TestOptimisticAdd_ExistingIDDoesNotDuplicate(t *testing.T) {
	s := newTestStore(t)
	s.Dispatch(StoreRecords{TableID: customersID, Records: makeRecords(1, 2, "c"), Total: 2})
	s.Dispatch(OptimisticAdd{TableID: customersID, Record: types.Record{ID: 2, Fields: types.Fields{"name": "again"}}})

	tbl := SelectTable(s.State(), "customers")
	assertUniqueIDs(t, tbl.Records)
	assert.Len(t, tbl.Records, 2)
	assert.Equal(t, 2, tbl.Total)
	assert.Equal(t, "again", tbl.Records[1].Fields["name"])
}

func TestOptimisticUpdateThenRollbackRestoresExactRecord(t *testing.T) {
	s := newTestStore(t)
	orig := types.Record{ID: 2, Fields: types.Fields{
		"name":    "Bob",
		"address": map[string]any{"city": "Oslo"},
		"tags":    []any{"vip"},
	}}
	s.Dispatch(StoreRecords{TableID: customersID, Records: []types.Record{{ID: 1}, orig}, Total: 2})
	snapshot, ok := SelectRecord(s.State(), "customers", 2)
	require.True(t, ok)
	snapshot = snapshot.Clone()

	s.Dispatch(OptimisticUpdate{TableID: customersID, RecordID: 2, Fields: types.Fields{"name": "Beth", "address": nil}})
	mid, _ := SelectRecord(s.State(), "customers", 2)
	assert.Equal(t, "Beth", mid.Fields["name"])
	assert.Nil(t, mid.Fields["address"])

	s.Dispatch(RollbackUpdate{TableID: customersID, RecordID: 2, Original: snapshot})
	after, _ := SelectRecord(s.State(), "customers", 2)
	assert.Equal(t, orig, after)
	assert.Equal(t, []int64{1, 2}, ids(SelectRecords(s.State(), "customers")), "position is kept")
}

func TestOptimisticUpdate_MissingRecordIsNoop(t *testing.T) {
	s := newTestStore(t)
	assert.False(t, s.Dispatch(OptimisticUpdate{TableID: customersID, RecordID: 9, Fields: types.Fields{"a": 1}}))
	assert.False(t, s.Dispatch(OptimisticDelete{TableID: customersID, RecordID: 9}))
	assert.False(t, s.Dispatch(OptimisticAdd{TableID: "missing", Record: types.Record{ID: -1}}))
	assert.False(t, s.Dispatch(ClearTable{Name: "missing"}))
}

func TestOptimisticDeleteBatchIsOneTransition(t *testing.T) {
	s := newTestStore(t)
	s.Dispatch(StoreRecords{TableID: customersID, Records: makeRecords(1, 5, "c"), Total: 5})

	var transitions int
	unsubscribe := s.Subscribe(func(*State) { transitions++ })
	defer unsubscribe()

	s.Dispatch(OptimisticDeleteBatch{TableID: customersID, RecordIDs: []int64{2, 4, 99}})
	assert.Equal(t, 1, transitions)
	assert.Equal(t, []int64{1, 3, 5}, ids(SelectRecords(s.State(), "customers")))
	assert.Equal(t, 3, SelectTotal(s.State(), "customers"))

	s.Dispatch(OptimisticAddBatch{TableID: customersID, Records: makeRecords(2, 2, "c")})
	assert.Equal(t, 2, transitions)
	assert.Equal(t, 4, SelectTotal(s.State(), "customers"))
}

func TestReconcileAdd(t *testing.T) {
	s := newTestStore(t)
	s.Dispatch(StoreRecords{TableID: customersID, Records: makeRecords(1, 1, "c"), Total: 1})
	s.Dispatch(OptimisticAddBatch{TableID: customersID, Records: []types.Record{
		{ID: -10, Fields: types.Fields{"name": "Ann"}},
		{ID: -11, Fields: types.Fields{"name": "Cid"}},
	}})

	s.Dispatch(ReconcileAdd{TableID: customersID, TempIDs: []int64{-10, -11}, Records: []types.Record{
		{ID: 2, Fields: types.Fields{"name": "Ann"}},
		{ID: 3, Fields: types.Fields{"name": "Cid"}},
	}})
	assert.Equal(t, []int64{1, 2, 3}, ids(SelectRecords(s.State(), "customers")))
	assert.Equal(t, 3, SelectTotal(s.State(), "customers"))
}

func TestReconcileAdd_ServerRecordAlreadyFetched(t *testing.T) {
	s := newTestStore(t)
	s.Dispatch(OptimisticAdd{TableID: customersID, Record: types.Record{ID: -10, Fields: types.Fields{"name": "Ann"}}})
	s.Dispatch(StoreRecords{TableID: customersID, Records: []types.Record{{ID: 5, Fields: types.Fields{"name": "Ann"}}}, Total: 1, Append: true})

	s.Dispatch(ReconcileAdd{TableID: customersID, TempIDs: []int64{-10}, Records: []types.Record{{ID: 5, Fields: types.Fields{"name": "Ann"}}}})
	records := SelectRecords(s.State(), "customers")
	assert.Equal(t, []int64{5}, ids(records))
	assertUniqueIDs(t, records)
}

func TestConfirmRecord(t *testing.T) {
	s := newTestStore(t)
	s.Dispatch(StoreRecords{TableID: customersID, Records: makeRecords(1, 2, "c"), Total: 2})
	s.Dispatch(ConfirmRecord{TableID: customersID, Record: types.Record{ID: 2, Fields: types.Fields{"name": "Beth", "updated": true}}})
	rec, _ := SelectRecord(s.State(), "customers", 2)
	assert.Equal(t, types.Fields{"name": "Beth", "updated": true}, rec.Fields)

	assert.False(t, s.Dispatch(ConfirmRecord{TableID: customersID, Record: types.Record{ID: 42}}))
}

func TestClearTable(t *testing.T) {
	s := newTestStore(t)
	s.Dispatch(StoreRecords{TableID: customersID, Records: makeRecords(1, 2, "c"), Total: 2, NextPageToken: "tok"})
	s.Dispatch(StoreSchema{TableID: customersID, Schema: types.Schema{}})

	s.Dispatch(ClearTable{Name: "customers"})
	tbl := SelectTable(s.State(), "customers")
	require.NotNil(t, tbl, "cleared tables stay known")
	assert.Empty(t, tbl.Records)
	assert.Nil(t, tbl.Schema)
	assert.False(t, tbl.Initialized)
	assert.Zero(t, tbl.Total)
	assert.Empty(t, tbl.NextPageToken)
}

func TestPublishedStatesAreImmutable(t *testing.T) {
	s := newTestStore(t)
	s.Dispatch(StoreRecords{TableID: customersID, Records: makeRecords(1, 3, "c"), Total: 3})
	old := s.State()
	oldRecords := SelectRecords(old, "customers")

	s.Dispatch(OptimisticDelete{TableID: customersID, RecordID: 2})
	s.Dispatch(OptimisticUpdate{TableID: customersID, RecordID: 1, Fields: types.Fields{"name": "changed"}})

	assert.Equal(t, []int64{1, 2, 3}, ids(oldRecords))
	assert.Equal(t, "c-1", oldRecords[0].Fields["name"])
	assert.Equal(t, []int64{1, 3}, ids(SelectRecords(s.State(), "customers")))
}

func TestInitializedNeverRevertsExceptOnClear(t *testing.T) {
	s := newTestStore(t)
	s.Dispatch(StoreRecords{TableID: customersID, Records: makeRecords(1, 1, "c"), Total: 1})

	actions := []Action{
		OptimisticAdd{TableID: customersID, Record: types.Record{ID: -1}},
		RollbackAdd{TableID: customersID, TempID: -1},
		OptimisticDelete{TableID: customersID, RecordID: 1},
		SetError{Message: "x"},
		InitializeTables{Tables: testTables},
		StoreRecords{TableID: customersID, Append: true},
	}
	for _, a := range actions {
		s.Dispatch(a)
		assert.True(t, SelectIsInitialized(s.State(), "customers"), "after %T", a)
	}
	s.Dispatch(ClearTable{Name: "customers"})
	assert.False(t, SelectIsInitialized(s.State(), "customers"))
}

func TestSubscribe(t *testing.T) {
	s := newTestStore(t)
	var got []*State
	unsubscribe := s.Subscribe(func(st *State) { got = append(got, st) })

	s.Dispatch(SetLoading{Resource: types.ResourceRecords, Loading: true})
	s.Dispatch(SetLoading{Resource: types.ResourceRecords, Loading: true}) // unchanged
	require.Len(t, got, 1)
	assert.True(t, SelectIsLoading(got[0]))

	unsubscribe()
	unsubscribe()
	s.Dispatch(SetLoading{Resource: types.ResourceRecords, Loading: false})
	assert.Len(t, got, 1)
}

func TestConcurrentDispatchKeepsIDsUnique(t *testing.T) {
	s := newTestStore(t)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := int64(g*1000 + i)
				s.Dispatch(OptimisticAdd{TableID: customersID, Record: types.Record{ID: id}})
				s.Dispatch(OptimisticAdd{TableID: customersID, Record: types.Record{ID: id}})
				_ = SelectRecords(s.State(), "customers")
			}
		}(g)
	}
	wg.Wait()

	records := SelectRecords(s.State(), "customers")
	assert.Len(t, records, 400)
	assert.Equal(t, 400, SelectTotal(s.State(), "customers"))
	assertUniqueIDs(t, records)
}

func TestSelectTableNames(t *testing.T) {
	s := New()
	s.Dispatch(InitializeTables{Tables: map[string]string{"orders": "b", "customers": "a"}})
	assert.Equal(t, []string{"customers", "orders"}, SelectTableNames(s.State()))
}
