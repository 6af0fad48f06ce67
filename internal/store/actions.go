package store

import (
	"time"

	"github.com/mesh-intelligence/tablecache/pkg/types"
)

// Action is one state transition. The set of actions is closed: apply is
// unexported, so only this package defines them. apply mutates the cloned
// state it is given and reports whether anything changed. Actions naming an
// unknown table are no-ops.
type Action interface {
	apply(s *State) bool
}

// InitializeTables seeds one entry per name→ID pair. Entries that already
// exist under the same ID keep their data.
type InitializeTables struct {
	Tables map[string]string
}

func (a InitializeTables) apply(s *State) bool {
	changed := false
	for name, id := range a.Tables {
		if s.byName[name] != id {
			s.byName[name] = id
			changed = true
		}
		e, ok := s.byID[id]
		if !ok {
			s.byID[id] = &tableEntry{id: id, name: name}
			s.allIDs = append(s.allIDs, id)
			changed = true
			continue
		}
		if e.name != name {
			e = s.mutable(id)
			e.name = name
			changed = true
		}
	}
	return changed
}

// SetLoading flips the loading flag of one resource class.
type SetLoading struct {
	Resource string // types.ResourceRecords or types.ResourceSchema
	Loading  bool
}

func (a SetLoading) apply(s *State) bool {
	v := Idle
	if a.Loading {
		v = Loading
	}
	switch a.Resource {
	case types.ResourceRecords:
		if s.loading.Records == v {
			return false
		}
		s.loading.Records = v
	case types.ResourceSchema:
		if s.loading.Schemas == v {
			return false
		}
		s.loading.Schemas = v
	default:
		return false
	}
	return true
}

// SetError records a shared error and forces both loading flags idle.
type SetError struct {
	Message string
}

func (a SetError) apply(s *State) bool {
	before := s.loading
	beforeErr := s.err
	s.err = a.Message
	s.loading = LoadingFlags{Records: Idle, Schemas: Idle}
	return before != s.loading || beforeErr != s.err
}

// ClearError clears the shared error.
type ClearError struct{}

func (ClearError) apply(s *State) bool {
	if s.err == "" {
		return false
	}
	s.err = ""
	return true
}

// StoreSchema replaces a table's schema and clears schema loading. The
// shared error is left alone.
type StoreSchema struct {
	TableID string
	Schema  types.Schema
}

func (a StoreSchema) apply(s *State) bool {
	s.loading.Schemas = Idle
	e := s.mutable(a.TableID)
	if e == nil {
		return true
	}
	schema := a.Schema.Clone()
	e.schema = &schema
	return true
}

// StoreRecords stores a fetched page. A first page (Append false) replaces
// the records; a later page is appended, updating records whose ID is
// already present in place. A page whose Seq is not newer than the last
// applied one is discarded.
type StoreRecords struct {
	TableID       string
	Records       []types.Record
	Total         int
	NextPageToken string
	Append        bool
	Seq           uint64
	At            time.Time
}

func (a StoreRecords) apply(s *State) bool {
	s.loading.Records = Idle
	cur, ok := s.byID[a.TableID]
	if !ok {
		return true
	}
	if a.Seq != 0 && a.Seq <= cur.fetchSeq {
		return true
	}
	s.err = ""
	e := s.mutable(a.TableID)
	if a.Seq != 0 {
		e.fetchSeq = a.Seq
	}
	if !a.Append {
		e.records = nil
	}
	e.records = upsert(e.records, a.Records)
	e.total = a.Total
	e.nextPageToken = a.NextPageToken
	e.initialized = true
	e.lastUpdated = a.At
	if e.lastUpdated.IsZero() {
		e.lastUpdated = time.Now()
	}
	return true
}

// OptimisticAdd appends a record at the tail and increments the total.
// A record whose ID is already present replaces it in place.
type OptimisticAdd struct {
	TableID string
	Record  types.Record
}

func (a OptimisticAdd) apply(s *State) bool {
	return OptimisticAddBatch{TableID: a.TableID, Records: []types.Record{a.Record}}.apply(s)
}

// OptimisticAddBatch is OptimisticAdd for several records in one transition.
type OptimisticAddBatch struct {
	TableID string
	Records []types.Record
}

func (a OptimisticAddBatch) apply(s *State) bool {
	e := s.mutable(a.TableID)
	if e == nil || len(a.Records) == 0 {
		return false
	}
	before := len(e.records)
	e.records = upsert(e.records, a.Records)
	e.total += len(e.records) - before
	return true
}

// OptimisticUpdate merges fields into a record in place.
type OptimisticUpdate struct {
	TableID  string
	RecordID int64
	Fields   types.Fields
}

func (a OptimisticUpdate) apply(s *State) bool {
	cur, ok := s.byID[a.TableID]
	if !ok || cur.indexOf(a.RecordID) < 0 {
		return false
	}
	e := s.mutable(a.TableID)
	i := e.indexOf(a.RecordID)
	e.records[i] = e.records[i].Merge(a.Fields)
	return true
}

// OptimisticDelete removes a record and decrements the total.
type OptimisticDelete struct {
	TableID  string
	RecordID int64
}

func (a OptimisticDelete) apply(s *State) bool {
	return removeRecords(s, a.TableID, []int64{a.RecordID})
}

// OptimisticDeleteBatch is OptimisticDelete for several IDs in one transition.
type OptimisticDeleteBatch struct {
	TableID   string
	RecordIDs []int64
}

func (a OptimisticDeleteBatch) apply(s *State) bool {
	return removeRecords(s, a.TableID, a.RecordIDs)
}

// RollbackAdd removes a provisional record after its create failed.
type RollbackAdd struct {
	TableID string
	TempID  int64
}

func (a RollbackAdd) apply(s *State) bool {
	return removeRecords(s, a.TableID, []int64{a.TempID})
}

// RollbackAddBatch removes several provisional records in one transition.
type RollbackAddBatch struct {
	TableID string
	TempIDs []int64
}

func (a RollbackAddBatch) apply(s *State) bool {
	return removeRecords(s, a.TableID, a.TempIDs)
}

// RollbackUpdate restores a record to its pre-update snapshot.
type RollbackUpdate struct {
	TableID  string
	RecordID int64
	Original types.Record
}

func (a RollbackUpdate) apply(s *State) bool {
	return replaceRecord(s, a.TableID, a.RecordID, a.Original)
}

// ConfirmRecord replaces a cached record with the server's version. It does
// not insert records that are no longer cached.
type ConfirmRecord struct {
	TableID string
	Record  types.Record
}

func (a ConfirmRecord) apply(s *State) bool {
	return replaceRecord(s, a.TableID, a.Record.ID, a.Record)
}

// ReconcileAdd replaces provisional records with the records the server
// created for them, pairing TempIDs[i] with Records[i]. When a fetch has
// already brought in the server record the provisional one is dropped.
type ReconcileAdd struct {
	TableID string
	TempIDs []int64
	Records []types.Record
}

func (a ReconcileAdd) apply(s *State) bool {
	cur, ok := s.byID[a.TableID]
	if !ok {
		return false
	}
	pending := false
	for _, id := range a.TempIDs {
		if cur.indexOf(id) >= 0 {
			pending = true
			break
		}
	}
	if !pending {
		return false
	}
	e := s.mutable(a.TableID)
	for i, tempID := range a.TempIDs {
		ti := e.indexOf(tempID)
		if ti < 0 {
			continue
		}
		if i >= len(a.Records) {
			continue
		}
		rec := a.Records[i].Clone()
		if e.indexOf(rec.ID) >= 0 {
			// The fetch that brought rec in also reset the total.
			e.records = append(e.records[:ti], e.records[ti+1:]...)
			continue
		}
		e.records[ti] = rec
	}
	return true
}

// ClearTable resets a table to its empty state. The table stays known.
type ClearTable struct {
	Name string
}

func (a ClearTable) apply(s *State) bool {
	id, ok := s.byName[a.Name]
	if !ok {
		return false
	}
	e := s.mutable(id)
	if e == nil {
		return false
	}
	e.reset()
	return true
}

// upsert appends incoming records to records, replacing any record whose ID
// is already present. Duplicates within incoming keep the last version.
func upsert(records []types.Record, incoming []types.Record) []types.Record {
	index := make(map[int64]int, len(records)+len(incoming))
	for i, r := range records {
		index[r.ID] = i
	}
	for _, r := range incoming {
		r = r.Clone()
		if i, ok := index[r.ID]; ok {
			records[i] = r
			continue
		}
		index[r.ID] = len(records)
		records = append(records, r)
	}
	return records
}

func removeRecords(s *State, tableID string, ids []int64) bool {
	cur, ok := s.byID[tableID]
	if !ok || len(ids) == 0 {
		return false
	}
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	found := false
	for _, r := range cur.records {
		if drop[r.ID] {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	e := s.mutable(tableID)
	kept := e.records[:0]
	for _, r := range e.records {
		if !drop[r.ID] {
			kept = append(kept, r)
		}
	}
	e.total = max(e.total-(len(e.records)-len(kept)), 0)
	e.records = kept
	return true
}

func replaceRecord(s *State, tableID string, id int64, rec types.Record) bool {
	cur, ok := s.byID[tableID]
	if !ok || cur.indexOf(id) < 0 {
		return false
	}
	e := s.mutable(tableID)
	rec = rec.Clone()
	rec.ID = id
	e.records[e.indexOf(id)] = rec
	return true
}
