package store

import (
	"slices"

	"github.com/mesh-intelligence/tablecache/pkg/types"
)

// SelectTable returns the composed view of a table, or nil if the name is
// unknown. The result shares record data with the state; callers that keep
// or modify it should Clone it.
func SelectTable(s *State, name string) *types.Table {
	e := entryByName(s, name)
	if e == nil {
		return nil
	}
	t := &types.Table{
		ID:            e.id,
		Name:          name,
		Records:       e.records,
		Schema:        e.schema,
		Total:         e.total,
		Initialized:   e.initialized,
		NextPageToken: e.nextPageToken,
		LastUpdated:   e.lastUpdated,
	}
	if t.Records == nil {
		t.Records = []types.Record{}
	}
	return t
}

// SelectTableID resolves a table name. The second result is false when the
// name is unknown.
func SelectTableID(s *State, name string) (string, bool) {
	id, ok := s.byName[name]
	return id, ok
}

// SelectTableNames returns the known table names in sorted order.
func SelectTableNames(s *State) []string {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SelectRecords returns a table's records, empty if the table is unknown.
func SelectRecords(s *State, name string) []types.Record {
	e := entryByName(s, name)
	if e == nil || e.records == nil {
		return []types.Record{}
	}
	return e.records
}

// SelectRecord returns one cached record.
func SelectRecord(s *State, name string, id int64) (types.Record, bool) {
	e := entryByName(s, name)
	if e == nil {
		return types.Record{}, false
	}
	if i := e.indexOf(id); i >= 0 {
		return e.records[i], true
	}
	return types.Record{}, false
}

// SelectTotal returns a table's server-side record count.
func SelectTotal(s *State, name string) int {
	if e := entryByName(s, name); e != nil {
		return e.total
	}
	return 0
}

// SelectSchema returns a table's schema, nil if unknown or not yet fetched.
func SelectSchema(s *State, name string) *types.Schema {
	if e := entryByName(s, name); e != nil {
		return e.schema
	}
	return nil
}

// SelectIsInitialized reports whether a table's records were fetched.
func SelectIsInitialized(s *State, name string) bool {
	if e := entryByName(s, name); e != nil {
		return e.initialized
	}
	return false
}

// SelectIsLoading reports whether a record fetch is in progress.
func SelectIsLoading(s *State) bool {
	return s.loading.Records == Loading
}

// SelectIsSchemaLoading reports whether a schema fetch is in progress.
func SelectIsSchemaLoading(s *State) bool {
	return s.loading.Schemas == Loading
}

// SelectLoading returns both loading flags.
func SelectLoading(s *State) LoadingFlags {
	return s.loading
}

// SelectError returns the shared error, empty when there is none.
func SelectError(s *State) string {
	return s.err
}

func entryByName(s *State, name string) *tableEntry {
	id, ok := s.byName[name]
	if !ok {
		return nil
	}
	return s.byID[id]
}
