package types

import (
	"errors"
	"time"
)

// Table is a snapshot of one cached table as seen by consumers.
// NextPageToken is empty when there is no further page. LastUpdated is the
// zero time until records have been fetched.
type Table struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Records       []Record  `json:"records"`
	Schema        *Schema   `json:"schema,omitempty"`
	Total         int       `json:"total"`
	Initialized   bool      `json:"initialized"`
	NextPageToken string    `json:"next_page_token,omitempty"`
	LastUpdated   time.Time `json:"last_updated,omitzero"`
}

// Clone returns a deep copy of the table so callers can hold it across
// store transitions.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := *t
	out.Records = CloneRecords(t.Records)
	if t.Schema != nil {
		s := t.Schema.Clone()
		out.Schema = &s
	}
	return &out
}

// HasRecord reports whether a record with the given ID is present.
func (t *Table) HasRecord(id int64) bool {
	_, ok := t.Record(id)
	return ok
}

// Record returns the record with the given ID.
func (t *Table) Record(id int64) (Record, bool) {
	if t == nil {
		return Record{}, false
	}
	for _, r := range t.Records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// Lookup errors. ErrTableNotFound and ErrRecordNotFound both match
// ErrNotFound under errors.Is. Callers wrap them with the table name or
// record ID.
var ErrNotFound = errors.New("not found")

var (
	ErrTableNotFound  error = &notFoundError{what: "table"}
	ErrRecordNotFound error = &notFoundError{what: "record"}
)

type notFoundError struct {
	what string
}

func (e *notFoundError) Error() string { return e.what + " not found" }

func (e *notFoundError) Is(target error) bool { return target == ErrNotFound }

// Remote and configuration errors.
var (
	ErrNetwork    = errors.New("network error")
	ErrServer     = errors.New("server error")
	ErrValidation = errors.New("validation error")
)
