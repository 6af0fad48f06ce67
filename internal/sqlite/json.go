package sqlite

import "encoding/json"

// JSONL line formats of tables.jsonl and records.jsonl.

// tableJSON is one line of tables.jsonl.
type tableJSON struct {
	TableID   string          `json:"table_id"`
	Name      string          `json:"name"`
	Schema    json.RawMessage `json:"schema"`
	CreatedAt string          `json:"created_at"`
}

// recordJSON is one line of records.jsonl.
type recordJSON struct {
	RecordID  int64           `json:"record_id"`
	TableID   string          `json:"table_id"`
	Fields    json.RawMessage `json:"fields"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

const (
	tablesFile  = "tables.jsonl"
	recordsFile = "records.jsonl"
)
