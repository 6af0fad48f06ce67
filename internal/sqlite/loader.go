package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
)

// loadAllJSONL reads tables.jsonl and records.jsonl into the database in one
// transaction: either everything loads or the database stays empty.
// Malformed lines, records of unknown tables, and unknown JSON keys are
// skipped.
func loadAllJSONL(db *sql.DB, dataDir string) error {
	tables, err := readJSONL(filepath.Join(dataDir, tablesFile))
	if err != nil {
		return err
	}
	records, err := readJSONL(filepath.Join(dataDir, recordsFile))
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	known := make(map[string]bool, len(tables))
	for _, line := range tables {
		var t tableJSON
		if err := json.Unmarshal(line, &t); err != nil || t.TableID == "" || t.Name == "" {
			continue
		}
		schema := t.Schema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"fields":[]}`)
		}
		if _, err := tx.Exec(
			"INSERT INTO tables (table_id, name, schema, created_at) VALUES (?, ?, ?, ?)",
			t.TableID, t.Name, string(schema), t.CreatedAt,
		); err != nil {
			continue
		}
		known[t.TableID] = true
	}

	stmt, err := tx.Prepare("INSERT INTO records (record_id, table_id, fields, created_at, updated_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing record insert: %w", err)
	}
	defer stmt.Close()

	for _, line := range records {
		var r recordJSON
		if err := json.Unmarshal(line, &r); err != nil || r.RecordID <= 0 || !known[r.TableID] {
			continue
		}
		fields := r.Fields
		if len(fields) == 0 || string(fields) == "null" {
			fields = json.RawMessage(`{}`)
		}
		if _, err := stmt.Exec(r.RecordID, r.TableID, string(fields), r.CreatedAt, r.UpdatedAt); err != nil {
			continue
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing load transaction: %w", err)
	}
	return nil
}

// persistTables writes every table row to tables.jsonl.
func (b *Backend) persistTables() error {
	rows, err := b.db.Query("SELECT table_id, name, schema, created_at FROM tables ORDER BY created_at, table_id")
	if err != nil {
		return fmt.Errorf("reading tables: %w", err)
	}
	defer rows.Close()

	var out []tableJSON
	for rows.Next() {
		var t tableJSON
		var schema string
		if err := rows.Scan(&t.TableID, &t.Name, &schema, &t.CreatedAt); err != nil {
			return fmt.Errorf("scanning table: %w", err)
		}
		t.Schema = json.RawMessage(schema)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return writeJSONL(filepath.Join(b.dataDir, tablesFile), out)
}

// persistRecords writes every record row to records.jsonl.
func (b *Backend) persistRecords() error {
	rows, err := b.db.Query("SELECT record_id, table_id, fields, created_at, updated_at FROM records ORDER BY record_id")
	if err != nil {
		return fmt.Errorf("reading records: %w", err)
	}
	defer rows.Close()

	var out []recordJSON
	for rows.Next() {
		var r recordJSON
		var fields string
		if err := rows.Scan(&r.RecordID, &r.TableID, &fields, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return fmt.Errorf("scanning record: %w", err)
		}
		r.Fields = json.RawMessage(fields)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return writeJSONL(filepath.Join(b.dataDir, recordsFile), out)
}
