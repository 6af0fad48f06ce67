package sqlite

// Schema DDL. The database is rebuilt from the JSONL files on every Open.
const (
	createTables = `CREATE TABLE tables (
    table_id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    schema TEXT NOT NULL,
    created_at TEXT NOT NULL
);`

	createRecords = `CREATE TABLE records (
    record_id INTEGER PRIMARY KEY AUTOINCREMENT,
    table_id TEXT NOT NULL,
    fields TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    FOREIGN KEY (table_id) REFERENCES tables(table_id)
);`

	createRecordsIndex = `CREATE INDEX idx_records_table ON records (table_id, record_id);`
)

// schemaDDL lists the statements run, in order, on a fresh database.
var schemaDDL = []string{
	createTables,
	createRecords,
	createRecordsIndex,
}
