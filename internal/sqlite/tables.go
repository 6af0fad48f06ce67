package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mesh-intelligence/tablecache/pkg/types"
)

// ErrTableExists is returned when a table name is already taken.
var ErrTableExists = fmt.Errorf("%w: table name already in use", types.ErrValidation)

// TableInfo describes one stored table.
type TableInfo struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Schema    types.Schema `json:"schema"`
	CreatedAt time.Time    `json:"created_at"`
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateTable stores a new table with a generated UUID v7 ID.
func (b *Backend) CreateTable(ctx context.Context, name string, schema types.Schema) (TableInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return TableInfo{}, fmt.Errorf("create table: %w", types.ErrTableNameEmpty)
	}
	if err := schema.Validate(); err != nil {
		return TableInfo{}, fmt.Errorf("create table %q: %w", name, err)
	}
	for _, f := range schema.Fields {
		if strings.ContainsAny(f.Name, `"\`) {
			return TableInfo{}, fmt.Errorf("create table %q: field %q has quote characters: %w", name, f.Name, types.ErrValidation)
		}
	}
	if schema.Fields == nil {
		schema.Fields = []types.Field{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return TableInfo{}, ErrClosed
	}

	var exists int
	err := b.db.QueryRowContext(ctx, "SELECT 1 FROM tables WHERE name = ?", name).Scan(&exists)
	if err == nil {
		return TableInfo{}, fmt.Errorf("create table %q: %w", name, ErrTableExists)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return TableInfo{}, fmt.Errorf("checking table name: %w", err)
	}

	info := TableInfo{ID: generateUUID(), Name: name, CreatedAt: b.now().UTC()}
	schema.ID = ""
	schema.Name = ""
	data, err := json.Marshal(schema)
	if err != nil {
		return TableInfo{}, fmt.Errorf("encoding schema: %w", err)
	}
	if _, err := b.db.ExecContext(ctx,
		"INSERT INTO tables (table_id, name, schema, created_at) VALUES (?, ?, ?, ?)",
		info.ID, info.Name, string(data), info.CreatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return TableInfo{}, fmt.Errorf("inserting table: %w", err)
	}
	if err := b.persistTables(); err != nil {
		return TableInfo{}, fmt.Errorf("persisting tables: %w", err)
	}

	info.Schema = withIdentity(schema, info.ID, info.Name)
	b.logger.Info("table created", "id", info.ID, "name", name, "fields", len(schema.Fields))
	return info, nil
}

// Tables lists the stored tables ordered by creation.
func (b *Backend) Tables(ctx context.Context) ([]TableInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil, ErrClosed
	}

	rows, err := b.db.QueryContext(ctx, "SELECT table_id, name, schema, created_at FROM tables ORDER BY created_at, table_id")
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	out := []TableInfo{}
	for rows.Next() {
		var (
			info            TableInfo
			schema, created string
		)
		if err := rows.Scan(&info.ID, &info.Name, &schema, &created); err != nil {
			return nil, fmt.Errorf("scanning table: %w", err)
		}
		if err := json.Unmarshal([]byte(schema), &info.Schema); err != nil {
			return nil, fmt.Errorf("decoding schema of %s: %w", info.ID, err)
		}
		info.Schema = withIdentity(info.Schema, info.ID, info.Name)
		info.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, info)
	}
	return out, rows.Err()
}

// TableByName returns the table with the given name.
func (b *Backend) TableByName(ctx context.Context, name string) (TableInfo, error) {
	tables, err := b.Tables(ctx)
	if err != nil {
		return TableInfo{}, err
	}
	for _, t := range tables {
		if t.Name == name {
			return t, nil
		}
	}
	return TableInfo{}, fmt.Errorf("table %q: %w", name, types.ErrTableNotFound)
}

// Schema returns the schema of a table.
func (b *Backend) Schema(ctx context.Context, tableID string) (types.Schema, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return types.Schema{}, ErrClosed
	}
	return loadSchema(ctx, b.db, tableID)
}

// Ping reports which of ids name stored tables.
func (b *Backend) Ping(ctx context.Context, ids []string) (types.PingResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return types.PingResult{}, ErrClosed
	}

	res := types.PingResult{AllValid: true, ValidTables: []string{}, InvalidTables: []string{}}
	for _, id := range ids {
		var one int
		err := b.db.QueryRowContext(ctx, "SELECT 1 FROM tables WHERE table_id = ?", id).Scan(&one)
		switch {
		case err == nil:
			res.ValidTables = append(res.ValidTables, id)
		case errors.Is(err, sql.ErrNoRows):
			res.AllValid = false
			res.InvalidTables = append(res.InvalidTables, id)
		default:
			return types.PingResult{}, fmt.Errorf("checking table %s: %w", id, err)
		}
	}
	return res, nil
}

func loadSchema(ctx context.Context, q querier, tableID string) (types.Schema, error) {
	var name, data string
	err := q.QueryRowContext(ctx, "SELECT name, schema FROM tables WHERE table_id = ?", tableID).Scan(&name, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Schema{}, fmt.Errorf("table %s: %w", tableID, types.ErrTableNotFound)
	}
	if err != nil {
		return types.Schema{}, fmt.Errorf("reading table %s: %w", tableID, err)
	}
	var schema types.Schema
	if err := json.Unmarshal([]byte(data), &schema); err != nil {
		return types.Schema{}, fmt.Errorf("decoding schema of %s: %w", tableID, err)
	}
	return withIdentity(schema, tableID, name), nil
}

func withIdentity(s types.Schema, id, name string) types.Schema {
	s.ID = id
	s.Name = name
	if s.Fields == nil {
		s.Fields = []types.Field{}
	}
	return s
}
