package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/tablecache/pkg/types"
)

// Page size bounds of record queries.
const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Records returns one page of a table's records. Records are ordered by ID
// unless query.Sort names fields ("name", "-age,name"). Filter is a JSON
// object of field equality matches. Page tokens are offsets.
func (b *Backend) Records(ctx context.Context, tableID string, query types.QueryParams) (types.Page, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return types.Page{}, ErrClosed
	}

	schema, err := loadSchema(ctx, b.db, tableID)
	if err != nil {
		return types.Page{}, err
	}
	where, args, err := buildFilter(schema, tableID, query.Filter)
	if err != nil {
		return types.Page{}, err
	}
	order, orderArgs, err := buildOrder(schema, query.Sort)
	if err != nil {
		return types.Page{}, err
	}
	project, err := buildProjection(schema, query.Fields)
	if err != nil {
		return types.Page{}, err
	}

	limit := query.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	offset := 0
	if query.PageToken != "" {
		offset, err = strconv.Atoi(query.PageToken)
		if err != nil || offset < 0 {
			return types.Page{}, fmt.Errorf("page token %q: %w", query.PageToken, types.ErrValidation)
		}
	}

	var total int
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE "+where, args...).Scan(&total); err != nil {
		return types.Page{}, fmt.Errorf("counting records: %w", err)
	}

	rows, err := b.db.QueryContext(ctx,
		"SELECT record_id, fields FROM records WHERE "+where+" ORDER BY "+order+" LIMIT ? OFFSET ?",
		slices.Concat(args, orderArgs, []any{limit, offset})...,
	)
	if err != nil {
		return types.Page{}, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	page := types.Page{TableID: tableID, Total: total, Records: []types.Record{}}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return types.Page{}, err
		}
		page.Records = append(page.Records, project(rec))
	}
	if err := rows.Err(); err != nil {
		return types.Page{}, err
	}
	if end := offset + len(page.Records); end < total {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

// Record returns one record.
func (b *Backend) Record(ctx context.Context, tableID string, id int64) (types.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return types.Record{}, ErrClosed
	}
	return loadRecord(ctx, b.db, tableID, id)
}

// CreateRecords stores new records, filling fields the caller left out with
// their schema defaults. Field names must be in the schema.
func (b *Backend) CreateRecords(ctx context.Context, tableID string, fields []types.Fields) ([]types.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil, ErrClosed
	}

	schema, err := loadSchema(ctx, b.db, tableID)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		if err := checkFields(schema, f); err != nil {
			return nil, err
		}
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := b.timestamp()
	out := make([]types.Record, 0, len(fields))
	for _, f := range fields {
		rec := types.Record{Fields: schema.Defaults()}.Merge(f)
		data, err := json.Marshal(rec.Fields)
		if err != nil {
			return nil, fmt.Errorf("encoding fields: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO records (table_id, fields, created_at, updated_at) VALUES (?, ?, ?, ?)",
			tableID, string(data), now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("inserting record: %w", err)
		}
		if rec.ID, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("reading record id: %w", err)
		}
		out = append(out, rec)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing records: %w", err)
	}
	if err := b.persistRecords(); err != nil {
		return nil, fmt.Errorf("persisting records: %w", err)
	}
	b.logger.Debug("records created", "table", tableID, "count", len(out))
	return out, nil
}

// UpdateRecord merges fields into a record and returns the result.
func (b *Backend) UpdateRecord(ctx context.Context, tableID string, id int64, fields types.Fields) (types.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return types.Record{}, ErrClosed
	}

	schema, err := loadSchema(ctx, b.db, tableID)
	if err != nil {
		return types.Record{}, err
	}
	if err := checkFields(schema, fields); err != nil {
		return types.Record{}, err
	}
	rec, err := loadRecord(ctx, b.db, tableID, id)
	if err != nil {
		return types.Record{}, err
	}

	rec = rec.Merge(fields)
	data, err := json.Marshal(rec.Fields)
	if err != nil {
		return types.Record{}, fmt.Errorf("encoding fields: %w", err)
	}
	if _, err := b.db.ExecContext(ctx,
		"UPDATE records SET fields = ?, updated_at = ? WHERE table_id = ? AND record_id = ?",
		string(data), b.timestamp(), tableID, id,
	); err != nil {
		return types.Record{}, fmt.Errorf("updating record: %w", err)
	}
	if err := b.persistRecords(); err != nil {
		return types.Record{}, fmt.Errorf("persisting records: %w", err)
	}
	return rec, nil
}

// DeleteRecords removes records. Every ID must exist; otherwise nothing is
// removed.
func (b *Backend) DeleteRecords(ctx context.Context, tableID string, ids []int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return ErrClosed
	}
	if _, err := loadSchema(ctx, b.db, tableID); err != nil {
		return err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		res, err := tx.ExecContext(ctx, "DELETE FROM records WHERE table_id = ? AND record_id = ?", tableID, id)
		if err != nil {
			return fmt.Errorf("deleting record %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("record %d: %w", id, types.ErrRecordNotFound)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	if err := b.persistRecords(); err != nil {
		return fmt.Errorf("persisting records: %w", err)
	}
	b.logger.Debug("records deleted", "table", tableID, "count", len(ids))
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (types.Record, error) {
	var (
		rec  types.Record
		data string
	)
	if err := s.Scan(&rec.ID, &data); err != nil {
		return types.Record{}, err
	}
	if err := json.Unmarshal([]byte(data), &rec.Fields); err != nil {
		return types.Record{}, fmt.Errorf("decoding record %d: %w", rec.ID, err)
	}
	if rec.Fields == nil {
		rec.Fields = types.Fields{}
	}
	return rec, nil
}

func loadRecord(ctx context.Context, q querier, tableID string, id int64) (types.Record, error) {
	row := q.QueryRowContext(ctx, "SELECT record_id, fields FROM records WHERE table_id = ? AND record_id = ?", tableID, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Record{}, fmt.Errorf("record %d: %w", id, types.ErrRecordNotFound)
	}
	return rec, err
}

func checkFields(schema types.Schema, fields types.Fields) error {
	for name := range fields {
		if name == "id" {
			continue
		}
		if _, ok := schema.Field(name); !ok {
			return fmt.Errorf("unknown field %q: %w", name, types.ErrValidation)
		}
	}
	return nil
}

// jsonPath addresses a top-level key of the fields column.
func jsonPath(name string) string {
	return `$."` + name + `"`
}

func buildFilter(schema types.Schema, tableID string, raw json.RawMessage) (string, []any, error) {
	where := []string{"table_id = ?"}
	args := []any{tableID}
	if len(raw) == 0 || string(raw) == "null" {
		return where[0], args, nil
	}

	var filter map[string]any
	if err := json.Unmarshal(raw, &filter); err != nil {
		return "", nil, fmt.Errorf("filter must be a JSON object: %w", types.ErrValidation)
	}
	for _, name := range slices.Sorted(maps.Keys(filter)) {
		value := filter[name]
		if name == "id" {
			n, ok := value.(float64)
			if !ok {
				return "", nil, fmt.Errorf("filter on id needs a number: %w", types.ErrValidation)
			}
			where = append(where, "record_id = ?")
			args = append(args, int64(n))
			continue
		}
		if _, ok := schema.Field(name); !ok {
			return "", nil, fmt.Errorf("filter on unknown field %q: %w", name, types.ErrValidation)
		}
		switch v := value.(type) {
		case nil:
			where = append(where, "json_extract(fields, ?) IS NULL")
			args = append(args, jsonPath(name))
		case bool:
			where = append(where, "json_extract(fields, ?) = ?")
			n := 0
			if v {
				n = 1
			}
			args = append(args, jsonPath(name), n)
		case string, float64:
			where = append(where, "json_extract(fields, ?) = ?")
			args = append(args, jsonPath(name), v)
		default:
			return "", nil, fmt.Errorf("filter on %q needs a scalar: %w", name, types.ErrValidation)
		}
	}
	return strings.Join(where, " AND "), args, nil
}

// buildOrder turns "name,-age" into an ORDER BY clause and its arguments.
func buildOrder(schema types.Schema, sort string) (string, []any, error) {
	var (
		parts []string
		args  []any
	)
	for key := range strings.SplitSeq(sort, ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		dir := "ASC"
		if name, ok := strings.CutPrefix(key, "-"); ok {
			key, dir = name, "DESC"
		}
		if key == "id" {
			parts = append(parts, "record_id "+dir)
			continue
		}
		if _, ok := schema.Field(key); !ok {
			return "", nil, fmt.Errorf("sort on unknown field %q: %w", key, types.ErrValidation)
		}
		parts = append(parts, "json_extract(fields, ?) "+dir)
		args = append(args, jsonPath(key))
	}
	parts = append(parts, "record_id ASC")
	return strings.Join(parts, ", "), args, nil
}

func buildProjection(schema types.Schema, names []string) (func(types.Record) types.Record, error) {
	if len(names) == 0 {
		return func(r types.Record) types.Record { return r }, nil
	}
	for _, name := range names {
		if _, ok := schema.Field(name); !ok && name != "id" {
			return nil, fmt.Errorf("unknown field %q: %w", name, types.ErrValidation)
		}
	}
	return func(r types.Record) types.Record {
		out := types.Record{ID: r.ID, Fields: make(types.Fields, len(names))}
		for _, name := range names {
			if v, ok := r.Fields[name]; ok {
				out.Fields[name] = v
			}
		}
		return out
	}, nil
}
