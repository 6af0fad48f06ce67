package types

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Fields maps field names to values. Values are whatever JSON decodes to:
// string, float64, bool, nil, map[string]any, []any.
type Fields map[string]any

// Clone returns a deep copy of the field set.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

// Record is a table row. IDs are unique within a table; negative IDs are
// reserved for provisional records pending server confirmation.
type Record struct {
	ID     int64
	Fields Fields
}

// IsProvisional reports whether the record was created locally and has not
// been confirmed by the server.
func (r Record) IsProvisional() bool {
	return r.ID < 0
}

// Get returns the value of a field.
func (r Record) Get(name string) (any, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// Merge returns a copy of the record with updates applied over its fields.
// The receiver is not modified.
func (r Record) Merge(updates Fields) Record {
	out := r.Clone()
	if out.Fields == nil {
		out.Fields = make(Fields, len(updates))
	}
	for k, v := range updates {
		if k == "id" {
			continue
		}
		out.Fields[k] = cloneValue(v)
	}
	return out
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	return Record{ID: r.ID, Fields: r.Fields.Clone()}
}

// MarshalJSON writes the record as a flat object with the ID under "id".
func (r Record) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Fields)+1)
	maps.Copy(flat, r.Fields)
	flat["id"] = r.ID
	return json.Marshal(flat)
}

// UnmarshalJSON reads a flat object; "id" must be an integer.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var rec Record
	if idRaw, ok := raw["id"]; ok {
		if err := json.Unmarshal(idRaw, &rec.ID); err != nil {
			return fmt.Errorf("record id: %w", err)
		}
		delete(raw, "id")
	}
	rec.Fields = make(Fields, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("record field %q: %w", k, err)
		}
		rec.Fields[k] = val
	}
	*r = rec
	return nil
}

// CloneRecords deep-copies a record slice. A nil slice stays nil.
func CloneRecords(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case Fields:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return v
	}
}
