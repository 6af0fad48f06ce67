package types

import "fmt"

// FieldType tags the kind of value a field holds.
type FieldType string

// Field types supported by the tabular API.
const (
	FieldText         FieldType = "text"
	FieldLongText     FieldType = "long_text"
	FieldNumber       FieldType = "number"
	FieldBoolean      FieldType = "boolean"
	FieldDate         FieldType = "date"
	FieldDateTime     FieldType = "datetime"
	FieldEmail        FieldType = "email"
	FieldURL          FieldType = "url"
	FieldPhone        FieldType = "phone"
	FieldSingleSelect FieldType = "single_select"
	FieldMultiSelect  FieldType = "multi_select"
	FieldReference    FieldType = "reference"
	FieldAttachment   FieldType = "attachment"
	FieldJSON         FieldType = "json"
	FieldRating       FieldType = "rating"
	FieldCurrency     FieldType = "currency"
	FieldFormula      FieldType = "formula"
)

// validFieldTypes is the closed set of recognized field types.
var validFieldTypes = map[FieldType]bool{
	FieldText:         true,
	FieldLongText:     true,
	FieldNumber:       true,
	FieldBoolean:      true,
	FieldDate:         true,
	FieldDateTime:     true,
	FieldEmail:        true,
	FieldURL:          true,
	FieldPhone:        true,
	FieldSingleSelect: true,
	FieldMultiSelect:  true,
	FieldReference:    true,
	FieldAttachment:   true,
	FieldJSON:         true,
	FieldRating:       true,
	FieldCurrency:     true,
	FieldFormula:      true,
}

// IsValid reports whether the field type is in the closed set.
func (ft FieldType) IsValid() bool {
	return validFieldTypes[ft]
}

// ParseFieldType converts a string to a FieldType.
// Returns ErrValidation if the type is not recognized.
func ParseFieldType(s string) (FieldType, error) {
	ft := FieldType(s)
	if !ft.IsValid() {
		return "", fmt.Errorf("field type %q: %w", s, ErrValidation)
	}
	return ft, nil
}

// DefaultValue returns the zero value a new record gets for a field of this
// type: "" for text-like types, 0 for numeric types, false for boolean, an
// empty list for multi-select and attachment, nil otherwise.
func (ft FieldType) DefaultValue() any {
	switch ft {
	case FieldText, FieldLongText, FieldEmail, FieldURL, FieldPhone:
		return ""
	case FieldNumber, FieldRating, FieldCurrency:
		return float64(0)
	case FieldBoolean:
		return false
	case FieldMultiSelect, FieldAttachment:
		return []any{}
	default:
		return nil
	}
}

// Field describes one column of a table.
type Field struct {
	Name    string         `json:"name"`
	Type    FieldType      `json:"type"`
	Options map[string]any `json:"options,omitempty"`
}

// View is a named saved presentation of a table (grid, kanban, and so on).
type View struct {
	Name    string         `json:"name"`
	Type    string         `json:"type,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// Schema is the ordered field definition set of a table.
type Schema struct {
	ID     string  `json:"id,omitempty"`
	Name   string  `json:"name,omitempty"`
	Fields []Field `json:"fields"`
	Views  []View  `json:"views,omitempty"`
}

// Field returns the field definition with the given name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Validate checks that field names are non-empty and unique and that every
// field type is recognized.
func (s Schema) Validate() error {
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("field name must not be empty: %w", ErrValidation)
		}
		if f.Name == "id" {
			return fmt.Errorf("field name %q is reserved: %w", f.Name, ErrValidation)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field %q: %w", f.Name, ErrValidation)
		}
		seen[f.Name] = true
		if !f.Type.IsValid() {
			return fmt.Errorf("field %q type %q: %w", f.Name, f.Type, ErrValidation)
		}
	}
	return nil
}

// Defaults returns a field set holding the default value of every field.
func (s Schema) Defaults() Fields {
	out := make(Fields, len(s.Fields))
	for _, f := range s.Fields {
		out[f.Name] = f.Type.DefaultValue()
	}
	return out
}

// Clone returns a deep copy of the schema.
func (s Schema) Clone() Schema {
	out := Schema{ID: s.ID, Name: s.Name}
	if s.Fields != nil {
		out.Fields = make([]Field, len(s.Fields))
		for i, f := range s.Fields {
			out.Fields[i] = Field{Name: f.Name, Type: f.Type, Options: Fields(f.Options).Clone()}
		}
	}
	if s.Views != nil {
		out.Views = make([]View, len(s.Views))
		for i, v := range s.Views {
			out.Views[i] = View{Name: v.Name, Type: v.Type, Options: Fields(v.Options).Clone()}
		}
	}
	return out
}
