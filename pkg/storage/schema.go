package storage

import (
	"fmt"
	"maps"
	"slices"
)

// FieldType is the logical type of a model field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldTime    FieldType = "time"
	FieldJSON    FieldType = "json"
)

// Field describes one column of a model.
type Field struct {
	Name   string
	Type   FieldType
	Unique bool
}

// Model is a named collection of fields.
type Model struct {
	Name   string
	Fields []Field
}

// UniqueFields returns the names of fields marked unique.
func (m Model) UniqueFields() []string {
	var out []string
	for _, f := range m.Fields {
		if f.Unique {
			out = append(out, f.Name)
		}
	}
	return out
}

// Schema maps model names to their definitions.
type Schema map[string]Model

// Has reports whether the schema declares model.
func (s Schema) Has(model string) bool {
	_, ok := s[model]
	return ok
}

// Models returns the declared model names in sorted order.
func (s Schema) Models() []string {
	return slices.Sorted(maps.Keys(s))
}

// Merge returns a new schema containing both s and other.
// A model declared by both is a conflict.
func (s Schema) Merge(other Schema) (Schema, error) {
	out := maps.Clone(s)
	if out == nil {
		out = make(Schema, len(other))
	}
	for name, m := range other {
		if _, exists := out[name]; exists {
			return nil, fmt.Errorf("%w: model %q declared twice", ErrSchemaConflict, name)
		}
		if m.Name == "" {
			m.Name = name
		}
		out[name] = m
	}
	return out, nil
}
