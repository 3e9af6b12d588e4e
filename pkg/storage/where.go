package storage

import (
	"fmt"
	"reflect"
)

// Operator is a comparison applied by a Where clause.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpIn         Operator = "in"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
)

// Valid reports whether o is a supported operator.
func (o Operator) Valid() bool {
	switch o {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpContains, OpStartsWith, OpEndsWith:
		return true
	}
	return false
}

// Where is a single filter clause. Clauses in a slice are AND-ed.
type Where struct {
	Field    string
	Operator Operator
	Value    any
}

func Eq(field string, v any) Where  { return Where{Field: field, Operator: OpEq, Value: v} }
func Ne(field string, v any) Where  { return Where{Field: field, Operator: OpNe, Value: v} }
func Gt(field string, v any) Where  { return Where{Field: field, Operator: OpGt, Value: v} }
func Gte(field string, v any) Where { return Where{Field: field, Operator: OpGte, Value: v} }
func Lt(field string, v any) Where  { return Where{Field: field, Operator: OpLt, Value: v} }
func Lte(field string, v any) Where { return Where{Field: field, Operator: OpLte, Value: v} }
func In(field string, v any) Where  { return Where{Field: field, Operator: OpIn, Value: v} }

func Contains(field, v string) Where   { return Where{Field: field, Operator: OpContains, Value: v} }
func StartsWith(field, v string) Where { return Where{Field: field, Operator: OpStartsWith, Value: v} }
func EndsWith(field, v string) Where   { return Where{Field: field, Operator: OpEndsWith, Value: v} }

// ValidateWhere checks operators, field names and value shapes.
func ValidateWhere(where []Where) error {
	for _, w := range where {
		if w.Field == "" {
			return fmt.Errorf("%w: empty field name", ErrInvalidQuery)
		}
		if !w.Operator.Valid() {
			return fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, w.Operator)
		}
		switch w.Operator {
		case OpIn:
			if _, ok := ToSlice(w.Value); !ok {
				return fmt.Errorf("%w: %q requires a slice value", ErrInvalidQuery, w.Operator)
			}
		case OpContains, OpStartsWith, OpEndsWith:
			if _, ok := w.Value.(string); !ok {
				return fmt.Errorf("%w: %q requires a string value", ErrInvalidQuery, w.Operator)
			}
		case OpGt, OpGte, OpLt, OpLte:
			if w.Value == nil {
				return fmt.Errorf("%w: %q requires a value", ErrInvalidQuery, w.Operator)
			}
		}
	}
	return nil
}

// ToSlice expands any slice or array into []any.
func ToSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range rv.Len() {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
