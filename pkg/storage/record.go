package storage

import (
	"encoding/json"
	"maps"
	"math"
	"strconv"
	"time"
)

// Record is a single stored row keyed by snake_case field names.
// Adapters backed by text formats (JSON, BSON) may hand values back with a
// different Go type than was written (float64 or json.Number for integers,
// RFC 3339 strings for times); the typed getters below absorb that.
type Record map[string]any

// Clone returns a shallow copy with nested maps copied one level deep.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		switch nested := v.(type) {
		case map[string]any:
			out[k] = maps.Clone(nested)
		case Record:
			out[k] = maps.Clone(nested)
		default:
			out[k] = v
		}
	}
	return out
}

func (r Record) ID() string {
	return r.String("id")
}

// String returns the value as a string, or "" when missing or not a string.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case json.Number:
		return v.String()
	}
	return ""
}

// Int64 returns the value as an int64, or 0 when missing or not numeric.
func (r Record) Int64(key string) int64 {
	n, _ := ToInt64(r[key])
	return n
}

func (r Record) Int(key string) int {
	return int(r.Int64(key))
}

func (r Record) Bool(key string) bool {
	b, _ := r[key].(bool)
	return b
}

// Time returns the value as a UTC time, or the zero time when missing.
func (r Record) Time(key string) time.Time {
	t, _ := ToTime(r[key])
	return t
}

// TimePtr returns nil when the value is missing or not a time.
func (r Record) TimePtr(key string) *time.Time {
	t, ok := ToTime(r[key])
	if !ok {
		return nil
	}
	return &t
}

// Map returns a copy of a nested object value.
func (r Record) Map(key string) map[string]any {
	switch v := r[key].(type) {
	case map[string]any:
		return maps.Clone(v)
	case Record:
		return maps.Clone(map[string]any(v))
	}
	return nil
}

// ToInt64 converts the numeric representations adapters produce into int64.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

// ToFloat64 converts numeric values into float64.
func ToFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := ToInt64(v); ok {
		if _, isString := v.(string); isString {
			return 0, false
		}
		return float64(i), true
	}
	return 0, false
}

// ToTime converts time.Time, *time.Time and RFC 3339 strings into a UTC time.
func ToTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t.UTC(), true
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, false
		}
		return t.UTC(), true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed.UTC(), true
	}
	return time.Time{}, false
}
