package storage

import (
	"reflect"
	"strings"
	"time"
)

// Match reports whether r satisfies every clause. Clauses must be valid.
func Match(r Record, where []Where) bool {
	for _, w := range where {
		if !matchClause(r[w.Field], w) {
			return false
		}
	}
	return true
}

func matchClause(v any, w Where) bool {
	switch w.Operator {
	case OpEq:
		return equalValues(v, w.Value)
	case OpNe:
		return !equalValues(v, w.Value)
	case OpGt, OpGte, OpLt, OpLte:
		c, ok := CompareValues(v, w.Value)
		if !ok {
			return false
		}
		switch w.Operator {
		case OpGt:
			return c > 0
		case OpGte:
			return c >= 0
		case OpLt:
			return c < 0
		default:
			return c <= 0
		}
	case OpIn:
		items, _ := ToSlice(w.Value)
		for _, item := range items {
			if equalValues(v, item) {
				return true
			}
		}
		return false
	case OpContains, OpStartsWith, OpEndsWith:
		s, ok := v.(string)
		if !ok {
			return false
		}
		needle, _ := w.Value.(string)
		switch w.Operator {
		case OpContains:
			return strings.Contains(s, needle)
		case OpStartsWith:
			return strings.HasPrefix(s, needle)
		default:
			return strings.HasSuffix(s, needle)
		}
	}
	return false
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func isTimeValue(v any) bool {
	switch v.(type) {
	case time.Time, *time.Time:
		return true
	}
	return false
}

func equalValues(a, b any) bool {
	if isNil(a) || isNil(b) {
		return isNil(a) && isNil(b)
	}
	if c, ok := CompareValues(a, b); ok {
		return c == 0
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ab == bb
	}
	return reflect.DeepEqual(a, b)
}

// CompareValues orders two values of compatible kinds: times, numbers or
// strings. A time compared with an RFC 3339 string is compared as a time.
func CompareValues(a, b any) (int, bool) {
	if isNil(a) || isNil(b) {
		return 0, false
	}

	if isTimeValue(a) || isTimeValue(b) {
		at, okA := ToTime(a)
		bt, okB := ToTime(b)
		if !okA || !okB {
			return 0, false
		}
		return at.Compare(bt), true
	}

	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	if _, ok := b.(string); ok {
		return 0, false
	}

	ai, aInt := ToInt64(a)
	bi, bInt := ToInt64(b)
	_, aFloat := a.(float64)
	_, bFloat := b.(float64)
	if aInt && bInt && !aFloat && !bFloat {
		switch {
		case ai < bi:
			return -1, true
		case ai > bi:
			return 1, true
		}
		return 0, true
	}

	af, okA := ToFloat64(a)
	bf, okB := ToFloat64(b)
	if !okA || !okB {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	}
	return 0, true
}
