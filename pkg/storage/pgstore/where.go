package pgstore

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/billsdk/pkg/storage"
)

// timeLayout is fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var fieldPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var sqlOperators = map[storage.Operator]string{
	storage.OpEq:  "=",
	storage.OpNe:  "<>",
	storage.OpGt:  ">",
	storage.OpGte: ">=",
	storage.OpLt:  "<",
	storage.OpLte: "<=",
}

// column returns the SQL expression for a record field.
func column(field string) (string, error) {
	if !fieldPattern.MatchString(field) {
		return "", fmt.Errorf("%w: %w: %q", storage.ErrInvalidQuery, ErrInvalidField, field)
	}
	if field == "id" {
		return "id", nil
	}
	return "(data->>'" + field + "')", nil
}

// buildWhere renders clauses joined by AND. Placeholders start at $start.
func buildWhere(where []storage.Where, start int) (string, []any, error) {
	if err := storage.ValidateWhere(where); err != nil {
		return "", nil, err
	}

	parts := make([]string, 0, len(where))
	args := make([]any, 0, len(where))
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(start+len(args)-1)
	}

	for _, w := range where {
		col, err := column(w.Field)
		if err != nil {
			return "", nil, err
		}

		switch w.Operator {
		case storage.OpIn:
			items, _ := storage.ToSlice(w.Value)
			if len(items) == 0 {
				parts = append(parts, "FALSE")
				continue
			}
			ph := make([]string, len(items))
			for i, item := range items {
				ph[i] = next(textValue(item))
			}
			parts = append(parts, col+" IN ("+strings.Join(ph, ", ")+")")

		case storage.OpContains, storage.OpStartsWith, storage.OpEndsWith:
			needle := escapeLike(w.Value.(string))
			switch w.Operator {
			case storage.OpContains:
				needle = "%" + needle + "%"
			case storage.OpStartsWith:
				needle += "%"
			default:
				needle = "%" + needle
			}
			parts = append(parts, col+" LIKE "+next(needle)+` ESCAPE '\'`)

		default:
			op := sqlOperators[w.Operator]
			if w.Value == nil {
				switch w.Operator {
				case storage.OpEq:
					parts = append(parts, col+" IS NULL")
				default:
					parts = append(parts, col+" IS NOT NULL")
				}
				continue
			}
			expr, arg := typedOperand(col, w.Value)
			parts = append(parts, expr+" "+op+" "+next(arg))
		}
	}

	return strings.Join(parts, " AND "), args, nil
}

// typedOperand casts the column to the type of the compared value.
func typedOperand(col string, v any) (string, any) {
	switch val := v.(type) {
	case time.Time:
		return col + "::timestamptz", val.UTC()
	case *time.Time:
		return col + "::timestamptz", val.UTC()
	case bool:
		return col + "::boolean", val
	case string:
		return col, val
	case float32:
		return col + "::numeric", float64(val)
	case float64:
		return col + "::numeric", val
	}
	if n, ok := storage.ToInt64(v); ok {
		return col + "::numeric", n
	}
	return col, fmt.Sprint(v)
}

// textValue renders a value the way it appears through the ->> operator.
func textValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.UTC().Format(timeLayout)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	if n, ok := storage.ToInt64(v); ok {
		return strconv.FormatInt(n, 10)
	}
	return fmt.Sprint(v)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// orderBy renders an ORDER BY clause. Numbers sort numerically, everything
// else as text, with insertion order as the tie breaker.
func orderBy(sort *storage.SortBy) (string, error) {
	if sort == nil {
		return " ORDER BY created_at, id", nil
	}
	col, err := column(sort.Field)
	if err != nil {
		return "", err
	}
	dir := "ASC"
	if sort.Direction == storage.SortDesc {
		dir = "DESC"
	}
	if sort.Field == "id" {
		return " ORDER BY id " + dir, nil
	}
	return fmt.Sprintf(
		" ORDER BY CASE WHEN jsonb_typeof(data->'%[1]s') = 'number' THEN %[2]s::numeric END %[3]s, %[2]s %[3]s, created_at %[3]s, id %[3]s",
		sort.Field, col, dir,
	), nil
}
