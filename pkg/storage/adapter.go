package storage

import "context"

// Adapter is the storage boundary consumed by the billing engine.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Create inserts a record and returns it as stored. An "id" is generated
	// when the record does not carry one.
	Create(ctx context.Context, model string, data Record) (Record, error)

	// FindOne returns the first record matching where, or ErrNotFound.
	FindOne(ctx context.Context, model string, where []Where) (Record, error)

	// FindMany returns all records matching the query.
	FindMany(ctx context.Context, model string, q Query) ([]Record, error)

	// Update merges data into the first matching record and returns the result.
	// Returns ErrNotFound when nothing matches.
	Update(ctx context.Context, model string, where []Where, data Record) (Record, error)

	// UpdateMany merges data into every matching record and reports how many changed.
	UpdateMany(ctx context.Context, model string, where []Where, data Record) (int64, error)

	// Delete removes the first matching record. Returns ErrNotFound when nothing matches.
	Delete(ctx context.Context, model string, where []Where) error

	// DeleteMany removes every matching record and reports how many were removed.
	DeleteMany(ctx context.Context, model string, where []Where) (int64, error)

	Count(ctx context.Context, model string, where []Where) (int64, error)

	// Transaction runs fn against a transactional view of the store. Writes made
	// through tx are committed only when fn returns nil. Implementations must
	// provide at least read-committed isolation and must serialize concurrent
	// transactions that touch the same record.
	Transaction(ctx context.Context, fn func(tx Adapter) error) error
}

// SortDirection orders FindMany results.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortBy names the field used to order results.
type SortBy struct {
	Field     string
	Direction SortDirection
}

// Query describes a filtered, ordered, paginated lookup.
// Zero Limit means no limit.
type Query struct {
	Where  []Where
	SortBy *SortBy
	Limit  int
	Offset int
}

// Validate reports ErrInvalidQuery for malformed clauses or pagination.
func (q Query) Validate() error {
	if err := ValidateWhere(q.Where); err != nil {
		return err
	}
	if q.Limit < 0 || q.Offset < 0 {
		return ErrInvalidQuery
	}
	if q.SortBy != nil {
		if q.SortBy.Field == "" {
			return ErrInvalidQuery
		}
		switch q.SortBy.Direction {
		case SortAsc, SortDesc, "":
		default:
			return ErrInvalidQuery
		}
	}
	return nil
}
