package pgstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billsdk/pkg/storage"
)

const table = "billing_records"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Option configures a Store.
type Option func(*Store)

// WithSchema rejects models the schema does not declare.
func WithSchema(s storage.Schema) Option {
	return func(st *Store) {
		st.schema = s
	}
}

// Store implements storage.Adapter on a single JSONB table keyed by
// (model, id). Unique constraints live in the migrations.
type Store struct {
	db     *sql.DB
	q      querier
	tx     *sql.Tx
	schema storage.Schema
}

var _ storage.Adapter = (*Store)(nil)

// New returns a Store backed by db.
func New(db *sql.DB, opts ...Option) *Store {
	if db == nil {
		panic("pgstore: db is required")
	}
	s := &Store{db: db, q: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Create(ctx context.Context, model string, data storage.Record) (storage.Record, error) {
	if err := s.check(model); err != nil {
		return nil, err
	}
	rec := data.Clone()
	if rec == nil {
		rec = storage.Record{}
	}
	if rec.ID() == "" {
		rec["id"] = uuid.NewString()
	}
	payload, err := encode(rec)
	if err != nil {
		return nil, err
	}

	_, err = s.q.ExecContext(ctx,
		"INSERT INTO "+table+" (model, id, data) VALUES ($1, $2, $3::jsonb)",
		model, rec.ID(), payload,
	)
	if err != nil {
		if IsDuplicateKeyError(err) {
			return nil, errors.Join(storage.ErrDuplicate, err)
		}
		return nil, fmt.Errorf("create %s: %w", model, err)
	}
	return decode(payload)
}

func (s *Store) FindOne(ctx context.Context, model string, where []storage.Where) (storage.Record, error) {
	if err := s.check(model); err != nil {
		return nil, err
	}
	cond, args, err := buildWhere(where, 2)
	if err != nil {
		return nil, err
	}

	query := "SELECT data FROM " + table + " WHERE model = $1" + and(cond) + " ORDER BY created_at, id LIMIT 1"
	if s.tx != nil {
		query += " FOR UPDATE"
	}

	var payload []byte
	err = s.q.QueryRowContext(ctx, query, append([]any{model}, args...)...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", model, err)
	}
	return decode(payload)
}

func (s *Store) FindMany(ctx context.Context, model string, q storage.Query) ([]storage.Record, error) {
	if err := s.check(model); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	cond, args, err := buildWhere(q.Where, 2)
	if err != nil {
		return nil, err
	}
	order, err := orderBy(q.SortBy)
	if err != nil {
		return nil, err
	}

	query := "SELECT data FROM " + table + " WHERE model = $1" + and(cond) + order
	if q.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(q.Limit)
	}
	if q.Offset > 0 {
		query += " OFFSET " + strconv.Itoa(q.Offset)
	}

	rows, err := s.q.QueryContext(ctx, query, append([]any{model}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", model, err)
	}
	defer rows.Close()

	out := []storage.Record{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", model, err)
		}
		rec, err := decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find %s: %w", model, err)
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, model string, where []storage.Where, data storage.Record) (storage.Record, error) {
	if err := s.check(model); err != nil {
		return nil, err
	}
	payload, err := encodePatch(data)
	if err != nil {
		return nil, err
	}
	cond, args, err := buildWhere(where, 3)
	if err != nil {
		return nil, err
	}

	query := "UPDATE " + table + " SET data = data || $2::jsonb, updated_at = clock_timestamp()" +
		" WHERE model = $1 AND id = (SELECT id FROM " + table + " WHERE model = $1" + and(cond) +
		" ORDER BY created_at, id LIMIT 1 FOR UPDATE) RETURNING data"

	var out []byte
	err = s.q.QueryRowContext(ctx, query, append([]any{model, payload}, args...)...).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		if IsDuplicateKeyError(err) {
			return nil, errors.Join(storage.ErrDuplicate, err)
		}
		return nil, fmt.Errorf("update %s: %w", model, err)
	}
	return decode(out)
}

func (s *Store) UpdateMany(ctx context.Context, model string, where []storage.Where, data storage.Record) (int64, error) {
	if err := s.check(model); err != nil {
		return 0, err
	}
	payload, err := encodePatch(data)
	if err != nil {
		return 0, err
	}
	cond, args, err := buildWhere(where, 3)
	if err != nil {
		return 0, err
	}

	res, err := s.q.ExecContext(ctx,
		"UPDATE "+table+" SET data = data || $2::jsonb, updated_at = clock_timestamp() WHERE model = $1"+and(cond),
		append([]any{model, payload}, args...)...,
	)
	if err != nil {
		if IsDuplicateKeyError(err) {
			return 0, errors.Join(storage.ErrDuplicate, err)
		}
		return 0, fmt.Errorf("update %s: %w", model, err)
	}
	return res.RowsAffected()
}

func (s *Store) Delete(ctx context.Context, model string, where []storage.Where) error {
	if err := s.check(model); err != nil {
		return err
	}
	cond, args, err := buildWhere(where, 2)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx,
		"DELETE FROM "+table+" WHERE model = $1 AND id = (SELECT id FROM "+table+" WHERE model = $1"+and(cond)+
			" ORDER BY created_at, id LIMIT 1)",
		append([]any{model}, args...)...,
	)
	if err != nil {
		return fmt.Errorf("delete %s: %w", model, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", model, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteMany(ctx context.Context, model string, where []storage.Where) (int64, error) {
	if err := s.check(model); err != nil {
		return 0, err
	}
	cond, args, err := buildWhere(where, 2)
	if err != nil {
		return 0, err
	}

	res, err := s.q.ExecContext(ctx, "DELETE FROM "+table+" WHERE model = $1"+and(cond), append([]any{model}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", model, err)
	}
	return res.RowsAffected()
}

func (s *Store) Count(ctx context.Context, model string, where []storage.Where) (int64, error) {
	if err := s.check(model); err != nil {
		return 0, err
	}
	cond, args, err := buildWhere(where, 2)
	if err != nil {
		return 0, err
	}

	var n int64
	err = s.q.QueryRowContext(ctx, "SELECT count(*) FROM "+table+" WHERE model = $1"+and(cond), append([]any{model}, args...)...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", model, err)
	}
	return n, nil
}

// Transaction runs fn inside a read-committed transaction. Rows read through
// FindOne inside fn are locked until commit. Nested calls reuse the open
// transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx storage.Adapter) error) (err error) {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Store{db: s.db, q: tx, tx: tx, schema: s.schema}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) check(model string) error {
	if model == "" {
		return fmt.Errorf("%w: empty model name", storage.ErrUnknownModel)
	}
	if s.schema != nil && !s.schema.Has(model) {
		return fmt.Errorf("%w: %s", storage.ErrUnknownModel, model)
	}
	return nil
}

func and(cond string) string {
	if cond == "" {
		return ""
	}
	return " AND " + cond
}

func encode(rec storage.Record) ([]byte, error) {
	b, err := json.Marshal(normalize(rec))
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

func encodePatch(data storage.Record) ([]byte, error) {
	patch := data.Clone()
	delete(patch, "id")
	if patch == nil {
		patch = storage.Record{}
	}
	return encode(patch)
}

func decode(b []byte) (storage.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var rec storage.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// normalize rewrites times into the fixed-width layout, recursing into
// nested objects.
func normalize(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		if val.IsZero() {
			return nil
		}
		return val.UTC().Format(timeLayout)
	case *time.Time:
		if val == nil || val.IsZero() {
			return nil
		}
		return val.UTC().Format(timeLayout)
	case storage.Record:
		return normalize(val)
	case map[string]any:
		return normalize(val)
	}
	return v
}
