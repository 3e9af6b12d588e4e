package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// MemoryOption configures a Memory adapter.
type MemoryOption func(*Memory)

// WithSchema restricts the adapter to the declared models and enforces the
// schema's unique fields.
func WithSchema(s Schema) MemoryOption {
	return func(m *Memory) {
		m.schema = s
	}
}

// Memory is the reference Adapter implementation. It keeps every model in
// process memory and is meant for development, tests and single-process hosts.
//
// Writes and transactions are serialized by a single writer lock, so a
// transaction sees a stable snapshot and commits atomically. Readers outside a
// transaction keep reading the last committed state.
type Memory struct {
	writer sync.Mutex
	mu     sync.RWMutex
	state  *memState
	schema Schema
}

// NewMemory returns an empty in-memory adapter.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{state: newMemState()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Create(ctx context.Context, model string, data Record) (Record, error) {
	if err := m.check(model); err != nil {
		return nil, err
	}
	m.writer.Lock()
	defer m.writer.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.create(m.schema, model, data)
}

func (m *Memory) FindOne(ctx context.Context, model string, where []Where) (Record, error) {
	if err := m.check(model); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.findOne(model, where)
}

func (m *Memory) FindMany(ctx context.Context, model string, q Query) ([]Record, error) {
	if err := m.check(model); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.findMany(model, q)
}

func (m *Memory) Update(ctx context.Context, model string, where []Where, data Record) (Record, error) {
	if err := m.check(model); err != nil {
		return nil, err
	}
	m.writer.Lock()
	defer m.writer.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.update(m.schema, model, where, data)
}

func (m *Memory) UpdateMany(ctx context.Context, model string, where []Where, data Record) (int64, error) {
	if err := m.check(model); err != nil {
		return 0, err
	}
	m.writer.Lock()
	defer m.writer.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.updateMany(m.schema, model, where, data)
}

func (m *Memory) Delete(ctx context.Context, model string, where []Where) error {
	if err := m.check(model); err != nil {
		return err
	}
	m.writer.Lock()
	defer m.writer.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.state.deleteWhere(model, where, 1)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Memory) DeleteMany(ctx context.Context, model string, where []Where) (int64, error) {
	if err := m.check(model); err != nil {
		return 0, err
	}
	m.writer.Lock()
	defer m.writer.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.deleteWhere(model, where, -1)
}

func (m *Memory) Count(ctx context.Context, model string, where []Where) (int64, error) {
	if err := m.check(model); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.count(model, where)
}

// Transaction runs fn on a private snapshot and swaps it in when fn succeeds.
// Nested transactions on the tx adapter join the outer one.
func (m *Memory) Transaction(ctx context.Context, fn func(tx Adapter) error) error {
	m.writer.Lock()
	defer m.writer.Unlock()

	m.mu.RLock()
	snapshot := m.state.clone()
	m.mu.RUnlock()

	if err := fn(&memTx{parent: m, state: snapshot}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.state = snapshot
	m.mu.Unlock()
	return nil
}

func (m *Memory) check(model string) error {
	if model == "" {
		return fmt.Errorf("%w: empty model name", ErrUnknownModel)
	}
	if m.schema != nil && !m.schema.Has(model) {
		return fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	return nil
}

// memTx is the transactional view handed to Transaction callbacks.
// It is used by a single goroutine while the writer lock is held.
type memTx struct {
	parent *Memory
	state  *memState
}

func (t *memTx) Create(ctx context.Context, model string, data Record) (Record, error) {
	if err := t.parent.check(model); err != nil {
		return nil, err
	}
	return t.state.create(t.parent.schema, model, data)
}

func (t *memTx) FindOne(ctx context.Context, model string, where []Where) (Record, error) {
	if err := t.parent.check(model); err != nil {
		return nil, err
	}
	return t.state.findOne(model, where)
}

func (t *memTx) FindMany(ctx context.Context, model string, q Query) ([]Record, error) {
	if err := t.parent.check(model); err != nil {
		return nil, err
	}
	return t.state.findMany(model, q)
}

func (t *memTx) Update(ctx context.Context, model string, where []Where, data Record) (Record, error) {
	if err := t.parent.check(model); err != nil {
		return nil, err
	}
	return t.state.update(t.parent.schema, model, where, data)
}

func (t *memTx) UpdateMany(ctx context.Context, model string, where []Where, data Record) (int64, error) {
	if err := t.parent.check(model); err != nil {
		return 0, err
	}
	return t.state.updateMany(t.parent.schema, model, where, data)
}

func (t *memTx) Delete(ctx context.Context, model string, where []Where) error {
	if err := t.parent.check(model); err != nil {
		return err
	}
	n, err := t.state.deleteWhere(model, where, 1)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *memTx) DeleteMany(ctx context.Context, model string, where []Where) (int64, error) {
	if err := t.parent.check(model); err != nil {
		return 0, err
	}
	return t.state.deleteWhere(model, where, -1)
}

func (t *memTx) Count(ctx context.Context, model string, where []Where) (int64, error) {
	if err := t.parent.check(model); err != nil {
		return 0, err
	}
	return t.state.count(model, where)
}

func (t *memTx) Transaction(ctx context.Context, fn func(tx Adapter) error) error {
	return fn(t)
}

// memState holds rows per model in insertion order.
type memState struct {
	rows map[string][]Record
}

func newMemState() *memState {
	return &memState{rows: make(map[string][]Record)}
}

func (s *memState) clone() *memState {
	out := newMemState()
	for model, rows := range s.rows {
		cp := make([]Record, len(rows))
		for i, r := range rows {
			cp[i] = r.Clone()
		}
		out.rows[model] = cp
	}
	return out
}

func (s *memState) create(schema Schema, model string, data Record) (Record, error) {
	rec := data.Clone()
	if rec == nil {
		rec = Record{}
	}
	if rec.ID() == "" {
		rec["id"] = uuid.NewString()
	}
	for _, existing := range s.rows[model] {
		if existing.ID() == rec.ID() {
			return nil, fmt.Errorf("%w: %s.id=%s", ErrDuplicate, model, rec.ID())
		}
	}
	if err := s.checkUnique(schema, model, rec, ""); err != nil {
		return nil, err
	}
	s.rows[model] = append(s.rows[model], rec)
	return rec.Clone(), nil
}

func (s *memState) findOne(model string, where []Where) (Record, error) {
	if err := ValidateWhere(where); err != nil {
		return nil, err
	}
	for _, r := range s.rows[model] {
		if Match(r, where) {
			return r.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memState) findMany(model string, q Query) ([]Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range s.rows[model] {
		if Match(r, q.Where) {
			out = append(out, r.Clone())
		}
	}
	if q.SortBy != nil {
		desc := q.SortBy.Direction == SortDesc
		field := q.SortBy.Field
		slices.SortStableFunc(out, func(a, b Record) int {
			c := compareForSort(a[field], b[field])
			if desc {
				return -c
			}
			return c
		})
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []Record{}, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

func (s *memState) update(schema Schema, model string, where []Where, data Record) (Record, error) {
	if err := ValidateWhere(where); err != nil {
		return nil, err
	}
	for i, r := range s.rows[model] {
		if !Match(r, where) {
			continue
		}
		merged := mergeRecord(r, data)
		if err := s.checkUnique(schema, model, merged, r.ID()); err != nil {
			return nil, err
		}
		s.rows[model][i] = merged
		return merged.Clone(), nil
	}
	return nil, ErrNotFound
}

func (s *memState) updateMany(schema Schema, model string, where []Where, data Record) (int64, error) {
	if err := ValidateWhere(where); err != nil {
		return 0, err
	}
	var n int64
	for i, r := range s.rows[model] {
		if !Match(r, where) {
			continue
		}
		merged := mergeRecord(r, data)
		if err := s.checkUnique(schema, model, merged, r.ID()); err != nil {
			return n, err
		}
		s.rows[model][i] = merged
		n++
	}
	return n, nil
}

// deleteWhere removes up to limit matching rows; a negative limit removes all.
func (s *memState) deleteWhere(model string, where []Where, limit int) (int64, error) {
	if err := ValidateWhere(where); err != nil {
		return 0, err
	}
	var n int64
	kept := s.rows[model][:0:0]
	for _, r := range s.rows[model] {
		if (limit < 0 || n < int64(limit)) && Match(r, where) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.rows[model] = kept
	return n, nil
}

func (s *memState) count(model string, where []Where) (int64, error) {
	if err := ValidateWhere(where); err != nil {
		return 0, err
	}
	var n int64
	for _, r := range s.rows[model] {
		if Match(r, where) {
			n++
		}
	}
	return n, nil
}

func (s *memState) checkUnique(schema Schema, model string, rec Record, selfID string) error {
	if schema == nil {
		return nil
	}
	for _, field := range schema[model].UniqueFields() {
		v, ok := rec[field]
		if !ok || isNil(v) || v == "" {
			continue
		}
		for _, other := range s.rows[model] {
			if other.ID() == selfID || other.ID() == rec.ID() {
				continue
			}
			if equalValues(other[field], v) {
				return fmt.Errorf("%w: %s.%s", ErrDuplicate, model, field)
			}
		}
	}
	return nil
}

func mergeRecord(base, patch Record) Record {
	out := base.Clone()
	for k, v := range patch.Clone() {
		if k == "id" {
			continue
		}
		out[k] = v
	}
	return out
}

// compareForSort puts missing values first and falls back to equality for
// incomparable kinds.
func compareForSort(a, b any) int {
	switch {
	case isNil(a) && isNil(b):
		return 0
	case isNil(a):
		return -1
	case isNil(b):
		return 1
	}
	c, _ := CompareValues(a, b)
	return c
}
