package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/billsdk/pkg/storage"
)

// Option configures a Store.
type Option func(*Store)

// WithSchema rejects undeclared models and lets EnsureIndexes create unique
// indexes for fields marked unique.
func WithSchema(s storage.Schema) Option {
	return func(st *Store) {
		st.schema = s
	}
}

// WithCollectionPrefix overrides the default "billing_" collection prefix.
func WithCollectionPrefix(prefix string) Option {
	return func(st *Store) {
		st.prefix = prefix
	}
}

// Store implements storage.Adapter with one collection per model.
// Transactions require a replica set or sharded cluster.
type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	prefix  string
	schema  storage.Schema
	session *mongo.Session
}

var _ storage.Adapter = (*Store)(nil)

// New returns a Store using the named database.
func New(client *mongo.Client, database string, opts ...Option) *Store {
	if client == nil {
		panic("mongostore: client is required")
	}
	s := &Store{
		client: client,
		db:     client.Database(database),
		prefix: "billing_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureIndexes creates unique indexes for every unique schema field.
// Documents without the field are not indexed.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	for _, name := range s.schema.Models() {
		for _, field := range s.schema[name].UniqueFields() {
			_, err := s.collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
				Keys: bson.D{{Key: field, Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.M{field: bson.M{"$type": "string"}}),
			})
			if err != nil {
				return fmt.Errorf("create index %s.%s: %w", name, field, err)
			}
		}
	}
	return nil
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

	doc := toDocument(rec)
	if _, err := s.collection(model).InsertOne(s.ctx(ctx), doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, errors.Join(storage.ErrDuplicate, err)
		}
		return nil, fmt.Errorf("create %s: %w", model, err)
	}
	return fromDocument(doc), nil
}

func (s *Store) FindOne(ctx context.Context, model string, where []storage.Where) (storage.Record, error) {
	if err := s.check(model); err != nil {
		return nil, err
	}
	filter, err := buildFilter(where)
	if err != nil {
		return nil, err
	}

	var doc bson.M
	err = s.collection(model).FindOne(s.ctx(ctx), filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", model, err)
	}
	return fromDocument(doc), nil
}

func (s *Store) FindMany(ctx context.Context, model string, q storage.Query) ([]storage.Record, error) {
	if err := s.check(model); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	filter, err := buildFilter(q.Where)
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if q.SortBy != nil {
		dir := 1
		if q.SortBy.Direction == storage.SortDesc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: fieldName(q.SortBy.Field), Value: dir}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	if q.Offset > 0 {
		opts.SetSkip(int64(q.Offset))
	}

	cur, err := s.collection(model).Find(s.ctx(ctx), filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", model, err)
	}
	var docs []bson.M
	if err := cur.All(s.ctx(ctx), &docs); err != nil {
		return nil, fmt.Errorf("find %s: %w", model, err)
	}

	out := make([]storage.Record, 0, len(docs))
	for _, doc := range docs {
		out = append(out, fromDocument(doc))
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, model string, where []storage.Where, data storage.Record) (storage.Record, error) {
	if err := s.check(model); err != nil {
		return nil, err
	}
	filter, err := buildFilter(where)
	if err != nil {
		return nil, err
	}

	var doc bson.M
	err = s.collection(model).FindOneAndUpdate(s.ctx(ctx), filter, setDocument(data),
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, errors.Join(storage.ErrDuplicate, err)
		}
		return nil, fmt.Errorf("update %s: %w", model, err)
	}
	return fromDocument(doc), nil
}

func (s *Store) UpdateMany(ctx context.Context, model string, where []storage.Where, data storage.Record) (int64, error) {
	if err := s.check(model); err != nil {
		return 0, err
	}
	filter, err := buildFilter(where)
	if err != nil {
		return 0, err
	}

	res, err := s.collection(model).UpdateMany(s.ctx(ctx), filter, setDocument(data))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return 0, errors.Join(storage.ErrDuplicate, err)
		}
		return 0, fmt.Errorf("update %s: %w", model, err)
	}
	return res.MatchedCount, nil
}

func (s *Store) Delete(ctx context.Context, model string, where []storage.Where) error {
	if err := s.check(model); err != nil {
		return err
	}
	filter, err := buildFilter(where)
	if err != nil {
		return err
	}

	res, err := s.collection(model).DeleteOne(s.ctx(ctx), filter)
	if err != nil {
		return fmt.Errorf("delete %s: %w", model, err)
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteMany(ctx context.Context, model string, where []storage.Where) (int64, error) {
	if err := s.check(model); err != nil {
		return 0, err
	}
	filter, err := buildFilter(where)
	if err != nil {
		return 0, err
	}

	res, err := s.collection(model).DeleteMany(s.ctx(ctx), filter)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", model, err)
	}
	return res.DeletedCount, nil
}

func (s *Store) Count(ctx context.Context, model string, where []storage.Where) (int64, error) {
	if err := s.check(model); err != nil {
		return 0, err
	}
	filter, err := buildFilter(where)
	if err != nil {
		return 0, err
	}

	n, err := s.collection(model).CountDocuments(s.ctx(ctx), filter)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", model, err)
	}
	return n, nil
}

// Transaction runs fn in a multi-document transaction. The driver retries
// fn on transient transaction errors, so fn must be safe to re-run.
func (s *Store) Transaction(ctx context.Context, fn func(tx storage.Adapter) error) error {
	if s.session != nil {
		return fn(s)
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	tx := &Store{client: s.client, db: s.db, prefix: s.prefix, schema: s.schema, session: sess}
	_, err = sess.WithTransaction(ctx, func(context.Context) (any, error) {
		return nil, fn(tx)
	})
	return err
}

// ctx binds the caller's context to the open session, if any.
func (s *Store) ctx(ctx context.Context) context.Context {
	if s.session == nil {
		return ctx
	}
	return mongo.NewSessionContext(ctx, s.session)
}

func (s *Store) collection(model string) *mongo.Collection {
	return s.db.Collection(s.prefix + model)
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

func fieldName(field string) string {
	if field == "id" {
		return "_id"
	}
	return field
}

// buildFilter translates clauses into a BSON filter. Clauses are combined
// with $and so the same field may appear more than once.
func buildFilter(where []storage.Where) (bson.M, error) {
	if err := storage.ValidateWhere(where); err != nil {
		return nil, err
	}

	clauses := make([]bson.M, 0, len(where))
	for _, w := range where {
		name := fieldName(w.Field)
		v := toBSONValue(w.Value)

		var cond any
		switch w.Operator {
		case storage.OpEq:
			cond = v
		case storage.OpNe:
			cond = bson.M{"$ne": v}
		case storage.OpGt:
			cond = bson.M{"$gt": v}
		case storage.OpGte:
			cond = bson.M{"$gte": v}
		case storage.OpLt:
			cond = bson.M{"$lt": v}
		case storage.OpLte:
			cond = bson.M{"$lte": v}
		case storage.OpIn:
			items, _ := storage.ToSlice(w.Value)
			in := make(bson.A, len(items))
			for i, item := range items {
				in[i] = toBSONValue(item)
			}
			cond = bson.M{"$in": in}
		case storage.OpContains:
			cond = bson.M{"$regex": regexp.QuoteMeta(w.Value.(string))}
		case storage.OpStartsWith:
			cond = bson.M{"$regex": "^" + regexp.QuoteMeta(w.Value.(string))}
		case storage.OpEndsWith:
			cond = bson.M{"$regex": regexp.QuoteMeta(w.Value.(string)) + "$"}
		}
		clauses = append(clauses, bson.M{name: cond})
	}

	switch len(clauses) {
	case 0:
		return bson.M{}, nil
	case 1:
		return clauses[0], nil
	}
	return bson.M{"$and": clauses}, nil
}

func setDocument(data storage.Record) bson.M {
	set := bson.M{}
	for k, v := range data {
		if k == "id" {
			continue
		}
		set[k] = toBSONValue(v)
	}
	return bson.M{"$set": set}
}

func toDocument(rec storage.Record) bson.M {
	doc := make(bson.M, len(rec))
	for k, v := range rec {
		doc[fieldName(k)] = toBSONValue(v)
	}
	return doc
}

func toBSONValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		if val.IsZero() {
			return nil
		}
		return val.UTC()
	case *time.Time:
		if val == nil || val.IsZero() {
			return nil
		}
		return val.UTC()
	case int:
		return int64(val)
	case storage.Record:
		return toDocument(val)
	case map[string]any:
		out := make(bson.M, len(val))
		for k, nested := range val {
			out[k] = toBSONValue(nested)
		}
		return out
	}
	return v
}

func fromDocument(doc bson.M) storage.Record {
	rec := make(storage.Record, len(doc))
	for k, v := range doc {
		if k == "_id" {
			k = "id"
		}
		rec[k] = fromBSONValue(v)
	}
	return rec
}

// fromBSONValue maps driver types back to the plain Go values records use.
func fromBSONValue(v any) any {
	switch val := v.(type) {
	case bson.DateTime:
		return val.Time().UTC()
	case time.Time:
		return val.UTC()
	case int32:
		return int64(val)
	case bson.M:
		out := make(map[string]any, len(val))
		for k, nested := range val {
			out[k] = fromBSONValue(nested)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = fromBSONValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = fromBSONValue(item)
		}
		return out
	}
	return v
}
