package pgstore_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billsdk/pkg/storage"
	"github.com/dmitrymomot/billsdk/pkg/storage/pgstore"
)

func newMock(t *testing.T, opts ...pgstore.Option) (*pgstore.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return pgstore.New(db, opts...), mock
}

func TestStore_Create(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("inserts json payload", func(t *testing.T) {
		t.Parallel()
		store, mock := newMock(t)
		at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO billing_records (model, id, data) VALUES ($1, $2, $3::jsonb)")).
			WithArgs("customer", "c1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		rec, err := store.Create(ctx, "customer", storage.Record{
			"id":          "c1",
			"external_id": "u_1",
			"created_at":  at,
			"balance":     int64(10),
		})
		require.NoError(t, err)
		assert.Equal(t, "c1", rec.ID())
		assert.Equal(t, "u_1", rec.String("external_id"))
		assert.Equal(t, int64(10), rec.Int64("balance"))
		assert.True(t, rec.Time("created_at").Equal(at))
		assert.Equal(t, "2025-01-02T03:04:05.000000000Z", rec.String("created_at"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate key", func(t *testing.T) {
		t.Parallel()
		store, mock := newMock(t)

		mock.ExpectExec("INSERT INTO billing_records").
			WillReturnError(&pgconn.PgError{Code: "23505"})

		_, err := store.Create(ctx, "customer", storage.Record{"external_id": "u_1"})
		assert.ErrorIs(t, err, storage.ErrDuplicate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown model", func(t *testing.T) {
		t.Parallel()
		store, _ := newMock(t, pgstore.WithSchema(storage.Schema{"customer": {}}))

		_, err := store.Create(ctx, "invoice", storage.Record{})
		assert.ErrorIs(t, err, storage.ErrUnknownModel)
	})
}

func TestStore_FindOne(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		t.Parallel()
		store, mock := newMock(t)

		mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM billing_records WHERE model = $1 AND (data->>'external_id') = $2 ORDER BY created_at, id LIMIT 1")).
			WithArgs("customer", "u_1").
			WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"id":"c1","external_id":"u_1"}`)))

		rec, err := store.FindOne(ctx, "customer", []storage.Where{storage.Eq("external_id", "u_1")})
		require.NoError(t, err)
		assert.Equal(t, "c1", rec.ID())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		store, mock := newMock(t)

		mock.ExpectQuery("SELECT data FROM billing_records").
			WillReturnRows(sqlmock.NewRows([]string{"data"}))

		_, err := store.FindOne(ctx, "customer", []storage.Where{storage.Eq("id", "missing")})
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_FindMany(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, mock := newMock(t)

	mock.ExpectQuery(`SELECT data FROM billing_records WHERE model = \$1 AND \(data->>'customer_id'\) = \$2 ORDER BY .+ LIMIT 10 OFFSET 5`).
		WithArgs("payment", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).
			AddRow([]byte(`{"id":"p2","amount":2000}`)).
			AddRow([]byte(`{"id":"p1","amount":1000}`)))

	rows, err := store.FindMany(ctx, "payment", storage.Query{
		Where:  []storage.Where{storage.Eq("customer_id", "c1")},
		SortBy: &storage.SortBy{Field: "created_at", Direction: storage.SortDesc},
		Limit:  10,
		Offset: 5,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "p2", rows[0].ID())
	assert.Equal(t, int64(1000), rows[1].Int64("amount"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Update(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("merges patch", func(t *testing.T) {
		t.Parallel()
		store, mock := newMock(t)

		mock.ExpectQuery(regexp.QuoteMeta("UPDATE billing_records SET data = data || $2::jsonb")).
			WithArgs("subscription", []byte(`{"status":"past_due"}`), "s1").
			WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"id":"s1","status":"past_due"}`)))

		rec, err := store.Update(ctx, "subscription",
			[]storage.Where{storage.Eq("id", "s1")},
			storage.Record{"status": "past_due", "id": "other"},
		)
		require.NoError(t, err)
		assert.Equal(t, "past_due", rec.String("status"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		store, mock := newMock(t)

		mock.ExpectQuery("UPDATE billing_records").
			WillReturnRows(sqlmock.NewRows([]string{"data"}))

		_, err := store.Update(ctx, "subscription", []storage.Where{storage.Eq("id", "nope")}, storage.Record{"status": "active"})
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("update many", func(t *testing.T) {
		t.Parallel()
		store, mock := newMock(t)

		mock.ExpectExec(regexp.QuoteMeta("UPDATE billing_records SET data = data || $2::jsonb, updated_at = clock_timestamp() WHERE model = $1 AND (data->>'status') = $3")).
			WithArgs("subscription", sqlmock.AnyArg(), "pending").
			WillReturnResult(sqlmock.NewResult(0, 3))

		n, err := store.UpdateMany(ctx, "subscription", []storage.Where{storage.Eq("status", "pending")}, storage.Record{"status": "canceled"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("delete one", func(t *testing.T) {
		t.Parallel()
		store, mock := newMock(t)

		mock.ExpectExec("DELETE FROM billing_records WHERE model = \\$1 AND id = \\(SELECT id").
			WithArgs("test_clock", "c1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.Delete(ctx, "test_clock", []storage.Where{storage.Eq("customer_id", "c1")})
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delete many and count", func(t *testing.T) {
		t.Parallel()
		store, mock := newMock(t)

		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM billing_records WHERE model = $1")).
			WithArgs("test_clock").
			WillReturnResult(sqlmock.NewResult(0, 4))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM billing_records WHERE model = $1")).
			WithArgs("test_clock").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))

		n, err := store.DeleteMany(ctx, "test_clock", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)

		count, err := store.Count(ctx, "test_clock", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Transaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("commit locks reads", func(t *testing.T) {
		t.Parallel()
		store, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("LIMIT 1 FOR UPDATE")).
			WithArgs("subscription", "s1").
			WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"id":"s1"}`)))
		mock.ExpectCommit()

		err := store.Transaction(ctx, func(tx storage.Adapter) error {
			return tx.Transaction(ctx, func(inner storage.Adapter) error {
				_, err := inner.FindOne(ctx, "subscription", []storage.Where{storage.Eq("id", "s1")})
				return err
			})
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback on error", func(t *testing.T) {
		t.Parallel()
		store, mock := newMock(t)
		boom := errors.New("boom")

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := store.Transaction(ctx, func(storage.Adapter) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
