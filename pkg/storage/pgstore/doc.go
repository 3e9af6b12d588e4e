// Package pgstore implements storage.Adapter on PostgreSQL.
//
// All models share one JSONB table, billing_records, keyed by (model, id).
// Filters are translated to expressions over data->>'field' with casts chosen
// from the Go type of the compared value, so time, numeric and boolean
// comparisons behave the same way they do in the in-memory adapter. Times are
// stored in a fixed-width UTC layout which keeps text ordering consistent.
//
// The connection helpers mirror the rest of the stack: Config is populated
// from environment variables, Connect opens a pgx pool with retries, OpenDB
// bridges it to database/sql and Migrate applies the embedded goose
// migrations.
//
//	pool, err := pgstore.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	db := pgstore.OpenDB(pool)
//	if err := pgstore.Migrate(ctx, db, cfg, log); err != nil {
//	    return err
//	}
//	store := pgstore.New(db)
package pgstore
