// Package storage defines the persistence boundary of the billing engine.
//
// Records are plain maps keyed by snake_case field names. Filters are slices
// of Where clauses that are AND-ed together. The engine never talks to a
// database directly; it only calls the Adapter interface, so the same billing
// logic runs on the in-memory adapter, PostgreSQL (package pgstore) or
// MongoDB (package mongostore).
//
// # Usage
//
//	import "github.com/dmitrymomot/billsdk/pkg/storage"
//
//	store := storage.NewMemory(storage.WithSchema(schema))
//
//	rec, err := store.Create(ctx, "customer", storage.Record{"external_id": "u_1"})
//	if err != nil {
//	    return err
//	}
//
//	err = store.Transaction(ctx, func(tx storage.Adapter) error {
//	    _, err := tx.Update(ctx, "customer",
//	        []storage.Where{storage.Eq("id", rec.ID())},
//	        storage.Record{"email": "a@example.com"},
//	    )
//	    return err
//	})
//
// # Errors
//
// Adapters wrap their failures with the sentinel errors in this package:
// ErrNotFound, ErrDuplicate, ErrInvalidQuery and ErrUnknownModel. Use
// errors.Is to inspect them.
package storage
