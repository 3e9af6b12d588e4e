// Package mongostore implements storage.Adapter on MongoDB.
//
// Every model is stored in its own collection named by the configured prefix
// plus the model name. The record "id" maps to the document "_id". Filters
// translate to the matching query operators; string matches use anchored,
// escaped regular expressions.
//
// Transactions use driver sessions and need a replica set. Call EnsureIndexes
// once at startup to create unique indexes for schema fields marked unique.
package mongostore
