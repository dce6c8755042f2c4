// Package store provides the data access layer for fetched stories and
// fetch jobs.
//
// The service owns a single database: items keyed by their upstream ID,
// jobs keyed by a generated job ID with a deduplication fingerprint. Both
// live in the same file so a job insert and the item upserts it produces
// share one writer.
package store

import "database/sql"

// Store wraps the service database.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}
