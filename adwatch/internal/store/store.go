// Package store provides the data access layer for adwatch: searches and
// their watermarks, owners, scan history and the HTTP response cache.
//
// All rows live in one SQLite database opened through dbopen. Timestamps are
// unix milliseconds.
package store

import "database/sql"

// Store wraps the adwatch database.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}
