// Package store implements the persistence layer over database/sql. Rows
// are append-only for messages; conversations support a one-way soft delete.
package store

import (
	"database/sql"
	"errors"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

// Store handles users, conversations, and message persistence.
type Store struct {
	db *sql.DB
}

// New builds a store over an opened database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}
