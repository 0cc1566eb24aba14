// Package store provides relational persistence for user facts.
package store

import (
	"context"
	"errors"
)

// Record is one row keyed by column name.
type Record map[string]any

// Filter selects rows whose columns equal the given values.
type Filter map[string]any

// ErrUnknownIdentifier is returned for tables or columns outside the schema.
var ErrUnknownIdentifier = errors.New("unknown table or column")

// Repository is a minimal generic relational store.
type Repository interface {
	// Upsert inserts records, updating updateFields on conflict with
	// conflictKeys. All records are written in one transaction.
	Upsert(ctx context.Context, table string, records []Record, conflictKeys, updateFields []string) error

	// Query returns the rows of table matching filter, oldest first.
	Query(ctx context.Context, table string, filter Filter) ([]Record, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
