// Package vectorstore stores journal entry embeddings per collection.
package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/tripmind/internal/domain"
)

// VectorName is the named vector journal entries are embedded under.
const VectorName = "description"

// ErrCollectionNotFound is matched by *CollectionNotFoundError.
var ErrCollectionNotFound = errors.New("collection not found")

// CollectionNotFoundError reports a lookup against a missing collection.
type CollectionNotFoundError struct {
	Collection string
}

func (e *CollectionNotFoundError) Error() string {
	return fmt.Sprintf("collection %q not found", e.Collection)
}

func (e *CollectionNotFoundError) Is(target error) bool {
	return target == ErrCollectionNotFound
}

// StoreError wraps a backend failure for a collection.
type StoreError struct {
	Op         string
	Collection string
	Err        error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("vector store %s %q: %v", e.Op, e.Collection, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Point is a vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload domain.JournalEntry
}

// Record is a stored point without its vector. Score is set by Search.
type Record struct {
	ID      string
	Score   float32
	Payload domain.JournalEntry
}

// Store is a collection-oriented vector store.
type Store interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, name string, dim int) error
	Upsert(ctx context.Context, name string, points []Point) error
	// Search returns the k nearest records by cosine similarity, best first.
	Search(ctx context.Context, name string, vector []float32, k int) ([]Record, error)
	// Scroll returns up to limit records after cursor and the next cursor.
	// An empty next cursor means there are no more records.
	Scroll(ctx context.Context, name string, limit int, cursor string) ([]Record, string, error)
	Close() error
}
