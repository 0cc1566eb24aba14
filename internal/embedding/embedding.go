// Package embedding turns text into dense vectors.
package embedding

import "context"

// Embedder embeds texts into vectors of a fixed dimension.
type Embedder interface {
	// Embed returns one vector per text, in input order.
	Embed(ctx context.Context, texts ...string) ([][]float32, error)
	Dimension() int
}
