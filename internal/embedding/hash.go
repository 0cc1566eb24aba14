package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Hash is a deterministic feature-hashing embedder. Each lowercased word
// and word bigram is hashed into a bucket with a signed weight, and the
// vector is L2-normalised. It needs no network and suits tests and
// offline use.
type Hash struct {
	dim int
}

var _ Embedder = (*Hash)(nil)

// NewHash returns a hashing embedder of the given dimension.
func NewHash(dim int) *Hash {
	if dim <= 0 {
		dim = 256
	}
	return &Hash{dim: dim}
}

func (h *Hash) Dimension() int { return h.dim }

func (h *Hash) Embed(ctx context.Context, texts ...string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, h.vector(text))
	}
	return out, nil
}

func (h *Hash) vector(text string) []float32 {
	vec := make([]float32, h.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for i, w := range words {
		h.add(vec, w)
		if i > 0 {
			h.add(vec, words[i-1]+" "+w)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func (h *Hash) add(vec []float32, feature string) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	bucket := sum % uint64(h.dim)
	if sum>>63 == 1 {
		vec[bucket]--
		return
	}
	vec[bucket]++
}
