package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
)

type collection struct {
	dim    int
	order  []string
	points map[string]Point
}

// Memory is an in-process Store. Search is a linear cosine scan.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*collection)}
}

func (m *Memory) CollectionExists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok, nil
}

func (m *Memory) CreateCollection(_ context.Context, name string, dim int) error {
	if dim <= 0 {
		return &StoreError{Op: "create", Collection: name, Err: fmt.Errorf("invalid dimension %d", dim)}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = &collection{dim: dim, points: make(map[string]Point)}
	}
	return nil
}

func (m *Memory) Upsert(_ context.Context, name string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		return &CollectionNotFoundError{Collection: name}
	}
	for _, p := range points {
		if len(p.Vector) != c.dim {
			return &StoreError{Op: "upsert", Collection: name,
				Err: fmt.Errorf("point %s has dimension %d, want %d", p.ID, len(p.Vector), c.dim)}
		}
		if _, exists := c.points[p.ID]; !exists {
			c.order = append(c.order, p.ID)
		}
		c.points[p.ID] = p
	}
	return nil
}

func (m *Memory) Search(_ context.Context, name string, vector []float32, k int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return nil, &CollectionNotFoundError{Collection: name}
	}

	out := make([]Record, 0, len(c.order))
	for _, id := range c.order {
		p := c.points[id]
		out = append(out, Record{ID: p.ID, Score: cosine(vector, p.Vector), Payload: p.Payload})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k >= 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Scroll pages in insertion order. The cursor is the index of the next record.
func (m *Memory) Scroll(_ context.Context, name string, limit int, cursor string) ([]Record, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return nil, "", &CollectionNotFoundError{Collection: name}
	}

	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, "", &StoreError{Op: "scroll", Collection: name, Err: fmt.Errorf("invalid cursor %q", cursor)}
		}
		start = n
	}
	if start >= len(c.order) {
		return nil, "", nil
	}
	end := min(start+limit, len(c.order))

	out := make([]Record, 0, end-start)
	for _, id := range c.order[start:end] {
		p := c.points[id]
		out = append(out, Record{ID: p.ID, Payload: p.Payload})
	}
	next := ""
	if end < len(c.order) {
		next = strconv.Itoa(end)
	}
	return out, next, nil
}

func (m *Memory) Close() error { return nil }

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
