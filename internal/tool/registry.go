package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout bounds a single tool call.
const DefaultTimeout = 30 * time.Second

// Registry holds tools by name and dispatches calls to them.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. A non-positive timeout uses
// DefaultTimeout.
func NewRegistry(timeout time.Duration, logger *slog.Logger) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]Tool),
		timeout: timeout,
		logger:  logger,
	}
}

// Register adds t. Registering a name twice keeps the first tool.
func (r *Registry) Register(t Tool) {
	name := t.Descriptor().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		r.logger.Info("Tool already registered", "tool", name)
		return
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	r.logger.Info("Tool registered", "tool", name)
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Descriptors returns every descriptor in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Descriptor())
	}
	return out
}

type result struct {
	out any
	err error
}

// Call runs the named tool on its own goroutine and waits for it, the
// per-call timeout, or ctx, whichever comes first. A panicking tool is
// reported as an error.
func (r *Registry) Call(ctx context.Context, name string, in Input) (any, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("tool %s panicked: %v", name, p)}
			}
		}()
		out, err := t.Run(callCtx, in)
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s after %s", ErrToolTimeout, name, r.timeout)
	}
}
