package llm

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryPolicy controls attempts per model and the delay between them.
type RetryPolicy struct {
	MaxRetries   int
	BackoffBase  time.Duration
	JitterFactor float64
}

// DefaultRetryPolicy mirrors the production defaults.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:   3,
	BackoffBase:  time.Second,
	JitterFactor: 0.1,
}

// Backoff returns the delay before the retry that follows attempt
// (zero-based): base*2^attempt plus up to jitter*that, drawn from u in [0, 1).
func (p RetryPolicy) Backoff(attempt int, u float64) time.Duration {
	d := p.BackoffBase * time.Duration(1<<attempt)
	return d + time.Duration(u*p.JitterFactor*float64(d))
}

// Fallback tries an ordered list of models, retrying transient failures
// on the same model and moving on after structural ones.
type Fallback struct {
	client Completer
	models []string
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
	rand   func() float64
	logger *slog.Logger
}

// FallbackOption configures a Fallback.
type FallbackOption func(*Fallback)

// WithSleep replaces the context-aware sleep. Used by tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) FallbackOption {
	return func(f *Fallback) { f.sleep = sleep }
}

// WithRand replaces the jitter source; it must return values in [0, 1).
func WithRand(r func() float64) FallbackOption {
	return func(f *Fallback) { f.rand = r }
}

// WithFallbackLogger sets the fallback logger.
func WithFallbackLogger(logger *slog.Logger) FallbackOption {
	return func(f *Fallback) { f.logger = logger }
}

// NewFallback returns a manager over client trying models in order.
func NewFallback(client Completer, models []string, policy RetryPolicy, opts ...FallbackOption) *Fallback {
	f := &Fallback{
		client: client,
		models: append([]string(nil), models...),
		policy: policy,
		sleep:  sleepContext,
		rand:   rand.Float64,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Models returns the fallback order.
func (f *Fallback) Models() []string {
	return append([]string(nil), f.models...)
}

// WithPolicy returns a copy of f using policy.
func (f *Fallback) WithPolicy(policy RetryPolicy) *Fallback {
	c := *f
	c.policy = policy
	return &c
}

// Do runs fn for each model in order until it succeeds.
func (f *Fallback) Do(ctx context.Context, fn func(ctx context.Context, model string) error) error {
	var last error
	attempts := 0
	for _, model := range f.models {
		for attempt := 0; attempt < f.policy.MaxRetries; attempt++ {
			attempts++
			err := fn(ctx, model)
			if err == nil {
				return nil
			}
			last = err
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			kind := KindOf(err)
			if !kind.Retryable() {
				f.logger.Warn("Model failed with non-retryable error, trying next model",
					"model", model, "attempt", attempt+1, "kind", kind.String(), "error", err)
				break
			}
			if attempt == f.policy.MaxRetries-1 {
				f.logger.Warn("Model retries exhausted", "model", model, "attempts", attempt+1, "error", err)
				break
			}

			delay := f.policy.Backoff(attempt, f.rand())
			f.logger.Info("Transient model error, retrying",
				"model", model, "attempt", attempt+1, "kind", kind.String(), "delay", delay)
			if err := f.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	if last == nil {
		last = errors.New("no models configured")
	}
	return &ExhaustedError{Models: f.Models(), Attempts: attempts, Last: last}
}

// Call is the typed entry point: it generates a T with retries and model
// fallback. The model field of req is overwritten per attempt.
func Call[T any](ctx context.Context, f *Fallback, schema Schema[T], req Request) (T, error) {
	var out T
	err := f.Do(ctx, func(ctx context.Context, model string) error {
		r := req
		r.Model = model
		v, err := Generate(ctx, f.client, schema, r)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
