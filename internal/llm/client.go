package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Client wraps a Backend and performs exactly one classified call per
// Complete. Retries belong to Fallback.
type Client struct {
	backend         Backend
	timeout         time.Duration
	maxPromptTokens int
	counter         *TokenCounter
	breakerFailures uint32
	breakerCooldown time.Duration
	logger          *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout bounds every call made by the client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithTokenBudget rejects requests whose messages exceed maxTokens
// before any network call.
func WithTokenBudget(maxTokens int, counter *TokenCounter) ClientOption {
	return func(c *Client) {
		c.maxPromptTokens = maxTokens
		c.counter = counter
	}
}

// WithBreaker opens a per-model circuit after failures consecutive
// transient errors and keeps it open for cooldown.
func WithBreaker(failures uint32, cooldown time.Duration) ClientOption {
	return func(c *Client) {
		c.breakerFailures = failures
		c.breakerCooldown = cooldown
	}
}

// WithClientLogger sets the client's logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a resilient client over backend.
func NewClient(backend Backend, opts ...ClientOption) *Client {
	c := &Client{
		backend:  backend,
		logger:   slog.Default(),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Completer = (*Client)(nil)

// Complete performs one call. Every error it returns is an *Error.
func (c *Client) Complete(ctx context.Context, req Request) (*Completion, error) {
	if c.maxPromptTokens > 0 {
		if n := c.counter.CountMessages(req.Messages); n > c.maxPromptTokens {
			return nil, NewError(KindRequestTooLarge, req.Model,
				fmt.Errorf("prompt has %d tokens, budget is %d", n, c.maxPromptTokens))
		}
	}

	call := func() (*Completion, error) {
		callCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		start := time.Now()
		out, err := c.backend.Complete(callCtx, req)
		if err != nil {
			return nil, Classify(req.Model, err)
		}
		c.logger.Debug("Model call completed",
			"model", req.Model,
			"prompt_tokens", out.PromptTokens,
			"output_tokens", out.OutputTokens,
			"elapsed_ms", time.Since(start).Milliseconds())
		return out, nil
	}

	cb := c.breaker(req.Model)
	if cb == nil {
		return call()
	}
	res, err := cb.Execute(func() (interface{}, error) { return call() })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, NewError(KindServiceUnavailable, req.Model, err)
	}
	if err != nil {
		return nil, err
	}
	return res.(*Completion), nil
}

func (c *Client) breaker(model string) *gobreaker.CircuitBreaker {
	if c.breakerFailures == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[model]; ok {
		return cb
	}
	failures := c.breakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        model,
		MaxRequests: 1,
		Timeout:     c.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Only transient failures say anything about the model's health.
		IsSuccessful: func(err error) bool {
			return err == nil || !KindOf(err).Retryable()
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("Model circuit breaker state changed", "model", name, "from", from.String(), "to", to.String())
		},
	})
	c.breakers[model] = cb
	return cb
}
