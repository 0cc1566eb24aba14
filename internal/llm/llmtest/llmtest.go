// Package llmtest provides a scripted Completer for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/tripmind/internal/llm"
)

// Reply is one scripted outcome: Err when non-nil, Text otherwise.
type Reply struct {
	Text string
	Err  error
}

// Scripted returns queued replies in order and records every request.
// Once the script runs out it fails with an unexpected error.
type Scripted struct {
	mu       sync.Mutex
	replies  []Reply
	requests []llm.Request
}

// New returns a Scripted completer with the given replies.
func New(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

// Text is a successful reply.
func Text(s string) Reply { return Reply{Text: s} }

// JSON is a successful reply holding v encoded as JSON.
func JSON(v any) Reply {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return Reply{Text: string(b)}
}

// Fail is a failed reply of the given kind.
func Fail(kind llm.Kind) Reply {
	return Reply{Err: llm.NewError(kind, "", fmt.Errorf("scripted %s", kind))}
}

// Push appends replies to the script.
func (s *Scripted) Push(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
}

// Complete implements llm.Completer.
func (s *Scripted) Complete(_ context.Context, req llm.Request) (*llm.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.replies) == 0 {
		return nil, llm.NewError(llm.KindUnexpected, req.Model, fmt.Errorf("script exhausted"))
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.Completion{Model: req.Model, Text: r.Text}, nil
}

// Requests returns a copy of every request seen so far.
func (s *Scripted) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.requests...)
}

// Calls returns the number of requests seen so far.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Fallback returns a single-model, no-backoff fallback manager over s.
func (s *Scripted) Fallback(models ...string) *llm.Fallback {
	if len(models) == 0 {
		models = []string{"test-model"}
	}
	return llm.NewFallback(s, models, llm.RetryPolicy{MaxRetries: 1},
		llm.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
}
