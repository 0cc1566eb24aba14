package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies a failed model call.
type Kind int

// Failure kinds. The set is closed: every failure maps to exactly one.
const (
	KindUnexpected Kind = iota
	KindTimeout
	KindRateLimit
	KindRequestTooLarge
	KindServiceUnavailable
	KindGeneration
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimit:
		return "rate_limit"
	case KindRequestTooLarge:
		return "request_too_large"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindGeneration:
		return "generation_error"
	default:
		return "unexpected_error"
	}
}

// Retryable reports whether the same request may succeed on the same model.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindRateLimit, KindServiceUnavailable:
		return true
	}
	return false
}

// Error is a classified model call failure.
type Error struct {
	Kind  Kind
	Model string
	Err   error
}

func (e *Error) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("model %s: %s: %v", e.Model, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError returns a classified error for model.
func NewError(kind Kind, model string, err error) *Error {
	return &Error{Kind: kind, Model: model, Err: err}
}

// KindOf returns the kind carried by err, classifying unknown errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return classifyTransport(err)
}

// ErrAllModelsExhausted is matched by the terminal fallback failure.
var ErrAllModelsExhausted = errors.New("all fallback models failed")

// ExhaustedError is returned when every model and attempt failed.
type ExhaustedError struct {
	Models   []string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%v after %d attempts across %d models: %v",
		ErrAllModelsExhausted, e.Attempts, len(e.Models), e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrAllModelsExhausted, e.Last}
}

// Classify wraps err into an *Error for model. Errors that are already
// classified keep their kind.
func Classify(model string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Model != "" {
			return e
		}
		c := *e
		c.Model = model
		return &c
	}
	return NewError(classifyTransport(err), model, err)
}

// ClassifyStatus maps an HTTP status code from a provider to a Kind.
// message is the provider's error text, used to spot context-length errors.
func ClassifyStatus(status int, message string) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestEntityTooLarge:
		return KindRequestTooLarge
	case status == http.StatusBadRequest && mentionsContextLength(message):
		return KindRequestTooLarge
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status == http.StatusInternalServerError,
		status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == 529: // provider overloaded
		return KindServiceUnavailable
	default:
		return KindUnexpected
	}
}

func classifyTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindUnexpected
}

func mentionsContextLength(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "context length") ||
		strings.Contains(m, "context_length") ||
		strings.Contains(m, "too large") ||
		strings.Contains(m, "too many tokens")
}
