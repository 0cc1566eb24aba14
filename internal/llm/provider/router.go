package provider

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sync"

	"github.com/ashureev/tripmind/internal/llm"
)

// Keys holds provider credentials. Empty keys leave the provider unregistered.
type Keys struct {
	Groq      string
	GroqURL   string
	OpenAI    string
	OpenAIURL string
	Anthropic string
	Gemini    string
}

type route struct {
	pattern *regexp.Regexp
	backend llm.Backend
}

// Router dispatches a request to the backend whose pattern matches the
// model name. Routes are tried in registration order, the default last.
type Router struct {
	mu       sync.RWMutex
	routes   []route
	fallback llm.Backend
}

var _ llm.Backend = (*Router)(nil)

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{}
}

// Register routes models matching pattern to backend.
func (r *Router) Register(pattern string, backend llm.Backend) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compile model pattern %q: %w", pattern, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route{pattern: re, backend: backend})
	return nil
}

// SetDefault sets the backend for models no pattern matches.
func (r *Router) SetDefault(backend llm.Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = backend
}

// Resolve returns the backend for model.
func (r *Router) Resolve(model string) (llm.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.routes {
		if rt.pattern.MatchString(model) {
			return rt.backend, nil
		}
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no backend registered for model %q", model)
}

// Complete implements llm.Backend.
func (r *Router) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	backend, err := r.Resolve(req.Model)
	if err != nil {
		return nil, llm.NewError(llm.KindUnexpected, req.Model, err)
	}
	return backend.Complete(ctx, req)
}

// NewDefaultRouter registers every provider that has a key. claude-* goes to
// Anthropic, gemini-* to Gemini, and everything else to the OpenAI-compatible
// endpoint (Groq when a Groq key is set).
func NewDefaultRouter(ctx context.Context, keys Keys, httpClient *http.Client) (*Router, error) {
	r := NewRouter()
	if keys.Anthropic != "" {
		if err := r.Register(`^claude-`, NewAnthropic(keys.Anthropic, httpClient)); err != nil {
			return nil, err
		}
	}
	if keys.Gemini != "" {
		g, err := NewGemini(ctx, keys.Gemini, httpClient)
		if err != nil {
			return nil, err
		}
		if err := r.Register(`^gemini-`, g); err != nil {
			return nil, err
		}
	}
	switch {
	case keys.Groq != "":
		url := keys.GroqURL
		if url == "" {
			url = GroqBaseURL
		}
		r.SetDefault(NewOpenAI(OpenAIConfig{APIKey: keys.Groq, BaseURL: url, HTTPClient: httpClient}))
	case keys.OpenAI != "":
		r.SetDefault(NewOpenAI(OpenAIConfig{APIKey: keys.OpenAI, BaseURL: keys.OpenAIURL, HTTPClient: httpClient}))
	}
	return r, nil
}
