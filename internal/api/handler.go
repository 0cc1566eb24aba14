// Package api provides HTTP handlers for the tripmind API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ashureev/tripmind/internal/agent"
	"github.com/ashureev/tripmind/internal/domain"
	"github.com/ashureev/tripmind/internal/llm"
	"github.com/ashureev/tripmind/internal/logging"
	"github.com/ashureev/tripmind/internal/retrieval"
	"github.com/ashureev/tripmind/internal/vectorstore"
	"github.com/go-chi/chi/v5"
)

// defaultMaxRequestBodySize bounds JSON request bodies. Trip exports can be large.
const defaultMaxRequestBodySize = 8 << 20

// apologyMessage is returned for every unexpected failure.
const apologyMessage = "Sorry, something went wrong while handling your request. Please try again."

// Journal searches and answers questions over indexed trips.
type Journal interface {
	SearchJournalEntries(ctx context.Context, query, userTripID string, limit int) ([]domain.JournalEntry, error)
	SearchWithGeneration(ctx context.Context, query, userTripID string, limit int) (*retrieval.Answer, error)
}

// TripIndexer indexes a trip export.
type TripIndexer interface {
	IndexTrip(ctx context.Context, trip *domain.Trip, userTripID string) (int, error)
}

// Planner runs the planning agent.
type Planner interface {
	Run(ctx context.Context, query, userID, tripID string, maxSteps int) (*agent.PlanStep, error)
}

// Facts extracts and lists user facts.
type Facts interface {
	ExtractFacts(ctx context.Context, userID, tripID string, limit int) ([]domain.Fact, error)
	List(ctx context.Context, userID string) ([]domain.Fact, error)
}

// Chatter answers chat turns.
type Chatter interface {
	Reply(ctx context.Context, req agent.ChatRequest) (*agent.ChatReply, error)
}

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the collaborators behind the HTTP surface.
type Services struct {
	Journal Journal
	Indexer TripIndexer
	Planner Planner
	Facts   Facts
	Chat    Chatter
	DB      Pinger
}

// Options tune the handler.
type Options struct {
	DefaultMaxSteps    int
	MaxRequestBodySize int64
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	AllowedOrigins     []string
}

// Handler serves the journal, planner, facts and chat endpoints.
type Handler struct {
	svc     Services
	opts    Options
	limiter *RateLimiter
	sockets *SocketRegistry
}

// NewHandler creates a Handler. Zero options fall back to defaults.
func NewHandler(svc Services, opts Options) *Handler {
	if opts.DefaultMaxSteps <= 0 {
		opts.DefaultMaxSteps = 5
	}
	if opts.MaxRequestBodySize <= 0 {
		opts.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	if opts.RateLimitRequests <= 0 {
		opts.RateLimitRequests = 10
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = time.Minute
	}
	return &Handler{
		svc:     svc,
		opts:    opts,
		limiter: NewRateLimiter(opts.RateLimitRequests, opts.RateLimitWindow),
		sockets: NewSocketRegistry(),
	}
}

// RegisterRoutes registers every API route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Route("/journal", func(r chi.Router) {
		r.Post("/search", h.Search)
		r.Post("/search_with_generation", h.SearchWithGeneration)
		r.Post("/index", h.Index)
	})
	r.Post("/planner/plan_trip", h.PlanTrip)
	r.Route("/user_facts", func(r chi.Router) {
		r.Post("/extract_facts", h.ExtractFacts)
		r.Get("/{user_id}", h.ListFacts)
	})
	r.Route("/chat", func(r chi.Router) {
		r.Post("/reply", h.ChatReply)
		r.Get("/ws", h.ChatSocket)
	})
}

// Close stops background work owned by the handler.
func (h *Handler) Close() {
	h.limiter.Stop()
	h.sockets.CloseAll()
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// badRequestError marks request validation failures.
type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

// decode reads a JSON body into v.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return badRequest("request body too large")
		}
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func required(fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return badRequest("missing required field(s): %s", strings.Join(missing, ", "))
}

// statusFor maps an error to an HTTP status and client message.
func statusFor(err error) (int, string) {
	var bad *badRequestError
	var notFound *vectorstore.CollectionNotFoundError
	var limited *rateLimitedError
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest, bad.msg
	case errors.As(err, &notFound):
		return http.StatusNotFound, notFound.Error()
	case errors.Is(err, vectorstore.ErrCollectionNotFound):
		return http.StatusNotFound, err.Error()
	case errors.As(err, &limited):
		return http.StatusTooManyRequests, "rate limit exceeded"
	case errors.Is(err, agent.ErrEmptyQuery):
		return http.StatusBadRequest, err.Error()
	case llm.KindOf(err) == llm.KindRateLimit:
		return http.StatusTooManyRequests, "rate limit exceeded"
	default:
		return http.StatusInternalServerError, apologyMessage
	}
}

// fail logs err and writes the mapped response.
func fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := statusFor(err)
	log := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", "op", op, "error", err)
	} else {
		log.Info("Request rejected", "op", op, "status", status, "error", err)
	}
	Error(w, status, msg)
}
