// Package retrieval answers questions about a user's indexed trip journal.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/tripmind/internal/domain"
	"github.com/ashureev/tripmind/internal/embedding"
	"github.com/ashureev/tripmind/internal/llm"
	"github.com/ashureev/tripmind/internal/logging"
	"github.com/ashureev/tripmind/internal/memory"
	"github.com/ashureev/tripmind/internal/prompt"
	"github.com/ashureev/tripmind/internal/vectorstore"
)

// Defaults for Config.
const (
	DefaultHistoryTurns    = 5
	DefaultScrollBatchSize = 50
	DefaultLimit           = 5
)

// UserTripID returns the id of one user's trip.
func UserTripID(userID, tripID string) string {
	return userID + "_" + tripID
}

// CollectionName returns the vector collection holding a trip's journal.
func CollectionName(userTripID string) string {
	return userTripID + "_trip_collection"
}

// Config tunes the pipeline.
type Config struct {
	HistoryTurns    int
	ScrollBatchSize int
	Temperature     float64
	MaxTokens       int
}

func (c Config) withDefaults() Config {
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = DefaultHistoryTurns
	}
	if c.ScrollBatchSize <= 0 {
		c.ScrollBatchSize = DefaultScrollBatchSize
	}
	return c
}

// Answer is a generated answer with the entries it was grounded on.
type Answer struct {
	Answer         string                `json:"answer"`
	ThoughtProcess []string              `json:"thought_process,omitempty"`
	EnoughContext  bool                  `json:"enough_context"`
	Documents      []domain.JournalEntry `json:"documents"`
}

type rewriteReply struct {
	ThoughtProcess     []string `json:"thought_process"`
	RewrittenUserQuery string   `json:"rewritten_user_query"`
}

var rewriteSchema = llm.Schema[rewriteReply]{
	Name: prompt.QueryRewriting,
	Validate: func(r *rewriteReply) error {
		if strings.TrimSpace(r.RewrittenUserQuery) == "" {
			return fmt.Errorf("empty rewritten_user_query")
		}
		return nil
	},
}

type qaReply struct {
	ThoughtProcess []string `json:"thought_process"`
	Answer         string   `json:"answer"`
	EnoughContext  bool     `json:"enough_context"`
}

var qaSchema = llm.Schema[qaReply]{Name: prompt.QuestionAnswering}

// Pipeline rewrites, retrieves and answers.
type Pipeline struct {
	store    vectorstore.Store
	embedder embedding.Embedder
	fallback *llm.Fallback
	prompts  *prompt.Renderer
	memory   memory.Store
	cfg      Config
}

// NewPipeline wires a pipeline.
func NewPipeline(store vectorstore.Store, embedder embedding.Embedder, fallback *llm.Fallback,
	prompts *prompt.Renderer, mem memory.Store, cfg Config,
) *Pipeline {
	return &Pipeline{
		store:    store,
		embedder: embedder,
		fallback: fallback,
		prompts:  prompts,
		memory:   mem,
		cfg:      cfg.withDefaults(),
	}
}

// SearchJournalEntries returns the limit entries closest to query.
func (p *Pipeline) SearchJournalEntries(ctx context.Context, query, userTripID string, limit int) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	collection := CollectionName(userTripID)
	vectors, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &vectorstore.StoreError{Op: "embed", Collection: collection, Err: err}
	}

	records, err := p.store.Search(ctx, collection, vectors[0], limit)
	if err != nil {
		logging.FromContext(ctx).Error("Journal search failed", "collection", collection, "error", err)
		return nil, err
	}
	docs := make([]domain.JournalEntry, 0, len(records))
	for _, r := range records {
		docs = append(docs, r.Payload)
	}
	logging.FromContext(ctx).Info("Retrieved journal entries", "collection", collection, "count", len(docs))
	return docs, nil
}

// RewriteQuery turns a follow-up question into a standalone query using
// the recent turns of conversationID. Without history, query is returned
// unchanged and no model call is made.
func (p *Pipeline) RewriteQuery(ctx context.Context, query, conversationID string) (string, error) {
	history, err := p.memory.History(ctx, conversationID, p.cfg.HistoryTurns)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}
	if len(history) == 0 {
		return query, nil
	}

	system, err := p.prompts.Render(ctx, prompt.QueryRewriting, map[string]any{
		"conversation_history": FormatTurns(history),
		"followup_question":    query,
	})
	if err != nil {
		return "", err
	}
	reply, err := llm.Call(ctx, p.fallback, rewriteSchema, p.request(system, query))
	if err != nil {
		return "", fmt.Errorf("rewrite query: %w", err)
	}
	logging.FromContext(ctx).Info("Rewrote user query", "rewritten", reply.RewrittenUserQuery)
	return reply.RewrittenUserQuery, nil
}

// SearchWithGeneration answers query from the trip's journal. The exchange
// is appended to the trip's conversation so follow-ups get rewritten.
func (p *Pipeline) SearchWithGeneration(ctx context.Context, query, userTripID string, limit int) (*Answer, error) {
	rewritten, err := p.RewriteQuery(ctx, query, userTripID)
	if err != nil {
		return nil, err
	}

	docs, err := p.SearchJournalEntries(ctx, rewritten, userTripID, limit)
	if err != nil {
		return nil, err
	}
	descriptions := make([]string, 0, len(docs))
	for _, d := range docs {
		descriptions = append(descriptions, d.Description())
	}

	system, err := p.prompts.Render(ctx, prompt.QuestionAnswering, map[string]any{
		"context": strings.Join(descriptions, "\n\n"),
	})
	if err != nil {
		return nil, err
	}
	reply, err := llm.Call(ctx, p.fallback, qaSchema, p.request(system, rewritten))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	if err := p.memory.Append(ctx, userTripID,
		domain.Turn{Role: domain.RoleUser, Content: query},
		domain.Turn{Role: domain.RoleAssistant, Content: reply.Answer},
	); err != nil {
		logging.FromContext(ctx).Warn("Failed to record exchange", "conversation_id", userTripID, "error", err)
	}

	return &Answer{
		Answer:         reply.Answer,
		ThoughtProcess: reply.ThoughtProcess,
		EnoughContext:  reply.EnoughContext,
		Documents:      docs,
	}, nil
}

// AllJournalEntries scrolls through the whole trip collection.
func (p *Pipeline) AllJournalEntries(ctx context.Context, userTripID string) ([]domain.JournalEntry, error) {
	collection := CollectionName(userTripID)
	var out []domain.JournalEntry
	cursor := ""
	for {
		page, next, err := p.store.Scroll(ctx, collection, p.cfg.ScrollBatchSize, cursor)
		if err != nil {
			return nil, err
		}
		for _, r := range page {
			out = append(out, r.Payload)
		}
		if len(page) == 0 || next == "" {
			break
		}
		cursor = next
	}
	logging.FromContext(ctx).Debug("Scrolled journal entries", "collection", collection, "count", len(out))
	return out, nil
}

func (p *Pipeline) request(system, user string) llm.Request {
	return llm.Request{
		Messages:    llm.SystemAndUser(system, user),
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	}
}

// FormatTurns renders turns as "role: content" lines.
func FormatTurns(turns []domain.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, string(t.Role)+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}
