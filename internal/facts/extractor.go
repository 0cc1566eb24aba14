package facts

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/tripmind/internal/domain"
	"github.com/ashureev/tripmind/internal/llm"
	"github.com/ashureev/tripmind/internal/logging"
	"github.com/ashureev/tripmind/internal/prompt"
	"github.com/ashureev/tripmind/internal/retrieval"
)

// DefaultBatchSize is the number of journal entries per extraction prompt.
const DefaultBatchSize = 5

// EntrySource lists every journal entry of a trip.
type EntrySource interface {
	AllJournalEntries(ctx context.Context, userTripID string) ([]domain.JournalEntry, error)
}

type extractReply struct {
	ThoughtProcess []string      `json:"thought_process"`
	ExtractedFacts []domain.Fact `json:"extracted_facts"`
}

var extractSchema = llm.Schema[extractReply]{Name: prompt.FactExtracting}

// Extractor derives facts from a trip journal in batches.
type Extractor struct {
	entries     EntrySource
	facts       *Store
	fallback    *llm.Fallback
	prompts     *prompt.Renderer
	temperature float64
	maxTokens   int
}

// NewExtractor wires an extractor.
func NewExtractor(entries EntrySource, facts *Store, fallback *llm.Fallback, prompts *prompt.Renderer, temperature float64, maxTokens int) *Extractor {
	return &Extractor{
		entries:     entries,
		facts:       facts,
		fallback:    fallback,
		prompts:     prompts,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// ExtractFacts reads the whole trip, prompting once per batch of limit
// entries. Each batch sees the facts of the previous one, so the last
// reply holds the merged set; those facts are saved and returned.
func (e *Extractor) ExtractFacts(ctx context.Context, userID, tripID string, limit int) ([]domain.Fact, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	log := logging.FromContext(ctx).With("user_id", userID, "trip_id", tripID)

	entries, err := e.entries.AllJournalEntries(ctx, retrieval.UserTripID(userID, tripID))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		log.Info("No journal entries to extract facts from")
		return []domain.Fact{}, nil
	}

	var current []domain.Fact
	for start := 0; start < len(entries); start += limit {
		batch := entries[start:min(start+limit, len(entries))]
		system, err := e.prompts.Render(ctx, prompt.FactExtracting, map[string]any{
			"user_id":         userID,
			"journal_entries": formatEntries(batch),
			"existing_facts":  formatFacts(current),
		})
		if err != nil {
			return nil, err
		}
		req := llm.Request{
			Messages:    llm.SystemAndUser(system, "Extract the facts from these journal entries."),
			Temperature: e.temperature,
			MaxTokens:   e.maxTokens,
		}
		reply, err := llm.Call(ctx, e.fallback, extractSchema, req)
		if err != nil {
			return nil, fmt.Errorf("extract facts: %w", err)
		}
		current = normalize(reply.ExtractedFacts, userID)
		log.Debug("Extracted fact batch", "batch_start", start, "facts", len(current))
	}

	if len(current) > 0 {
		if err := e.facts.Save(ctx, current); err != nil {
			return nil, err
		}
	}
	log.Info("Extracted facts", "count", len(current))
	return current, nil
}

// normalize forces userID and drops incomplete facts.
func normalize(facts []domain.Fact, userID string) []domain.Fact {
	out := make([]domain.Fact, 0, len(facts))
	for _, f := range facts {
		f.UserID = userID
		f.Category = strings.TrimSpace(f.Category)
		f.FactText = strings.TrimSpace(f.FactText)
		if f.Category == "" || f.FactText == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}

func formatFacts(facts []domain.Fact) string {
	lines := make([]string, 0, len(facts))
	for _, f := range facts {
		lines = append(lines, "- "+f.Category+": "+f.FactText)
	}
	return strings.Join(lines, "\n")
}

func formatEntries(entries []domain.JournalEntry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s (%s): %s\n", e.String("display_name"), e.String("location_name"), e.Description())
	}
	return strings.TrimSuffix(b.String(), "\n")
}
