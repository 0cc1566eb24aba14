package tool

import (
	"context"
	"fmt"

	"github.com/ashureev/tripmind/internal/domain"
)

// Built-in tool names.
const (
	RetrievalToolName = "retrieval_tool"
	WeatherToolName   = "weather_tool"
	UserFactsToolName = "user_facts_tool"
)

// JournalSearcher searches a user's indexed trip.
type JournalSearcher interface {
	SearchJournalEntries(ctx context.Context, query, userTripID string, limit int) ([]domain.JournalEntry, error)
}

// FactLister lists the stored facts of a user.
type FactLister interface {
	List(ctx context.Context, userID string) ([]domain.Fact, error)
}

// Retrieval searches the journal of {user_id}_{trip_id}.
type Retrieval struct {
	Searcher JournalSearcher
	Limit    int
}

func (Retrieval) Descriptor() Descriptor {
	return Descriptor{
		Name:        RetrievalToolName,
		Description: "Retrieve using semantic similarity content from the user's past travels.",
		Properties: map[string]any{
			"query":   map[string]any{"type": "string", "description": "The query to search for in the journal."},
			"user_id": map[string]any{"type": "string", "description": "The user whose journal is searched."},
			"trip_id": map[string]any{"type": "string", "description": "The trip whose journal is searched."},
		},
		Required: []string{"query"},
	}
}

// Run searches with query, falling back to the user's original query.
func (r Retrieval) Run(ctx context.Context, in Input) (any, error) {
	if in.String("query") == "" {
		in = in.Clone()
		in["query"] = in["user_query"]
	}
	if err := RequireInputs(RetrievalToolName, in, "query", "user_id", "trip_id"); err != nil {
		return nil, err
	}
	limit := r.Limit
	if limit <= 0 {
		limit = 5
	}
	userTripID := in.String("user_id") + "_" + in.String("trip_id")
	return r.Searcher.SearchJournalEntries(ctx, in.String("query"), userTripID, limit)
}

// Weather reports the weather at a location. It returns a fixed forecast.
type Weather struct{}

func (Weather) Descriptor() Descriptor {
	return Descriptor{
		Name:        WeatherToolName,
		Description: "Get current weather information for a specified location.",
		Properties: map[string]any{
			"location": map[string]any{"type": "string", "description": "The location to get the weather for"},
		},
		Required: []string{"location"},
	}
}

func (Weather) Run(_ context.Context, in Input) (any, error) {
	if err := RequireInputs(WeatherToolName, in, "location"); err != nil {
		return nil, err
	}
	return fmt.Sprintf("The current weather in %s is sunny with a temperature of 25°C.", in.String("location")), nil
}

// UserFacts lists the stored preferences of a user.
type UserFacts struct {
	Facts FactLister
}

func (UserFacts) Descriptor() Descriptor {
	return Descriptor{
		Name:        UserFactsToolName,
		Description: "Retrieve stored facts about user preferences and interests when traveling",
		Properties: map[string]any{
			"user_id": map[string]any{"type": "string", "description": "The user ID to retrieve facts for."},
		},
		Required: []string{"user_id"},
	}
}

func (u UserFacts) Run(ctx context.Context, in Input) (any, error) {
	if err := RequireInputs(UserFactsToolName, in, "user_id"); err != nil {
		return nil, err
	}
	return u.Facts.List(ctx, in.String("user_id"))
}
