package facts

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashureev/tripmind/internal/domain"
	"github.com/ashureev/tripmind/internal/llm/llmtest"
	"github.com/ashureev/tripmind/internal/prompt"
	"github.com/ashureev/tripmind/internal/store"
	"github.com/google/go-cmp/cmp"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "facts.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return NewStore(repo)
}

func TestSaveKeepsOneFactPerCategory(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, []domain.Fact{{UserID: "u1", Category: "food", FactText: "likes ramen"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, []domain.Fact{{UserID: "u1", Category: "food", FactText: "vegetarian"}}); err != nil {
		t.Fatal(err)
	}

	got, err := s.List(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.Fact{{UserID: "u1", Category: "food", FactText: "vegetarian"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}
}

func TestListIsPerUser(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	_ = s.Save(ctx, []domain.Fact{
		{UserID: "u1", Category: "food", FactText: "a"},
		{UserID: "u2", Category: "food", FactText: "b"},
	})
	got, _ := s.List(ctx, "u2")
	if len(got) != 1 || got[0].FactText != "b" {
		t.Errorf("List(u2) = %v", got)
	}
	none, err := s.List(ctx, "nobody")
	if err != nil || len(none) != 0 {
		t.Errorf("List(nobody) = %v, %v", none, err)
	}
}

type staticEntries []domain.JournalEntry

func (s staticEntries) AllJournalEntries(context.Context, string) ([]domain.JournalEntry, error) {
	return s, nil
}

func TestExtractFactsBatchesAndSavesLastReply(t *testing.T) {
	t.Parallel()

	entries := staticEntries{
		{"display_name": "Peniche", "location_name": "Peniche", "description": "surf lesson"},
		{"display_name": "Belem", "location_name": "Lisbon", "description": "vegan pastries"},
		{"display_name": "Sintra", "location_name": "Sintra", "description": "long hike"},
	}
	model := llmtest.New(
		llmtest.JSON(map[string]any{"extracted_facts": []map[string]string{
			{"user_id": "someone-else", "category": "activities", "fact_text": "surfs"},
		}}),
		llmtest.JSON(map[string]any{"extracted_facts": []map[string]string{
			{"user_id": "someone-else", "category": "activities", "fact_text": "surfs and hikes"},
			{"category": "food", "fact_text": "vegan"},
			{"category": "", "fact_text": "dropped"},
		}}),
	)
	renderer, err := prompt.NewRenderer(nil)
	if err != nil {
		t.Fatal(err)
	}
	s := newStore(t)
	x := NewExtractor(entries, s, model.Fallback(), renderer, 0, 0)

	got, err := x.ExtractFacts(context.Background(), "u1", "t1", 2)
	if err != nil {
		t.Fatalf("ExtractFacts() error = %v", err)
	}
	want := []domain.Fact{
		{UserID: "u1", Category: "activities", FactText: "surfs and hikes"},
		{UserID: "u1", Category: "food", FactText: "vegan"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ExtractFacts() mismatch (-want +got):\n%s", diff)
	}

	reqs := model.Requests()
	if len(reqs) != 2 {
		t.Fatalf("model calls = %d, want 2 batches", len(reqs))
	}
	second := reqs[1].Messages[0].Content
	if !strings.Contains(second, "- activities: surfs") {
		t.Errorf("second batch prompt lacks previous facts:\n%s", second)
	}
	if !strings.Contains(second, "- Sintra (Sintra): long hike") || strings.Contains(second, "Peniche (Peniche)") {
		t.Errorf("second batch prompt has the wrong entries:\n%s", second)
	}

	stored, _ := s.List(context.Background(), "u1")
	if diff := cmp.Diff(want, stored); diff != "" {
		t.Errorf("stored facts mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractFactsWithoutEntries(t *testing.T) {
	t.Parallel()

	model := llmtest.New()
	renderer, _ := prompt.NewRenderer(nil)
	x := NewExtractor(staticEntries{}, newStore(t), model.Fallback(), renderer, 0, 0)
	got, err := x.ExtractFacts(context.Background(), "u1", "t1", 5)
	if err != nil || len(got) != 0 {
		t.Fatalf("ExtractFacts() = %v, %v", got, err)
	}
	if model.Calls() != 0 {
		t.Errorf("model calls = %d, want 0", model.Calls())
	}
}
