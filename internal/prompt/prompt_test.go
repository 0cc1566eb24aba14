package prompt

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer(nil)
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	return r
}

func TestNames(t *testing.T) {
	t.Parallel()

	want := []string{ChatAgent, FactExtracting, QueryRewriting, QuestionAnswering, TravelAgent}
	if diff := cmp.Diff(want, newRenderer(t).Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderTravelAgent(t *testing.T) {
	t.Parallel()

	out, err := newRenderer(t).Render(context.Background(), TravelAgent, map[string]any{
		"context":      "Step 1/3: Tool: weather_tool",
		"current_step": 2,
		"max_steps":    3,
		"tools":        "weather_tool: current weather",
		"date":         "2026-05-01",
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	for _, want := range []string{"step 2 of 3", "Today is 2026-05-01", "Step 1/3: Tool: weather_tool", "weather_tool: current weather"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered prompt lacks %q", want)
		}
	}
}

func TestRenderEmptyContextShowsNone(t *testing.T) {
	t.Parallel()

	out, err := newRenderer(t).Render(context.Background(), ChatAgent, map[string]any{"facts": "", "history": ""})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(out, "(none)") != 2 {
		t.Errorf("expected placeholders for empty values:\n%s", out)
	}
}

func TestRenderIsStrict(t *testing.T) {
	t.Parallel()

	r := newRenderer(t)
	_, err := r.Render(context.Background(), QueryRewriting, map[string]any{"followup_question": "and then?"})
	if !errors.Is(err, ErrTemplate) {
		t.Fatalf("Render() error = %v, want ErrTemplate", err)
	}
	if !strings.Contains(err.Error(), "conversation_history") {
		t.Errorf("error %q does not name the missing variable", err)
	}

	if _, err := r.Render(context.Background(), "nope", nil); !errors.Is(err, ErrTemplate) {
		t.Errorf("unknown template error = %v, want ErrTemplate", err)
	}
}
