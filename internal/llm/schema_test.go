package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type planReply struct {
	Thought   string         `json:"thought"`
	Tool      string         `json:"tool"`
	ToolInput map[string]any `json:"tool_input"`
}

func TestSchemaDecodeStripsFencesAndProse(t *testing.T) {
	t.Parallel()

	raw := "Here you go:\n```json\n{\"thought\": \"check weather\", \"tool\": \"weather_tool\"}\n```"
	got, err := Schema[planReply]{Name: "plan"}.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Tool != "weather_tool" || got.Thought != "check weather" {
		t.Fatalf("unexpected decode result: %+v", got)
	}
}

func TestSchemaDecodeFailuresAreGenerationErrors(t *testing.T) {
	t.Parallel()

	schema := Schema[planReply]{
		Name: "plan",
		Validate: func(p *planReply) error {
			if p.Thought == "" {
				return errors.New("thought is required")
			}
			return nil
		},
	}
	for _, raw := range []string{"", "no braces", `{"thought": }`, `{"tool": "x"}`} {
		_, err := schema.Decode(raw)
		if KindOf(err) != KindGeneration {
			t.Errorf("Decode(%q): expected generation error, got %v", raw, err)
		}
	}
}

type stubBackend struct {
	completion *Completion
	err        error
	calls      int
	deadline   bool
}

func (s *stubBackend) Complete(ctx context.Context, _ Request) (*Completion, error) {
	s.calls++
	_, s.deadline = ctx.Deadline()
	return s.completion, s.err
}

func TestGenerateDecodesNativeToolCall(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{completion: &Completion{
		ToolCalls: []ToolCall{{Name: "weather_tool", Arguments: []byte(`{"location": "Kyoto"}`)}},
	}}
	got, err := Generate(context.Background(), NewClient(backend), Schema[planReply]{Name: "plan"}, Request{Model: "m"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got.Tool != "weather_tool" || got.ToolInput["location"] != "Kyoto" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestGeneratePrefersToolCallOverProse(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{completion: &Completion{
		Text:      "Let me check the weather in Kyoto first.",
		ToolCalls: []ToolCall{{Name: "weather_tool", Arguments: []byte(`{"location":"Kyoto"}`)}},
	}}
	got, err := Generate(context.Background(), NewClient(backend), Schema[planReply]{Name: "plan"}, Request{Model: "m"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	want := planReply{
		Thought:   "Let me check the weather in Kyoto first.",
		Tool:      "weather_tool",
		ToolInput: map[string]any{"location": "Kyoto"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Generate mismatch (-want +got):\n%s", diff)
	}
}

func TestSchemaDecodeStopsAfterFirstObject(t *testing.T) {
	t.Parallel()

	tests := []string{
		`{"thought": "go", "tool": "weather_tool"} Note: use {location} next time.`,
		"I'd use {braces} here.\n" + `{"thought": "go", "tool": "weather_tool"}`,
		"```json\n" + `{"thought": "go", "tool": "weather_tool", "tool_input": {"a": "}"}}` + "\n```\n}",
	}
	for _, raw := range tests {
		got, err := Schema[planReply]{Name: "plan"}.Decode(raw)
		if err != nil {
			t.Errorf("Decode(%q) error = %v", raw, err)
			continue
		}
		if got.Tool != "weather_tool" || got.Thought != "go" {
			t.Errorf("Decode(%q) = %+v", raw, got)
		}
	}
}

func TestGenerateAttachesModelToErrors(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{completion: &Completion{Text: "nope"}}
	_, err := Generate(context.Background(), NewClient(backend), Schema[planReply]{Name: "plan"}, Request{Model: "m1"})
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if e.Kind != KindGeneration || e.Model != "m1" {
		t.Fatalf("unexpected error: %+v", e)
	}
}

func TestClientClassifiesTransportErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"classified", NewError(KindRateLimit, "", errors.New("429")), KindRateLimit},
		{"plain", errors.New("boom"), KindUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			backend := &stubBackend{err: tt.err}
			_, err := NewClient(backend).Complete(context.Background(), Request{Model: "m"})
			if KindOf(err) != tt.want {
				t.Fatalf("expected %s, got %v", tt.want, err)
			}
			if backend.calls != 1 {
				t.Fatalf("expected exactly one call, got %d", backend.calls)
			}
		})
	}
}

func TestClientAppliesTimeout(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{completion: &Completion{Text: "{}"}}
	if _, err := NewClient(backend, WithTimeout(time.Second)).Complete(context.Background(), Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !backend.deadline {
		t.Fatal("expected the backend context to carry a deadline")
	}
}

func TestClientTokenBudgetRejectsBeforeCalling(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{completion: &Completion{Text: "{}"}}
	c := NewClient(backend, WithTokenBudget(10, nil))
	big := make([]byte, 400)
	for i := range big {
		big[i] = 'a'
	}
	_, err := c.Complete(context.Background(), Request{Model: "m", Messages: []Message{{Content: string(big)}}})
	if KindOf(err) != KindRequestTooLarge {
		t.Fatalf("expected request too large, got %v", err)
	}
	if backend.calls != 0 {
		t.Fatalf("expected no backend call, got %d", backend.calls)
	}
}

func TestClientBreakerOpensOnTransientFailures(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{err: NewError(KindServiceUnavailable, "", errors.New("503"))}
	c := NewClient(backend, WithBreaker(2, time.Minute))

	for i := 0; i < 2; i++ {
		if _, err := c.Complete(context.Background(), Request{Model: "m"}); KindOf(err) != KindServiceUnavailable {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
	}
	_, err := c.Complete(context.Background(), Request{Model: "m"})
	if KindOf(err) != KindServiceUnavailable {
		t.Fatalf("expected fail-fast service unavailable, got %v", err)
	}
	if backend.calls != 2 {
		t.Fatalf("expected open breaker to skip the backend, got %d calls", backend.calls)
	}

	// Other models keep their own breaker.
	if _, err := c.Complete(context.Background(), Request{Model: "other"}); err == nil {
		t.Fatal("expected backend error for other model")
	}
	if backend.calls != 3 {
		t.Fatalf("expected other model to reach the backend, got %d calls", backend.calls)
	}
}

func TestClientBreakerIgnoresStructuralFailures(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{err: NewError(KindRequestTooLarge, "", errors.New("413"))}
	c := NewClient(backend, WithBreaker(1, time.Minute))
	for i := 0; i < 3; i++ {
		if _, err := c.Complete(context.Background(), Request{Model: "m"}); KindOf(err) != KindRequestTooLarge {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
	}
	if backend.calls != 3 {
		t.Fatalf("expected every call to reach the backend, got %d", backend.calls)
	}
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		msg    string
		want   Kind
	}{
		{http.StatusTooManyRequests, "", KindRateLimit},
		{http.StatusRequestEntityTooLarge, "", KindRequestTooLarge},
		{http.StatusBadRequest, "This model's maximum context length is 8192 tokens", KindRequestTooLarge},
		{http.StatusBadRequest, "invalid role", KindUnexpected},
		{http.StatusGatewayTimeout, "", KindTimeout},
		{http.StatusServiceUnavailable, "", KindServiceUnavailable},
		{529, "overloaded", KindServiceUnavailable},
		{http.StatusUnauthorized, "", KindUnexpected},
	}
	for _, tt := range tests {
		if got := ClassifyStatus(tt.status, tt.msg); got != tt.want {
			t.Errorf("ClassifyStatus(%d, %q) = %s, want %s", tt.status, tt.msg, got, tt.want)
		}
	}
}

func TestExhaustedErrorUnwrapsLast(t *testing.T) {
	t.Parallel()

	last := NewError(KindTimeout, "m", context.DeadlineExceeded)
	err := error(&ExhaustedError{Models: []string{"m"}, Attempts: 3, Last: last})
	if !errors.Is(err, ErrAllModelsExhausted) {
		t.Fatal("expected ErrAllModelsExhausted")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("expected the last error to be reachable")
	}
}
