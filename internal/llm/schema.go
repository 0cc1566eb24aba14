package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Schema describes the structured shape a reply must decode into.
type Schema[T any] struct {
	// Name identifies the schema in logs and errors.
	Name string
	// Validate runs after a successful decode. Optional.
	Validate func(*T) error
}

// Decode turns raw model output into a T. Decoding failures are
// generation errors.
func (s Schema[T]) Decode(raw string) (T, error) {
	var out T
	body, err := extractJSON(raw)
	if err != nil {
		return out, NewError(KindGeneration, "", fmt.Errorf("decode %s: %w", s.Name, err))
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, NewError(KindGeneration, "", fmt.Errorf("decode %s: %w", s.Name, err))
	}
	if s.Validate != nil {
		if err := s.Validate(&out); err != nil {
			return out, NewError(KindGeneration, "", fmt.Errorf("validate %s: %w", s.Name, err))
		}
	}
	return out, nil
}

// Generate performs a single model call and decodes the reply into T.
func Generate[T any](ctx context.Context, c Completer, schema Schema[T], req Request) (T, error) {
	req.JSON = true
	var zero T
	completion, err := c.Complete(ctx, req)
	if err != nil {
		return zero, Classify(req.Model, err)
	}
	raw := completion.Text
	if len(completion.ToolCalls) > 0 {
		raw, err = toolCallEnvelope(completion.ToolCalls[0], completion.Text)
		if err != nil {
			return zero, NewError(KindGeneration, req.Model, err)
		}
	}
	out, err := schema.Decode(raw)
	if err != nil {
		return zero, Classify(req.Model, err)
	}
	return out, nil
}

// toolCallEnvelope renders a native tool call as
// {"thought": ..., "tool": ..., "tool_input": ...}. Prose sent alongside
// the call becomes the thought.
func toolCallEnvelope(call ToolCall, prose string) (string, error) {
	args := call.Arguments
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("{}")
	}
	if !json.Valid(args) {
		return "", fmt.Errorf("tool call %s: invalid arguments", call.Name)
	}
	b, err := json.Marshal(struct {
		Thought   string          `json:"thought,omitempty"`
		Tool      string          `json:"tool"`
		ToolInput json.RawMessage `json:"tool_input"`
	}{strings.TrimSpace(prose), call.Name, args})
	if err != nil {
		return "", fmt.Errorf("tool call %s: %w", call.Name, err)
	}
	return string(b), nil
}

var errNoJSONObject = errors.New("no JSON object in reply")

// extractJSON returns the first complete JSON object in raw, skipping
// code fences and surrounding prose.
func extractJSON(raw string) ([]byte, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, errors.New("empty reply")
	}
	var lastErr error
	for start := strings.IndexByte(s, '{'); start >= 0; {
		var obj json.RawMessage
		err := json.NewDecoder(strings.NewReader(s[start:])).Decode(&obj)
		if err == nil {
			return obj, nil
		}
		lastErr = err
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", errNoJSONObject, lastErr)
	}
	return nil, errNoJSONObject
}
