// Package tool defines the tools the planner can call and the registry
// that dispatches them.
package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/tripmind/internal/llm"
)

var (
	// ErrToolNotFound is returned when calling an unregistered tool.
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolTimeout is returned when a tool does not finish within the
	// registry's per-call timeout.
	ErrToolTimeout = errors.New("tool call timed out")
)

// Input is the keyword input of a tool call.
type Input map[string]any

// String returns the value under key as text, or "" when absent.
func (in Input) String(key string) string {
	switch v := in[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Clone returns a shallow copy of in.
func (in Input) Clone() Input {
	out := make(Input, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Descriptor describes a tool to the model. It is immutable once registered.
type Descriptor struct {
	Name        string
	Description string
	// Properties is the JSON schema of each input key.
	Properties map[string]any
	Required   []string
}

// Spec returns the descriptor as a model tool definition.
func (d Descriptor) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        d.Name,
		Description: d.Description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": d.Properties,
			"required":   d.Required,
		},
	}
}

// String renders the descriptor as a prompt line.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s: %s (inputs: %s)", d.Name, d.Description, strings.Join(d.Required, ", "))
}

// Tool is a named capability the planner can invoke.
type Tool interface {
	Descriptor() Descriptor
	Run(ctx context.Context, in Input) (any, error)
}

// MissingInputError names every required key that was absent or empty.
type MissingInputError struct {
	Tool string
	Keys []string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("tool %s: missing required input(s): %s", e.Tool, strings.Join(e.Keys, ", "))
}

// RequireInputs checks that every key is present and non-empty in in.
func RequireInputs(name string, in Input, keys ...string) error {
	var missing []string
	for _, k := range keys {
		if in.String(k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &MissingInputError{Tool: name, Keys: missing}
	}
	return nil
}
