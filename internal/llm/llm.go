// Package llm provides the resilient model client and the model fallback
// manager used by every component that talks to a language model.
package llm

import (
	"context"
	"encoding/json"

	"github.com/ashureev/tripmind/internal/domain"
)

// Message is one chat message sent to a model.
type Message struct {
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

// ToolSpec describes a tool the model may ask to call.
type ToolSpec struct {
	Name        string
	Description string
	// Parameters is a JSON schema object describing the tool input.
	Parameters map[string]any
}

// ToolCall is a native tool call returned by a provider.
type ToolCall struct {
	Name      string
	Arguments json.RawMessage
}

// Request is a single chat completion call.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolSpec
	Temperature float64
	MaxTokens   int
	// JSON asks the provider for a JSON object reply when it supports it.
	JSON bool
}

// Completion is the raw reply of a provider.
type Completion struct {
	Model     string
	Text      string
	ToolCalls []ToolCall
	// PromptTokens and OutputTokens are zero when the provider does not report usage.
	PromptTokens int
	OutputTokens int
}

// Backend is a chat-completion provider. Implementations return
// *Error values for failures they can classify.
type Backend interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// Completer performs exactly one classified model call.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// SystemAndUser builds the common two-message conversation.
func SystemAndUser(system, user string) []Message {
	return []Message{
		{Role: domain.RoleSystem, Content: system},
		{Role: domain.RoleUser, Content: user},
	}
}
