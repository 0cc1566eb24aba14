package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ashureev/tripmind/internal/domain"
	"github.com/ashureev/tripmind/internal/llm"
)

// defaultAnthropicMaxTokens is used when a request sets no limit; the
// Messages API requires one.
const defaultAnthropicMaxTokens = 1024

// Anthropic talks to the Claude Messages API.
type Anthropic struct {
	client anthropic.Client
}

var _ llm.Backend = (*Anthropic)(nil)

// NewAnthropic creates a Claude backend.
func NewAnthropic(apiKey string, httpClient *http.Client) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &Anthropic{client: anthropic.NewClient(opts...)}
}

// Complete implements llm.Backend.
func (a *Anthropic) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
	}

	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			if strings.TrimSpace(m.Content) != "" {
				system = append(system, m.Content)
			}
		case domain.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	for _, spec := range req.Tools {
		schema := anthropic.ToolInputSchemaParam{Properties: spec.Parameters["properties"]}
		if required, ok := spec.Parameters["required"].([]string); ok {
			schema.Required = required
		}
		tool := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		tool.OfTool.Description = anthropic.String(spec.Description)
		params.Tools = append(params.Tools, tool)
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropic(req.Model, err)
	}

	out := &llm.Completion{
		Model:        req.Model,
		PromptTokens: int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{Name: block.Name, Arguments: block.Input})
		}
	}
	out.Text = text.String()
	return out, nil
}

func classifyAnthropic(model string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llm.NewError(llm.ClassifyStatus(apiErr.StatusCode, apiErr.Error()), model,
			fmt.Errorf("anthropic status %d: %w", apiErr.StatusCode, err))
	}
	return llm.Classify(model, err)
}
