// Package provider adapts model provider SDKs to llm.Backend.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ashureev/tripmind/internal/domain"
	"github.com/ashureev/tripmind/internal/llm"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// GroqBaseURL is the OpenAI-compatible endpoint of Groq.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// OpenAIConfig configures an OpenAI-compatible backend.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// OpenAI talks to any OpenAI-compatible chat completion API.
type OpenAI struct {
	client openai.Client
}

var _ llm.Backend = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI-compatible backend. SDK retries are
// disabled; retrying is the fallback manager's job.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &OpenAI{client: openai.NewClient(opts...)}
}

// Complete implements llm.Backend.
func (o *OpenAI) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    openAIMessages(req.Messages),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = openAITools(req.Tools)
	} else if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAI(req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewError(llm.KindGeneration, req.Model, errors.New("no choices returned"))
	}

	msg := resp.Choices[0].Message
	out := &llm.Completion{
		Model:        req.Model,
		Text:         msg.Content,
		PromptTokens: int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	for _, call := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		})
	}
	return out, nil
}

func openAIMessages(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case domain.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func openAITools(specs []llm.ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, s := range specs {
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        s.Name,
				Description: openai.String(s.Description),
				Parameters:  shared.FunctionParameters(s.Parameters),
			},
		})
	}
	return out
}

func classifyOpenAI(model string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return llm.NewError(llm.ClassifyStatus(apiErr.StatusCode, apiErr.Message), model,
			fmt.Errorf("openai status %d: %w", apiErr.StatusCode, err))
	}
	return llm.Classify(model, err)
}
