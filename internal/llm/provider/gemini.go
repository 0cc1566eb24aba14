package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ashureev/tripmind/internal/domain"
	"github.com/ashureev/tripmind/internal/llm"
	"google.golang.org/genai"
)

// Gemini talks to the Gemini API.
type Gemini struct {
	client *genai.Client
}

var _ llm.Backend = (*Gemini)(nil)

// NewGemini creates a Gemini backend.
func NewGemini(ctx context.Context, apiKey string, httpClient *http.Client) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client}, nil
}

// Complete implements llm.Backend.
func (g *Gemini) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	var system []string
	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			if strings.TrimSpace(m.Content) != "" {
				system = append(system, m.Content)
			}
		case domain.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, spec := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 spec.Name,
				Description:          spec.Description,
				ParametersJsonSchema: spec.Parameters,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	} else if req.JSON {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, classifyGemini(req.Model, err)
	}

	out := &llm.Completion{Model: req.Model, Text: resp.Text()}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	for _, call := range resp.FunctionCalls() {
		args, err := json.Marshal(call.Args)
		if err != nil {
			return nil, llm.NewError(llm.KindGeneration, req.Model, fmt.Errorf("encode function call args: %w", err))
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{Name: call.Name, Arguments: args})
	}
	return out, nil
}

func classifyGemini(model string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		kind := llm.ClassifyStatus(apiErr.Code, apiErr.Message)
		if apiErr.Status == "RESOURCE_EXHAUSTED" {
			kind = llm.KindRateLimit
		}
		return llm.NewError(kind, model, fmt.Errorf("gemini status %d: %w", apiErr.Code, err))
	}
	return llm.Classify(model, err)
}
