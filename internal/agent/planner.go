// Package agent holds the tool-using travel planner and the chat service
// that collects trip requirements before handing off to it.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/tripmind/internal/llm"
	"github.com/ashureev/tripmind/internal/logging"
	"github.com/ashureev/tripmind/internal/prompt"
	"github.com/ashureev/tripmind/internal/tool"
)

// DefaultMaxSteps bounds a planner run when the caller passes no limit.
const DefaultMaxSteps = 3

// Replies used when the planner runs out of steps.
const (
	ExhaustedAnswer  = "Sorry, I couldn't generate a complete plan. Please try again."
	ExhaustedThought = "The planner agent was unable to complete the task within the maximum steps allowed."
)

// PlanStep is one decision of the planner.
type PlanStep struct {
	Thought   string     `json:"thought"`
	Tool      string     `json:"tool,omitempty"`
	ToolInput tool.Input `json:"tool_input,omitempty"`
	Final     bool       `json:"final"`
	Answer    string     `json:"answer,omitempty"`
}

// isFinal reports whether the step ends the run. An answer without a
// tool counts as final even when the model forgot the flag.
func (s PlanStep) isFinal() bool {
	return s.Final || (s.Answer != "" && s.Tool == "")
}

var planStepSchema = llm.Schema[PlanStep]{Name: prompt.TravelAgent}

// PlannerConfig tunes model calls made by the planner.
type PlannerConfig struct {
	Temperature float64
	MaxTokens   int
}

// Planner runs a bounded reason/act loop over the tool registry.
type Planner struct {
	tools    *tool.Registry
	fallback *llm.Fallback
	prompts  *prompt.Renderer
	cfg      PlannerConfig
	now      func() time.Time
}

// NewPlanner wires a planner.
func NewPlanner(tools *tool.Registry, fallback *llm.Fallback, prompts *prompt.Renderer, cfg PlannerConfig) *Planner {
	return &Planner{
		tools:    tools,
		fallback: fallback,
		prompts:  prompts,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run plans for query. Each step asks the model to either call one tool
// or answer. Tool results and tool errors are recorded and shown to the
// model on the next step. When no final answer arrives within maxSteps
// the canned exhausted reply is returned. Model failures are returned
// as errors.
func (p *Planner) Run(ctx context.Context, query, userID, tripID string, maxSteps int) (*PlanStep, error) {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	log := logging.FromContext(ctx).With("user_id", userID, "trip_id", tripID)
	fixed := tool.Input{"user_query": query, "user_id": userID, "trip_id": tripID}

	descriptors := p.tools.Descriptors()
	specs := make([]llm.ToolSpec, 0, len(descriptors))
	lines := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		specs = append(specs, d.Spec())
		lines = append(lines, "- "+d.String())
	}
	toolList := strings.Join(lines, "\n")

	var history []string
	for step := 1; step <= maxSteps; step++ {
		reply, err := p.reason(ctx, query, history, toolList, specs, step, maxSteps)
		if err != nil {
			return nil, fmt.Errorf("planner step %d/%d: %w", step, maxSteps, err)
		}

		switch {
		case reply.isFinal():
			reply.Final = true
			log.Info("Planner finished", "step", step, "max_steps", maxSteps)
			return &reply, nil
		case reply.Tool != "":
			history = append(history, p.dispatch(ctx, reply, fixed, step, maxSteps))
		default:
			log.Warn("Planner step had neither a tool nor a final answer", "step", step, "thought", reply.Thought)
		}
	}

	log.Warn("Planner reached max steps without a final answer", "max_steps", maxSteps)
	return &PlanStep{Thought: ExhaustedThought, Final: true, Answer: ExhaustedAnswer}, nil
}

func (p *Planner) reason(ctx context.Context, query string, history []string, toolList string,
	specs []llm.ToolSpec, step, maxSteps int,
) (PlanStep, error) {
	system, err := p.prompts.Render(ctx, prompt.TravelAgent, map[string]any{
		"context":      strings.Join(history, "\n"),
		"current_step": strconv.Itoa(step),
		"max_steps":    strconv.Itoa(maxSteps),
		"tools":        toolList,
		"date":         p.now().Format(time.DateOnly),
	})
	if err != nil {
		return PlanStep{}, err
	}
	return llm.Call(ctx, p.fallback, planStepSchema, llm.Request{
		Messages:    llm.SystemAndUser(system, query),
		Tools:       specs,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	})
}

// dispatch calls the chosen tool and returns the step record. The fixed
// keys override whatever the model put in the input.
func (p *Planner) dispatch(ctx context.Context, reply PlanStep, fixed tool.Input, step, maxSteps int) string {
	in := reply.ToolInput.Clone()
	for k, v := range fixed {
		in[k] = v
	}

	out, err := p.tools.Call(ctx, reply.Tool, in)
	if err != nil {
		logging.FromContext(ctx).Warn("Planner tool call failed", "tool", reply.Tool, "step", step, "error", err)
		return fmt.Sprintf("Step %d/%d: Error while calling tool %s: %v. Thought: %s",
			step, maxSteps, reply.Tool, err, reply.Thought)
	}
	return fmt.Sprintf("Step %d/%d: Tool: %s, Thought process: %s, Tool Input: %s, Tool Output: %s",
		step, maxSteps, reply.Tool, reply.Thought, render(in), render(out))
}

func render(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
