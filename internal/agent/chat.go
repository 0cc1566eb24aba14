package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/tripmind/internal/domain"
	"github.com/ashureev/tripmind/internal/llm"
	"github.com/ashureev/tripmind/internal/logging"
	"github.com/ashureev/tripmind/internal/memory"
	"github.com/ashureev/tripmind/internal/prompt"
	"github.com/ashureev/tripmind/internal/retrieval"
	"github.com/google/uuid"
)

// Conversation log channels.
const (
	ChannelHTTP      = "chat_http"
	ChannelWebSocket = "chat_ws"
	ChannelCLI       = "chat_cli"
)

const (
	eventUserMessage      = "chat_user_message"
	eventAssistantMessage = "chat_assistant_message"
	eventPlanHandoff      = "chat_plan_handoff"
)

const defaultChatHistoryTurns = 10

// ErrEmptyQuery is returned when a chat turn has no text.
var ErrEmptyQuery = errors.New("user query is required")

// ChatRequest is one user turn.
type ChatRequest struct {
	UserQuery      string `json:"user_query"`
	UserID         string `json:"user_id"`
	TripID         string `json:"trip_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	// Channel names the transport in the conversation log. Defaults to ChannelHTTP.
	Channel string `json:"-"`
}

// ChatReply is the assistant's answer to a turn.
type ChatReply struct {
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id"`
	// Planned is set when the turn handed off to the planner.
	Planned bool `json:"planned"`
}

type chatAgentReply struct {
	Answer         string   `json:"answer"`
	CollectedFacts []string `json:"collected_facts"`
	ReadyToPlan    bool     `json:"ready_to_plan"`
}

var chatAgentSchema = llm.Schema[chatAgentReply]{
	Name: prompt.ChatAgent,
	Validate: func(r *chatAgentReply) error {
		if r.Answer == "" && !r.ReadyToPlan {
			return errors.New("empty answer")
		}
		return nil
	},
}

// ChatConfig tunes the chat service.
type ChatConfig struct {
	Temperature  float64
	MaxTokens    int
	HistoryTurns int
	// PlannerMaxSteps bounds the planner run started by a ready conversation.
	PlannerMaxSteps int
}

// Chat collects trip requirements over several turns and hands off to
// the planner once the model says it has enough.
type Chat struct {
	planner  *Planner
	memory   memory.Store
	fallback *llm.Fallback
	prompts  *prompt.Renderer
	log      ConversationLogger
	cfg      ChatConfig
}

// NewChat wires a chat service. A nil log drops conversation events.
func NewChat(planner *Planner, mem memory.Store, fallback *llm.Fallback, prompts *prompt.Renderer,
	log ConversationLogger, cfg ChatConfig,
) *Chat {
	if log == nil {
		log = noopConversationLogger{}
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = defaultChatHistoryTurns
	}
	if cfg.PlannerMaxSteps <= 0 {
		cfg.PlannerMaxSteps = DefaultMaxSteps
	}
	return &Chat{
		planner:  planner,
		memory:   mem,
		fallback: fallback,
		prompts:  prompts,
		log:      log,
		cfg:      cfg,
	}
}

// Reply answers one user turn. A missing conversation id starts a new
// conversation.
func (c *Chat) Reply(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	if strings.TrimSpace(req.UserQuery) == "" {
		return nil, ErrEmptyQuery
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	if req.Channel == "" {
		req.Channel = ChannelHTTP
	}
	log := logging.FromContext(ctx).With("conversation_id", req.ConversationID, "user_id", req.UserID)

	c.event(req, "inbound", eventUserMessage, req.UserQuery, nil)
	// History is read before the current turn is stored; the turn itself
	// is sent as the user message.
	history, err := c.memory.History(ctx, req.ConversationID, c.cfg.HistoryTurns)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if err := c.memory.Append(ctx, req.ConversationID, domain.Turn{Role: domain.RoleUser, Content: req.UserQuery}); err != nil {
		return nil, fmt.Errorf("append user turn: %w", err)
	}
	state, err := c.memory.UpdateSessionState(ctx, req.ConversationID, domain.SessionUpdate{UserQuery: &req.UserQuery})
	if err != nil {
		return nil, fmt.Errorf("update session state: %w", err)
	}

	system, err := c.prompts.Render(ctx, prompt.ChatAgent, map[string]any{
		"facts":   bulletList(state.Facts),
		"history": retrieval.FormatTurns(history),
	})
	if err != nil {
		return nil, err
	}
	reply, err := llm.Call(ctx, c.fallback, chatAgentSchema, llm.Request{
		Messages:    llm.SystemAndUser(system, req.UserQuery),
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	state, err = c.memory.UpdateSessionState(ctx, req.ConversationID, domain.SessionUpdate{Facts: reply.CollectedFacts})
	if err != nil {
		return nil, fmt.Errorf("update session facts: %w", err)
	}

	answer := reply.Answer
	planned := false
	if reply.ReadyToPlan {
		answer, err = c.plan(ctx, req, state)
		if err != nil {
			return nil, err
		}
		planned = true
		log.Info("Conversation handed off to planner", "facts", len(state.Facts))
	}

	if err := c.memory.Append(ctx, req.ConversationID, domain.Turn{Role: domain.RoleAssistant, Content: answer}); err != nil {
		return nil, fmt.Errorf("append assistant turn: %w", err)
	}
	c.event(req, "outbound", eventAssistantMessage, answer, map[string]any{
		"planned":         planned,
		"collected_facts": len(reply.CollectedFacts),
	})
	return &ChatReply{Answer: answer, ConversationID: req.ConversationID, Planned: planned}, nil
}

// plan runs the planner on the first user turn plus every collected fact
// and stores the plan in the session.
func (c *Chat) plan(ctx context.Context, req ChatRequest, state domain.SessionState) (string, error) {
	turns, err := c.memory.History(ctx, req.ConversationID, 0)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}
	first := req.UserQuery
	for _, t := range turns {
		if t.Role == domain.RoleUser {
			first = t.Content
			break
		}
	}
	query := strings.Join(append([]string{first}, state.Facts...), ",")
	c.event(req, "internal", eventPlanHandoff, query, nil)

	step, err := c.planner.Run(ctx, query, req.UserID, req.TripID, c.cfg.PlannerMaxSteps)
	if err != nil {
		return "", err
	}
	if _, err := c.memory.UpdateSessionState(ctx, req.ConversationID, domain.SessionUpdate{TravelPlan: &step.Answer}); err != nil {
		return "", fmt.Errorf("store travel plan: %w", err)
	}
	return step.Answer, nil
}

func (c *Chat) event(req ChatRequest, direction, eventType, content string, meta map[string]any) {
	c.log.Log(ConversationLogEvent{
		UserID:     req.UserID,
		SessionID:  req.ConversationID,
		Channel:    req.Channel,
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Content:    cleanForReadability(content),
		Meta:       meta,
	})
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return "- " + strings.Join(items, "\n- ")
}
