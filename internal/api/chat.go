package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ashureev/tripmind/internal/agent"
	"github.com/ashureev/tripmind/internal/logging"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// socketIdleTimeout closes chat sockets that send nothing for this long.
const socketIdleTimeout = 10 * time.Minute

type chatMessage struct {
	UserQuery string `json:"user_query"`
}

type socketError struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// ChatReply handles POST /chat/reply.
func (h *Handler) ChatReply(w http.ResponseWriter, r *http.Request) {
	var req agent.ChatRequest
	if err := h.decode(w, r, &req); err != nil {
		fail(w, r, "chat_reply", err)
		return
	}
	if err := required(map[string]string{"user_query": req.UserQuery, "user_id": req.UserID}); err != nil {
		fail(w, r, "chat_reply", err)
		return
	}
	if err := h.limiter.check(req.UserID); err != nil {
		fail(w, r, "chat_reply", err)
		return
	}

	req.Channel = agent.ChannelHTTP
	reply, err := h.svc.Chat.Reply(r.Context(), req)
	if err != nil {
		fail(w, r, "chat_reply", err)
		return
	}
	JSON(w, http.StatusOK, reply)
}

// ChatSocket handles GET /chat/ws. The query string carries user_id,
// trip_id and an optional conversation_id; every inbound message is
// one chat turn and every reply is written back as JSON.
func (h *Handler) ChatSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	base := agent.ChatRequest{
		UserID:         q.Get("user_id"),
		TripID:         q.Get("trip_id"),
		ConversationID: q.Get("conversation_id"),
		Channel:        agent.ChannelWebSocket,
	}
	if err := required(map[string]string{"user_id": base.UserID}); err != nil {
		fail(w, r, "chat_socket", err)
		return
	}
	if base.ConversationID == "" {
		base.ConversationID = uuid.NewString()
	}
	log := logging.FromContext(r.Context()).With("user_id", base.UserID, "conversation_id", base.ConversationID)

	origins := h.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: origins})
	if err != nil {
		log.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "conversation ended"); closeErr != nil {
			log.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	h.sockets.Register(base.UserID, base.ConversationID, ws)
	defer h.sockets.Unregister(base.UserID, base.ConversationID, ws)

	ctx := logging.NewContext(r.Context(), log)
	for {
		msg, err := readMessage(ctx, ws)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				log.Debug("WebSocket closed by client")
			} else {
				log.Warn("WebSocket read error", "error", err)
			}
			return
		}

		reply, err := h.socketTurn(ctx, base, msg)
		if err != nil {
			status, text := statusFor(err)
			log.Warn("Chat turn failed", "status", status, "error", err)
			if err := wsjson.Write(ctx, ws, socketError{Error: text, Status: status}); err != nil {
				log.Debug("Failed to send chat error", "error", err)
				return
			}
			continue
		}
		if err := wsjson.Write(ctx, ws, reply); err != nil {
			log.Debug("Failed to send chat reply", "error", err)
			return
		}
	}
}

func readMessage(ctx context.Context, ws *websocket.Conn) (chatMessage, error) {
	readCtx, cancel := context.WithTimeout(ctx, socketIdleTimeout)
	defer cancel()
	var msg chatMessage
	err := wsjson.Read(readCtx, ws, &msg)
	return msg, err
}

func (h *Handler) socketTurn(ctx context.Context, base agent.ChatRequest, msg chatMessage) (*agent.ChatReply, error) {
	if err := h.limiter.check(base.UserID); err != nil {
		return nil, err
	}
	req := base
	req.UserQuery = msg.UserQuery
	return h.svc.Chat.Reply(ctx, req)
}
