package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/smartrecall/internal/identity"
)

const wsWriteTimeout = 5 * time.Second

// wsMessage is an inbound websocket frame. Type "chat" (or empty) carries a turn.
type wsMessage struct {
	Type string `json:"type"`
	ChatRequest
}

// wsReply is an outbound websocket frame.
type wsReply struct {
	Type string `json:"type"`
	*ChatResponse
	Error string `json:"error,omitempty"`
}

// HandleWebSocket handles GET /ws/chat: each text frame is one turn and
// is answered with one reply frame, in order.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", identity.IPFromRequest(r))

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()
	ws.SetReadLimit(h.maxBody)

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if !h.writeFrame(ctx, ws, wsReply{Type: "error", Error: "invalid message"}) {
				return
			}
			continue
		}

		var reply wsReply
		switch msg.Type {
		case "ping":
			reply = wsReply{Type: "pong"}
		case "", "chat":
			reply = h.wsTurn(ctx, msg.turnRequest(sessionID))
			if reply.Type == "" {
				return
			}
		default:
			reply = wsReply{Type: "error", Error: "unknown message type"}
		}
		if !h.writeFrame(ctx, ws, reply) {
			return
		}
	}
}

// wsTurn runs a turn; an empty reply type means the connection is gone.
func (h *Handler) wsTurn(ctx context.Context, req TurnRequest) wsReply {
	if strings.TrimSpace(req.Message) == "" {
		return wsReply{Type: "error", Error: "message is required"}
	}
	if !h.rateLimiter.Allow(req.SessionID) {
		return wsReply{Type: "error", Error: "rate limit exceeded"}
	}
	resp, status, msg := h.turn(ctx, req)
	switch status {
	case 0:
		return wsReply{}
	case http.StatusOK:
		return wsReply{Type: "reply", ChatResponse: &resp}
	default:
		return wsReply{Type: "error", Error: msg}
	}
}

func (h *Handler) writeFrame(ctx context.Context, ws *websocket.Conn, v wsReply) bool {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal websocket frame", "error", err)
		return false
	}
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := ws.Write(wctx, websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write error", "error", err)
		return false
	}
	return true
}
