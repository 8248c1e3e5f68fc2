package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ashureev/careerflow/internal/chat"
	"github.com/ashureev/careerflow/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

// Client frame types on the chat socket.
const (
	frameSend   = "send"
	frameCancel = "cancel"
)

// wsFrame is a client frame. A frame with a query and no type is a send.
type wsFrame struct {
	Type  string `json:"type"`
	Query string `json:"query" validate:"max=4000"`
}

// wsRejected tells the client a frame was not acted on.
type wsRejected struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// HandleChatSocket handles GET /api/ws/chat/{id}. Each send frame runs one turn whose
// TurnEvents are written back as JSON frames; a cancel frame aborts the running turn.
func (h *Handler) HandleChatSocket(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")
	if _, err := h.chat.Sessions().Get(sessionID, userID); err != nil {
		h.chatError(w, err)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(h.allowedOrigins),
	})
	if err != nil {
		h.logger.Warn("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.logger.Info("Chat socket connected", "user_id", userID, "session_id", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		mu         sync.Mutex
		busy       bool
		cancelTurn context.CancelFunc
	)
	// busy is set when a send is accepted and cleared when its turn ends,
	// so at most one query is ever buffered.
	queries := make(chan string, 1)

	go func() {
		defer cancel()
		for {
			var f wsFrame
			if err := wsjson.Read(ctx, ws, &f); err != nil {
				if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
					h.logger.Debug("Chat socket read failed", "error", err, "session_id", sessionID)
				}
				return
			}

			switch {
			case f.Type == frameCancel:
				mu.Lock()
				if cancelTurn != nil {
					cancelTurn()
				}
				mu.Unlock()
			case f.Type == frameSend || (f.Type == "" && f.Query != ""):
				if err := h.validate.Struct(f); err != nil {
					h.reject(ctx, ws, validationMessage(err).Error())
					continue
				}
				mu.Lock()
				accepted := !busy
				if accepted {
					busy = true
					queries <- f.Query
				}
				mu.Unlock()
				if !accepted {
					h.reject(ctx, ws, "a reply is still being generated")
				}
			default:
				h.reject(ctx, ws, "unknown frame type")
			}
		}
	}()

	for {
		var query string
		select {
		case <-ctx.Done():
			h.logger.Info("Chat socket disconnected", "user_id", userID, "session_id", sessionID)
			return
		case query = <-queries:
		}

		turnCtx, stopTurn := context.WithCancel(ctx)
		mu.Lock()
		cancelTurn = stopTurn
		mu.Unlock()

		h.runSocketTurn(turnCtx, ws, sessionID, userID, query)

		mu.Lock()
		cancelTurn = nil
		busy = false
		mu.Unlock()
		stopTurn()
	}
}

func (h *Handler) runSocketTurn(ctx context.Context, ws *websocket.Conn, sessionID, userID, query string) {
	events, err := h.chat.Send(ctx, sessionID, userID, query)
	if err != nil {
		h.reject(ctx, ws, socketErrorMessage(err))
		return
	}

	for ev := range events {
		// Writes use the socket's lifetime, not the turn's, so the end event of a
		// cancelled turn is still delivered.
		if err := wsjson.Write(context.WithoutCancel(ctx), ws, ev); err != nil {
			h.logger.Debug("Chat socket write failed", "error", err, "session_id", sessionID)
			return
		}
	}
}

func (h *Handler) reject(ctx context.Context, ws *websocket.Conn, msg string) {
	if err := wsjson.Write(ctx, ws, wsRejected{Type: "rejected", Error: msg}); err != nil {
		h.logger.Debug("Failed to write rejection frame", "error", err)
	}
}

func socketErrorMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		return "session not found"
	case errors.Is(err, chat.ErrTurnInFlight):
		return "a reply is still being generated"
	case errors.Is(err, chat.ErrEmptyQuery):
		return "query is required"
	default:
		return "internal error"
	}
}

// originPatterns converts allowed origins to the host patterns the websocket library matches.
func originPatterns(allowed []string) []string {
	patterns := make([]string, 0, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, strings.TrimSpace(o))
	}
	return patterns
}
