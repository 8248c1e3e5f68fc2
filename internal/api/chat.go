package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/careerflow/internal/chat"
	"github.com/ashureev/careerflow/internal/domain"
	"github.com/ashureev/careerflow/internal/identity"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const (
	defaultTurnsLimit = 50
	maxTurnsLimit     = 500
)

// SendRequest is the body of a turn send.
type SendRequest struct {
	Query string `json:"query" validate:"required,max=4000"`
}

// SessionResponse describes a chat session.
type SessionResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// MessagesResponse lists a session's messages in insertion order.
type MessagesResponse struct {
	SessionID string           `json:"session_id"`
	Busy      bool             `json:"busy"`
	Messages  []domain.Message `json:"messages"`
}

// TurnsResponse lists a session's recorded turns.
type TurnsResponse struct {
	SessionID string               `json:"session_id"`
	Turns     []*domain.TurnRecord `json:"turns"`
}

// HandleCreateSession handles POST /api/chat/sessions.
func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sess := h.chat.Sessions().Create(userID)
	JSON(w, http.StatusCreated, SessionResponse{ID: sess.ID(), CreatedAt: sess.CreatedAt()})
}

// HandleDeleteSession handles DELETE /api/chat/sessions/{id}.
// A pending turn is cancelled silently; its stream ends without an error event.
func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if err := h.chat.Sessions().Delete(chi.URLParam(r, "id"), userID); err != nil {
		h.chatError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListMessages handles GET /api/chat/sessions/{id}/messages.
func (h *Handler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sess, err := h.chat.Sessions().Get(chi.URLParam(r, "id"), userID)
	if err != nil {
		h.chatError(w, err)
		return
	}
	JSON(w, http.StatusOK, MessagesResponse{SessionID: sess.ID(), Busy: sess.Busy(), Messages: sess.Messages()})
}

// HandleListTurns handles GET /api/chat/sessions/{id}/turns.
func (h *Handler) HandleListTurns(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sess, err := h.chat.Sessions().Get(chi.URLParam(r, "id"), userID)
	if err != nil {
		h.chatError(w, err)
		return
	}
	if h.repo == nil {
		Error(w, http.StatusServiceUnavailable, "turn log not configured")
		return
	}

	limit := defaultTurnsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxTurnsLimit)
	}

	turns, err := h.repo.ListTurns(r.Context(), sess.ID(), limit)
	if err != nil {
		h.logger.Error("Failed to list turns", "session_id", sess.ID(), "error", err)
		Error(w, http.StatusInternalServerError, "failed to list turns")
		return
	}
	JSON(w, http.StatusOK, TurnsResponse{SessionID: sess.ID(), Turns: turns})
}

// HandleSend handles POST /api/chat/sessions/{id}/messages.
// The turn is streamed as Server-Sent Events named after each TurnEvent type;
// the end event is always last.
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")

	var req SendRequest
	if status, err := h.decodeJSON(w, r, &req); err != nil {
		Error(w, status, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, err := h.chat.Send(r.Context(), sessionID, userID, req.Query)
	if err != nil {
		h.chatError(w, err)
		return
	}

	h.logger.Info("Counsel turn requested",
		"user_id", userID,
		"session_id", sessionID,
		"query_chars", len([]rune(req.Query)),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var eventID int64
	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			h.logger.Warn("Failed to marshal turn event", "session_id", sessionID, "error", err)
			return
		}
		eventID++
		if err := writeSSEWithID(w, eventID, string(ev.Type), string(data)); err != nil {
			h.logger.Debug("Client went away mid-turn", "session_id", sessionID, "error", err)
			return
		}
		flusher.Flush()
	}
}

func (h *Handler) chatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, chat.ErrTurnInFlight):
		Error(w, http.StatusConflict, "a reply is still being generated")
	case errors.Is(err, chat.ErrEmptyQuery):
		Error(w, http.StatusBadRequest, "query is required")
	default:
		h.logger.Error("Chat request failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
