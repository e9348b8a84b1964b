package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/quill-chat/quill/internal/log"
	"github.com/quill-chat/quill/internal/session"
)

// sessionStore is the session surface the handlers need.
// *session.Store satisfies it.
type sessionStore interface {
	Create(ctx context.Context, title, modelName string) (*session.Session, error)
	Get(ctx context.Context, id uuid.UUID) (*session.Session, error)
	List(ctx context.Context, limit, offset int) ([]*session.Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
	History(ctx context.Context, sessionID uuid.UUID, lastN int) ([]*ai.Message, error)
}

// sessionHandler serves the session CRUD endpoints.
type sessionHandler struct {
	store  sessionStore
	logger log.Logger
}

// sessionItem is the JSON representation of a session.
type sessionItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	ModelName string `json:"modelName,omitempty"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func toSessionItem(s *session.Session) sessionItem {
	return sessionItem{
		ID:        s.ID.String(),
		Title:     s.Title,
		ModelName: s.ModelName,
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
		UpdatedAt: s.UpdatedAt.Format(time.RFC3339),
	}
}

// createRequest is the payload for POST /api/v1/sessions.
type createRequest struct {
	Title     string `json:"title"`
	ModelName string `json:"modelName"`
}

// create handles POST /api/v1/sessions.
func (h *sessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}
	if req.Title == "" {
		req.Title = "New conversation"
	}

	sess, err := h.store.Create(r.Context(), req.Title, req.ModelName)
	if err != nil {
		h.logger.Error("creating session", "error", err)
		writeError(w, http.StatusInternalServerError, "create_failed", "failed to create session", h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionItem(sess), h.logger)
}

// list handles GET /api/v1/sessions.
func (h *sessionHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50, 1, 200)
	offset := parseIntParam(r, "offset", 0, 0, 100000)

	sessions, err := h.store.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("listing sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list sessions", h.logger)
		return
	}

	items := make([]sessionItem, len(sessions))
	for i, s := range sessions {
		items[i] = toSessionItem(s)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	}, h.logger)
}

// get handles GET /api/v1/sessions/{id}.
func (h *sessionHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	sess, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found", h.logger)
			return
		}
		h.logger.Error("getting session", "error", err, "session_id", id)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to get session", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, toSessionItem(sess), h.logger)
}

// messageItem is the JSON representation of one conversation turn.
type messageItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messages handles GET /api/v1/sessions/{id}/messages.
func (h *sessionHandler) messages(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	limit := parseIntParam(r, "limit", 100, 1, 500)

	history, err := h.store.History(r.Context(), id, limit)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found", h.logger)
			return
		}
		h.logger.Error("loading session messages", "error", err, "session_id", id)
		writeError(w, http.StatusInternalServerError, "messages_failed", "failed to load messages", h.logger)
		return
	}

	items := make([]messageItem, 0, len(history))
	for _, msg := range history {
		items = append(items, messageItem{
			Role:    roleLabel(msg.Role),
			Content: messageText(msg),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	}, h.logger)
}

// remove handles DELETE /api/v1/sessions/{id}.
func (h *sessionHandler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found", h.logger)
			return
		}
		h.logger.Error("deleting session", "error", err, "session_id", id)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete session", h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *sessionHandler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "session id must be a UUID", h.logger)
		return uuid.Nil, false
	}
	return id, true
}

// roleLabel maps Genkit roles to the client-facing role names.
func roleLabel(role ai.Role) string {
	if role == ai.RoleModel {
		return session.RoleAssistant
	}
	return string(role)
}

// messageText concatenates the text parts of a message.
func messageText(msg *ai.Message) string {
	var text string
	for _, part := range msg.Content {
		if part.IsText() {
			text += part.Text
		}
	}
	return text
}
