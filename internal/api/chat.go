package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/firebase/genkit/go/core"

	"github.com/quill-chat/quill/internal/chat"
	"github.com/quill-chat/quill/internal/log"
	"github.com/quill-chat/quill/internal/session"
)

// maxChatBodyBytes bounds chat request bodies.
const maxChatBodyBytes = 1 << 20

// chatFlow is the slice of *chat.Flow the handlers need. Declared here
// so tests can substitute a fake without a Genkit registry.
type chatFlow interface {
	Run(ctx context.Context, input chat.Input) (chat.Output, error)
	Stream(ctx context.Context, input chat.Input) func(func(*core.StreamingFlowValue[chat.Output, chat.StreamChunk], error) bool)
}

// sessionCreator creates sessions for requests that arrive without a
// session ID. *session.Store satisfies it.
type sessionCreator interface {
	Create(ctx context.Context, title, modelName string) (*session.Session, error)
}

// titler produces a short session title from the opening message.
// *chat.Agent satisfies it.
type titler interface {
	GenerateTitle(ctx context.Context, userMessage string) string
}

// chatHandler serves the chat endpoints.
//
//	POST /api/v1/chat        synchronous JSON request/response
//	POST /api/v1/chat/stream SSE streaming variant
type chatHandler struct {
	flow      chatFlow
	sessions  sessionCreator
	titles    titler
	modelName string
	logger    log.Logger
}

// SSE event types emitted by the streaming endpoint.
const (
	EventChunk = "chunk"
	EventDone  = "done"
	EventError = "error"
)

// ErrorPayload is the SSE data payload when an error occurs.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *chatHandler) decodeInput(w http.ResponseWriter, r *http.Request) (chat.Input, error) {
	var input chat.Input
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		return chat.Input{}, fmt.Errorf("decoding chat input: %w", err)
	}
	return input, nil
}

// resolveSession fills in a session ID for requests that omit one,
// creating a new session titled after the opening message.
func (h *chatHandler) resolveSession(ctx context.Context, input *chat.Input) error {
	if input.SessionID != "" {
		return nil
	}

	title := "New conversation"
	if query, err := chat.LastUserMessage(input.Messages); err == nil && h.titles != nil {
		title = h.titles.GenerateTitle(ctx, query)
	}

	sess, err := h.sessions.Create(ctx, title, h.modelName)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	input.SessionID = sess.ID.String()
	return nil
}

// send handles POST /api/v1/chat.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	input, err := h.decodeInput(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}

	ctx := r.Context()
	if err := h.resolveSession(ctx, &input); err != nil {
		h.logger.Error("resolving session", "error", err)
		writeError(w, http.StatusInternalServerError, "session_failed", "failed to create session", h.logger)
		return
	}

	output, err := h.flow.Run(ctx, input)
	if err != nil {
		h.handleChatError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, output, h.logger)
}

// handleChatError maps agent sentinels to HTTP status codes.
func (h *chatHandler) handleChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, "missing_query", "no user message in request", h.logger)
	case errors.Is(err, chat.ErrInvalidSession):
		writeError(w, http.StatusBadRequest, "invalid_session", "sessionId is not a valid UUID", h.logger)
	case errors.Is(err, chat.ErrCircuitOpen):
		writeError(w, http.StatusServiceUnavailable, "model_unavailable", "model temporarily unavailable", h.logger)
	default:
		h.logger.Error("chat execution failed", "error", err)
		writeError(w, http.StatusInternalServerError, "execution_failed", "failed to generate response", h.logger)
	}
}

// stream handles POST /api/v1/chat/stream as Server-Sent Events.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	input, err := h.decodeInput(w, r)
	if err != nil {
		_ = writeEvent(w, flusher, EventError, ErrorPayload{Code: "invalid_request", Message: "invalid request body"})
		return
	}

	ctx := r.Context()
	if err := h.resolveSession(ctx, &input); err != nil {
		h.logger.Error("resolving session", "error", err)
		_ = writeEvent(w, flusher, EventError, ErrorPayload{Code: "session_failed", Message: "failed to create session"})
		return
	}

	h.logger.Debug("sse stream started", "session_id", input.SessionID)

	var (
		finalOutput chat.Output
		streamErr   error
	)

	for streamValue, err := range h.flow.Stream(ctx, input) {
		select {
		case <-ctx.Done():
			h.logger.Info("client disconnected", "session_id", input.SessionID)
			return
		default:
		}

		if err != nil {
			streamErr = err
			break
		}

		if streamValue.Done {
			finalOutput = streamValue.Output
			break
		}

		if streamValue.Stream.Text != "" {
			if err := writeEvent(w, flusher, EventChunk, streamValue.Stream); err != nil {
				// Write failure usually means the connection closed.
				h.logger.Debug("writing chunk", "error", err)
				return
			}
		}
	}

	if streamErr != nil {
		h.handleStreamError(w, flusher, streamErr)
		return
	}

	_ = writeEvent(w, flusher, EventDone, finalOutput)
	h.logger.Debug("sse stream completed", "session_id", finalOutput.SessionID)
}

// handleStreamError maps agent sentinels to SSE error events.
func (*chatHandler) handleStreamError(w io.Writer, f http.Flusher, err error) {
	code := "stream_error"
	switch {
	case errors.Is(err, chat.ErrEmptyQuery):
		code = "missing_query"
	case errors.Is(err, chat.ErrInvalidSession):
		code = "invalid_session"
	case errors.Is(err, chat.ErrCircuitOpen):
		code = "model_unavailable"
	case errors.Is(err, chat.ErrExecutionFailed):
		code = "execution_failed"
	}

	_ = writeEvent(w, f, EventError, ErrorPayload{Code: code, Message: err.Error()})
}

// writeEvent writes a single SSE event with JSON-encoded data.
// Format: "event: <type>\ndata: <json>\n\n".
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	flusher.Flush()
	return nil
}
