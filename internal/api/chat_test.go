package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quill-chat/quill/internal/chat"
)

type fakeTitler struct{ title string }

func (f *fakeTitler) GenerateTitle(_ context.Context, _ string) string { return f.title }

func chatBody(t *testing.T, input chat.Input) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(input)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func TestChatSend(t *testing.T) {
	t.Run("returns flow output", func(t *testing.T) {
		fx := newServerFixture(t, nil)
		fx.flow.output = chat.Output{
			Response:  "the answer",
			SessionID: "abc",
			Sources:   []chat.Source{{ID: "doc:0", FileName: "notes.md"}},
		}

		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", chatBody(t, chat.Input{
			Messages:  []chat.InputMessage{{Role: "user", Content: "what is quill?"}},
			SessionID: "3b241101-e2bb-4255-8caf-4136c566a962",
		}))
		rec := httptest.NewRecorder()
		fx.srv.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var out chat.Output
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.Equal(t, "the answer", out.Response)
		require.Len(t, out.Sources, 1)
		assert.Equal(t, "notes.md", out.Sources[0].FileName)
	})

	t.Run("auto-creates session when sessionId is empty", func(t *testing.T) {
		fx := newServerFixture(t, func(c *ServerConfig) {
			c.Titles = &fakeTitler{title: "Quill basics"}
		})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", chatBody(t, chat.Input{
			Messages: []chat.InputMessage{{Role: "user", Content: "what is quill?"}},
		}))
		rec := httptest.NewRecorder()
		fx.srv.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, fx.sessions.created, 1)
		assert.Equal(t, "Quill basics", fx.sessions.created[0])
		require.Len(t, fx.flow.inputs, 1)
		assert.NotEmpty(t, fx.flow.inputs[0].SessionID, "flow should receive the created session id")
	})

	t.Run("invalid body", func(t *testing.T) {
		fx := newServerFixture(t, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()
		fx.srv.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_request")
	})

	t.Run("maps empty query to 400", func(t *testing.T) {
		fx := newServerFixture(t, nil)
		fx.flow.err = chat.ErrEmptyQuery

		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", chatBody(t, chat.Input{
			Messages:  []chat.InputMessage{{Role: "assistant", Content: "hello"}},
			SessionID: "3b241101-e2bb-4255-8caf-4136c566a962",
		}))
		rec := httptest.NewRecorder()
		fx.srv.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "missing_query")
	})

	t.Run("maps open circuit to 503", func(t *testing.T) {
		fx := newServerFixture(t, nil)
		fx.flow.err = chat.ErrCircuitOpen

		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", chatBody(t, chat.Input{
			Messages:  []chat.InputMessage{{Role: "user", Content: "hi"}},
			SessionID: "3b241101-e2bb-4255-8caf-4136c566a962",
		}))
		rec := httptest.NewRecorder()
		fx.srv.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestChatStream(t *testing.T) {
	t.Run("streams chunks then done", func(t *testing.T) {
		fx := newServerFixture(t, nil)
		fx.flow.steps = []streamStep{
			{chunk: "the "},
			{chunk: "answer"},
			{output: &chat.Output{Response: "the answer", SessionID: "abc"}},
		}

		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", chatBody(t, chat.Input{
			Messages:  []chat.InputMessage{{Role: "user", Content: "what is quill?"}},
			SessionID: "3b241101-e2bb-4255-8caf-4136c566a962",
		}))
		rec := httptest.NewRecorder()
		fx.srv.Handler().ServeHTTP(rec, req)

		body := rec.Body.String()
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
		assert.Contains(t, body, "event: chunk")
		assert.Contains(t, body, `"text":"the "`)
		assert.Contains(t, body, "event: done")
		assert.Contains(t, body, `"response":"the answer"`)
	})

	t.Run("emits error event on flow failure", func(t *testing.T) {
		fx := newServerFixture(t, nil)
		fx.flow.steps = []streamStep{
			{chunk: "partial"},
			{err: chat.ErrExecutionFailed},
		}

		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", chatBody(t, chat.Input{
			Messages:  []chat.InputMessage{{Role: "user", Content: "what is quill?"}},
			SessionID: "3b241101-e2bb-4255-8caf-4136c566a962",
		}))
		rec := httptest.NewRecorder()
		fx.srv.Handler().ServeHTTP(rec, req)

		body := rec.Body.String()
		assert.Contains(t, body, "event: error")
		assert.Contains(t, body, "execution_failed")
	})

	t.Run("invalid body emits error event", func(t *testing.T) {
		fx := newServerFixture(t, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", strings.NewReader("nope"))
		rec := httptest.NewRecorder()
		fx.srv.Handler().ServeHTTP(rec, req)

		assert.Contains(t, rec.Body.String(), "event: error")
		assert.Contains(t, rec.Body.String(), "invalid_request")
	})
}
