package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quill-chat/quill/internal/log"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusTeapot, map[string]string{"hello": "world"}, log.NewNop())

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("Content-Length"))
	assert.JSONEq(t, `{"hello":"world"}`, rec.Body.String())
}

func TestWriteJSONEncodingFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, func() {}, log.NewNop())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusBadRequest, "bad_input", "the input was bad", log.NewNop())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"bad_input","message":"the input was bad"}`, rec.Body.String())
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"absent uses default", "", 20},
		{"valid value", "limit=7", 7},
		{"malformed uses default", "limit=abc", 20},
		{"below min clamps", "limit=0", 1},
		{"above max clamps", "limit=9999", 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			assert.Equal(t, tt.want, parseIntParam(r, "limit", 20, 1, 100))
		})
	}
}
