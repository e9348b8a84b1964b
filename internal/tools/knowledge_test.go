package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quill-chat/quill/internal/log"
)

// fakeRetriever records Retrieve calls and returns canned documents.
type fakeRetriever struct {
	docs   []*ai.Document
	ks     []int
	errVal error
}

func (*fakeRetriever) Name() string { return "fake-retriever" }

func (r *fakeRetriever) Retrieve(_ context.Context, req *ai.RetrieverRequest) (*ai.RetrieverResponse, error) {
	if r.errVal != nil {
		return nil, r.errVal
	}
	if opts, ok := req.Options.(map[string]any); ok {
		if k, ok := opts["k"].(int); ok {
			r.ks = append(r.ks, k)
		}
	}
	return &ai.RetrieverResponse{Documents: r.docs}, nil
}

func (*fakeRetriever) Register(_ api.Registry) {}

func newTestKnowledge(t *testing.T, ret ai.Retriever) *Knowledge {
	t.Helper()
	kt, err := NewKnowledge(ret, log.NewNop())
	require.NoError(t, err)
	return kt
}

func toolCtx() *ai.ToolContext {
	return &ai.ToolContext{Context: context.Background()}
}

func TestNewKnowledge(t *testing.T) {
	t.Run("nil retriever", func(t *testing.T) {
		_, err := NewKnowledge(nil, log.NewNop())
		assert.Error(t, err)
	})

	t.Run("nil logger", func(t *testing.T) {
		_, err := NewKnowledge(&fakeRetriever{}, nil)
		assert.Error(t, err)
	})

	t.Run("valid", func(t *testing.T) {
		kt, err := NewKnowledge(&fakeRetriever{}, log.NewNop())
		require.NoError(t, err)
		assert.NotNil(t, kt)
	})
}

func TestClampTopK(t *testing.T) {
	tests := []struct {
		name string
		topK int
		want int
	}{
		{"zero uses default", 0, DefaultDocumentsTopK},
		{"negative uses default", -3, DefaultDocumentsTopK},
		{"in range passes through", 7, 7},
		{"above max is capped", 50, MaxTopK},
		{"exactly max", MaxTopK, MaxTopK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clampTopK(tt.topK, DefaultDocumentsTopK))
		})
	}
}

func TestSearchDocuments(t *testing.T) {
	t.Run("empty query returns error result", func(t *testing.T) {
		kt := newTestKnowledge(t, &fakeRetriever{})
		res, err := kt.SearchDocuments(toolCtx(), SearchInput{})
		require.NoError(t, err)
		assert.Equal(t, StatusError, res.Status)
		assert.Contains(t, res.Error, "query is required")
	})

	t.Run("oversized query returns error result", func(t *testing.T) {
		kt := newTestKnowledge(t, &fakeRetriever{})
		res, err := kt.SearchDocuments(toolCtx(), SearchInput{
			Query: strings.Repeat("q", MaxQueryLength+1),
		})
		require.NoError(t, err)
		assert.Equal(t, StatusError, res.Status)
	})

	t.Run("retriever error surfaces in result not error", func(t *testing.T) {
		kt := newTestKnowledge(t, &fakeRetriever{errVal: errors.New("index offline")})
		res, err := kt.SearchDocuments(toolCtx(), SearchInput{Query: "how do sessions work"})
		require.NoError(t, err)
		assert.Equal(t, StatusError, res.Status)
		assert.Contains(t, res.Error, "index offline")
	})

	t.Run("matches carry content and metadata", func(t *testing.T) {
		ret := &fakeRetriever{docs: []*ai.Document{
			ai.DocumentFromText("session stores live in postgres", map[string]any{
				"file_name":  "sessions.md",
				"file_path":  "/docs/sessions.md",
				"similarity": 0.91,
			}),
			ai.DocumentFromText("messages are ordered by sequence", nil),
		}}
		kt := newTestKnowledge(t, ret)

		res, err := kt.SearchDocuments(toolCtx(), SearchInput{Query: "sessions", TopK: 3})
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, res.Status)

		matches, ok := res.Data.([]SearchMatch)
		require.True(t, ok)
		require.Len(t, matches, 2)
		assert.Equal(t, "session stores live in postgres", matches[0].Content)
		assert.Equal(t, "sessions.md", matches[0].FileName)
		assert.Equal(t, "/docs/sessions.md", matches[0].FilePath)
		assert.InDelta(t, 0.91, matches[0].Similarity, 1e-6)
		assert.Empty(t, matches[1].FileName)
	})

	t.Run("topK is clamped before retrieval", func(t *testing.T) {
		ret := &fakeRetriever{}
		kt := newTestKnowledge(t, ret)

		for _, in := range []SearchInput{
			{Query: "a", TopK: 0},
			{Query: "a", TopK: 99},
			{Query: "a", TopK: 4},
		} {
			_, err := kt.SearchDocuments(toolCtx(), in)
			require.NoError(t, err)
		}
		assert.Equal(t, []int{DefaultDocumentsTopK, MaxTopK, 4}, ret.ks)
	})
}
