package api

import (
	"context"
	"net/http"
	"time"

	"github.com/quill-chat/quill/internal/knowledge"
	"github.com/quill-chat/quill/internal/log"
)

// maxSearchQueryLength bounds search query strings in bytes.
const maxSearchQueryLength = 1000

// searcher is the retrieval surface the search endpoint needs.
// *knowledge.Store satisfies it.
type searcher interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.Result, error)
}

// searchHandler serves GET /api/v1/search.
type searchHandler struct {
	store  searcher
	logger log.Logger
}

// searchResultItem is the JSON representation of one retrieval hit.
type searchResultItem struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	FileName   string  `json:"fileName,omitempty"`
	FilePath   string  `json:"filePath,omitempty"`
	Similarity float32 `json:"similarity"`
	CreatedAt  string  `json:"createdAt,omitempty"`
}

// search handles GET /api/v1/search?q=...&k=5.
func (h *searchHandler) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "query parameter 'q' is required", h.logger)
		return
	}
	if len(query) > maxSearchQueryLength {
		writeError(w, http.StatusBadRequest, "query_too_long", "query must be 1000 characters or fewer", h.logger)
		return
	}

	topK := parseIntParam(r, "k", 5, 1, knowledge.MaxTopK)

	results, err := h.store.Search(r.Context(), query,
		knowledge.WithTopK(topK),
		knowledge.WithFilter("source_type", knowledge.SourceTypeFile),
	)
	if err != nil {
		h.logger.Error("searching documents", "error", err, "query_len", len(query))
		writeError(w, http.StatusInternalServerError, "search_failed", "failed to search documents", h.logger)
		return
	}

	items := make([]searchResultItem, len(results))
	for i, res := range results {
		items[i] = searchResultItem{
			ID:         res.Document.ID,
			Content:    res.Document.Content,
			FileName:   res.Document.Metadata["file_name"],
			FilePath:   res.Document.Metadata["file_path"],
			Similarity: res.Similarity,
		}
		if !res.Document.CreatedAt.IsZero() {
			items[i].CreatedAt = res.Document.CreatedAt.Format(time.RFC3339)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	}, h.logger)
}
