package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/quill-chat/quill/internal/knowledge"
	"github.com/quill-chat/quill/internal/log"
	"github.com/quill-chat/quill/internal/rag"
)

// documentIndexer is the ingestion surface the documents endpoints
// need. *rag.Indexer satisfies it.
type documentIndexer interface {
	AddFile(ctx context.Context, filePath string) (int, error)
	AddDirectory(ctx context.Context, dirPath string) (*rag.IndexResult, error)
	RemoveDocument(ctx context.Context, docID string) error
	ListDocuments(ctx context.Context, limit, offset int) ([]knowledge.Document, error)
	Stats(ctx context.Context) (map[string]any, error)
}

// documentsHandler serves the document management endpoints. Ingestion
// paths are resolved relative to docsDir and confined to it.
type documentsHandler struct {
	indexer documentIndexer
	docsDir string
	logger  log.Logger
}

// ingestRequest is the payload for POST /api/v1/documents.
type ingestRequest struct {
	Path string `json:"path"` // Relative to the docs root; "." ingests everything.
}

// ingest handles POST /api/v1/documents.
func (h *documentsHandler) ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}
	if req.Path == "" {
		req.Path = "."
	}

	target, err := h.resolvePath(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_path", err.Error(), h.logger)
		return
	}

	info, err := os.Stat(target)
	if err != nil {
		writeError(w, http.StatusNotFound, "path_not_found", "path does not exist under the docs root", h.logger)
		return
	}

	ctx := r.Context()
	if info.IsDir() {
		result, err := h.indexer.AddDirectory(ctx, target)
		if err != nil {
			h.logger.Error("ingesting directory", "error", err, "path", target)
			writeError(w, http.StatusInternalServerError, "ingest_failed", "failed to ingest directory", h.logger)
			return
		}
		writeJSON(w, http.StatusOK, result, h.logger)
		return
	}

	chunks, err := h.indexer.AddFile(ctx, target)
	if err != nil {
		h.logger.Error("ingesting file", "error", err, "path", target)
		writeError(w, http.StatusInternalServerError, "ingest_failed", "failed to ingest file", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"filesAdded":  1,
		"chunksAdded": chunks,
	}, h.logger)
}

// resolvePath joins a client-supplied relative path onto the docs root
// and rejects anything escaping it.
func (h *documentsHandler) resolvePath(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", errors.New("path must be relative to the docs root")
	}
	target := filepath.Join(h.docsDir, rel)
	clean, err := filepath.Abs(target)
	if err != nil {
		return "", errors.New("invalid path")
	}
	root, err := filepath.Abs(h.docsDir)
	if err != nil {
		return "", errors.New("docs root not resolvable")
	}
	if clean != root && !strings.HasPrefix(clean, root+string(filepath.Separator)) {
		return "", errors.New("path escapes the docs root")
	}
	return clean, nil
}

// documentItem is the JSON representation of an indexed chunk.
type documentItem struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// list handles GET /api/v1/documents.
func (h *documentsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50, 1, 200)
	offset := parseIntParam(r, "offset", 0, 0, 100000)

	docs, err := h.indexer.ListDocuments(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("listing documents", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list documents", h.logger)
		return
	}

	items := make([]documentItem, len(docs))
	for i, doc := range docs {
		items[i] = documentItem{ID: doc.ID, Content: doc.Content, Metadata: doc.Metadata}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	}, h.logger)
}

// remove handles DELETE /api/v1/documents/{id}.
func (h *documentsHandler) remove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing_id", "document id is required", h.logger)
		return
	}

	if err := h.indexer.RemoveDocument(r.Context(), id); err != nil {
		if errors.Is(err, knowledge.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "document not found", h.logger)
			return
		}
		h.logger.Error("removing document", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete document", h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// stats handles GET /api/v1/documents/stats.
func (h *documentsHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.indexer.Stats(r.Context())
	if err != nil {
		h.logger.Error("computing document stats", "error", err)
		writeError(w, http.StatusInternalServerError, "stats_failed", "failed to compute stats", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, stats, h.logger)
}
