package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/pgvector/pgvector-go"

	"github.com/quill-chat/quill/internal/log"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// UpsertParams carries one document chunk into the querier.
type UpsertParams struct {
	ID         string
	Content    string
	Embedding  pgvector.Vector
	Metadata   []byte // JSON object
	SourceType string
	CreatedAt  time.Time
}

// SearchParams carries a vector search into the querier.
// FilterMetadata, when non-nil, is a JSON object matched with the
// JSONB containment operator.
type SearchParams struct {
	QueryEmbedding pgvector.Vector
	FilterMetadata []byte
	Limit          int
}

// ListParams pages documents of one source type.
type ListParams struct {
	SourceType string
	Limit      int
	Offset     int
}

// Row is a document row as returned by the querier.
type Row struct {
	ID         string
	Content    string
	Metadata   []byte
	SourceType string
	CreatedAt  time.Time
	Similarity float32 // Populated by SearchDocuments only
}

// Querier defines the database operations the store needs.
// Interfaces are defined by the consumer; *PGQuerier is the production
// implementation, tests substitute a mock.
type Querier interface {
	UpsertDocument(ctx context.Context, arg UpsertParams) error
	SearchDocuments(ctx context.Context, arg SearchParams) ([]Row, error)
	CountDocuments(ctx context.Context, filterMetadata []byte) (int64, error)
	DeleteDocument(ctx context.Context, id string) error
	DeleteDocumentsByFile(ctx context.Context, filePath string) (int64, error)
	ListDocumentsBySourceType(ctx context.Context, arg ListParams) ([]Row, error)
}

// Store manages knowledge documents with vector search.
// Embeddings are generated through the configured ai.Embedder on both
// write (Add) and read (Search) paths.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	queries  Querier
	embedder ai.Embedder
	logger   log.Logger
}

// New creates a Store. A nil logger panics early instead of at first use.
func New(querier Querier, embedder ai.Embedder, logger log.Logger) *Store {
	if logger == nil {
		panic("knowledge.New: nil logger")
	}
	return &Store{
		queries:  querier,
		embedder: embedder,
		logger:   logger,
	}
}

// Add embeds the document content and upserts the chunk. Re-adding a
// document with the same ID replaces its content and embedding.
func (s *Store) Add(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document ID is empty")
	}

	embedding, err := s.embedText(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embedding document %q: %w", doc.ID, err)
	}

	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	sourceType := doc.SourceType
	if sourceType == "" {
		sourceType = SourceTypeFile
	}

	if err := s.queries.UpsertDocument(ctx, UpsertParams{
		ID:         doc.ID,
		Content:    doc.Content,
		Embedding:  embedding,
		Metadata:   metadataJSON,
		SourceType: sourceType,
		CreatedAt:  doc.CreatedAt,
	}); err != nil {
		return fmt.Errorf("upserting document %q: %w", doc.ID, err)
	}

	s.logger.Debug("added document", "id", doc.ID, "content_length", len(doc.Content))
	return nil
}

// Search performs semantic search over the store.
// A per-query timeout bounds both the embedding call and the vector scan.
//
// Filter values always pass through json.Marshal before reaching the
// querier, so user input never lands in SQL text.
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	cfg := buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	queryEmbedding, err := s.embedText(queryCtx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("query embedding timeout: %w", err)
		}
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	var filterJSON []byte
	if len(cfg.filter) > 0 {
		filterJSON, err = json.Marshal(cfg.filter)
		if err != nil {
			return nil, fmt.Errorf("marshaling filter: %w", err)
		}
	}

	rows, err := s.queries.SearchDocuments(queryCtx, SearchParams{
		QueryEmbedding: queryEmbedding,
		FilterMetadata: filterJSON,
		Limit:          cfg.topK,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search query timeout: %w", err)
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}

	return s.rowsToResults(rows), nil
}

// Count returns the number of documents matching the filter, or the
// total count for a nil/empty filter.
func (s *Store) Count(ctx context.Context, filter map[string]string) (int, error) {
	var filterJSON []byte
	if len(filter) > 0 {
		var err error
		filterJSON, err = json.Marshal(filter)
		if err != nil {
			return 0, fmt.Errorf("marshaling filter: %w", err)
		}
	}

	count, err := s.queries.CountDocuments(ctx, filterJSON)
	if err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	if count > math.MaxInt {
		return 0, fmt.Errorf("document count %d exceeds platform int capacity", count)
	}
	return int(count), nil
}

// Delete removes a single chunk by ID.
func (s *Store) Delete(ctx context.Context, docID string) error {
	if err := s.queries.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("deleting document %q: %w", docID, err)
	}
	s.logger.Debug("deleted document", "id", docID)
	return nil
}

// DeleteByFile removes all chunks that originate from the given source
// file. Returns the number of chunks removed. Used on re-ingest so a
// shrinking file does not leave stale tail chunks behind.
func (s *Store) DeleteByFile(ctx context.Context, filePath string) (int64, error) {
	deleted, err := s.queries.DeleteDocumentsByFile(ctx, filePath)
	if err != nil {
		return 0, fmt.Errorf("deleting documents for file %q: %w", filePath, err)
	}
	if deleted > 0 {
		s.logger.Debug("deleted file documents", "file_path", filePath, "count", deleted)
	}
	return deleted, nil
}

// ListBySourceType pages documents of one source type, newest first.
func (s *Store) ListBySourceType(ctx context.Context, sourceType string, limit, offset int) ([]Document, error) {
	switch sourceType {
	case SourceTypeFile, SourceTypeConversation:
	default:
		return nil, fmt.Errorf("unknown source type %q", sourceType)
	}
	if limit < 1 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.queries.ListDocumentsBySourceType(ctx, ListParams{
		SourceType: sourceType,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}

	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, s.rowToDocument(row))
	}
	return docs, nil
}

// embedText runs one text through the embedder and returns a pgvector
// value ready for the querier.
func (s *Store) embedText(ctx context.Context, text string) (pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return pgvector.Vector{}, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("embedder returned no embedding")
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}

func (s *Store) rowsToResults(rows []Row) []Result {
	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, Result{
			Document:   s.rowToDocument(row),
			Similarity: row.Similarity,
		})
	}
	return results
}

func (s *Store) rowToDocument(row Row) Document {
	var metadata map[string]string
	if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
		s.logger.Warn("failed to parse metadata", "document_id", row.ID, "error", err)
		metadata = make(map[string]string)
	}
	return Document{
		ID:         row.ID,
		Content:    row.Content,
		Metadata:   metadata,
		SourceType: row.SourceType,
		CreatedAt:  row.CreatedAt,
	}
}
