// Package knowledge stores document chunks with vector embeddings in
// PostgreSQL (pgvector) and provides cosine-similarity search over them.
package knowledge

import "time"

// Source type constants for knowledge documents.
const (
	// SourceTypeFile represents indexed file content.
	SourceTypeFile = "file"

	// SourceTypeConversation represents chat message history promoted
	// into the knowledge base.
	SourceTypeConversation = "conversation"
)

// Document represents a knowledge document chunk.
type Document struct {
	ID         string            // Deterministic chunk identifier
	Content    string            // Chunk text content
	Metadata   map[string]string // file_path, file_name, chunk_index, etc.
	SourceType string            // "file" or "conversation"
	CreatedAt  time.Time
}

// Result is a single search result with its similarity score.
type Result struct {
	Document   Document
	Similarity float32 // Cosine similarity (0-1, higher is closer)
}

// SearchOption configures search behavior using functional options.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK    int
	filter  map[string]string
	timeout time.Duration
}

// WithTopK sets the maximum number of results to return. Values outside
// [1, 10] are clamped.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		c.topK = k
	}
}

// WithFilter restricts results to documents whose metadata contains the
// given key/value pair. Multiple filters combine with AND logic.
func WithFilter(key, value string) SearchOption {
	return func(c *searchConfig) {
		if c.filter == nil {
			c.filter = make(map[string]string)
		}
		c.filter[key] = value
	}
}

// WithTimeout overrides the per-search query timeout.
func WithTimeout(d time.Duration) SearchOption {
	return func(c *searchConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// MaxTopK caps how many results a single search may request.
const MaxTopK = 10

const (
	defaultTopK          = 5
	defaultSearchTimeout = 10 * time.Second
)

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		topK:    defaultTopK,
		timeout: defaultSearchTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.topK < 1 {
		cfg.topK = defaultTopK
	}
	if cfg.topK > MaxTopK {
		cfg.topK = MaxTopK
	}
	return cfg
}
