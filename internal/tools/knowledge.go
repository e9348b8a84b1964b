// Package tools defines the Genkit tools exposed to the chat agent.
package tools

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/quill-chat/quill/internal/log"
)

// SearchDocumentsName is the Genkit tool name for searching indexed
// documents.
const SearchDocumentsName = "search_documents"

// TopK bounds for tool-initiated searches.
const (
	DefaultDocumentsTopK = 5
	MaxTopK              = 10
)

// MaxQueryLength bounds tool query strings. Model-generated queries
// longer than this are almost certainly malformed.
const MaxQueryLength = 1000

// Status reports the outcome of a tool invocation to the model.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is the envelope every tool returns. Errors are reported in
// the payload rather than as Go errors so the model can read them and
// self-correct.
type Result struct {
	Status Status `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SearchInput defines input for the search_documents tool.
type SearchInput struct {
	Query string `json:"query" jsonschema_description:"The search query string"`
	TopK  int    `json:"topK,omitempty" jsonschema_description:"Maximum results to return (1-10)"`
}

// SearchMatch is one search hit in the tool result payload.
type SearchMatch struct {
	Content    string  `json:"content"`
	FileName   string  `json:"file_name,omitempty"`
	FilePath   string  `json:"file_path,omitempty"`
	Similarity float32 `json:"similarity,omitempty"`
}

// Knowledge holds dependencies for the knowledge tool handlers.
type Knowledge struct {
	retriever ai.Retriever
	logger    log.Logger
}

// NewKnowledge creates a Knowledge instance.
func NewKnowledge(retriever ai.Retriever, logger log.Logger) (*Knowledge, error) {
	if retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Knowledge{retriever: retriever, logger: logger}, nil
}

// RegisterKnowledge registers the knowledge tools with Genkit and
// returns them for ai.WithTools.
func RegisterKnowledge(g *genkit.Genkit, kt *Knowledge) ([]ai.Tool, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if kt == nil {
		return nil, fmt.Errorf("knowledge is required")
	}

	return []ai.Tool{
		genkit.DefineTool(g, SearchDocumentsName,
			"Search the indexed document collection using semantic similarity. "+
				"Finds passages that are conceptually related to the query, not just keyword matches. "+
				"Returns passage content, source file names, and similarity scores. "+
				"Use this when the provided context does not answer the question. "+
				"Default topK: 5. Maximum topK: 10.",
			kt.SearchDocuments),
	}, nil
}

// SearchDocuments handles the search_documents tool call.
func (k *Knowledge) SearchDocuments(ctx *ai.ToolContext, input SearchInput) (Result, error) {
	k.logger.Info("search_documents called", "query", input.Query, "top_k", input.TopK)

	if input.Query == "" {
		return Result{Status: StatusError, Error: "query is required"}, nil
	}
	if len(input.Query) > MaxQueryLength {
		return Result{Status: StatusError, Error: fmt.Sprintf("query exceeds %d characters", MaxQueryLength)}, nil
	}

	docs, err := k.search(ctx.Context, input.Query, clampTopK(input.TopK, DefaultDocumentsTopK))
	if err != nil {
		k.logger.Warn("search_documents failed", "query", input.Query, "error", err)
		return Result{Status: StatusError, Error: err.Error()}, nil
	}

	matches := make([]SearchMatch, 0, len(docs))
	for _, doc := range docs {
		matches = append(matches, docToMatch(doc))
	}
	return Result{Status: StatusSuccess, Data: matches}, nil
}

func (k *Knowledge) search(ctx context.Context, query string, topK int) ([]*ai.Document, error) {
	resp, err := k.retriever.Retrieve(ctx, &ai.RetrieverRequest{
		Query:   ai.DocumentFromText(query, nil),
		Options: map[string]any{"k": topK},
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve documents: %w", err)
	}
	return resp.Documents, nil
}

func docToMatch(doc *ai.Document) SearchMatch {
	match := SearchMatch{}
	for _, p := range doc.Content {
		if p.IsText() {
			match.Content = p.Text
			break
		}
	}
	if name, ok := doc.Metadata["file_name"].(string); ok {
		match.FileName = name
	}
	if path, ok := doc.Metadata["file_path"].(string); ok {
		match.FilePath = path
	}
	switch sim := doc.Metadata["similarity"].(type) {
	case float32:
		match.Similarity = sim
	case float64:
		match.Similarity = float32(sim)
	}
	return match
}

// clampTopK validates topK, defaulting non-positive values and capping
// at MaxTopK.
func clampTopK(topK, defaultVal int) int {
	if topK <= 0 {
		return defaultVal
	}
	if topK > MaxTopK {
		return MaxTopK
	}
	return topK
}
