package rag

import (
	"context"
	"strconv"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/quill-chat/quill/internal/knowledge"
)

// RetrieverName is the registered Genkit retriever identifier.
const RetrieverName = "quill/documents"

// Retriever bridges knowledge.Store to the Genkit ai.Retriever interface.
type Retriever struct {
	store *knowledge.Store
}

// NewRetriever creates a Retriever over the given knowledge store.
func NewRetriever(store *knowledge.Store) *Retriever {
	return &Retriever{store: store}
}

// Define registers a Genkit retriever that searches indexed file
// content. The retrieved documents carry the source metadata plus a
// "similarity" score.
func (r *Retriever) Define(g *genkit.Genkit) ai.Retriever {
	return genkit.DefineRetriever(
		g, RetrieverName, nil,
		func(ctx context.Context, req *ai.RetrieverRequest) (*ai.RetrieverResponse, error) {
			queryText := extractQueryText(req)
			topK := extractTopK(req, 5)

			results, err := r.store.Search(ctx, queryText,
				knowledge.WithTopK(topK),
				knowledge.WithFilter("source_type", knowledge.SourceTypeFile),
			)
			if err != nil {
				return nil, err
			}

			return &ai.RetrieverResponse{
				Documents: convertToGenkitDocuments(results),
			}, nil
		},
	)
}

// extractQueryText pulls the text parts out of the request query.
func extractQueryText(req *ai.RetrieverRequest) string {
	if req.Query == nil {
		return ""
	}
	for _, p := range req.Query.Content {
		if p.IsText() {
			return p.Text
		}
	}
	return ""
}

// extractTopK reads the "k" option, tolerating the numeric and string
// shapes JSON decoding produces. Values outside [1, 10] fall back to
// defaultK.
func extractTopK(req *ai.RetrieverRequest, defaultK int) int {
	opts, ok := req.Options.(map[string]any)
	if !ok {
		return defaultK
	}
	raw, exists := opts["k"]
	if !exists {
		return defaultK
	}

	var k int
	switch v := raw.(type) {
	case int:
		k = v
	case int32:
		k = int(v)
	case int64:
		k = int(v)
	case float64:
		k = int(v)
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return defaultK
		}
		k = parsed
	default:
		return defaultK
	}

	if k < 1 || k > 10 {
		return defaultK
	}
	return k
}

// convertToGenkitDocuments maps search results to ai.Documents,
// carrying the similarity score in the metadata.
func convertToGenkitDocuments(results []knowledge.Result) []*ai.Document {
	docs := make([]*ai.Document, len(results))
	for i, result := range results {
		metadata := make(map[string]any, len(result.Document.Metadata)+2)
		for k, v := range result.Document.Metadata {
			metadata[k] = v
		}
		metadata["id"] = result.Document.ID
		metadata["similarity"] = result.Similarity
		docs[i] = ai.DocumentFromText(result.Document.Content, metadata)
	}
	return docs
}
