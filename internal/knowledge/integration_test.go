package knowledge_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quill-chat/quill/internal/knowledge"
	"github.com/quill-chat/quill/internal/log"
	"github.com/quill-chat/quill/internal/testutil"
)

func newIntegrationStore(t *testing.T) *knowledge.Store {
	t.Helper()
	pg := testutil.SetupPostgres(t)
	return knowledge.New(knowledge.NewPGQuerier(pg.Pool), testutil.NewMockEmbedder(768), log.NewNop())
}

func TestStoreRoundTrip(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := t.Context()

	docs := []knowledge.Document{
		{
			ID:      "file_aa:0",
			Content: "pgvector keeps embeddings next to the rows they describe",
			Metadata: map[string]string{
				"file_path": "/docs/storage.md",
				"file_name": "storage.md",
			},
		},
		{
			ID:      "file_aa:1",
			Content: "sessions persist conversation turns in order",
			Metadata: map[string]string{
				"file_path": "/docs/storage.md",
				"file_name": "storage.md",
			},
		},
		{
			ID:       "file_bb:0",
			Content:  "the chunker splits text into overlapping windows",
			Metadata: map[string]string{"file_path": "/docs/chunks.md"},
		},
	}
	for _, doc := range docs {
		require.NoError(t, store.Add(ctx, doc))
	}

	count, err := store.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	t.Run("search returns nearest chunks", func(t *testing.T) {
		results, err := store.Search(ctx,
			"pgvector keeps embeddings next to the rows they describe",
			knowledge.WithTopK(2))
		require.NoError(t, err)
		require.NotEmpty(t, results)
		// Identical text embeds to the identical vector, so the
		// matching chunk must rank first with similarity ~1.
		assert.Equal(t, "file_aa:0", results[0].Document.ID)
		assert.InDelta(t, 1.0, results[0].Similarity, 1e-3)
	})

	t.Run("search with metadata filter", func(t *testing.T) {
		results, err := store.Search(ctx, "anything",
			knowledge.WithFilter("file_path", "/docs/chunks.md"))
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "file_bb:0", results[0].Document.ID)
	})

	t.Run("upsert replaces content", func(t *testing.T) {
		updated := docs[2]
		updated.Content = "rewritten chunk body"
		require.NoError(t, store.Add(ctx, updated))

		count, err := store.Count(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, count, "upsert must not create a duplicate row")
	})

	t.Run("delete by file removes all its chunks", func(t *testing.T) {
		deleted, err := store.DeleteByFile(ctx, "/docs/storage.md")
		require.NoError(t, err)
		assert.EqualValues(t, 2, deleted)

		count, err := store.Count(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("delete unknown id", func(t *testing.T) {
		err := store.Delete(ctx, "ghost")
		assert.ErrorIs(t, err, knowledge.ErrNotFound)
	})
}

func TestStoreListBySourceType(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := t.Context()

	require.NoError(t, store.Add(ctx, knowledge.Document{
		ID:         "file_cc:0",
		Content:    "indexed from disk",
		SourceType: knowledge.SourceTypeFile,
	}))

	listed, err := store.ListBySourceType(ctx, knowledge.SourceTypeFile, 10, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "file_cc:0", listed[0].ID)
}
