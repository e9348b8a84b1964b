package rag

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quill-chat/quill/internal/knowledge"
	"github.com/quill-chat/quill/internal/log"
)

// memStore keeps documents in a map, keyed by ID.
type memStore struct {
	mu   sync.Mutex
	docs map[string]knowledge.Document
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]knowledge.Document)}
}

func (s *memStore) Add(_ context.Context, doc knowledge.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	return nil
}

func (s *memStore) Delete(_ context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[docID]; !ok {
		return knowledge.ErrNotFound
	}
	delete(s.docs, docID)
	return nil
}

func (s *memStore) DeleteByFile(_ context.Context, filePath string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, doc := range s.docs {
		if doc.Metadata["file_path"] == filePath {
			delete(s.docs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memStore) ListBySourceType(_ context.Context, sourceType string, _, _ int) ([]knowledge.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []knowledge.Document
	for _, doc := range s.docs {
		if doc.SourceType == sourceType {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *memStore) Count(_ context.Context, _ map[string]string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs), nil
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

func newTestIndexer(t *testing.T, store Store) *Indexer {
	t.Helper()
	chunker, err := NewChunker(64, 8)
	require.NoError(t, err)
	return NewIndexer(store, chunker, nil, log.NewNop())
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestIndexerAddFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.md", strings.Repeat("alpha beta gamma ", 20))

	store := newMemStore()
	idx := newTestIndexer(t, store)

	chunks, err := idx.AddFile(context.Background(), path)
	require.NoError(t, err)
	assert.Greater(t, chunks, 1)
	assert.Equal(t, chunks, store.len())

	for _, doc := range store.docs {
		assert.Equal(t, knowledge.SourceTypeFile, doc.SourceType)
		assert.Equal(t, path, doc.Metadata["file_path"])
		assert.Equal(t, ".md", doc.Metadata["file_ext"])
		assert.NotEmpty(t, doc.Metadata["chunk_index"])
	}
}

func TestIndexerAddFile_DeterministicIDs(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.txt", "stable content")

	store := newMemStore()
	idx := newTestIndexer(t, store)

	_, err := idx.AddFile(context.Background(), path)
	require.NoError(t, err)
	firstIDs := make([]string, 0, store.len())
	for id := range store.docs {
		firstIDs = append(firstIDs, id)
	}

	// Re-ingest must not duplicate.
	_, err = idx.AddFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, len(firstIDs), store.len())
	for _, id := range firstIDs {
		assert.Contains(t, store.docs, id)
	}
}

func TestIndexerAddFile_ShrinkingFileDropsStaleChunks(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.txt", strings.Repeat("long content ", 50))

	store := newMemStore()
	idx := newTestIndexer(t, store)

	chunks, err := idx.AddFile(context.Background(), path)
	require.NoError(t, err)
	require.Greater(t, chunks, 1)

	writeFile(t, dir, "doc.txt", "tiny")
	chunks, err = idx.AddFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, chunks)
	assert.Equal(t, 1, store.len())
}

func TestIndexerAddFile_UnsupportedType(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "image.png", "not really an image")

	idx := newTestIndexer(t, newMemStore())
	_, err := idx.AddFile(context.Background(), path)
	assert.Error(t, err)
}

func TestIndexerAddDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "first document content")
	writeFile(t, dir, "sub/b.txt", "second document content")
	writeFile(t, dir, "skip.bin", "binary blob")
	writeFile(t, dir, ".hidden/secret.txt", "never indexed")

	store := newMemStore()
	idx := newTestIndexer(t, store)

	result, err := idx.AddDirectory(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 2, result.FilesAdded)
	assert.Equal(t, 1, result.FilesSkipped)
	assert.Equal(t, 0, result.FilesFailed)
	assert.Equal(t, result.ChunksAdded, store.len())
}

func TestIndexerAddDirectory_GitignoreRespected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".gitignore", "ignored/\n*.log\n")
	writeFile(t, dir, "keep.md", "kept content")
	writeFile(t, dir, "ignored/drop.md", "dropped content")
	writeFile(t, dir, "debug.log", "log line")

	store := newMemStore()
	idx := newTestIndexer(t, store)

	result, err := idx.AddDirectory(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesAdded)
	for _, doc := range store.docs {
		assert.Equal(t, "keep.md", doc.Metadata["file_name"])
	}
}

func TestIndexerRemoveFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.md", strings.Repeat("content ", 30))

	store := newMemStore()
	idx := newTestIndexer(t, store)

	chunks, err := idx.AddFile(context.Background(), path)
	require.NoError(t, err)

	deleted, err := idx.RemoveFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int64(chunks), deleted)
	assert.Equal(t, 0, store.len())
}

func TestIndexerStats(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "alpha")
	writeFile(t, dir, "b.txt", "beta")

	store := newMemStore()
	idx := newTestIndexer(t, store)

	_, err := idx.AddDirectory(context.Background(), dir)
	require.NoError(t, err)

	stats, err := idx.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats["total_files"])

	fileTypes, ok := stats["file_types"].(map[string]int)
	require.True(t, ok)
	assert.Equal(t, 1, fileTypes[".md"])
	assert.Equal(t, 1, fileTypes[".txt"])
}

func TestGenerateDocID_Stable(t *testing.T) {
	a := generateDocID("/docs/a.md")
	assert.Equal(t, a, generateDocID("/docs/a.md"))
	assert.NotEqual(t, a, generateDocID("/docs/b.md"))
	assert.True(t, strings.HasPrefix(a, "file_"))
}
