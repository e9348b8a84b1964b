package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/quill-chat/quill/internal/knowledge"
	"github.com/quill-chat/quill/internal/log"
)

// MaxFileSize caps how large a single source file may be. Larger files
// are skipped rather than chunked into thousands of embeddings.
const MaxFileSize = 8 * 1024 * 1024

// DefaultListLimit bounds ListDocuments queries.
const DefaultListLimit = 1000

// Store defines the storage operations the indexer needs.
// knowledge.Store satisfies this; tests substitute a mock.
type Store interface {
	Add(ctx context.Context, doc knowledge.Document) error
	Delete(ctx context.Context, docID string) error
	DeleteByFile(ctx context.Context, filePath string) (int64, error)
	ListBySourceType(ctx context.Context, sourceType string, limit, offset int) ([]knowledge.Document, error)
	Count(ctx context.Context, filter map[string]string) (int, error)
}

// IndexResult summarizes one indexing run.
type IndexResult struct {
	FilesAdded   int
	FilesSkipped int
	FilesFailed  int
	ChunksAdded  int
	TotalSize    int64
	Duration     time.Duration
}

// Indexer ingests local files into the knowledge store: read, chunk,
// embed (via the store), upsert. File access goes through os.Root so
// symlinks and ".." cannot escape the indexed directory.
type Indexer struct {
	store   Store
	chunker *Chunker
	readers []FileReader
	logger  log.Logger
}

// NewIndexer creates an indexer. Passing nil readers selects
// DefaultReaders.
func NewIndexer(store Store, chunker *Chunker, readers []FileReader, logger log.Logger) *Indexer {
	if readers == nil {
		readers = DefaultReaders()
	}
	return &Indexer{
		store:   store,
		chunker: chunker,
		readers: readers,
		logger:  logger,
	}
}

// AddFile ingests a single file, replacing any chunks from a previous
// ingest of the same path. Returns the number of chunks written.
func (idx *Indexer) AddFile(ctx context.Context, filePath string) (int, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return 0, fmt.Errorf("resolving path: %w", err)
	}

	root, err := os.OpenRoot(filepath.Dir(absPath))
	if err != nil {
		return 0, fmt.Errorf("opening root directory: %w", err)
	}
	defer func() { _ = root.Close() }()

	fileName := filepath.Base(absPath)
	info, err := root.Stat(fileName)
	if err != nil {
		return 0, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory, use AddDirectory", filePath)
	}

	return idx.ingestFile(ctx, root, fileName, absPath, info.Size())
}

// AddDirectory recursively ingests all supported files under dirPath.
// Entries matched by a top-level .gitignore are skipped. Per-file
// failures are counted, not fatal.
func (idx *Indexer) AddDirectory(ctx context.Context, dirPath string) (*IndexResult, error) {
	start := time.Now()
	result := &IndexResult{}

	absDir, err := filepath.Abs(dirPath)
	if err != nil {
		return nil, fmt.Errorf("resolving directory path: %w", err)
	}

	root, err := os.OpenRoot(absDir)
	if err != nil {
		return nil, fmt.Errorf("opening root directory: %w", err)
	}
	defer func() { _ = root.Close() }()

	var gitIgnore *ignore.GitIgnore
	if _, err := root.Stat(".gitignore"); err == nil {
		gitIgnore, err = ignore.CompileIgnoreFile(filepath.Join(absDir, ".gitignore"))
		if err != nil {
			// Malformed .gitignore disables filtering, it does not
			// abort the run.
			idx.logger.Warn("ignoring malformed .gitignore", "dir", absDir, "error", err)
			gitIgnore = nil
		}
	}

	err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, walkErr error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if walkErr != nil {
			result.FilesFailed++
			return nil
		}

		relPath, err := filepath.Rel(absDir, path)
		if err != nil {
			result.FilesFailed++
			return nil
		}

		if gitIgnore != nil && relPath != "." && gitIgnore.MatchesPath(relPath) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			result.FilesSkipped++
			return nil
		}
		if d.IsDir() {
			// Hidden directories (.git and friends) are never indexed.
			if relPath != "." && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if findReader(idx.readers, ext) == nil {
			result.FilesSkipped++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			result.FilesFailed++
			return nil
		}
		if info.Size() > MaxFileSize {
			idx.logger.Warn("skipping oversized file", "path", path, "size", info.Size())
			result.FilesSkipped++
			return nil
		}

		chunks, err := idx.ingestFile(ctx, root, relPath, path, info.Size())
		if err != nil {
			idx.logger.Warn("failed to ingest file", "path", path, "error", err)
			result.FilesFailed++
			return nil
		}

		result.FilesAdded++
		result.ChunksAdded += chunks
		result.TotalSize += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	result.Duration = time.Since(start)
	idx.logger.Info("indexing complete",
		"dir", absDir,
		"files_added", result.FilesAdded,
		"files_skipped", result.FilesSkipped,
		"files_failed", result.FilesFailed,
		"chunks_added", result.ChunksAdded,
		"duration", result.Duration)
	return result, nil
}

// ingestFile reads relPath through root, chunks it, and upserts the
// chunks under deterministic IDs. Stale chunks from an earlier, longer
// version of the file are removed first.
func (idx *Indexer) ingestFile(ctx context.Context, root *os.Root, relPath, absPath string, size int64) (int, error) {
	ext := strings.ToLower(filepath.Ext(relPath))
	reader := findReader(idx.readers, ext)
	if reader == nil {
		return 0, fmt.Errorf("unsupported file type %q", ext)
	}
	if size > MaxFileSize {
		return 0, fmt.Errorf("file size %d exceeds limit %d", size, MaxFileSize)
	}

	f, err := root.Open(relPath)
	if err != nil {
		return 0, fmt.Errorf("opening file: %w", err)
	}
	defer func() { _ = f.Close() }()

	text, err := reader.ReadText(f)
	if err != nil {
		return 0, fmt.Errorf("extracting text: %w", err)
	}

	chunks := idx.chunker.Split(text)
	if len(chunks) == 0 {
		return 0, nil
	}

	if _, err := idx.store.DeleteByFile(ctx, absPath); err != nil {
		return 0, fmt.Errorf("removing stale chunks: %w", err)
	}

	docID := generateDocID(absPath)
	now := time.Now()
	for i, chunk := range chunks {
		doc := knowledge.Document{
			ID:      fmt.Sprintf("%s:%d", docID, i),
			Content: chunk,
			Metadata: map[string]string{
				"source_type": knowledge.SourceTypeFile,
				"file_path":   absPath,
				"file_name":   filepath.Base(absPath),
				"file_ext":    ext,
				"file_size":   strconv.FormatInt(size, 10),
				"chunk_index": strconv.Itoa(i),
				"chunk_count": strconv.Itoa(len(chunks)),
				"indexed_at":  now.Format(time.RFC3339),
			},
			SourceType: knowledge.SourceTypeFile,
			CreatedAt:  now,
		}
		if err := idx.store.Add(ctx, doc); err != nil {
			return 0, fmt.Errorf("adding chunk %d: %w", i, err)
		}
	}

	idx.logger.Debug("ingested file", "path", absPath, "chunks", len(chunks))
	return len(chunks), nil
}

// RemoveFile deletes all chunks previously ingested from filePath.
func (idx *Indexer) RemoveFile(ctx context.Context, filePath string) (int64, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return 0, fmt.Errorf("resolving path: %w", err)
	}
	return idx.store.DeleteByFile(ctx, absPath)
}

// RemoveDocument removes a single chunk by ID.
func (idx *Indexer) RemoveDocument(ctx context.Context, docID string) error {
	return idx.store.Delete(ctx, docID)
}

// ListDocuments returns indexed file chunks, newest first.
func (idx *Indexer) ListDocuments(ctx context.Context, limit, offset int) ([]knowledge.Document, error) {
	if limit < 1 {
		limit = DefaultListLimit
	}
	docs, err := idx.store.ListBySourceType(ctx, knowledge.SourceTypeFile, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

// Stats aggregates indexed document counts by file extension.
func (idx *Indexer) Stats(ctx context.Context) (map[string]any, error) {
	total, err := idx.store.Count(ctx, map[string]string{})
	if err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}

	docs, err := idx.ListDocuments(ctx, DefaultListLimit, 0)
	if err != nil {
		return nil, err
	}

	fileTypes := make(map[string]int)
	files := make(map[string]struct{})
	var totalSize int64
	for _, doc := range docs {
		if ext, ok := doc.Metadata["file_ext"]; ok {
			fileTypes[ext]++
		}
		path, ok := doc.Metadata["file_path"]
		if !ok {
			continue
		}
		if _, seen := files[path]; seen {
			continue
		}
		files[path] = struct{}{}
		if sizeStr, ok := doc.Metadata["file_size"]; ok {
			if size, err := strconv.ParseInt(sizeStr, 10, 64); err == nil {
				totalSize += size
			}
		}
	}

	return map[string]any{
		"total_chunks": total,
		"total_files":  len(files),
		"file_types":   fileTypes,
		"total_size":   totalSize,
	}, nil
}

// generateDocID derives a stable document ID from the absolute file
// path, so re-ingesting the same file overwrites its chunks.
func generateDocID(filePath string) string {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		absPath = filePath
	}
	hash := sha256.Sum256([]byte(absPath))
	return "file_" + hex.EncodeToString(hash[:16])
}
