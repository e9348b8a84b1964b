package knowledge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DB is the subset of pgxpool.Pool the querier uses.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGQuerier implements Querier against PostgreSQL with pgvector.
// All statements are parameterized; filter JSON arrives pre-marshaled
// from the store and is matched with the JSONB containment operator.
type PGQuerier struct {
	db DB
}

// NewPGQuerier creates a querier backed by db (typically *pgxpool.Pool).
func NewPGQuerier(db DB) *PGQuerier {
	return &PGQuerier{db: db}
}

const upsertDocumentSQL = `
INSERT INTO documents (id, content, embedding, metadata, source_type, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()), now())
ON CONFLICT (id) DO UPDATE SET
    content     = EXCLUDED.content,
    embedding   = EXCLUDED.embedding,
    metadata    = EXCLUDED.metadata,
    source_type = EXCLUDED.source_type,
    updated_at  = now()`

// UpsertDocument inserts or replaces one document chunk.
func (q *PGQuerier) UpsertDocument(ctx context.Context, arg UpsertParams) error {
	createdAt := pgtype.Timestamptz{Time: arg.CreatedAt, Valid: !arg.CreatedAt.IsZero()}

	_, err := q.db.Exec(ctx, upsertDocumentSQL,
		arg.ID, arg.Content, arg.Embedding, arg.Metadata, arg.SourceType, createdAt)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

const searchDocumentsSQL = `
SELECT id, content, metadata, source_type, created_at,
       (1 - (embedding <=> $1))::float4 AS similarity
FROM documents
WHERE $2::jsonb IS NULL OR metadata @> $2::jsonb
ORDER BY embedding <=> $1
LIMIT $3`

// SearchDocuments runs a cosine-distance scan ordered by proximity.
func (q *PGQuerier) SearchDocuments(ctx context.Context, arg SearchParams) ([]Row, error) {
	rows, err := q.db.Query(ctx, searchDocumentsSQL,
		arg.QueryEmbedding, arg.FilterMetadata, arg.Limit)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	return scanRows(rows, true)
}

// CountDocuments counts documents matching the filter. A nil filter
// counts everything.
func (q *PGQuerier) CountDocuments(ctx context.Context, filterMetadata []byte) (int64, error) {
	const query = `
SELECT count(*) FROM documents
WHERE $1::jsonb IS NULL OR metadata @> $1::jsonb`

	var count int64
	if err := q.db.QueryRow(ctx, query, filterMetadata).Scan(&count); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

// DeleteDocument removes one chunk by ID. Returns ErrNotFound when the
// document does not exist.
func (q *PGQuerier) DeleteDocument(ctx context.Context, id string) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDocumentsByFile removes every chunk whose metadata file_path
// matches. Returns the number of rows deleted (zero is not an error).
func (q *PGQuerier) DeleteDocumentsByFile(ctx context.Context, filePath string) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`DELETE FROM documents WHERE metadata->>'file_path' = $1`, filePath)
	if err != nil {
		return 0, fmt.Errorf("delete documents by file: %w", err)
	}
	return tag.RowsAffected(), nil
}

const listBySourceTypeSQL = `
SELECT id, content, metadata, source_type, created_at
FROM documents
WHERE source_type = $1
ORDER BY created_at DESC, id
LIMIT $2 OFFSET $3`

// ListDocumentsBySourceType pages documents of one source type.
func (q *PGQuerier) ListDocumentsBySourceType(ctx context.Context, arg ListParams) ([]Row, error) {
	rows, err := q.db.Query(ctx, listBySourceTypeSQL,
		arg.SourceType, arg.Limit, arg.Offset)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	return scanRows(rows, false)
}

func scanRows(rows pgx.Rows, withSimilarity bool) ([]Row, error) {
	var out []Row
	for rows.Next() {
		var r Row
		var createdAt pgtype.Timestamptz
		dest := []any{&r.ID, &r.Content, &r.Metadata, &r.SourceType, &createdAt}
		if withSimilarity {
			dest = append(dest, &r.Similarity)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		if createdAt.Valid {
			r.CreatedAt = createdAt.Time
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document rows: %w", err)
	}
	return out, nil
}
