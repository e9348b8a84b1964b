package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGQuerier implements Querier against PostgreSQL.
type PGQuerier struct {
	pool *pgxpool.Pool
}

// NewPGQuerier creates a querier backed by the given pool.
func NewPGQuerier(pool *pgxpool.Pool) *PGQuerier {
	return &PGQuerier{pool: pool}
}

func (q *PGQuerier) InsertSession(ctx context.Context, row SessionRow) error {
	_, err := q.pool.Exec(ctx, `
INSERT INTO sessions (id, title, model_name, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)`,
		row.ID, row.Title, row.ModelName, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (q *PGQuerier) GetSession(ctx context.Context, id uuid.UUID) (SessionRow, error) {
	var row SessionRow
	var createdAt, updatedAt pgtype.Timestamptz
	err := q.pool.QueryRow(ctx, `
SELECT id, title, model_name, created_at, updated_at
FROM sessions WHERE id = $1`, id).
		Scan(&row.ID, &row.Title, &row.ModelName, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SessionRow{}, ErrNotFound
		}
		return SessionRow{}, fmt.Errorf("get session: %w", err)
	}
	row.CreatedAt, row.UpdatedAt = createdAt.Time, updatedAt.Time
	return row, nil
}

func (q *PGQuerier) ListSessions(ctx context.Context, limit, offset int) ([]SessionRow, error) {
	rows, err := q.pool.Query(ctx, `
SELECT id, title, model_name, created_at, updated_at
FROM sessions
ORDER BY updated_at DESC
LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var row SessionRow
		var createdAt, updatedAt pgtype.Timestamptz
		if err := rows.Scan(&row.ID, &row.Title, &row.ModelName, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		row.CreatedAt, row.UpdatedAt = createdAt.Time, updatedAt.Time
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}

func (q *PGQuerier) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tag, err := q.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertMessages appends rows with consecutive sequence numbers.
// The session row is locked for the duration of the transaction so
// concurrent appends to the same session cannot interleave sequence
// numbers.
func (q *PGQuerier) InsertMessages(ctx context.Context, sessionID uuid.UUID, msgRows []MessageRow) error {
	if len(msgRows) == 0 {
		return nil
	}

	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock session: %w", err)
	}

	var maxSeq int64
	err = tx.QueryRow(ctx, `
SELECT COALESCE(MAX(sequence_number), 0) FROM messages WHERE session_id = $1`, sessionID).
		Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("get max sequence number: %w", err)
	}

	for i, row := range msgRows {
		_, err = tx.Exec(ctx, `
INSERT INTO messages (id, session_id, role, content, sequence_number, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
			row.ID, sessionID, row.Role, row.Content, maxSeq+int64(i)+1, row.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if _, err = tx.Exec(ctx, `UPDATE sessions SET updated_at = now() WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListMessages returns the last lastN messages in conversation order.
func (q *PGQuerier) ListMessages(ctx context.Context, sessionID uuid.UUID, lastN int) ([]MessageRow, error) {
	if lastN < 1 {
		lastN = 100
	}

	rows, err := q.pool.Query(ctx, `
SELECT id, session_id, role, content, sequence_number, created_at
FROM (
    SELECT id, session_id, role, content, sequence_number, created_at
    FROM messages
    WHERE session_id = $1
    ORDER BY sequence_number DESC
    LIMIT $2
) AS recent
ORDER BY sequence_number ASC`, sessionID, lastN)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []MessageRow
	for rows.Next() {
		var row MessageRow
		var createdAt pgtype.Timestamptz
		if err := rows.Scan(&row.ID, &row.SessionID, &row.Role, &row.Content,
			&row.SequenceNumber, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		row.CreatedAt = createdAt.Time
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}
