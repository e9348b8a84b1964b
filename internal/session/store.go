package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/quill-chat/quill/internal/log"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// SessionRow is a session as stored by the querier.
type SessionRow struct {
	ID        uuid.UUID
	Title     string
	ModelName string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageRow is a message as stored by the querier. Content is the
// JSON-encoded ai.Part slice.
type MessageRow struct {
	ID             uuid.UUID
	SessionID      uuid.UUID
	Role           string
	Content        []byte
	SequenceNumber int64
	CreatedAt      time.Time
}

// Querier defines the database operations the store needs.
// InsertMessages must assign consecutive sequence numbers and bump the
// session's updated_at atomically; *PGQuerier does this in one
// transaction.
type Querier interface {
	InsertSession(ctx context.Context, row SessionRow) error
	GetSession(ctx context.Context, id uuid.UUID) (SessionRow, error)
	ListSessions(ctx context.Context, limit, offset int) ([]SessionRow, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	InsertMessages(ctx context.Context, sessionID uuid.UUID, rows []MessageRow) error
	ListMessages(ctx context.Context, sessionID uuid.UUID, lastN int) ([]MessageRow, error)
}

// Store manages session persistence.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	querier Querier
	logger  log.Logger
}

// New creates a Store.
func New(querier Querier, logger log.Logger) *Store {
	if logger == nil {
		panic("session.New: nil logger")
	}
	return &Store{querier: querier, logger: logger}
}

// Create creates a new session with a generated UUID.
func (s *Store) Create(ctx context.Context, title, modelName string) (*Session, error) {
	now := time.Now()
	row := SessionRow{
		ID:        uuid.New(),
		Title:     title,
		ModelName: modelName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.querier.InsertSession(ctx, row); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("created session", "id", row.ID, "title", title)
	return rowToSession(row), nil
}

// Get retrieves a session by ID. Returns ErrNotFound if it does not
// exist.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	row, err := s.querier.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	return rowToSession(row), nil
}

// List returns sessions ordered by most recent activity.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*Session, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.querier.ListSessions(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	sessions := make([]*Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, rowToSession(row))
	}
	return sessions, nil
}

// Delete removes a session and, via cascade, its messages.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.querier.DeleteSession(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	s.logger.Debug("deleted session", "id", id)
	return nil
}

// Append stores messages at the end of the session's history.
func (s *Store) Append(ctx context.Context, sessionID uuid.UUID, messages []*ai.Message) error {
	if len(messages) == 0 {
		return nil
	}

	rows := make([]MessageRow, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		content, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("marshaling message content: %w", err)
		}
		rows = append(rows, MessageRow{
			ID:        uuid.New(),
			SessionID: sessionID,
			Role:      roleToDB(msg.Role),
			Content:   content,
			CreatedAt: time.Now(),
		})
	}

	if err := s.querier.InsertMessages(ctx, sessionID, rows); err != nil {
		return fmt.Errorf("appending messages to session %s: %w", sessionID, err)
	}

	s.logger.Debug("appended messages", "session_id", sessionID, "count", len(rows))
	return nil
}

// History loads the last lastN messages of a session in conversation
// order, ready to hand to the model.
func (s *Store) History(ctx context.Context, sessionID uuid.UUID, lastN int) ([]*ai.Message, error) {
	rows, err := s.querier.ListMessages(ctx, sessionID, lastN)
	if err != nil {
		return nil, fmt.Errorf("loading history for session %s: %w", sessionID, err)
	}

	messages := make([]*ai.Message, 0, len(rows))
	for _, row := range rows {
		var parts []*ai.Part
		if err := json.Unmarshal(row.Content, &parts); err != nil {
			// One corrupt row must not take the whole conversation down.
			s.logger.Warn("skipping unreadable message", "message_id", row.ID, "error", err)
			continue
		}
		messages = append(messages, &ai.Message{
			Role:    roleFromDB(row.Role),
			Content: parts,
		})
	}
	return messages, nil
}

func rowToSession(row SessionRow) *Session {
	return &Session{
		ID:        row.ID,
		Title:     row.Title,
		ModelName: row.ModelName,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}
