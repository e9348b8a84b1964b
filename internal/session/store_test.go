package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quill-chat/quill/internal/log"
)

// memQuerier keeps sessions and messages in memory.
type memQuerier struct {
	sessions map[uuid.UUID]SessionRow
	messages map[uuid.UUID][]MessageRow
}

func newMemQuerier() *memQuerier {
	return &memQuerier{
		sessions: make(map[uuid.UUID]SessionRow),
		messages: make(map[uuid.UUID][]MessageRow),
	}
}

func (m *memQuerier) InsertSession(_ context.Context, row SessionRow) error {
	m.sessions[row.ID] = row
	return nil
}

func (m *memQuerier) GetSession(_ context.Context, id uuid.UUID) (SessionRow, error) {
	row, ok := m.sessions[id]
	if !ok {
		return SessionRow{}, ErrNotFound
	}
	return row, nil
}

func (m *memQuerier) ListSessions(_ context.Context, limit, _ int) ([]SessionRow, error) {
	out := make([]SessionRow, 0, len(m.sessions))
	for _, row := range m.sessions {
		if len(out) >= limit {
			break
		}
		out = append(out, row)
	}
	return out, nil
}

func (m *memQuerier) DeleteSession(_ context.Context, id uuid.UUID) error {
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	delete(m.messages, id)
	return nil
}

func (m *memQuerier) InsertMessages(_ context.Context, sessionID uuid.UUID, rows []MessageRow) error {
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	existing := m.messages[sessionID]
	for i, row := range rows {
		row.SequenceNumber = int64(len(existing) + i + 1)
		existing = append(existing, row)
	}
	m.messages[sessionID] = existing
	return nil
}

func (m *memQuerier) ListMessages(_ context.Context, sessionID uuid.UUID, lastN int) ([]MessageRow, error) {
	rows := m.messages[sessionID]
	if len(rows) > lastN {
		rows = rows[len(rows)-lastN:]
	}
	return rows, nil
}

func newTestStore() (*Store, *memQuerier) {
	q := newMemQuerier()
	return New(q, log.NewNop()), q
}

func TestStoreCreateAndGet(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	created, err := store.Create(ctx, "go questions", "gemini-2.5-flash")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "go questions", got.Title)
	assert.Equal(t, "gemini-2.5-flash", got.ModelName)
}

func TestStoreGet_NotFound(t *testing.T) {
	store, _ := newTestStore()
	_, err := store.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreDelete_NotFound(t *testing.T) {
	store, _ := newTestStore()
	err := store.Delete(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreAppendAndHistory(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	sess, err := store.Create(ctx, "", "")
	require.NoError(t, err)

	err = store.Append(ctx, sess.ID, []*ai.Message{
		ai.NewUserMessage(ai.NewTextPart("what is a channel?")),
		ai.NewModelMessage(ai.NewTextPart("a typed conduit for goroutines")),
	})
	require.NoError(t, err)

	history, err := store.History(ctx, sess.ID, 100)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, ai.RoleUser, history[0].Role)
	assert.Equal(t, "what is a channel?", history[0].Content[0].Text)
	assert.Equal(t, ai.RoleModel, history[1].Role)
}

func TestStoreHistory_LastN(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	sess, err := store.Create(ctx, "", "")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, sess.ID, []*ai.Message{
			ai.NewUserMessage(ai.NewTextPart("question")),
			ai.NewModelMessage(ai.NewTextPart("answer")),
		}))
	}

	history, err := store.History(ctx, sess.ID, 4)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestStoreHistory_SkipsCorruptRows(t *testing.T) {
	store, q := newTestStore()
	ctx := context.Background()

	sess, err := store.Create(ctx, "", "")
	require.NoError(t, err)

	content, err := json.Marshal([]*ai.Part{ai.NewTextPart("valid")})
	require.NoError(t, err)
	q.messages[sess.ID] = []MessageRow{
		{ID: uuid.New(), SessionID: sess.ID, Role: RoleUser, Content: []byte("{broken"), SequenceNumber: 1},
		{ID: uuid.New(), SessionID: sess.ID, Role: RoleAssistant, Content: content, SequenceNumber: 2},
	}

	history, err := store.History(ctx, sess.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "valid", history[0].Content[0].Text)
}

func TestStoreAppend_EmptyIsNoop(t *testing.T) {
	store, _ := newTestStore()
	assert.NoError(t, store.Append(context.Background(), uuid.New(), nil))
}

func TestRoleRoundTrip(t *testing.T) {
	assert.Equal(t, RoleAssistant, roleToDB(ai.RoleModel))
	assert.Equal(t, ai.RoleModel, roleFromDB(RoleAssistant))
	assert.Equal(t, RoleUser, roleToDB(ai.RoleUser))
	assert.Equal(t, ai.RoleTool, roleFromDB(RoleTool))
}
