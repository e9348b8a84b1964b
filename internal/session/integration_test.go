package session_test

import (
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quill-chat/quill/internal/log"
	"github.com/quill-chat/quill/internal/session"
	"github.com/quill-chat/quill/internal/testutil"
)

func newIntegrationStore(t *testing.T) *session.Store {
	t.Helper()
	pg := testutil.SetupPostgres(t)
	return session.New(session.NewPGQuerier(pg.Pool), log.NewNop())
}

func TestSessionLifecycle(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := t.Context()

	sess, err := store.Create(ctx, "Vector search basics", "gemini-2.5-flash")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, sess.ID)

	t.Run("get returns the created session", func(t *testing.T) {
		got, err := store.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, "Vector search basics", got.Title)
		assert.Equal(t, "gemini-2.5-flash", got.ModelName)
	})

	t.Run("list includes it", func(t *testing.T) {
		sessions, err := store.List(ctx, 10, 0)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, sess.ID, sessions[0].ID)
	})

	t.Run("delete cascades", func(t *testing.T) {
		require.NoError(t, store.Append(ctx, sess.ID, []*ai.Message{
			ai.NewUserMessage(ai.NewTextPart("hello")),
		}))
		require.NoError(t, store.Delete(ctx, sess.ID))

		_, err := store.Get(ctx, sess.ID)
		assert.ErrorIs(t, err, session.ErrNotFound)

		history, err := store.History(ctx, sess.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, history)
	})
}

func TestSessionHistoryOrdering(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := t.Context()

	sess, err := store.Create(ctx, "", "")
	require.NoError(t, err)

	// Two separate appends must keep a monotonically increasing
	// sequence across batches.
	require.NoError(t, store.Append(ctx, sess.ID, []*ai.Message{
		ai.NewUserMessage(ai.NewTextPart("first question")),
		ai.NewModelMessage(ai.NewTextPart("first answer")),
	}))
	require.NoError(t, store.Append(ctx, sess.ID, []*ai.Message{
		ai.NewUserMessage(ai.NewTextPart("second question")),
	}))

	history, err := store.History(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)

	assert.Equal(t, ai.RoleUser, history[0].Role)
	assert.Equal(t, "first question", history[0].Content[0].Text)
	assert.Equal(t, ai.RoleModel, history[1].Role)
	assert.Equal(t, ai.RoleUser, history[2].Role)
	assert.Equal(t, "second question", history[2].Content[0].Text)

	t.Run("lastN trims from the front", func(t *testing.T) {
		tail, err := store.History(ctx, sess.ID, 2)
		require.NoError(t, err)
		require.Len(t, tail, 2)
		assert.Equal(t, "first answer", tail[0].Content[0].Text)
		assert.Equal(t, "second question", tail[1].Content[0].Text)
	})
}
