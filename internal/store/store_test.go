package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/logging"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// stepClock returns a clock that advances one millisecond per call.
func stepClock() func() time.Time {
	t := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	}
}

// backends runs fn against every Store implementation.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) {
		s := NewSQLiteStore(testDB(t))
		s.now = stepClock()
		fn(t, s)
	})
	t.Run("memory", func(t *testing.T) {
		s := NewMemoryStore()
		s.now = stepClock()
		fn(t, s)
	})
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NotNil(t, db.SQL())
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.migrate())

	var count int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"sessions", "messages"} {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestOpen_FileCreatesDirectory(t *testing.T) {
	path := t.TempDir() + "/nested/dir/memarena.db"
	db, err := Open(path, logging.New(nil, "silent"))
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

// --- Session tests ---

func TestSessionLifecycle(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		sess, err := s.CreateSession(ctx, domain.Session{ID: "s1", UserID: "u1", Metadata: map[string]any{"k": "v"}})
		require.NoError(t, err)
		assert.Equal(t, "s1", sess.ID)
		assert.False(t, sess.CreatedAt.IsZero())

		got, err := s.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.UserID)
		assert.Empty(t, got.Title)
		assert.Equal(t, "v", got.Metadata["k"])

		updated, err := s.UpdateSessionTitle(ctx, "s1", "u1", "hello")
		require.NoError(t, err)
		assert.Equal(t, "hello", updated.Title)
		assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))

		_, err = s.UpdateSessionTitle(ctx, "s1", "someone-else", "x")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.DeleteSession(ctx, "s1", "u1"))
		_, err = s.GetSession(ctx, "s1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.DeleteSession(ctx, "s1", ""), ErrNotFound)
	})
}

func TestCreateSessionGeneratesID(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		sess, err := s.CreateSession(context.Background(), domain.Session{UserID: "u1"})
		require.NoError(t, err)
		assert.NotEmpty(t, sess.ID)
	})
}

func TestListSessionsNewestFirstPerUser(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, id := range []string{"a", "b", "c"} {
			_, err := s.CreateSession(ctx, domain.Session{ID: id, UserID: "u1"})
			require.NoError(t, err)
		}
		_, err := s.CreateSession(ctx, domain.Session{ID: "other", UserID: "u2"})
		require.NoError(t, err)

		// Renaming does not change the creation order.
		_, err = s.UpdateSessionTitle(ctx, "a", "", "first")
		require.NoError(t, err)

		list, err := s.ListSessions(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "c", list[0].ID)
		assert.Equal(t, "b", list[1].ID)
		assert.Equal(t, "a", list[2].ID)
		assert.Equal(t, "first", list[2].Title)

		empty, err := s.ListSessions(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

// --- Message tests ---

func seedSession(t *testing.T, s Store) {
	t.Helper()
	_, err := s.CreateSession(context.Background(), domain.Session{ID: "s1", UserID: "u1"})
	require.NoError(t, err)
}

func TestMessageLifecycle(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedSession(t, s)

		user, err := s.CreateMessage(ctx, domain.Message{
			ID:        "m-user",
			SessionID: "s1",
			Role:      domain.RoleUser,
			Content:   "hi",
			Attachments: []domain.Attachment{
				{DriveItemID: "d1", ObjectKey: "k1", Filename: "a.pdf", Size: 12, MimeType: "application/pdf"},
			},
		})
		require.NoError(t, err)

		asst, err := s.CreateMessage(ctx, domain.Message{
			SessionID:        "s1",
			Role:             domain.RoleAssistant,
			AgentID:          domain.AgentMem0,
			ProviderID:       "gpt-5-mini",
			ReplyToMessageID: user.ID,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, asst.ID)

		require.NoError(t, s.AppendMessageContent(ctx, asst.ID, "Hel"))
		require.NoError(t, s.AppendMessageContent(ctx, asst.ID, "lo"))
		got, err := s.GetMessage(ctx, asst.ID)
		require.NoError(t, err)
		assert.Equal(t, "Hello", got.Content)
		assert.Equal(t, domain.AgentMem0, got.AgentID)
		assert.Equal(t, "gpt-5-mini", got.ProviderID)
		assert.Equal(t, "m-user", got.ReplyToMessageID)

		require.NoError(t, s.UpdateMessageContent(ctx, asst.ID, "final"))
		content := "boom"
		require.NoError(t, s.UpdateMessage(ctx, asst.ID, MessageUpdate{
			Content:  &content,
			Metadata: map[string]any{domain.MetaIsError: true},
		}))
		got, err = s.GetMessage(ctx, asst.ID)
		require.NoError(t, err)
		assert.Equal(t, "boom", got.Content)
		assert.True(t, got.IsError())

		msgs, err := s.MessagesBySession(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "m-user", msgs[0].ID)
		require.Len(t, msgs[0].Attachments, 1)
		assert.Equal(t, "d1", msgs[0].Attachments[0].DriveItemID)
		assert.Equal(t, int64(12), msgs[0].Attachments[0].Size)

		replies, err := s.MessagesByReplyTo(ctx, "m-user")
		require.NoError(t, err)
		require.Len(t, replies, 1)
		assert.Equal(t, asst.ID, replies[0].ID)
	})
}

func TestMessageNotFound(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.GetMessage(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.UpdateMessageContent(ctx, "nope", "x"), ErrNotFound)
		assert.ErrorIs(t, s.AppendMessageContent(ctx, "nope", "x"), ErrNotFound)
	})
}

func TestMessageInvariants(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedSession(t, s)
		_, err := s.CreateSession(ctx, domain.Session{ID: "s2", UserID: "u1"})
		require.NoError(t, err)
		_, err = s.CreateMessage(ctx, domain.Message{ID: "u", SessionID: "s1", Role: domain.RoleUser})
		require.NoError(t, err)

		tests := []struct {
			name string
			msg  domain.Message
		}{
			{"assistant without reply", domain.Message{SessionID: "s1", Role: domain.RoleAssistant, AgentID: domain.AgentMem0}},
			{"user with reply", domain.Message{SessionID: "s1", Role: domain.RoleUser, ReplyToMessageID: "u"}},
			{"unknown agent", domain.Message{SessionID: "s1", Role: domain.RoleAssistant, AgentID: "letta", ReplyToMessageID: "u"}},
			{"unknown role", domain.Message{SessionID: "s1", Role: "tool"}},
			{"missing reply target", domain.Message{SessionID: "s1", Role: domain.RoleAssistant, AgentID: domain.AgentMem0, ReplyToMessageID: "ghost"}},
			{"reply across sessions", domain.Message{SessionID: "s2", Role: domain.RoleAssistant, AgentID: domain.AgentMem0, ReplyToMessageID: "u"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := s.CreateMessage(ctx, tt.msg)
				assert.ErrorIs(t, err, ErrInvalid)
			})
		}

		// One reply per agent.
		_, err = s.CreateMessage(ctx, domain.Message{SessionID: "s1", Role: domain.RoleAssistant, AgentID: domain.AgentMem0, ReplyToMessageID: "u"})
		require.NoError(t, err)
		_, err = s.CreateMessage(ctx, domain.Message{SessionID: "s1", Role: domain.RoleAssistant, AgentID: domain.AgentMem0, ReplyToMessageID: "u"})
		assert.ErrorIs(t, err, ErrInvalid)
		_, err = s.CreateMessage(ctx, domain.Message{SessionID: "s1", Role: domain.RoleAssistant, AgentID: domain.AgentSupermemory, ReplyToMessageID: "u"})
		assert.NoError(t, err)
	})
}

func TestCreateMessagesBatchKeepsOrder(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedSession(t, s)

		batch := []domain.Message{
			{ID: "u1", SessionID: "s1", Role: domain.RoleUser, Content: "q"},
			{ID: "a1", SessionID: "s1", Role: domain.RoleAssistant, AgentID: domain.AgentMemoryLake, ReplyToMessageID: "u1"},
			{ID: "a2", SessionID: "s1", Role: domain.RoleAssistant, AgentID: domain.AgentMem0, ReplyToMessageID: "u1"},
		}
		out, err := s.CreateMessages(ctx, batch)
		require.NoError(t, err)
		assert.Len(t, out, 3)

		msgs, err := s.MessagesBySession(ctx, "s1")
		require.NoError(t, err)
		ids := make([]string, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		assert.Equal(t, []string{"u1", "a1", "a2"}, ids)

		empty, err := s.CreateMessages(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestCreateMessagesBatchIsAtomic(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedSession(t, s)

		_, err := s.CreateMessages(ctx, []domain.Message{
			{ID: "u1", SessionID: "s1", Role: domain.RoleUser},
			{ID: "bad", SessionID: "s1", Role: domain.RoleAssistant, AgentID: domain.AgentMem0},
		})
		require.Error(t, err)

		msgs, err := s.MessagesBySession(ctx, "s1")
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestDeleteSessionCascades(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedSession(t, s)
		_, err := s.CreateMessage(ctx, domain.Message{ID: "u1", SessionID: "s1", Role: domain.RoleUser})
		require.NoError(t, err)

		require.NoError(t, s.DeleteSession(ctx, "s1", ""))

		_, err = s.GetMessage(ctx, "u1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMessageIntoMissingSessionFails(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		_, err := s.CreateMessage(context.Background(), domain.Message{SessionID: "ghost", Role: domain.RoleUser})
		assert.Error(t, err)
	})
}

func TestTimeFormatSortsLexically(t *testing.T) {
	a := time.Date(2026, 1, 1, 0, 0, 0, 999, time.UTC)
	b := a.Add(time.Nanosecond)
	assert.Less(t, formatTime(a), formatTime(b))
	assert.True(t, parseTime(formatTime(a)).Equal(a))
}
