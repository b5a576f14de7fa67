package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/memarena/internal/domain"
)

// SQLiteStore implements Store backed by SQLite.
type SQLiteStore struct {
	db  *DB
	now func() time.Time
}

// NewSQLiteStore creates a store using the given database.
func NewSQLiteStore(db *DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// CreateSession inserts a session. A missing id is generated.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess domain.Session) (*domain.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	now := s.now().UTC()
	sess.CreatedAt, sess.UpdatedAt = now, now

	meta, err := marshalNullable(sess.Metadata)
	if err != nil {
		return nil, err
	}
	_, err = s.db.sql.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, title, created_at, updated_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, nullString(sess.Title), formatTime(now), formatTime(now), meta,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &sess, nil
}

// GetSession returns a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var sess domain.Session
	var title, meta sql.NullString
	var createdAt, updatedAt string

	err := s.db.sql.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at, metadata FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.UserID, &title, &createdAt, &updatedAt, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.Title = title.String
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	if meta.Valid {
		_ = json.Unmarshal([]byte(meta.String), &sess.Metadata)
	}
	return &sess, nil
}

// ListSessions returns the user's sessions, most recently created first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]domain.SessionSummary, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id, title, updated_at FROM sessions WHERE user_id = ?
		 ORDER BY created_at DESC, rowid DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []domain.SessionSummary{}
	for rows.Next() {
		var sum domain.SessionSummary
		var title sql.NullString
		var updatedAt string
		if err := rows.Scan(&sum.ID, &title, &updatedAt); err != nil {
			return nil, err
		}
		sum.Title = title.String
		sum.UpdatedAt = parseTime(updatedAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// UpdateSessionTitle sets the title and bumps updated_at.
func (s *SQLiteStore) UpdateSessionTitle(ctx context.Context, id, userID, title string) (*domain.Session, error) {
	query := `UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`
	args := []any{title, formatTime(s.now()), id}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	res, err := s.db.sql.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetSession(ctx, id)
}

// DeleteSession removes a session; messages go with it via ON DELETE CASCADE.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id, userID string) error {
	query := `DELETE FROM sessions WHERE id = ?`
	args := []any{id}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	res, err := s.db.sql.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateMessage inserts a message after checking its reply invariants.
func (s *SQLiteStore) CreateMessage(ctx context.Context, m domain.Message) (*domain.Message, error) {
	out, err := s.CreateMessages(ctx, []domain.Message{m})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// CreateMessages inserts messages in one transaction, in order.
func (s *SQLiteStore) CreateMessages(ctx context.Context, ms []domain.Message) ([]domain.Message, error) {
	if len(ms) == 0 {
		return []domain.Message{}, nil
	}
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	out := make([]domain.Message, 0, len(ms))
	for i, m := range ms {
		// Keep batch order stable even when the clock does not advance.
		if err := prepareMessage(&m, now.Add(time.Duration(i))); err != nil {
			return nil, err
		}
		if m.Role == domain.RoleAssistant {
			target, err := scanMessage(tx.QueryRowContext(ctx, selectMessage+` WHERE id = ?`, m.ReplyToMessageID))
			if err != nil && !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			siblings, err := queryMessages(ctx, tx, selectMessage+` WHERE reply_to_message_id = ?`, m.ReplyToMessageID)
			if err != nil {
				return nil, err
			}
			if err := checkReply(m, target, siblings); err != nil {
				return nil, err
			}
		}

		attachments, err := marshalNullable(m.Attachments)
		if err != nil {
			return nil, err
		}
		meta, err := marshalNullable(m.Metadata)
		if err != nil {
			return nil, err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, role, agent_id, provider_id, content, attachments, metadata, reply_to_message_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.SessionID, m.Role, nullString(string(m.AgentID)), nullString(m.ProviderID),
			m.Content, attachments, meta, nullString(m.ReplyToMessageID), formatTime(m.CreatedAt),
		)
		if err != nil {
			return nil, fmt.Errorf("create message: %w", err)
		}
		out = append(out, m)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

// GetMessage returns a message by id.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	return scanMessage(s.db.sql.QueryRowContext(ctx, selectMessage+` WHERE id = ?`, id))
}

// MessagesBySession returns a session's messages in creation order.
func (s *SQLiteStore) MessagesBySession(ctx context.Context, sessionID string) ([]domain.Message, error) {
	return queryMessages(ctx, s.db.sql, selectMessage+` WHERE session_id = ? ORDER BY created_at, rowid`, sessionID)
}

// MessagesByReplyTo returns the replies to a user message in creation order.
func (s *SQLiteStore) MessagesByReplyTo(ctx context.Context, replyToID string) ([]domain.Message, error) {
	return queryMessages(ctx, s.db.sql, selectMessage+` WHERE reply_to_message_id = ? ORDER BY created_at, rowid`, replyToID)
}

// UpdateMessageContent replaces a message's content.
func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, id, content string) error {
	return s.UpdateMessage(ctx, id, MessageUpdate{Content: &content})
}

// UpdateMessage sets content and/or metadata.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, id string, u MessageUpdate) error {
	query := `UPDATE messages SET id = id`
	var args []any
	if u.Content != nil {
		query += `, content = ?`
		args = append(args, *u.Content)
	}
	if u.Metadata != nil {
		meta, err := json.Marshal(u.Metadata)
		if err != nil {
			return err
		}
		query += `, metadata = ?`
		args = append(args, string(meta))
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := s.db.sql.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessageContent appends delta to a message's content.
func (s *SQLiteStore) AppendMessageContent(ctx context.Context, id, delta string) error {
	res, err := s.db.sql.ExecContext(ctx, `UPDATE messages SET content = content || ? WHERE id = ?`, delta, id)
	if err != nil {
		return fmt.Errorf("append message content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectMessage = `SELECT id, session_id, role, agent_id, provider_id, content, attachments, metadata, reply_to_message_id, created_at FROM messages`

type rowScanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var m domain.Message
	var agentID, providerID, attachments, meta, replyTo sql.NullString
	var createdAt string

	err := row.Scan(&m.ID, &m.SessionID, &m.Role, &agentID, &providerID, &m.Content,
		&attachments, &meta, &replyTo, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.AgentID = domain.AgentID(agentID.String)
	m.ProviderID = providerID.String
	m.ReplyToMessageID = replyTo.String
	m.CreatedAt = parseTime(createdAt)
	if attachments.Valid {
		_ = json.Unmarshal([]byte(attachments.String), &m.Attachments)
	}
	if meta.Valid {
		_ = json.Unmarshal([]byte(meta.String), &m.Metadata)
	}
	return &m, nil
}

func queryMessages(ctx context.Context, q querier, query string, args ...any) ([]domain.Message, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	out := []domain.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// marshalNullable stores empty collections as NULL.
func marshalNullable[T any](v T) (sql.NullString, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	switch string(data) {
	case "null", "[]", "{}":
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
