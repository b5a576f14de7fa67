package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create sessions and messages",
		SQL: `
			CREATE TABLE sessions (
				id          TEXT PRIMARY KEY,
				user_id     TEXT NOT NULL DEFAULT '',
				title       TEXT,
				created_at  TEXT NOT NULL,
				updated_at  TEXT NOT NULL,
				metadata    TEXT
			);

			CREATE INDEX idx_sessions_user ON sessions (user_id, created_at);

			CREATE TABLE messages (
				id                   TEXT PRIMARY KEY,
				session_id           TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				role                 TEXT NOT NULL,
				agent_id             TEXT,
				provider_id          TEXT,
				content              TEXT NOT NULL DEFAULT '',
				attachments          TEXT,
				metadata             TEXT,
				reply_to_message_id  TEXT,
				created_at           TEXT NOT NULL
			);

			CREATE INDEX idx_messages_session ON messages (session_id, created_at);
			CREATE INDEX idx_messages_reply_to ON messages (reply_to_message_id);
		`,
	},
	{
		Version: 2,
		Name:    "one assistant reply per agent and user message",
		SQL: `
			CREATE UNIQUE INDEX idx_messages_reply_agent
				ON messages (reply_to_message_id, agent_id)
				WHERE role = 'assistant';
		`,
	},
}
