package counsel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

// SQLiteMemory stores one row per message in a SQLite database. Each Append
// runs in a single transaction.
type SQLiteMemory struct {
	db *sqlx.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	role TEXT NOT NULL,
	text TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
`

type sqliteMessage struct {
	ID             int64  `db:"id"`
	ConversationID string `db:"conversation_id"`
	Role           string `db:"role"`
	Text           string `db:"text"`
	CreatedAt      int64  `db:"created_at"`
}

// OpenSQLiteMemory opens (or creates) a SQLite database at path and ensures
// the schema exists. Use ":memory:" for a throwaway database.
func OpenSQLiteMemory(path string) (*SQLiteMemory, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
			}
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	return NewSQLiteMemory(db)
}

// NewSQLiteMemory wraps an open SQLite handle and ensures the schema exists.
func NewSQLiteMemory(db *sqlx.DB) (*SQLiteMemory, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize messages table: %w", err)
	}
	return &SQLiteMemory{db: db}, nil
}

// Load implements Memory.
func (m *SQLiteMemory) Load(ctx context.Context, conversationID string, lastN int) ([]Message, error) {
	var rows []sqliteMessage
	var err error
	if lastN > 0 {
		err = m.db.SelectContext(ctx, &rows, `
			SELECT id, conversation_id, role, text, created_at FROM (
				SELECT id, conversation_id, role, text, created_at FROM messages
				WHERE conversation_id = ? ORDER BY id DESC LIMIT ?
			) ORDER BY id ASC`, conversationID, lastN)
	} else {
		err = m.db.SelectContext(ctx, &rows, `
			SELECT id, conversation_id, role, text, created_at FROM messages
			WHERE conversation_id = ? ORDER BY id ASC`, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load conversation %q: %w", ErrPersistence, conversationID, err)
	}

	messages := make([]Message, len(rows))
	for i, r := range rows {
		messages[i] = Message{
			Role:      Role(r.Role),
			Text:      r.Text,
			Timestamp: time.UnixMilli(r.CreatedAt).UTC(),
		}
	}
	return messages, nil
}

// Append implements Memory.
func (m *SQLiteMemory) Append(ctx context.Context, conversationID string, messages ...Message) error {
	if len(messages) == 0 {
		return nil
	}
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, msg := range messages {
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO messages (conversation_id, role, text, created_at)
			VALUES (:conversation_id, :role, :text, :created_at)`, sqliteMessage{
			ConversationID: conversationID,
			Role:           string(msg.Role),
			Text:           msg.Text,
			CreatedAt:      ts.UnixMilli(),
		}); err != nil {
			return fmt.Errorf("%w: insert message: %w", ErrPersistence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrPersistence, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (m *SQLiteMemory) Close() error {
	return m.db.Close()
}

var _ Memory = (*SQLiteMemory)(nil)
