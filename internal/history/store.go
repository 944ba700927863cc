// Package history persists chats and their messages in a local SQLite
// database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sammcj/answer-engine/internal/search"
	"github.com/sirupsen/logrus"
)

const schema = `
CREATE TABLE IF NOT EXISTS chats (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id    TEXT NOT NULL,
	message_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	sources    TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id);
`

// Chat is one stored conversation.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// StoredMessage is one persisted turn, with the source list the answer
// cited (empty for user turns).
type StoredMessage struct {
	MessageID string          `json:"messageId"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Sources   []search.Result `json:"sources,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Store is a SQLite-backed chat history. Safe for concurrent use; the
// underlying *sql.DB serialises access.
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string, logger *logrus.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("Failed to close history database")
		}
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}

	logger.WithField("path", path).Debug("History database ready")
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureChat creates the chat row if it does not exist yet. The title
// comes from the first user message.
func (s *Store) EnsureChat(ctx context.Context, chatID, title string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, title, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		chatID, title, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	return nil
}

// RecordUserMessage stores one user turn.
func (s *Store) RecordUserMessage(ctx context.Context, chatID, messageID, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (chat_id, message_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		chatID, messageID, "user", content, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to store user message: %w", err)
	}
	return nil
}

// RecordAnswer stores one assistant turn along with the sources it
// cited.
func (s *Store) RecordAnswer(ctx context.Context, chatID, messageID, content string, sources []search.Result) error {
	var sourcesJSON []byte
	if len(sources) > 0 {
		var err error
		sourcesJSON, err = json.Marshal(sources)
		if err != nil {
			return fmt.Errorf("failed to encode sources: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (chat_id, message_id, role, content, sources, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		chatID, messageID, "assistant", content, string(sourcesJSON), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to store assistant message: %w", err)
	}
	return nil
}

// ListChats returns every chat, newest first.
func (s *Store) ListChats(ctx context.Context) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at FROM chats ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close chat rows")
		}
	}()

	chats := []Chat{}
	for rows.Next() {
		var c Chat
		var created string
		if err := rows.Scan(&c.ID, &c.Title, &created); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339, created)
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// Messages returns the turns of one chat in insertion order.
func (s *Store) Messages(ctx context.Context, chatID string) ([]StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, role, content, sources, created_at FROM messages WHERE chat_id = ? ORDER BY id ASC`,
		chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close message rows")
		}
	}()

	msgs := []StoredMessage{}
	for rows.Next() {
		var m StoredMessage
		var sourcesJSON sql.NullString
		var created string
		if err := rows.Scan(&m.MessageID, &m.Role, &m.Content, &sourcesJSON, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if sourcesJSON.Valid && sourcesJSON.String != "" {
			if err := json.Unmarshal([]byte(sourcesJSON.String), &m.Sources); err != nil {
				s.logger.WithError(err).WithField("message_id", m.MessageID).Warn("Corrupt sources metadata, skipping")
			}
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339, created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DeleteChat removes one chat and all its messages.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.WithError(rbErr).Warn("Failed to roll back chat delete")
		}
		return fmt.Errorf("failed to delete chat messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, chatID); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.WithError(rbErr).Warn("Failed to roll back chat delete")
		}
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return tx.Commit()
}
