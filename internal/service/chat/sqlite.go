package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zhouzirui/medchat/backend/internal/model/chat"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id          TEXT PRIMARY KEY,
	created_at  INTEGER NOT NULL,
	is_negative INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
	position        INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT NOT NULL UNIQUE,
	conversation_id TEXT NOT NULL,
	sender          TEXT NOT NULL,
	content         TEXT NOT NULL,
	timestamp       INTEGER NOT NULL,
	rating          TEXT NOT NULL DEFAULT '',
	feedback        TEXT NOT NULL DEFAULT '',
	is_improved     INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY (conversation_id) REFERENCES conversations(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, position);
CREATE INDEX IF NOT EXISTS idx_conversations_created ON conversations(created_at);
`

// OpenSQLite opens (creating if needed) the database at path. ":memory:" is
// accepted for tests.
func OpenSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection: serialises writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma wal: %w", err)
		}
	}
	return db, nil
}

// InitSchema creates the conversation tables if they do not exist.
func InitSchema(db *sql.DB) error {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// SQLiteStore persists conversations in two tables, one row per message.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore runs migrations against db and returns a store backed by it.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if err := InitSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateConversation(ctx context.Context) (chat.Conversation, error) {
	conv := newConversation()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, created_at, is_negative) VALUES (?, ?, 0)`,
		conv.ID, conv.CreatedAt.UnixNano(),
	); err != nil {
		return chat.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	for _, msg := range conv.Messages {
		if err := insertMessage(ctx, tx, conv.ID, msg); err != nil {
			return chat.Conversation{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return chat.Conversation{}, fmt.Errorf("commit: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	var (
		conv     chat.Conversation
		created  int64
		negative bool
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, is_negative FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &created, &negative)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("query conversation: %w", err)
	}
	conv.CreatedAt = time.Unix(0, created).UTC()
	conv.IsNegative = negative

	conv.Messages, err = s.loadMessages(ctx, conv.ID)
	if err != nil {
		return chat.Conversation{}, err
	}
	return conv, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]chat.Conversation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM conversations ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	// Release the single connection before issuing per-conversation queries.
	rows.Close()

	out := make([]chat.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg chat.Message) (chat.Message, error) {
	msg = prepareMessage(msg)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := conversationExists(ctx, tx, conversationID); err != nil {
		return chat.Message{}, err
	}
	if err := insertMessage(ctx, tx, conversationID, msg); err != nil {
		return chat.Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return chat.Message{}, fmt.Errorf("commit: %w", err)
	}
	return msg, nil
}

func (s *SQLiteStore) RateMessage(ctx context.Context, messageID string, rating chat.Rating, feedback string) error {
	if !rating.Valid() {
		return ErrInvalidRating
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET rating = ?, feedback = ? WHERE id = ?`,
		string(rating), feedback, messageID,
	)
	if err != nil {
		return fmt.Errorf("rate message: %w", err)
	}
	return requireAffected(res, ErrMessageNotFound)
}

func (s *SQLiteStore) ApplyImprovement(ctx context.Context, conversationID, messageID, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := conversationExists(ctx, tx, conversationID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE messages SET content = ?, rating = ?, is_improved = 1
		 WHERE id = ? AND conversation_id = ?`,
		content, string(chat.RatingUp), messageID, conversationID,
	)
	if err != nil {
		return fmt.Errorf("improve message: %w", err)
	}
	if err := requireAffected(res, ErrMessageNotFound); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) MarkNegative(ctx context.Context, conversationID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET is_negative = 1 WHERE id = ?`, conversationID,
	)
	if err != nil {
		return fmt.Errorf("mark negative: %w", err)
	}
	return requireAffected(res, ErrConversationNotFound)
}

func (s *SQLiteStore) loadMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender, content, timestamp, rating, feedback, is_improved
		 FROM messages WHERE conversation_id = ? ORDER BY position`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]chat.Message, 0, 8)
	for rows.Next() {
		var (
			msg    chat.Message
			sender string
			rating string
			ts     int64
		)
		if err := rows.Scan(&msg.ID, &sender, &msg.Content, &ts, &rating, &msg.Feedback, &msg.IsImproved); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Sender = chat.Sender(sender)
		msg.Rating = chat.Rating(rating)
		msg.Timestamp = time.Unix(0, ts).UTC()
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func insertMessage(ctx context.Context, tx *sql.Tx, conversationID string, msg chat.Message) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender, content, timestamp, rating, feedback, is_improved)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, conversationID, string(msg.Sender), msg.Content, msg.Timestamp.UnixNano(),
		string(msg.Rating), msg.Feedback, msg.IsImproved,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func conversationExists(ctx context.Context, tx *sql.Tx, id string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("query conversation: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
