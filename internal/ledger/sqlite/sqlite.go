package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/tokligence/chatstream/internal/ledger"
)

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS session_usage (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid TEXT NOT NULL UNIQUE,
	conversation_id TEXT NOT NULL,
	request_id TEXT NOT NULL,
	connection_id TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL CHECK(status IN ('completed','cancelled','failed')),
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	annotations TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_session_usage_conversation_created ON session_usage(conversation_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_session_usage_created ON session_usage(created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a new usage entry.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	entry, err := ledger.Prepare(entry)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO session_usage(uuid, conversation_id, request_id, connection_id, model, status, prompt_tokens, completion_tokens, duration_ms, annotations, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.UUID,
		entry.ConversationID,
		entry.RequestID,
		entry.ConnectionID,
		entry.Model,
		entry.Status,
		entry.PromptTokens,
		entry.CompletionTokens,
		entry.DurationMS,
		strings.Join(entry.Annotations, ","),
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("ledger: insert entry: %w", err)
	}
	return nil
}

// Summary returns aggregated usage, optionally for one conversation.
func (s *Store) Summary(ctx context.Context, conversationID string) (ledger.Summary, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN status='completed' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN status='cancelled' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN status='failed' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(prompt_tokens), 0),
	COALESCE(SUM(completion_tokens), 0)
FROM session_usage
WHERE (? = '' OR conversation_id = ?)`, conversationID, conversationID)

	var summary ledger.Summary
	if err := row.Scan(&summary.Sessions, &summary.Completed, &summary.Cancelled, &summary.Failed, &summary.PromptTokens, &summary.CompletionTokens); err != nil {
		return ledger.Summary{}, fmt.Errorf("ledger: summary: %w", err)
	}
	summary.TotalTokens = summary.PromptTokens + summary.CompletionTokens
	return summary, nil
}

// ListRecent returns the latest entries, newest first.
func (s *Store) ListRecent(ctx context.Context, conversationID string, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = ledger.DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, uuid, conversation_id, request_id, connection_id, model, status, prompt_tokens, completion_tokens, duration_ms, annotations, created_at
FROM session_usage
WHERE (? = '' OR conversation_id = ?)
ORDER BY created_at DESC, id DESC
LIMIT ?`, conversationID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list recent: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var annotations string
		if err := rows.Scan(&e.ID, &e.UUID, &e.ConversationID, &e.RequestID, &e.ConnectionID, &e.Model, &e.Status, &e.PromptTokens, &e.CompletionTokens, &e.DurationMS, &annotations, &e.CreatedAt); err != nil {
			return nil, err
		}
		if annotations != "" {
			e.Annotations = strings.Split(annotations, ",")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
