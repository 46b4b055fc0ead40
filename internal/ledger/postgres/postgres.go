package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/tokligence/chatstream/internal/ledger"
)

// Store implements ledger.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// PoolConfig tunes the database/sql connection pool. Zero values keep the
// driver defaults.
type PoolConfig struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// New opens a PostgreSQL-backed ledger store using the provided DSN.
func New(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if pool.MaxOpen > 0 {
		db.SetMaxOpenConns(pool.MaxOpen)
	}
	if pool.MaxIdle > 0 {
		db.SetMaxIdleConns(pool.MaxIdle)
	}
	if pool.MaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.MaxLifetime)
	}
	if pool.MaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.MaxIdleTime)
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
	id BIGSERIAL PRIMARY KEY,
	uuid UUID NOT NULL,
	conversation_id TEXT NOT NULL,
	request_id TEXT NOT NULL,
	connection_id TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL CHECK(status IN ('completed','cancelled','failed')),
	prompt_tokens BIGINT NOT NULL DEFAULT 0,
	completion_tokens BIGINT NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	annotations TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_session_usage_uuid ON session_usage(uuid);
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
	annotations := entry.Annotations
	if annotations == nil {
		annotations = []string{}
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO session_usage(uuid, conversation_id, request_id, connection_id, model, status, prompt_tokens, completion_tokens, duration_ms, annotations, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.UUID,
		entry.ConversationID,
		entry.RequestID,
		entry.ConnectionID,
		entry.Model,
		entry.Status,
		entry.PromptTokens,
		entry.CompletionTokens,
		entry.DurationMS,
		pq.Array(annotations),
		entry.CreatedAt,
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
	COUNT(*) FILTER (WHERE status='completed'),
	COUNT(*) FILTER (WHERE status='cancelled'),
	COUNT(*) FILTER (WHERE status='failed'),
	COALESCE(SUM(prompt_tokens), 0),
	COALESCE(SUM(completion_tokens), 0)
FROM session_usage
WHERE ($1 = '' OR conversation_id = $1)`, conversationID)

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
SELECT id, uuid::text, conversation_id, request_id, connection_id, model, status, prompt_tokens, completion_tokens, duration_ms, annotations, created_at
FROM session_usage
WHERE ($1 = '' OR conversation_id = $1)
ORDER BY created_at DESC, id DESC
LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list recent: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var annotations []string
		if err := rows.Scan(&e.ID, &e.UUID, &e.ConversationID, &e.RequestID, &e.ConnectionID, &e.Model, &e.Status, &e.PromptTokens, &e.CompletionTokens, &e.DurationMS, pq.Array(&annotations), &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(annotations) > 0 {
			e.Annotations = annotations
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
