package messagestore

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/tokligence/chatstream/internal/delta"
)

// Roles stored alongside each message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message statuses. Assistant messages start as streaming and are
// finalized with the session's terminal status.
const (
	StatusStreaming = "streaming"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// ErrNotFound is returned when a message id is unknown.
var ErrNotFound = errors.New("messagestore: message not found")

// Message is one persisted turn of a conversation.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Role           string       `json:"role"`
	Content        string       `json:"content"`
	Reasoning      string       `json:"reasoning,omitempty"`
	Status         string       `json:"status"`
	Incomplete     bool         `json:"incomplete,omitempty"`
	RequestID      string       `json:"request_id,omitempty"`
	Model          string       `json:"model,omitempty"`
	Usage          *delta.Usage `json:"usage,omitempty"`
	Error          string       `json:"error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Final carries the terminal state written over a placeholder.
type Final struct {
	Content    string
	Reasoning  string
	Status     string
	Incomplete bool
	Usage      *delta.Usage
	Error      string
}

// Store persists conversation messages in SQLite.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// New opens (or creates) a SQLite message store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create message store directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	s := &Store{
		db:      db,
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     func() time.Time { return time.Now().UTC() },
	}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role TEXT NOT NULL CHECK(role IN ('system','user','assistant')),
	content TEXT NOT NULL DEFAULT '',
	reasoning TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	incomplete INTEGER NOT NULL DEFAULT 0,
	request_id TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	usage TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
CREATE INDEX IF NOT EXISTS idx_messages_request ON messages(request_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// newID returns a ULID that sorts after every id this store issued before.
func (s *Store) newID(t time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), s.entropy)
	if err != nil {
		return "", fmt.Errorf("messagestore: new id: %w", err)
	}
	return id.String(), nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendUser stores a completed user message.
func (s *Store) AppendUser(ctx context.Context, conversationID, content string) (Message, error) {
	return s.insert(ctx, Message{
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        content,
		Status:         StatusCompleted,
	})
}

// BeginAssistant stores the placeholder assistant message for a new attempt.
func (s *Store) BeginAssistant(ctx context.Context, conversationID, requestID, model string) (Message, error) {
	return s.insert(ctx, Message{
		ConversationID: conversationID,
		Role:           RoleAssistant,
		Status:         StatusStreaming,
		RequestID:      requestID,
		Model:          model,
	})
}

func (s *Store) insert(ctx context.Context, m Message) (Message, error) {
	if strings.TrimSpace(m.ConversationID) == "" {
		return Message{}, errors.New("messagestore: conversation id required")
	}
	now := s.now()
	id, err := s.newID(now)
	if err != nil {
		return Message{}, err
	}
	m.ID, m.CreatedAt, m.UpdatedAt = id, now, now
	_, err = s.db.ExecContext(ctx, `
INSERT INTO messages(id, conversation_id, role, content, reasoning, status, incomplete, request_id, model, usage, error, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Role, m.Content, m.Reasoning, m.Status, m.Incomplete,
		m.RequestID, m.Model, "", m.Error, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("messagestore: insert message: %w", err)
	}
	return m, nil
}

// Finalize writes the terminal state over the message with the given id.
func (s *Store) Finalize(ctx context.Context, id string, final Final) error {
	switch final.Status {
	case StatusCompleted, StatusCancelled, StatusFailed:
	default:
		return fmt.Errorf("messagestore: invalid final status %q", final.Status)
	}
	usage := ""
	if final.Usage != nil {
		raw, err := json.Marshal(final.Usage)
		if err != nil {
			return fmt.Errorf("messagestore: encode usage: %w", err)
		}
		usage = string(raw)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE messages
SET content = ?, reasoning = ?, status = ?, incomplete = ?, usage = ?, error = ?, updated_at = ?
WHERE id = ?`,
		final.Content, final.Reasoning, final.Status, final.Incomplete, usage, final.Error, s.now(), id)
	if err != nil {
		return fmt.Errorf("messagestore: finalize message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectColumns = `id, conversation_id, role, content, reasoning, status, incomplete, request_id, model, usage, error, created_at, updated_at`

// Get returns a single message.
func (s *Store) Get(ctx context.Context, id string) (Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return m, err
}

// History returns the conversation's messages oldest first. A positive
// limit keeps only the most recent messages.
func (s *Store) History(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	query := `SELECT ` + selectColumns + ` FROM messages WHERE conversation_id = ? ORDER BY id DESC`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("messagestore: history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// MarkAbandoned fails assistant messages left streaming by a previous
// process. It returns the number of messages updated.
func (s *Store) MarkAbandoned(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE messages SET status = ?, incomplete = 1, error = ?, updated_at = ?
WHERE role = ? AND status = ?`,
		StatusFailed, "interrupted by restart", s.now(), RoleAssistant, StatusStreaming)
	if err != nil {
		return 0, fmt.Errorf("messagestore: mark abandoned: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (Message, error) {
	var m Message
	var usage string
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Reasoning, &m.Status, &m.Incomplete,
		&m.RequestID, &m.Model, &usage, &m.Error, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return Message{}, err
	}
	if usage != "" {
		var u delta.Usage
		if err := json.Unmarshal([]byte(usage), &u); err != nil {
			return Message{}, fmt.Errorf("messagestore: decode usage: %w", err)
		}
		m.Usage = &u
	}
	return m, nil
}
