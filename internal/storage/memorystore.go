package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	_ "modernc.org/sqlite"

	"github.com/valter-silva-au/session-intel/pkg/models"
)

// MemoryFile is the shared conversational-memory database under the data root.
const MemoryFile = "sessions.db"

const messagesTable = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
`

// MemoryStore holds the replayable conversation history of every session.
type MemoryStore interface {
	Handle(sessionID string) MemoryHandle
	Close() error
}

// MemoryHandle is the conversational memory of one session.
type MemoryHandle interface {
	SessionID() string
	Append(ctx context.Context, role, content string) (models.Message, error)
	Replay(ctx context.Context, limit int) ([]models.Message, error)
}

type sqliteMemoryStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMemoryStore opens (creating if needed) the SQLite database at path.
func NewMemoryStore(path string) (MemoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating memory directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening memory database: %w", err)
	}
	if _, err := db.Exec(messagesTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating messages table: %w", err)
	}
	return &sqliteMemoryStore{db: db, now: time.Now}, nil
}

func (s *sqliteMemoryStore) Handle(sessionID string) MemoryHandle {
	return &sqliteHandle{store: s, sessionID: sessionID}
}

func (s *sqliteMemoryStore) Close() error {
	return s.db.Close()
}

type sqliteHandle struct {
	store     *sqliteMemoryStore
	sessionID string
}

func (h *sqliteHandle) SessionID() string { return h.sessionID }

func (h *sqliteHandle) Append(ctx context.Context, role, content string) (models.Message, error) {
	created := h.store.now().UTC()
	res, err := h.store.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		h.sessionID, role, content, created.Format(time.RFC3339Nano))
	if err != nil {
		return models.Message{}, fmt.Errorf("storing message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Message{}, fmt.Errorf("storing message: %w", err)
	}
	return models.Message{Seq: id, Role: role, Content: content, CreatedAt: created}, nil
}

// Replay returns the newest limit messages in chronological order. A limit
// <= 0 returns the whole history.
func (h *sqliteHandle) Replay(ctx context.Context, limit int) ([]models.Message, error) {
	query := `SELECT id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY id DESC`
	args := []any{h.sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := h.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("replaying messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var (
			m       models.Message
			created string
		)
		if err := rows.Scan(&m.Seq, &m.Role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("replaying messages: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}
