// ABOUTME: SQLite-backed activity ledger using modernc.org/sqlite
// ABOUTME: Records ownership transitions and respond outcomes for the debug endpoints

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one recorded broker activity for a conversation.
type Entry struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Kind           string    `json:"kind"`
	Detail         string    `json:"detail,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Ledger persists broker activity. Writes are best-effort: the broker never
// blocks a conversation on ledger trouble, so Record logs failures instead
// of returning them.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates a ledger at path, building the schema if needed. Use
// ":memory:" for an ephemeral ledger. Parent directories are created for
// file-backed paths.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	logger = logger.With("component", "ledger")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}

	// A second connection to a :memory: DSN gets a different empty
	// database, so keep everything on one connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS activity (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			kind            TEXT NOT NULL,
			detail          TEXT NOT NULL DEFAULT '',
			created_at      DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_activity_conversation
			ON activity(conversation_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_activity_created
			ON activity(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}

	logger.Info("activity ledger opened", "path", path)
	return &Ledger{db: db, logger: logger}, nil
}

// Record appends one activity row. It uses its own short timeout rather
// than the caller's context so a cancelled dispatch still gets its final
// entries written.
func (l *Ledger) Record(conversationID, kind, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO activity (id, conversation_id, kind, detail, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), conversationID, kind, detail, time.Now().UTC())
	if err != nil {
		l.logger.Error("failed to record activity",
			"conversation_id", conversationID,
			"kind", kind,
			"error", err)
	}
}

// Recent returns up to limit entries, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, conversation_id, kind, detail, created_at
		 FROM activity ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying activity: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ForConversation returns the full activity trail for one conversation,
// oldest first.
func (l *Ledger) ForConversation(ctx context.Context, conversationID string) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, conversation_id, kind, detail, created_at
		 FROM activity WHERE conversation_id = ? ORDER BY rowid`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying conversation activity: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.Kind, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning activity row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}
