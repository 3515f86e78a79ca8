// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides agent/conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// An in-memory database exists per connection
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id             TEXT PRIMARY KEY,
			account_id     TEXT NOT NULL,
			name           TEXT NOT NULL,
			channel_id     TEXT NOT NULL UNIQUE,
			secret_digest  TEXT NOT NULL UNIQUE,
			auth_mode      TEXT NOT NULL,
			payload_format TEXT NOT NULL,
			field_mapping  TEXT NOT NULL DEFAULT '{}',
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL,

			CHECK (auth_mode IN ('query', 'header', 'body')),
			CHECK (payload_format IN ('structured', 'custom'))
		);

		CREATE INDEX IF NOT EXISTS idx_agents_account ON agents(account_id, created_at);

		CREATE TABLE IF NOT EXISTS conversations (
			id               TEXT PRIMARY KEY,
			account_id       TEXT NOT NULL,
			agent_channel_id TEXT NOT NULL,
			participant      TEXT NOT NULL,
			participant_name TEXT NOT NULL,
			status           TEXT NOT NULL,
			created_at       TEXT NOT NULL,
			last_activity_at TEXT NOT NULL,
			ended_at         TEXT,
			exported_at      TEXT,

			CHECK (status IN ('open', 'closed')),
			CHECK ((status = 'closed') = (ended_at IS NOT NULL))
		);

		-- At most one open conversation per (participant, agent channel)
		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_open_pair
			ON conversations(participant, agent_channel_id) WHERE status = 'open';

		CREATE INDEX IF NOT EXISTS idx_conversations_status_activity
			ON conversations(status, last_activity_at);
		CREATE INDEX IF NOT EXISTS idx_conversations_account
			ON conversations(account_id, agent_channel_id, created_at);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			account_id      TEXT NOT NULL,
			sender          TEXT NOT NULL,
			recipient       TEXT,
			display_name    TEXT NOT NULL,
			type            TEXT NOT NULL DEFAULT 'text',
			text            TEXT NOT NULL,
			direction       TEXT NOT NULL,
			occurred_at     TEXT NOT NULL,
			created_at      TEXT NOT NULL,

			CHECK (direction IN ('participant', 'agent'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, occurred_at);
		CREATE INDEX IF NOT EXISTS idx_messages_account ON messages(account_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations adds columns introduced after the first release to existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "messages",
			column: "type",
			apply:  `ALTER TABLE messages ADD COLUMN type TEXT NOT NULL DEFAULT 'text'`,
		},
		{
			table:  "conversations",
			column: "exported_at",
			apply:  `ALTER TABLE conversations ADD COLUMN exported_at TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Ping checks that the database connection is alive
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by hand or by older builds may carry plain RFC 3339
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// inClause returns "?, ?, ?" for n placeholders and the args slice.
func inClause(ids []string) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ", "), args
}
