// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers file setup, migrations of older databases, persistence and concurrent creates

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.CreateConversation(ctx, openConversation("conv-1", "111", "555", baseTime)))
	_, err = store.GetConversation(ctx, "conv-1")
	assert.NoError(t, err)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.CreateAgent(ctx, testAgent("agt-1", "acct-1", "555", "s3cret", AuthModeQuery)))
	require.NoError(t, store.CreateConversation(ctx, openConversation("conv-1", "111", "555", baseTime)))
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	a, err := store.FindAgentBySecretAndMode(ctx, "s3cret", AuthModeQuery)
	require.NoError(t, err)
	assert.Equal(t, "agt-1", a.ID)

	c, err := store.FindOpenConversation(ctx, "111", "555")
	require.NoError(t, err)
	assert.True(t, c.LastActivityAt.Equal(baseTime))
}

func TestSQLiteStore_MigratesOlderSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "old.db")

	// A database from before messages.type and conversations.exported_at existed
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE conversations (
			id TEXT PRIMARY KEY, account_id TEXT NOT NULL, agent_channel_id TEXT NOT NULL,
			participant TEXT NOT NULL, participant_name TEXT NOT NULL, status TEXT NOT NULL,
			created_at TEXT NOT NULL, last_activity_at TEXT NOT NULL, ended_at TEXT
		);
		CREATE TABLE messages (
			id TEXT PRIMARY KEY, conversation_id TEXT NOT NULL, account_id TEXT NOT NULL,
			sender TEXT NOT NULL, recipient TEXT, display_name TEXT NOT NULL, text TEXT NOT NULL,
			direction TEXT NOT NULL, occurred_at TEXT NOT NULL, created_at TEXT NOT NULL
		);
		INSERT INTO conversations VALUES
			('conv-old', 'acct-1', '555', '111', 'Ana', 'closed',
			 '2024-01-01T00:00:00Z', '2024-01-01T00:00:00Z', '2024-01-01T02:00:00Z');
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	c, err := store.GetConversation(ctx, "conv-old")
	require.NoError(t, err)
	assert.Equal(t, ConversationClosed, c.Status)
	assert.Nil(t, c.ExportedAt)

	require.NoError(t, store.SaveMessage(ctx, &Message{
		ID: "msg-1", ConversationID: "conv-old", AccountID: "acct-1", Sender: "111",
		DisplayName: "Ana", Type: "image", Text: "pic", Direction: DirectionParticipant, OccurredAt: baseTime,
	}))
	msgs, err := store.ListConversationMessages(ctx, "conv-old", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "image", msgs[0].Type)

	// Running migrations twice is harmless
	require.NoError(t, store.runMigrations())
}

func TestSQLiteStore_ConcurrentCreateOnePerPair(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	created, conflicts := 0, 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.CreateConversation(ctx, openConversation(fmt.Sprintf("conv-%d", i), "111", "555", baseTime))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrOpenConversationExists):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, conflicts)

	open, err := store.ListConversations(ctx, ConversationFilter{Status: ConversationOpen})
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestSQLiteStore_TimesAreUTC(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	loc := time.FixedZone("UTC-3", -3*60*60)
	local := time.Date(2025, 3, 1, 9, 0, 0, 0, loc)
	require.NoError(t, store.CreateConversation(ctx, openConversation("conv-1", "111", "555", local)))

	// 11:00 UTC is before 09:00 UTC-3 (12:00 UTC)
	require.NoError(t, store.TouchConversation(ctx, "conv-1", time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)))

	c, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, c.LastActivityAt.Equal(local), "earlier instant must not win, got %v", c.LastActivityAt)
	assert.Equal(t, time.UTC, c.LastActivityAt.Location())
}

func TestIsConstraintViolation(t *testing.T) {
	assert.False(t, isConstraintViolation(nil))
	assert.True(t, isConstraintViolation(errors.New("constraint failed: UNIQUE constraint failed: agents.channel_id (2067)")))
	assert.False(t, isConstraintViolation(errors.New("disk I/O error")))
}
