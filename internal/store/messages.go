// ABOUTME: Message persistence for SQLiteStore
// ABOUTME: Messages are append-only and read back in event-time order

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const messageColumns = `id, conversation_id, account_id, sender, recipient, display_name, type, text,
	direction, occurred_at, created_at`

// SaveMessage appends a message to its conversation.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.Type == "" {
		msg.Type = "text"
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO messages (` + messageColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.AccountID,
		msg.Sender,
		nullString(msg.Recipient),
		msg.DisplayName,
		msg.Type,
		msg.Text,
		string(msg.Direction),
		formatTime(msg.OccurredAt),
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID, "direction", msg.Direction)
	return nil
}

// ListConversationMessages returns a conversation's messages ordered by OccurredAt.
// A limit of zero or less returns every message.
func (s *SQLiteStore) ListConversationMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ?
		ORDER BY occurred_at ASC, created_at ASC, id ASC
	`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var recipient sql.NullString
	var direction, occurredAt, createdAt string

	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.AccountID,
		&m.Sender,
		&recipient,
		&m.DisplayName,
		&m.Type,
		&m.Text,
		&direction,
		&occurredAt,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	m.Recipient = recipient.String
	m.Direction = Direction(direction)
	if m.OccurredAt, err = parseTime(occurredAt); err != nil {
		return nil, fmt.Errorf("parsing occurred_at: %w", err)
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &m, nil
}
