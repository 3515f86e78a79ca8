// ABOUTME: Conversation persistence for SQLiteStore
// ABOUTME: Open/close lifecycle rows guarded by a partial unique index on open pairs

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const conversationColumns = `id, account_id, agent_channel_id, participant, participant_name, status,
	created_at, last_activity_at, ended_at, exported_at`

// CreateConversation stores a new conversation.
// Returns ErrOpenConversationExists when an open conversation already exists
// for the same (participant, agent channel) pair.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.Status == "" {
		conv.Status = ConversationOpen
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	if conv.LastActivityAt.IsZero() {
		conv.LastActivityAt = conv.CreatedAt
	}

	var endedAt, exportedAt sql.NullString
	if conv.EndedAt != nil {
		endedAt = nullString(formatTime(*conv.EndedAt))
	}
	if conv.ExportedAt != nil {
		exportedAt = nullString(formatTime(*conv.ExportedAt))
	}

	query := `INSERT INTO conversations (` + conversationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.AccountID,
		conv.AgentChannelID,
		conv.Participant,
		conv.ParticipantName,
		string(conv.Status),
		formatTime(conv.CreatedAt),
		formatTime(conv.LastActivityAt),
		endedAt,
		exportedAt,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrOpenConversationExists
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation",
		"id", conv.ID,
		"participant", conv.Participant,
		"agent_channel_id", conv.AgentChannelID,
	)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// FindOpenConversation returns the open conversation for a (participant, agent channel)
// pair, preferring the most recently active one. Returns ErrNotFound if none is open.
func (s *SQLiteStore) FindOpenConversation(ctx context.Context, participant, agentChannelID string) (*Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE participant = ? AND agent_channel_id = ? AND status = 'open'
		ORDER BY last_activity_at DESC
		LIMIT 1
	`
	row := s.db.QueryRowContext(ctx, query, participant, agentChannelID)
	return scanConversation(row)
}

// TouchConversation advances an open conversation's last activity to at,
// never moving it backwards. Returns ErrNotFound if the conversation is not open.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	ts := formatTime(at)
	query := `
		UPDATE conversations
		SET last_activity_at = CASE WHEN last_activity_at < ? THEN ? ELSE last_activity_at END
		WHERE id = ? AND status = 'open'
	`
	result, err := s.db.ExecContext(ctx, query, ts, ts, id)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CloseConversations closes the open conversations among ids and returns the
// ids that were actually closed. Already closed or unknown ids are skipped.
// A non-zero staleBefore restricts closing to conversations whose last
// activity is still before it, so a conversation touched since it was read
// stays open.
func (s *SQLiteStore) CloseConversations(ctx context.Context, ids []string, closedAt time.Time, staleBefore time.Time) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	in, idArgs := inClause(ids)
	args := []any{formatTime(closedAt)}
	args = append(args, idArgs...)

	var b strings.Builder
	b.WriteString(`UPDATE conversations SET status = 'closed', ended_at = ? WHERE status = 'open' AND id IN (`)
	b.WriteString(in)
	b.WriteString(`)`)
	if !staleBefore.IsZero() {
		b.WriteString(` AND last_activity_at < ?`)
		args = append(args, formatTime(staleBefore))
	}
	b.WriteString(` RETURNING id`)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("closing conversations: %w", err)
	}
	defer rows.Close()

	var closed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning closed id: %w", err)
		}
		closed = append(closed, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating closed ids: %w", err)
	}

	s.logger.Debug("closed conversations", "requested", len(ids), "closed", len(closed))
	return closed, nil
}

// MarkExported records that closed conversations were handed to the exporter.
// Open conversations and ones already marked are left untouched.
func (s *SQLiteStore) MarkExported(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	in, idArgs := inClause(ids)
	args := append([]any{formatTime(at)}, idArgs...)

	query := `UPDATE conversations SET exported_at = ?
		WHERE status = 'closed' AND exported_at IS NULL AND id IN (` + in + `)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("marking conversations exported: %w", err)
	}
	return nil
}

// ListExportBacklog returns the conversations a sweep must export: open ones
// idle since before cutoff, and closed ones that were never exported.
// Results are ordered oldest activity first.
func (s *SQLiteStore) ListExportBacklog(ctx context.Context, cutoff time.Time) ([]*Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE (status = 'open' AND last_activity_at < ?)
		   OR (status = 'closed' AND exported_at IS NULL)
		ORDER BY last_activity_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("querying export backlog: %w", err)
	}
	defer rows.Close()
	return scanConversations(rows)
}

// ListConversations returns conversations matching filter, most recently active first.
func (s *SQLiteStore) ListConversations(ctx context.Context, filter ConversationFilter) ([]*Conversation, error) {
	var where []string
	var args []any

	if filter.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.AgentChannelID != "" {
		where = append(where, "agent_channel_id = ?")
		args = append(args, filter.AgentChannelID)
	}
	if filter.Participant != "" {
		where = append(where, "participant = ?")
		args = append(args, filter.Participant)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY last_activity_at DESC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()
	return scanConversations(rows)
}

func scanConversations(rows *sql.Rows) ([]*Conversation, error) {
	var convs []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return convs, nil
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var status, createdAt, lastActivityAt string
	var endedAt, exportedAt sql.NullString

	err := row.Scan(
		&c.ID,
		&c.AccountID,
		&c.AgentChannelID,
		&c.Participant,
		&c.ParticipantName,
		&status,
		&createdAt,
		&lastActivityAt,
		&endedAt,
		&exportedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	c.Status = ConversationStatus(status)
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.LastActivityAt, err = parseTime(lastActivityAt); err != nil {
		return nil, fmt.Errorf("parsing last_activity_at: %w", err)
	}
	if c.EndedAt, err = parseNullTime(endedAt); err != nil {
		return nil, fmt.Errorf("parsing ended_at: %w", err)
	}
	if c.ExportedAt, err = parseNullTime(exportedAt); err != nil {
		return nil, fmt.Errorf("parsing exported_at: %w", err)
	}
	return &c, nil
}
