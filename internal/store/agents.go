// ABOUTME: Agent persistence for SQLiteStore
// ABOUTME: CRUD for webhook integrations plus secret lookup scoped to an auth mode

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const agentColumns = `id, account_id, name, channel_id, secret_digest, auth_mode, payload_format,
	field_mapping, created_at, updated_at`

// CreateAgent stores a new agent.
// Returns ErrDuplicateAgent if the channel id or secret is already registered.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	if agent.UpdatedAt.IsZero() {
		agent.UpdatedAt = agent.CreatedAt
	}

	mapping, err := encodeMapping(agent.FieldMapping)
	if err != nil {
		return err
	}

	query := `INSERT INTO agents (` + agentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		agent.ID,
		agent.AccountID,
		agent.Name,
		agent.ChannelID,
		agent.SecretDigest,
		string(agent.AuthMode),
		string(agent.PayloadFormat),
		mapping,
		formatTime(agent.CreatedAt),
		formatTime(agent.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateAgent
		}
		return fmt.Errorf("inserting agent: %w", err)
	}

	s.logger.Debug("created agent", "id", agent.ID, "account_id", agent.AccountID, "channel_id", agent.ChannelID)
	return nil
}

// GetAgent retrieves an agent by ID.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

// FindAgentBySecretAndMode returns the agent whose secret matches and whose
// auth mode equals mode. A matching secret under another mode is ErrNotFound.
func (s *SQLiteStore) FindAgentBySecretAndMode(ctx context.Context, secret string, mode AuthMode) (*Agent, error) {
	if secret == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE secret_digest = ? AND auth_mode = ?`,
		SecretDigest(secret), string(mode),
	)
	return scanAgent(row)
}

// ListAgents returns an account's agents, oldest first.
func (s *SQLiteStore) ListAgents(ctx context.Context, accountID string) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE account_id = ? ORDER BY created_at ASC, id ASC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agents: %w", err)
	}
	return agents, nil
}

// CountAgents returns how many agents an account owns.
func (s *SQLiteStore) CountAgents(ctx context.Context, accountID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE account_id = ?`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting agents: %w", err)
	}
	return n, nil
}

// UpdateAgent replaces an agent's mutable fields (name, secret, mode, format, mapping).
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) UpdateAgent(ctx context.Context, agent *Agent) error {
	agent.UpdatedAt = time.Now().UTC()

	mapping, err := encodeMapping(agent.FieldMapping)
	if err != nil {
		return err
	}

	query := `
		UPDATE agents
		SET name = ?, secret_digest = ?, auth_mode = ?, payload_format = ?, field_mapping = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		agent.Name,
		agent.SecretDigest,
		string(agent.AuthMode),
		string(agent.PayloadFormat),
		mapping,
		formatTime(agent.UpdatedAt),
		agent.ID,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateAgent
		}
		return fmt.Errorf("updating agent: %w", err)
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

// DeleteAgent removes an agent together with its conversations and their messages.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var channelID string
	err = tx.QueryRowContext(ctx, `SELECT channel_id FROM agents WHERE id = ?`, id).Scan(&channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("looking up agent: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id IN
		(SELECT id FROM conversations WHERE agent_channel_id = ?)`, channelID); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE agent_channel_id = ?`, channelID); err != nil {
		return fmt.Errorf("deleting conversations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("deleted agent", "id", id, "channel_id", channelID)
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var authMode, format, mapping, createdAt, updatedAt string

	err := row.Scan(
		&a.ID,
		&a.AccountID,
		&a.Name,
		&a.ChannelID,
		&a.SecretDigest,
		&authMode,
		&format,
		&mapping,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}

	a.AuthMode = AuthMode(authMode)
	a.PayloadFormat = PayloadFormat(format)

	if mapping != "" {
		if err := json.Unmarshal([]byte(mapping), &a.FieldMapping); err != nil {
			return nil, fmt.Errorf("decoding field mapping for agent %s: %w", a.ID, err)
		}
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &a, nil
}

func encodeMapping(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding field mapping: %w", err)
	}
	return string(b), nil
}
