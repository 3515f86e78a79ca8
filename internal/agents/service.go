// ABOUTME: Agent registration and maintenance for account owners
// ABOUTME: Issues webhook secrets, validates payload mappings, enforces per-account limits

package agents

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/2389/centinai-gateway/internal/store"
	"github.com/2389/centinai-gateway/internal/webhook"
)

var (
	// ErrInvalidRequest is returned when a request fails validation.
	ErrInvalidRequest = errors.New("invalid agent request")

	// ErrAgentLimit is returned when an account already owns its maximum number of agents.
	ErrAgentLimit = errors.New("agent limit reached")
)

// DefaultMaxPerAccount is the agent limit when none is configured.
const DefaultMaxPerAccount = 3

// secretBytes is the entropy of a generated webhook secret.
const secretBytes = 32

// AgentStore defines the store operations needed for agent management.
type AgentStore interface {
	CreateAgent(ctx context.Context, agent *store.Agent) error
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
	ListAgents(ctx context.Context, accountID string) ([]*store.Agent, error)
	CountAgents(ctx context.Context, accountID string) (int, error)
	UpdateAgent(ctx context.Context, agent *store.Agent) error
	DeleteAgent(ctx context.Context, id string) error
}

// RegisterRequest describes a new agent.
type RegisterRequest struct {
	AccountID     string              `validate:"required,max=200"`
	Name          string              `validate:"required,max=100"`
	ChannelID     string              `validate:"required,max=500"`
	AuthMode      store.AuthMode      `validate:"required,oneof=query header body"`
	PayloadFormat store.PayloadFormat `validate:"required,oneof=structured custom"`
	FieldMapping  map[string]string   `validate:"omitempty,dive,keys,oneof=text from timestamp userName direction to type,endkeys,required,max=500"`
}

type mappingUpdate struct {
	PayloadFormat store.PayloadFormat `validate:"required,oneof=structured custom"`
	FieldMapping  map[string]string   `validate:"omitempty,dive,keys,oneof=text from timestamp userName direction to type,endkeys,required,max=500"`
}

// Service manages the agents an account owns. Every operation is scoped to an
// account: an agent owned by someone else is reported as store.ErrNotFound.
type Service struct {
	store         AgentStore
	validate      *validator.Validate
	maxPerAccount int
	logger        *slog.Logger
}

// NewService creates a Service. A non-positive maxPerAccount uses DefaultMaxPerAccount.
func NewService(s AgentStore, maxPerAccount int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if maxPerAccount <= 0 {
		maxPerAccount = DefaultMaxPerAccount
	}
	return &Service{
		store:         s,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		maxPerAccount: maxPerAccount,
		logger:        logger.With("component", "agents"),
	}
}

// Register creates an agent and returns it with its plaintext secret.
// The secret is not stored and cannot be recovered later.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*store.Agent, string, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := checkMapping(req.PayloadFormat, req.FieldMapping); err != nil {
		return nil, "", err
	}

	count, err := s.store.CountAgents(ctx, req.AccountID)
	if err != nil {
		return nil, "", fmt.Errorf("counting agents: %w", err)
	}
	if count >= s.maxPerAccount {
		return nil, "", fmt.Errorf("%w: account %s has %d of %d", ErrAgentLimit, req.AccountID, count, s.maxPerAccount)
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, "", err
	}

	agent := &store.Agent{
		ID:            "agt-" + uuid.New().String(),
		AccountID:     req.AccountID,
		Name:          req.Name,
		ChannelID:     req.ChannelID,
		SecretDigest:  store.SecretDigest(secret),
		AuthMode:      req.AuthMode,
		PayloadFormat: req.PayloadFormat,
		FieldMapping:  req.FieldMapping,
	}
	if err := s.store.CreateAgent(ctx, agent); err != nil {
		return nil, "", fmt.Errorf("creating agent: %w", err)
	}

	s.logger.Info("agent registered",
		"agent_id", agent.ID,
		"account_id", agent.AccountID,
		"channel_id", agent.ChannelID,
		"auth_mode", agent.AuthMode,
		"payload_format", agent.PayloadFormat)
	return agent, secret, nil
}

// RotateSecret replaces an agent's secret and returns the new plaintext.
// The old secret stops authenticating immediately.
func (s *Service) RotateSecret(ctx context.Context, accountID, agentID string) (string, error) {
	agent, err := s.owned(ctx, accountID, agentID)
	if err != nil {
		return "", err
	}

	secret, err := generateSecret()
	if err != nil {
		return "", err
	}
	agent.SecretDigest = store.SecretDigest(secret)
	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		return "", fmt.Errorf("updating agent: %w", err)
	}

	s.logger.Info("agent secret rotated", "agent_id", agent.ID, "account_id", accountID)
	return secret, nil
}

// UpdateMapping changes how an agent's payloads are mapped.
func (s *Service) UpdateMapping(ctx context.Context, accountID, agentID string, format store.PayloadFormat, mapping map[string]string) (*store.Agent, error) {
	if err := s.validate.Struct(mappingUpdate{PayloadFormat: format, FieldMapping: mapping}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := checkMapping(format, mapping); err != nil {
		return nil, err
	}

	agent, err := s.owned(ctx, accountID, agentID)
	if err != nil {
		return nil, err
	}
	agent.PayloadFormat = format
	agent.FieldMapping = mapping
	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("updating agent: %w", err)
	}

	s.logger.Info("agent mapping updated", "agent_id", agent.ID, "payload_format", format)
	return agent, nil
}

// List returns an account's agents, oldest first.
func (s *Service) List(ctx context.Context, accountID string) ([]*store.Agent, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id required", ErrInvalidRequest)
	}
	return s.store.ListAgents(ctx, accountID)
}

// Delete removes an agent together with its conversations and messages.
func (s *Service) Delete(ctx context.Context, accountID, agentID string) error {
	if _, err := s.owned(ctx, accountID, agentID); err != nil {
		return err
	}
	if err := s.store.DeleteAgent(ctx, agentID); err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	s.logger.Info("agent deleted", "agent_id", agentID, "account_id", accountID)
	return nil
}

func (s *Service) owned(ctx context.Context, accountID, agentID string) (*store.Agent, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.AccountID != accountID {
		return nil, store.ErrNotFound
	}
	return agent, nil
}

// checkMapping enforces the rules validator tags cannot express: custom
// agents must map every required field, structured agents map nothing.
func checkMapping(format store.PayloadFormat, mapping map[string]string) error {
	switch format {
	case store.PayloadFormatStructured:
		if len(mapping) > 0 {
			return fmt.Errorf("%w: structured agents take no field mapping", ErrInvalidRequest)
		}
	case store.PayloadFormatCustom:
		var missing []string
		for _, f := range webhook.RequiredFields {
			if mapping[f] == "" {
				missing = append(missing, f)
			}
		}
		if len(missing) > 0 {
			slices.Sort(missing)
			return fmt.Errorf("%w: custom mapping missing %v", ErrInvalidRequest, missing)
		}
	}
	return nil
}

func generateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
