// ABOUTME: Store interface and data types for centinai-gateway persistence
// ABOUTME: Defines Agent, Conversation, Message and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateAgent is returned when an agent's channel id or secret is already registered
var ErrDuplicateAgent = errors.New("agent already exists")

// ErrOpenConversationExists is returned when creating an open conversation for a
// (participant, agent channel) pair that already has one
var ErrOpenConversationExists = errors.New("open conversation already exists")

// AuthMode names the request channel an agent's secret must arrive on
type AuthMode string

const (
	AuthModeQuery  AuthMode = "query"
	AuthModeHeader AuthMode = "header"
	AuthModeBody   AuthMode = "body"
)

// Valid reports whether m is a known auth mode.
func (m AuthMode) Valid() bool {
	switch m {
	case AuthModeQuery, AuthModeHeader, AuthModeBody:
		return true
	}
	return false
}

// PayloadFormat selects how webhook bodies are mapped into messages
type PayloadFormat string

const (
	PayloadFormatStructured PayloadFormat = "structured"
	PayloadFormatCustom     PayloadFormat = "custom"
)

// Valid reports whether f is a known payload format.
func (f PayloadFormat) Valid() bool {
	return f == PayloadFormatStructured || f == PayloadFormatCustom
}

// ConversationStatus is the lifecycle state of a conversation
type ConversationStatus string

const (
	ConversationOpen   ConversationStatus = "open"
	ConversationClosed ConversationStatus = "closed"
)

// Direction tells which side of a conversation sent a message
type Direction string

const (
	DirectionParticipant Direction = "participant"
	DirectionAgent       Direction = "agent"
)

// Agent is a configured webhook integration owned by an account.
// SecretDigest holds the BLAKE2b digest of the agent's secret, never the secret itself.
type Agent struct {
	ID            string
	AccountID     string
	Name          string
	ChannelID     string // e.g. the phone number id; globally unique
	SecretDigest  string
	AuthMode      AuthMode
	PayloadFormat PayloadFormat
	FieldMapping  map[string]string // canonical field -> dot path; empty for structured
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Conversation is a bounded session between one participant and one agent
type Conversation struct {
	ID              string
	AccountID       string
	AgentChannelID  string
	Participant     string
	ParticipantName string
	Status          ConversationStatus
	CreatedAt       time.Time
	LastActivityAt  time.Time
	EndedAt         *time.Time // set iff Status is closed
	ExportedAt      *time.Time // set once a batch containing the closed conversation was dispatched
}

// Message is a single append-only message within a conversation
type Message struct {
	ID             string
	ConversationID string
	AccountID      string
	Sender         string
	Recipient      string // empty for participant messages
	DisplayName    string
	Type           string
	Text           string
	Direction      Direction
	OccurredAt     time.Time
	CreatedAt      time.Time
}

// ConversationFilter narrows ListConversations. Zero values mean "any".
type ConversationFilter struct {
	AccountID      string
	AgentChannelID string
	Participant    string
	Status         ConversationStatus
	Limit          int
}

// AgentDirectory resolves webhook secrets to agents.
// A secret that exists but is configured for a different mode is ErrNotFound.
type AgentDirectory interface {
	FindAgentBySecretAndMode(ctx context.Context, secret string, mode AuthMode) (*Agent, error)
}

// Store defines the interface for agent, conversation and message persistence
type Store interface {
	AgentDirectory

	// Agents
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context, accountID string) ([]*Agent, error)
	CountAgents(ctx context.Context, accountID string) (int, error)
	UpdateAgent(ctx context.Context, agent *Agent) error
	DeleteAgent(ctx context.Context, id string) error

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	FindOpenConversation(ctx context.Context, participant, agentChannelID string) (*Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error
	CloseConversations(ctx context.Context, ids []string, closedAt time.Time, staleBefore time.Time) ([]string, error)
	MarkExported(ctx context.Context, ids []string, at time.Time) error
	ListExportBacklog(ctx context.Context, cutoff time.Time) ([]*Conversation, error)
	ListConversations(ctx context.Context, filter ConversationFilter) ([]*Conversation, error)

	// Messages (append-only)
	SaveMessage(ctx context.Context, msg *Message) error
	ListConversationMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// Ping checks the underlying database is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
