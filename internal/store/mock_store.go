// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while keeping the store's uniqueness rules

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var errMockClosed = errors.New("mock store closed")

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	agents        map[string]*Agent        // keyed by agent ID
	conversations map[string]*Conversation // keyed by conversation ID
	messages      map[string][]*Message    // keyed by conversation ID
	closed        bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		agents:        make(map[string]*Agent),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
	}
}

// CreateAgent stores a new agent.
func (m *MockStore) CreateAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.agents {
		if a.ID == agent.ID || a.ChannelID == agent.ChannelID || a.SecretDigest == agent.SecretDigest {
			return ErrDuplicateAgent
		}
	}

	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	if agent.UpdatedAt.IsZero() {
		agent.UpdatedAt = agent.CreatedAt
	}
	m.agents[agent.ID] = copyAgent(agent)
	return nil
}

// GetAgent retrieves an agent by ID.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAgent(a), nil
}

// FindAgentBySecretAndMode finds an agent by secret within a single auth mode.
func (m *MockStore) FindAgentBySecretAndMode(ctx context.Context, secret string, mode AuthMode) (*Agent, error) {
	if secret == "" {
		return nil, ErrNotFound
	}
	digest := SecretDigest(secret)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.agents {
		if a.SecretDigest == digest && a.AuthMode == mode {
			return copyAgent(a), nil
		}
	}
	return nil, ErrNotFound
}

// ListAgents returns an account's agents, oldest first.
func (m *MockStore) ListAgents(ctx context.Context, accountID string) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var agents []*Agent
	for _, a := range m.agents {
		if a.AccountID == accountID {
			agents = append(agents, copyAgent(a))
		}
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].CreatedAt.Equal(agents[j].CreatedAt) {
			return agents[i].ID < agents[j].ID
		}
		return agents[i].CreatedAt.Before(agents[j].CreatedAt)
	})
	return agents, nil
}

// CountAgents returns how many agents an account owns.
func (m *MockStore) CountAgents(ctx context.Context, accountID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, a := range m.agents {
		if a.AccountID == accountID {
			n++
		}
	}
	return n, nil
}

// UpdateAgent replaces an agent's mutable fields.
func (m *MockStore) UpdateAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.agents[agent.ID]
	if !ok {
		return ErrNotFound
	}
	for _, a := range m.agents {
		if a.ID != agent.ID && a.SecretDigest == agent.SecretDigest {
			return ErrDuplicateAgent
		}
	}

	agent.UpdatedAt = time.Now().UTC()
	updated := copyAgent(agent)
	updated.AccountID = existing.AccountID
	updated.ChannelID = existing.ChannelID
	updated.CreatedAt = existing.CreatedAt
	m.agents[agent.ID] = updated
	return nil
}

// DeleteAgent removes an agent and its conversations.
func (m *MockStore) DeleteAgent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	for cid, c := range m.conversations {
		if c.AgentChannelID == a.ChannelID {
			delete(m.conversations, cid)
			delete(m.messages, cid)
		}
	}
	delete(m.agents, id)
	return nil
}

// CreateConversation stores a new conversation, enforcing one open
// conversation per (participant, agent channel) pair.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conv.Status == "" {
		conv.Status = ConversationOpen
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	if conv.LastActivityAt.IsZero() {
		conv.LastActivityAt = conv.CreatedAt
	}

	if conv.Status == ConversationOpen {
		for _, c := range m.conversations {
			if c.Status == ConversationOpen &&
				c.Participant == conv.Participant &&
				c.AgentChannelID == conv.AgentChannelID {
				return ErrOpenConversationExists
			}
		}
	}

	m.conversations[conv.ID] = copyConversation(conv)
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(c), nil
}

// FindOpenConversation returns the most recently active open conversation for a pair.
func (m *MockStore) FindOpenConversation(ctx context.Context, participant, agentChannelID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *Conversation
	for _, c := range m.conversations {
		if c.Status != ConversationOpen || c.Participant != participant || c.AgentChannelID != agentChannelID {
			continue
		}
		if found == nil || c.LastActivityAt.After(found.LastActivityAt) {
			found = c
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return copyConversation(found), nil
}

// TouchConversation advances an open conversation's last activity.
func (m *MockStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok || c.Status != ConversationOpen {
		return ErrNotFound
	}
	if at.After(c.LastActivityAt) {
		c.LastActivityAt = at
	}
	return nil
}

// CloseConversations closes the open conversations among ids.
func (m *MockStore) CloseConversations(ctx context.Context, ids []string, closedAt time.Time, staleBefore time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var closed []string
	for _, id := range ids {
		c, ok := m.conversations[id]
		if !ok || c.Status != ConversationOpen {
			continue
		}
		if !staleBefore.IsZero() && !c.LastActivityAt.Before(staleBefore) {
			continue
		}
		at := closedAt
		c.Status = ConversationClosed
		c.EndedAt = &at
		closed = append(closed, id)
	}
	return closed, nil
}

// MarkExported records export time on closed, unexported conversations.
func (m *MockStore) MarkExported(ctx context.Context, ids []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		c, ok := m.conversations[id]
		if !ok || c.Status != ConversationClosed || c.ExportedAt != nil {
			continue
		}
		t := at
		c.ExportedAt = &t
	}
	return nil
}

// ListExportBacklog returns idle open conversations and unexported closed ones.
func (m *MockStore) ListExportBacklog(ctx context.Context, cutoff time.Time) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var convs []*Conversation
	for _, c := range m.conversations {
		idle := c.Status == ConversationOpen && c.LastActivityAt.Before(cutoff)
		unexported := c.Status == ConversationClosed && c.ExportedAt == nil
		if idle || unexported {
			convs = append(convs, copyConversation(c))
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		if convs[i].LastActivityAt.Equal(convs[j].LastActivityAt) {
			return convs[i].ID < convs[j].ID
		}
		return convs[i].LastActivityAt.Before(convs[j].LastActivityAt)
	})
	return convs, nil
}

// ListConversations returns conversations matching filter, most recently active first.
func (m *MockStore) ListConversations(ctx context.Context, filter ConversationFilter) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var convs []*Conversation
	for _, c := range m.conversations {
		if filter.AccountID != "" && c.AccountID != filter.AccountID {
			continue
		}
		if filter.AgentChannelID != "" && c.AgentChannelID != filter.AgentChannelID {
			continue
		}
		if filter.Participant != "" && c.Participant != filter.Participant {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		convs = append(convs, copyConversation(c))
	}
	sort.Slice(convs, func(i, j int) bool {
		if convs[i].LastActivityAt.Equal(convs[j].LastActivityAt) {
			return convs[i].ID < convs[j].ID
		}
		return convs[i].LastActivityAt.After(convs[j].LastActivityAt)
	})
	if filter.Limit > 0 && len(convs) > filter.Limit {
		convs = convs[:filter.Limit]
	}
	return convs, nil
}

// SaveMessage appends a message.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.Type == "" {
		msg.Type = "text"
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	cp := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &cp)
	return nil
}

// ListConversationMessages returns a conversation's messages ordered by OccurredAt.
func (m *MockStore) ListConversationMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := make([]*Message, 0, len(m.messages[conversationID]))
	for _, msg := range m.messages[conversationID] {
		cp := *msg
		msgs = append(msgs, &cp)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].OccurredAt.Before(msgs[j].OccurredAt)
	})
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

// Ping always succeeds until Close is called.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errMockClosed
	}
	return nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func copyAgent(a *Agent) *Agent {
	cp := *a
	if a.FieldMapping != nil {
		cp.FieldMapping = make(map[string]string, len(a.FieldMapping))
		for k, v := range a.FieldMapping {
			cp.FieldMapping[k] = v
		}
	}
	return &cp
}

func copyConversation(c *Conversation) *Conversation {
	cp := *c
	if c.EndedAt != nil {
		t := *c.EndedAt
		cp.EndedAt = &t
	}
	if c.ExportedAt != nil {
		t := *c.ExportedAt
		cp.ExportedAt = &t
	}
	return &cp
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)
