// ABOUTME: Conversation lifecycle: find-or-create, extend, expire and close
// ABOUTME: The only writer of conversation status and timestamps

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/centinai-gateway/internal/export"
	"github.com/2389/centinai-gateway/internal/store"
)

var (
	// ErrLifecyclePersistence wraps storage failures while reading or writing conversations.
	ErrLifecyclePersistence = errors.New("conversation persistence failed")

	// ErrNoActiveConversation is returned when an agent echo has no open conversation to join.
	ErrNoActiveConversation = errors.New("no active conversation")
)

// DefaultTimeout is how long a conversation may sit idle before it expires.
const DefaultTimeout = 120 * time.Minute

// maxResolveAttempts bounds re-reads after losing a race on the open-pair index.
const maxResolveAttempts = 3

// LifecycleStore defines what the lifecycle needs from storage
type LifecycleStore interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	FindOpenConversation(ctx context.Context, participant, agentChannelID string) (*store.Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error
	CloseConversations(ctx context.Context, ids []string, closedAt time.Time, staleBefore time.Time) ([]string, error)
	MarkExported(ctx context.Context, ids []string, at time.Time) error
	ListExportBacklog(ctx context.Context, cutoff time.Time) ([]*store.Conversation, error)
	ListConversationMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
}

// Lifecycle manages open/closed conversations for (participant, agent channel) pairs.
type Lifecycle struct {
	store      LifecycleStore
	dispatcher export.Dispatcher
	timeout    time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewLifecycle creates a Lifecycle. A zero timeout uses DefaultTimeout.
// The dispatcher exports conversations that expire during Resolve.
func NewLifecycle(s LifecycleStore, dispatcher export.Dispatcher, timeout time.Duration, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if dispatcher == nil {
		dispatcher = export.NopDispatcher{Logger: logger}
	}
	return &Lifecycle{
		store:      s,
		dispatcher: dispatcher,
		timeout:    timeout,
		now:        time.Now,
		logger:     logger.With("component", "lifecycle"),
	}
}

// Timeout returns the idle duration after which a conversation expires.
func (l *Lifecycle) Timeout() time.Duration {
	return l.timeout
}

// ResolveRequest identifies the conversation a participant message belongs to.
type ResolveRequest struct {
	AccountID      string
	Participant    string
	AgentChannelID string
	DisplayName    string
	OccurredAt     time.Time
}

// Resolve returns the open conversation for the request's pair, creating one if
// none is open. An open conversation idle for longer than the timeout at
// OccurredAt is exported, closed, and replaced by a new one. Otherwise its last
// activity is advanced to OccurredAt (never backwards).
func (l *Lifecycle) Resolve(ctx context.Context, req ResolveRequest) (string, error) {
	for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
		conv, err := l.store.FindOpenConversation(ctx, req.Participant, req.AgentChannelID)
		if errors.Is(err, store.ErrNotFound) {
			id, err := l.create(ctx, req)
			if errors.Is(err, store.ErrOpenConversationExists) {
				l.logger.Debug("lost create race, re-reading",
					"participant", req.Participant,
					"agent_channel_id", req.AgentChannelID,
					"attempt", attempt)
				continue
			}
			return id, err
		}
		if err != nil {
			return "", fmt.Errorf("%w: finding open conversation: %w", ErrLifecyclePersistence, err)
		}

		if l.expired(conv, req.OccurredAt) {
			if err := l.expire(ctx, conv); err != nil {
				return "", err
			}
			continue
		}

		err = l.store.TouchConversation(ctx, conv.ID, req.OccurredAt)
		if errors.Is(err, store.ErrNotFound) {
			// Closed between our read and write
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: extending conversation %s: %w", ErrLifecyclePersistence, conv.ID, err)
		}
		return conv.ID, nil
	}

	return "", fmt.Errorf("%w: conversation for %s on %s kept changing after %d attempts",
		ErrLifecyclePersistence, req.Participant, req.AgentChannelID, maxResolveAttempts)
}

// AttachAgentEcho returns the open conversation between the agent channel and
// recipient and advances its last activity. It never creates a conversation.
func (l *Lifecycle) AttachAgentEcho(ctx context.Context, agentChannelID, recipient string, occurredAt time.Time) (string, error) {
	for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
		conv, err := l.store.FindOpenConversation(ctx, recipient, agentChannelID)
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNoActiveConversation
		}
		if err != nil {
			return "", fmt.Errorf("%w: finding open conversation: %w", ErrLifecyclePersistence, err)
		}

		err = l.store.TouchConversation(ctx, conv.ID, occurredAt)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: extending conversation %s: %w", ErrLifecyclePersistence, conv.ID, err)
		}
		return conv.ID, nil
	}
	return "", ErrNoActiveConversation
}

// CloseBatch closes every still-open conversation in ids at closedAt and
// returns the ids it closed. Already closed ids are skipped.
func (l *Lifecycle) CloseBatch(ctx context.Context, ids []string, closedAt time.Time) ([]string, error) {
	closed, err := l.store.CloseConversations(ctx, ids, closedAt, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("%w: closing conversations: %w", ErrLifecyclePersistence, err)
	}
	return closed, nil
}

// CloseExpired is CloseBatch restricted to conversations that are still
// expired at closedAt, so one extended since it was listed stays open.
func (l *Lifecycle) CloseExpired(ctx context.Context, ids []string, closedAt time.Time) ([]string, error) {
	closed, err := l.store.CloseConversations(ctx, ids, closedAt, closedAt.Add(-l.timeout))
	if err != nil {
		return nil, fmt.Errorf("%w: closing expired conversations: %w", ErrLifecyclePersistence, err)
	}
	return closed, nil
}

// ExportBacklog lists open conversations expired at now plus closed ones
// whose export never succeeded.
func (l *Lifecycle) ExportBacklog(ctx context.Context, now time.Time) ([]*store.Conversation, error) {
	convs, err := l.store.ListExportBacklog(ctx, now.Add(-l.timeout))
	if err != nil {
		return nil, fmt.Errorf("%w: listing export backlog: %w", ErrLifecyclePersistence, err)
	}
	return convs, nil
}

// MarkExported records a successful export of closed conversations.
func (l *Lifecycle) MarkExported(ctx context.Context, ids []string, at time.Time) error {
	if err := l.store.MarkExported(ctx, ids, at); err != nil {
		return fmt.Errorf("%w: marking exported: %w", ErrLifecyclePersistence, err)
	}
	return nil
}

// ExportPayloads builds the export batch for convs. Open conversations are
// exported as they will look once closed at closedAt.
func (l *Lifecycle) ExportPayloads(ctx context.Context, convs []*store.Conversation, closedAt time.Time) ([]export.Payload, error) {
	views := make([]*store.Conversation, len(convs))
	for i, c := range convs {
		views[i] = c
		if c.Status == store.ConversationOpen {
			views[i] = closedView(c, closedAt)
		}
	}
	batch, err := export.BuildPayloads(ctx, l.store, views)
	if err != nil {
		return nil, fmt.Errorf("%w: building export batch: %w", ErrLifecyclePersistence, err)
	}
	return batch, nil
}

// expired reports whether the gap between the last activity and at exceeds the timeout.
// A gap of exactly the timeout is not expired.
func (l *Lifecycle) expired(conv *store.Conversation, at time.Time) bool {
	return at.Sub(conv.LastActivityAt) > l.timeout
}

func (l *Lifecycle) create(ctx context.Context, req ResolveRequest) (string, error) {
	conv := &store.Conversation{
		ID:              "conv-" + uuid.New().String(),
		AccountID:       req.AccountID,
		AgentChannelID:  req.AgentChannelID,
		Participant:     req.Participant,
		ParticipantName: req.DisplayName,
		Status:          store.ConversationOpen,
		CreatedAt:       req.OccurredAt,
		LastActivityAt:  req.OccurredAt,
	}
	if err := l.store.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, store.ErrOpenConversationExists) {
			return "", err
		}
		return "", fmt.Errorf("%w: creating conversation: %w", ErrLifecyclePersistence, err)
	}

	l.logger.Info("conversation opened",
		"conversation_id", conv.ID,
		"account_id", conv.AccountID,
		"agent_channel_id", conv.AgentChannelID,
		"participant", conv.Participant)
	return conv.ID, nil
}

// expire exports and closes a conversation found expired during Resolve.
// A failed export does not block the close: the conversation is left without
// an export mark so the next sweep exports it.
func (l *Lifecycle) expire(ctx context.Context, conv *store.Conversation) error {
	closedAt := l.now().UTC()

	exported := false
	batch, err := l.ExportPayloads(ctx, []*store.Conversation{conv}, closedAt)
	if err == nil {
		err = l.dispatcher.Dispatch(ctx, batch)
		exported = err == nil
	}
	if err != nil {
		l.logger.Warn("export of expired conversation failed, deferring to sweep",
			"conversation_id", conv.ID,
			"error", err)
	}

	// Only close if nobody extended it since we read it
	closed, err := l.store.CloseConversations(ctx, []string{conv.ID}, closedAt, conv.LastActivityAt.Add(time.Nanosecond))
	if err != nil {
		return fmt.Errorf("%w: closing expired conversation %s: %w", ErrLifecyclePersistence, conv.ID, err)
	}
	if len(closed) == 0 {
		return nil
	}

	l.logger.Info("conversation expired",
		"conversation_id", conv.ID,
		"last_activity_at", conv.LastActivityAt,
		"exported", exported)

	if exported {
		if err := l.store.MarkExported(ctx, closed, closedAt); err != nil {
			// The sweep will export it again
			l.logger.Warn("failed to mark conversation exported", "conversation_id", conv.ID, "error", err)
		}
	}
	return nil
}

// closedView returns a copy of conv as it will look once closed at closedAt.
func closedView(conv *store.Conversation, closedAt time.Time) *store.Conversation {
	cp := *conv
	cp.Status = store.ConversationClosed
	cp.EndedAt = &closedAt
	return &cp
}
