// ABOUTME: MessageRouter sends parsed webhook messages down the participant or agent-echo path
// ABOUTME: The conversation is always resolved before the message row is written

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/2389/centinai-gateway/internal/store"
	"github.com/2389/centinai-gateway/internal/webhook"
)

// MessageStore defines what the router needs from storage
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *store.Message) error
}

// RouteResult describes what happened to a routed message.
type RouteResult struct {
	ConversationID string
	MessageID      string
	Dropped        bool // agent echo with no open conversation
}

// Router persists parsed messages against the right conversation.
type Router struct {
	lifecycle   *Lifecycle
	messages    MessageStore
	broadcaster *MessageBroadcaster
	logger      *slog.Logger
}

// NewRouter creates a Router. broadcaster may be nil.
func NewRouter(lifecycle *Lifecycle, messages MessageStore, broadcaster *MessageBroadcaster, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		lifecycle:   lifecycle,
		messages:    messages,
		broadcaster: broadcaster,
		logger:      logger.With("component", "router"),
	}
}

// Route stores msg for agent. Participant messages find or open a
// conversation; agent echoes only join an open one and are dropped otherwise,
// which is reported through RouteResult.Dropped rather than an error.
func (r *Router) Route(ctx context.Context, agent *store.Agent, msg *webhook.ParsedMessage) (*RouteResult, error) {
	var convID string
	var err error

	switch msg.Direction {
	case store.DirectionParticipant:
		convID, err = r.lifecycle.Resolve(ctx, ResolveRequest{
			AccountID:      agent.AccountID,
			Participant:    msg.From,
			AgentChannelID: agent.ChannelID,
			DisplayName:    msg.DisplayName,
			OccurredAt:     msg.OccurredAt,
		})
	case store.DirectionAgent:
		convID, err = r.lifecycle.AttachAgentEcho(ctx, agent.ChannelID, msg.Recipient, msg.OccurredAt)
		if errors.Is(err, ErrNoActiveConversation) {
			r.logger.Info("dropping agent echo without open conversation",
				"agent_id", agent.ID,
				"agent_channel_id", agent.ChannelID,
				"recipient", msg.Recipient)
			return &RouteResult{Dropped: true}, nil
		}
	default:
		return nil, fmt.Errorf("%w: unknown direction %q", webhook.ErrInvalidMapping, msg.Direction)
	}
	if err != nil {
		return nil, err
	}

	stored := &store.Message{
		ID:             "msg-" + uuid.New().String(),
		ConversationID: convID,
		AccountID:      agent.AccountID,
		Sender:         msg.From,
		Recipient:      msg.Recipient,
		DisplayName:    msg.DisplayName,
		Type:           msg.Type,
		Text:           msg.Text,
		Direction:      msg.Direction,
		OccurredAt:     msg.OccurredAt,
	}
	if msg.Direction == store.DirectionParticipant {
		stored.Recipient = ""
	}
	if err := r.messages.SaveMessage(ctx, stored); err != nil {
		return nil, fmt.Errorf("%w: saving message: %w", ErrLifecyclePersistence, err)
	}

	r.logger.Debug("message routed",
		"message_id", stored.ID,
		"conversation_id", convID,
		"direction", stored.Direction)

	if r.broadcaster != nil {
		r.broadcaster.Publish(stored)
	}

	return &RouteResult{ConversationID: convID, MessageID: stored.ID}, nil
}
