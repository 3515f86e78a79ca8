// ABOUTME: Export payload types and the builder that pairs conversations with their messages
// ABOUTME: Payloads are the JSON documents handed to the analyzer

package export

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/centinai-gateway/internal/store"
)

// ConversationRecord is the exported form of a conversation.
type ConversationRecord struct {
	ID              string     `json:"id"`
	AccountID       string     `json:"account_id"`
	AgentChannelID  string     `json:"agent_channel_id"`
	Participant     string     `json:"participant"`
	ParticipantName string     `json:"participant_name"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	LastActivityAt  time.Time  `json:"last_activity_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// MessageRecord is the exported form of a message.
type MessageRecord struct {
	ID          string    `json:"id"`
	Sender      string    `json:"from"`
	Recipient   string    `json:"to,omitempty"`
	DisplayName string    `json:"user_name"`
	Type        string    `json:"type"`
	Text        string    `json:"text"`
	Direction   string    `json:"direction"`
	OccurredAt  time.Time `json:"timestamp"`
}

// Payload is one conversation together with its messages in event order.
type Payload struct {
	Conversation ConversationRecord `json:"conversation"`
	Messages     []MessageRecord    `json:"messages"`
}

// MessageSource reads a conversation's messages ordered by event time.
type MessageSource interface {
	ListConversationMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
}

// BuildPayloads loads the messages of each conversation and returns one
// payload per conversation, in the order given.
func BuildPayloads(ctx context.Context, src MessageSource, convs []*store.Conversation) ([]Payload, error) {
	payloads := make([]Payload, 0, len(convs))
	for _, conv := range convs {
		msgs, err := src.ListConversationMessages(ctx, conv.ID, 0)
		if err != nil {
			return nil, fmt.Errorf("loading messages for %s: %w", conv.ID, err)
		}
		payloads = append(payloads, NewPayload(conv, msgs))
	}
	return payloads, nil
}

// NewPayload converts a conversation and its messages into a Payload.
func NewPayload(conv *store.Conversation, msgs []*store.Message) Payload {
	p := Payload{
		Conversation: ConversationRecord{
			ID:              conv.ID,
			AccountID:       conv.AccountID,
			AgentChannelID:  conv.AgentChannelID,
			Participant:     conv.Participant,
			ParticipantName: conv.ParticipantName,
			Status:          string(conv.Status),
			CreatedAt:       conv.CreatedAt,
			LastActivityAt:  conv.LastActivityAt,
			EndedAt:         conv.EndedAt,
		},
		Messages: make([]MessageRecord, 0, len(msgs)),
	}
	for _, m := range msgs {
		p.Messages = append(p.Messages, MessageRecord{
			ID:          m.ID,
			Sender:      m.Sender,
			Recipient:   m.Recipient,
			DisplayName: m.DisplayName,
			Type:        m.Type,
			Text:        m.Text,
			Direction:   string(m.Direction),
			OccurredAt:  m.OccurredAt,
		})
	}
	return p
}

// IDs returns the conversation ids of a batch, in order.
func IDs(batch []Payload) []string {
	ids := make([]string, len(batch))
	for i, p := range batch {
		ids[i] = p.Conversation.ID
	}
	return ids
}
