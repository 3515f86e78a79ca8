// ABOUTME: HTTP read API over conversations and messages, plus an SSE message feed
// ABOUTME: Every endpoint is scoped to the account named by the caller's bearer token

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/centinai-gateway/internal/auth"
	"github.com/2389/centinai-gateway/internal/store"
)

const (
	defaultConversationLimit = 50
	maxConversationLimit     = 1000
	defaultMessageLimit      = 500
	maxMessageLimit          = 5000

	// streamKeepalive is how often an idle SSE stream sends a comment line.
	streamKeepalive = 30 * time.Second
)

// ConversationResponse is the JSON form of a conversation.
type ConversationResponse struct {
	ID              string  `json:"id"`
	AgentChannelID  string  `json:"agent_channel_id"`
	Participant     string  `json:"participant"`
	ParticipantName string  `json:"participant_name"`
	Status          string  `json:"status"`
	CreatedAt       string  `json:"created_at"`
	LastActivityAt  string  `json:"last_activity_at"`
	EndedAt         *string `json:"ended_at,omitempty"`
	ExportedAt      *string `json:"exported_at,omitempty"`
}

// ListConversationsResponse is the JSON response for GET /api/conversations.
type ListConversationsResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
}

// MessageResponse is the JSON form of a message.
type MessageResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	From           string `json:"from"`
	To             string `json:"to,omitempty"`
	UserName       string `json:"user_name"`
	Type           string `json:"type"`
	Text           string `json:"text"`
	Direction      string `json:"direction"`
	Timestamp      string `json:"timestamp"`
}

// ConversationMessagesResponse is the JSON response for GET /api/conversations/{id}/messages.
type ConversationMessagesResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []MessageResponse `json:"messages"`
}

// handleListConversations handles GET /api/conversations.
// Supports ?agent=<channel id>, ?status=open|closed and ?limit=N.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := store.ConversationStatus(q.Get("status"))
	switch status {
	case "", store.ConversationOpen, store.ConversationClosed:
	default:
		g.sendJSONError(w, http.StatusBadRequest, "status must be open or closed")
		return
	}

	limit, err := parseLimit(q.Get("limit"), defaultConversationLimit, maxConversationLimit)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	convs, err := g.store.ListConversations(r.Context(), store.ConversationFilter{
		AccountID:      auth.MustAccountFromContext(r.Context()),
		AgentChannelID: q.Get("agent"),
		Status:         status,
		Limit:          limit,
	})
	if err != nil {
		g.logger.Error("failed to list conversations", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ListConversationsResponse{Conversations: make([]ConversationResponse, len(convs))}
	for i, c := range convs {
		resp.Conversations[i] = conversationResponse(c)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleConversationMessages handles GET /api/conversations/{id}/messages.
// Conversations of other accounts are reported as not found.
func (g *Gateway) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	convID := r.PathValue("id")
	if convID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"), defaultMessageLimit, maxMessageLimit)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := g.store.GetConversation(r.Context(), convID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && conv.AccountID != auth.MustAccountFromContext(r.Context())) {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get conversation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	msgs, err := g.store.ListConversationMessages(r.Context(), conv.ID, limit)
	if err != nil {
		g.logger.Error("failed to list messages", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ConversationMessagesResponse{
		ConversationID: conv.ID,
		Messages:       make([]MessageResponse, len(msgs)),
	}
	for i, m := range msgs {
		resp.Messages[i] = messageResponse(m)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStream handles GET /api/stream, an SSE feed of the caller's account's
// messages as they are routed. Slow readers miss messages rather than block
// ingestion.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	accountID := auth.MustAccountFromContext(r.Context())
	msgs, subID := g.broadcaster.Subscribe(r.Context(), accountID)
	defer g.broadcaster.Unsubscribe(accountID, subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, "connected", map[string]string{"account_id": accountID})
	flusher.Flush()

	keepalive := time.NewTicker(streamKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			g.writeSSEEvent(w, "message", messageResponse(msg))
			flusher.Flush()
		}
	}
}

// parseLimit reads an optional positive limit, clamped to ceiling.
func parseLimit(raw string, def, ceiling int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, ceiling), nil
}

func conversationResponse(c *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:              c.ID,
		AgentChannelID:  c.AgentChannelID,
		Participant:     c.Participant,
		ParticipantName: c.ParticipantName,
		Status:          string(c.Status),
		CreatedAt:       c.CreatedAt.Format(time.RFC3339),
		LastActivityAt:  c.LastActivityAt.Format(time.RFC3339),
		EndedAt:         formatOptionalTime(c.EndedAt),
		ExportedAt:      formatOptionalTime(c.ExportedAt),
	}
}

func messageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		From:           m.Sender,
		To:             m.Recipient,
		UserName:       m.DisplayName,
		Type:           m.Type,
		Text:           m.Text,
		Direction:      string(m.Direction),
		Timestamp:      m.OccurredAt.Format(time.RFC3339),
	}
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

// formatSSEEvent formats an SSE event as a string with the standard format:
// event: <eventType>\ndata: <data>\n\n
func formatSSEEvent(eventType, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	_, _ = fmt.Fprint(w, formatSSEEvent(event, string(dataJSON)))
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
