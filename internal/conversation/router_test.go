// ABOUTME: Tests for the message router's participant and agent-echo paths
// ABOUTME: Verifies ordering of conversation resolution and message persistence

package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/centinai-gateway/internal/store"
	"github.com/2389/centinai-gateway/internal/webhook"
)

func testAgent() *store.Agent {
	return &store.Agent{
		ID:        "agt-1",
		AccountID: "acct-1",
		ChannelID: "agent-phone",
		AuthMode:  store.AuthModeHeader,
	}
}

func participantMsg(text string, at time.Time) *webhook.ParsedMessage {
	return &webhook.ParsedMessage{
		From:        "user-111",
		Recipient:   "agent-phone",
		DisplayName: "Ana",
		Type:        "text",
		Text:        text,
		OccurredAt:  at,
		Direction:   store.DirectionParticipant,
	}
}

func echoMsg(text string, at time.Time) *webhook.ParsedMessage {
	return &webhook.ParsedMessage{
		From:        "agent-phone",
		Recipient:   "user-111",
		DisplayName: "Support",
		Type:        "text",
		Text:        text,
		OccurredAt:  at,
		Direction:   store.DirectionAgent,
	}
}

func newTestRouter(s *store.MockStore, b *MessageBroadcaster) *Router {
	l := newTestLifecycle(s, &recordingDispatcher{}, t0)
	return NewRouter(l, s, b, testLogger())
}

func TestRoute_ParticipantMessage(t *testing.T) {
	s := store.NewMockStore()
	r := newTestRouter(s, nil)
	ctx := context.Background()

	res, err := r.Route(ctx, testAgent(), participantMsg("hola", t0))
	require.NoError(t, err)
	assert.False(t, res.Dropped)
	assert.Regexp(t, `^msg-`, res.MessageID)

	msgs, err := s.ListConversationMessages(ctx, res.ConversationID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, res.MessageID, msgs[0].ID)
	assert.Equal(t, "acct-1", msgs[0].AccountID)
	assert.Equal(t, "user-111", msgs[0].Sender)
	assert.Empty(t, msgs[0].Recipient)
	assert.Equal(t, store.DirectionParticipant, msgs[0].Direction)
	assert.True(t, msgs[0].OccurredAt.Equal(t0))
}

// Scenario C
func TestRoute_EchoWithoutConversationIsDropped(t *testing.T) {
	s := store.NewMockStore()
	r := newTestRouter(s, nil)
	ctx := context.Background()

	res, err := r.Route(ctx, testAgent(), echoMsg("hi there", t0))
	require.NoError(t, err)
	assert.True(t, res.Dropped)
	assert.Empty(t, res.ConversationID)
	assert.Empty(t, res.MessageID)

	convs, err := s.ListConversations(ctx, store.ConversationFilter{})
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestRoute_EchoJoinsParticipantConversation(t *testing.T) {
	s := store.NewMockStore()
	r := newTestRouter(s, nil)
	ctx := context.Background()

	first, err := r.Route(ctx, testAgent(), participantMsg("hola", t0))
	require.NoError(t, err)

	echo, err := r.Route(ctx, testAgent(), echoMsg("buenas", t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.False(t, echo.Dropped)
	assert.Equal(t, first.ConversationID, echo.ConversationID)

	msgs, err := s.ListConversationMessages(ctx, first.ConversationID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.DirectionAgent, msgs[1].Direction)
	assert.Equal(t, "user-111", msgs[1].Recipient)

	conv, err := s.GetConversation(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.True(t, conv.LastActivityAt.Equal(t0.Add(time.Minute)))
}

func TestRoute_UnknownDirection(t *testing.T) {
	r := newTestRouter(store.NewMockStore(), nil)
	msg := participantMsg("hola", t0)
	msg.Direction = "sideways"

	_, err := r.Route(context.Background(), testAgent(), msg)
	assert.ErrorIs(t, err, webhook.ErrInvalidMapping)
}

func TestRoute_PublishesToSubscribers(t *testing.T) {
	s := store.NewMockStore()
	b := NewMessageBroadcaster(testLogger())
	defer b.Close()
	r := newTestRouter(s, b)

	ch, _ := b.Subscribe(t.Context(), "acct-1")

	res, err := r.Route(context.Background(), testAgent(), participantMsg("hola", t0))
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, res.MessageID, got.ID)
		assert.Equal(t, "hola", got.Text)
	case <-time.After(time.Second):
		t.Fatal("routed message was not published")
	}

	// Dropped echoes are not published
	_, err = r.Route(context.Background(), &store.Agent{ID: "agt-2", AccountID: "acct-1", ChannelID: "other"}, echoMsg("x", t0))
	require.NoError(t, err)
	select {
	case m := <-ch:
		t.Fatalf("unexpected publish of %s", m.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

type failingMessages struct{}

func (failingMessages) SaveMessage(ctx context.Context, msg *store.Message) error {
	return errors.New("disk full")
}

func TestRoute_SaveFailureKeepsResolvedConversation(t *testing.T) {
	s := store.NewMockStore()
	l := newTestLifecycle(s, &recordingDispatcher{}, t0)
	r := NewRouter(l, failingMessages{}, nil, testLogger())
	ctx := context.Background()

	_, err := r.Route(ctx, testAgent(), participantMsg("hola", t0))
	require.ErrorIs(t, err, ErrLifecyclePersistence)

	// The conversation was resolved before the write failed
	_, err = s.FindOpenConversation(ctx, "user-111", "agent-phone")
	assert.NoError(t, err)
}
