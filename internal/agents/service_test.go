// ABOUTME: Tests for agent registration, secret rotation, mapping updates and deletion
// ABOUTME: Runs the service over the in-memory mock store

package agents

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/centinai-gateway/internal/store"
)

func newTestService(t *testing.T, limit int) (*Service, *store.MockStore) {
	t.Helper()
	s := store.NewMockStore()
	return NewService(s, limit, slog.New(slog.NewTextHandler(io.Discard, nil))), s
}

func validRequest(channel string) RegisterRequest {
	return RegisterRequest{
		AccountID:     "acct-1",
		Name:          "Support line",
		ChannelID:     channel,
		AuthMode:      store.AuthModeHeader,
		PayloadFormat: store.PayloadFormatStructured,
	}
}

func TestRegister(t *testing.T) {
	svc, s := newTestService(t, 0)
	ctx := context.Background()

	agent, secret, err := svc.Register(ctx, validRequest("phone-1"))
	require.NoError(t, err)

	assert.Regexp(t, `^agt-`, agent.ID)
	raw, err := base64.RawURLEncoding.DecodeString(secret)
	require.NoError(t, err)
	assert.Len(t, raw, secretBytes)
	assert.Equal(t, store.SecretDigest(secret), agent.SecretDigest)
	assert.NotContains(t, agent.SecretDigest, secret)

	found, err := s.FindAgentBySecretAndMode(ctx, secret, store.AuthModeHeader)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, found.ID)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(r *RegisterRequest)
	}{
		{"missing account", func(r *RegisterRequest) { r.AccountID = "" }},
		{"missing name", func(r *RegisterRequest) { r.Name = "" }},
		{"missing channel", func(r *RegisterRequest) { r.ChannelID = "" }},
		{"unknown auth mode", func(r *RegisterRequest) { r.AuthMode = "cookie" }},
		{"unknown format", func(r *RegisterRequest) { r.PayloadFormat = "xml" }},
		{"structured with mapping", func(r *RegisterRequest) {
			r.FieldMapping = map[string]string{"text": "body"}
		}},
		{"custom missing required field", func(r *RegisterRequest) {
			r.PayloadFormat = store.PayloadFormatCustom
			r.FieldMapping = map[string]string{"text": "msg.body", "from": "msg.sender"}
		}},
		{"custom with unknown field", func(r *RegisterRequest) {
			r.PayloadFormat = store.PayloadFormatCustom
			r.FieldMapping = map[string]string{
				"text": "a", "from": "b", "timestamp": "c", "mood": "d",
			}
		}},
		{"custom with empty path", func(r *RegisterRequest) {
			r.PayloadFormat = store.PayloadFormatCustom
			r.FieldMapping = map[string]string{"text": "", "from": "b", "timestamp": "c"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, 0)
			req := validRequest("phone-1")
			tt.modify(&req)

			_, _, err := svc.Register(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestRegister_CustomMapping(t *testing.T) {
	svc, _ := newTestService(t, 0)
	req := validRequest("phone-1")
	req.PayloadFormat = store.PayloadFormatCustom
	req.FieldMapping = map[string]string{
		"text":      "entry.0.message.body",
		"from":      "entry.0.message.sender",
		"timestamp": "entry.0.ts",
		"userName":  "entry.0.contact.name",
	}

	agent, _, err := svc.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req.FieldMapping, agent.FieldMapping)
}

func TestRegister_DuplicateChannel(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, validRequest("phone-1"))
	require.NoError(t, err)

	req := validRequest("phone-1")
	req.AccountID = "acct-2"
	_, _, err = svc.Register(ctx, req)
	assert.ErrorIs(t, err, store.ErrDuplicateAgent)
}

func TestRegister_Limit(t *testing.T) {
	svc, _ := newTestService(t, 2)
	ctx := context.Background()

	for _, ch := range []string{"phone-1", "phone-2"} {
		_, _, err := svc.Register(ctx, validRequest(ch))
		require.NoError(t, err)
	}

	_, _, err := svc.Register(ctx, validRequest("phone-3"))
	assert.ErrorIs(t, err, ErrAgentLimit)

	// The limit is per account
	other := validRequest("phone-3")
	other.AccountID = "acct-2"
	_, _, err = svc.Register(ctx, other)
	assert.NoError(t, err)
}

func TestRotateSecret(t *testing.T) {
	svc, s := newTestService(t, 0)
	ctx := context.Background()

	agent, oldSecret, err := svc.Register(ctx, validRequest("phone-1"))
	require.NoError(t, err)

	newSecret, err := svc.RotateSecret(ctx, "acct-1", agent.ID)
	require.NoError(t, err)
	assert.NotEqual(t, oldSecret, newSecret)

	_, err = s.FindAgentBySecretAndMode(ctx, oldSecret, store.AuthModeHeader)
	assert.ErrorIs(t, err, store.ErrNotFound, "old secret stops working")

	found, err := s.FindAgentBySecretAndMode(ctx, newSecret, store.AuthModeHeader)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, found.ID)
}

func TestUpdateMapping(t *testing.T) {
	svc, s := newTestService(t, 0)
	ctx := context.Background()

	agent, _, err := svc.Register(ctx, validRequest("phone-1"))
	require.NoError(t, err)

	mapping := map[string]string{"text": "m.t", "from": "m.f", "timestamp": "m.ts"}
	updated, err := svc.UpdateMapping(ctx, "acct-1", agent.ID, store.PayloadFormatCustom, mapping)
	require.NoError(t, err)
	assert.Equal(t, store.PayloadFormatCustom, updated.PayloadFormat)

	stored, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, mapping, stored.FieldMapping)

	_, err = svc.UpdateMapping(ctx, "acct-1", agent.ID, store.PayloadFormatCustom, map[string]string{"text": "m.t"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	// Back to structured clears the mapping
	updated, err = svc.UpdateMapping(ctx, "acct-1", agent.ID, store.PayloadFormatStructured, nil)
	require.NoError(t, err)
	assert.Empty(t, updated.FieldMapping)
}

func TestOwnership(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	agent, _, err := svc.Register(ctx, validRequest("phone-1"))
	require.NoError(t, err)

	_, err = svc.RotateSecret(ctx, "acct-2", agent.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.UpdateMapping(ctx, "acct-2", agent.ID, store.PayloadFormatStructured, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, svc.Delete(ctx, "acct-2", agent.ID), store.ErrNotFound)

	list, err := svc.List(ctx, "acct-2")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDelete_RemovesConversations(t *testing.T) {
	svc, s := newTestService(t, 0)
	ctx := context.Background()

	agent, _, err := svc.Register(ctx, validRequest("phone-1"))
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, s.CreateConversation(ctx, &store.Conversation{
		ID: "conv-1", AccountID: "acct-1", AgentChannelID: "phone-1", Participant: "user-1",
		Status: store.ConversationOpen, CreatedAt: now, LastActivityAt: now,
	}))

	require.NoError(t, svc.Delete(ctx, "acct-1", agent.ID))

	_, err = s.GetAgent(ctx, agent.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetConversation(ctx, "conv-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestList(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	_, err := svc.List(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, _, err = svc.Register(ctx, validRequest("phone-1"))
	require.NoError(t, err)
	_, _, err = svc.Register(ctx, validRequest("phone-2"))
	require.NoError(t, err)

	list, err := svc.List(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
