// ABOUTME: Tests for export payload building and the HTTP, file and fan-out dispatchers
// ABOUTME: Uses httptest for the analyzer and t.TempDir for file output

package export

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/centinai-gateway/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func seedConversation(t *testing.T, s *store.MockStore, id string) *store.Conversation {
	t.Helper()
	ctx := context.Background()
	conv := &store.Conversation{
		ID: id, AccountID: "acct", AgentChannelID: "555", Participant: "user-" + id,
		ParticipantName: "Ana", Status: store.ConversationOpen, CreatedAt: t0, LastActivityAt: t0,
	}
	require.NoError(t, s.CreateConversation(ctx, conv))

	// Out of order on purpose
	for i, off := range []time.Duration{2 * time.Second, time.Second} {
		require.NoError(t, s.SaveMessage(ctx, &store.Message{
			ID: id + "-msg-" + string(rune('a'+i)), ConversationID: id, AccountID: "acct",
			Sender: conv.Participant, DisplayName: "Ana", Text: "hi", Direction: store.DirectionParticipant,
			OccurredAt: t0.Add(off),
		}))
	}
	return conv
}

func sampleBatch(t *testing.T) []Payload {
	t.Helper()
	s := store.NewMockStore()
	convs := []*store.Conversation{seedConversation(t, s, "conv-1"), seedConversation(t, s, "conv-2")}
	batch, err := BuildPayloads(context.Background(), s, convs)
	require.NoError(t, err)
	return batch
}

func TestBuildPayloads(t *testing.T) {
	batch := sampleBatch(t)
	require.Len(t, batch, 2)
	assert.Equal(t, []string{"conv-1", "conv-2"}, IDs(batch))

	msgs := batch[0].Messages
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].OccurredAt.Before(msgs[1].OccurredAt), "messages are ordered by event time")
	assert.Equal(t, "conv-1-msg-b", msgs[0].ID)
	assert.Equal(t, "participant", msgs[0].Direction)
}

type errSource struct{}

func (errSource) ListConversationMessages(ctx context.Context, id string, limit int) ([]*store.Message, error) {
	return nil, errors.New("boom")
}

func TestBuildPayloads_SourceError(t *testing.T) {
	_, err := BuildPayloads(context.Background(), errSource{}, []*store.Conversation{{ID: "conv-1"}})
	assert.Error(t, err)
}

func TestHTTPDispatcher_Success(t *testing.T) {
	var got []Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/analyze", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(srv.URL+"/", time.Second, testLogger())
	require.NoError(t, d.Dispatch(context.Background(), sampleBatch(t)))

	require.Len(t, got, 2)
	assert.Equal(t, "conv-1", got[0].Conversation.ID)
	assert.Len(t, got[0].Messages, 2)
}

func TestHTTPDispatcher_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "analyzer overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewHTTPDispatcher(srv.URL, time.Second, testLogger()).Dispatch(context.Background(), sampleBatch(t))
	require.ErrorIs(t, err, ErrExportDispatch)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPDispatcher_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewHTTPDispatcher(url, time.Second, testLogger()).Dispatch(context.Background(), sampleBatch(t))
	assert.ErrorIs(t, err, ErrExportDispatch)
}

func TestHTTPDispatcher_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	err := NewHTTPDispatcher(srv.URL, 50*time.Millisecond, testLogger()).Dispatch(context.Background(), sampleBatch(t))
	assert.ErrorIs(t, err, ErrExportDispatch)
}

func TestHTTPDispatcher_EmptyBatch(t *testing.T) {
	d := NewHTTPDispatcher("http://127.0.0.1:1", time.Second, testLogger())
	assert.NoError(t, d.Dispatch(context.Background(), nil))
}

func TestFileDispatcher(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	d, err := NewFileDispatcher(dir, testLogger())
	require.NoError(t, err)
	d.now = func() time.Time { return t0 }

	require.NoError(t, d.Dispatch(context.Background(), sampleBatch(t)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	name := entries[0].Name()
	assert.True(t, strings.HasPrefix(name, "conversations-20250301T120000Z-"), name)
	assert.True(t, strings.HasSuffix(name, ".json"), name)

	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	var got []Payload
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, []string{"conv-1", "conv-2"}, IDs(got))
}

type stubDispatcher struct {
	err   error
	calls int
}

func (s *stubDispatcher) Dispatch(ctx context.Context, batch []Payload) error {
	s.calls++
	return s.err
}

func TestMultiDispatcher(t *testing.T) {
	ok1, ok2 := &stubDispatcher{}, &stubDispatcher{}
	require.NoError(t, MultiDispatcher{ok1, ok2}.Dispatch(context.Background(), sampleBatch(t)))
	assert.Equal(t, 1, ok1.calls)
	assert.Equal(t, 1, ok2.calls)

	bad := &stubDispatcher{err: errors.New("disk full")}
	after := &stubDispatcher{}
	err := MultiDispatcher{bad, after}.Dispatch(context.Background(), sampleBatch(t))
	assert.ErrorIs(t, err, ErrExportDispatch)
	assert.Equal(t, 1, after.calls, "later dispatchers still run")
}

func TestNopDispatcher(t *testing.T) {
	assert.NoError(t, NopDispatcher{Logger: testLogger()}.Dispatch(context.Background(), sampleBatch(t)))
}
