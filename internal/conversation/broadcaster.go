// ABOUTME: In-memory fan-out of routed messages to live subscribers
// ABOUTME: Subscribers follow one account and receive its messages as they are persisted

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/centinai-gateway/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// MessageBroadcaster provides in-memory pub/sub for persisted messages.
// Subscribers register for an account id and receive that account's messages
// as the router stores them.
type MessageBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *store.Message // accountID -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewMessageBroadcaster creates a broadcaster. Pass nil logger for default.
func NewMessageBroadcaster(logger *slog.Logger) *MessageBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageBroadcaster{
		subscribers: make(map[string]map[string]chan *store.Message),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for an account's messages.
// The returned channel is closed when ctx is cancelled, on Unsubscribe, or
// when the broadcaster is closed.
func (b *MessageBroadcaster) Subscribe(ctx context.Context, accountID string) (<-chan *store.Message, string) {
	subID := uuid.New().String()
	ch := make(chan *store.Message, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[accountID]; !ok {
		b.subscribers[accountID] = make(map[string]chan *store.Message)
	}
	b.subscribers[accountID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "account_id", accountID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(accountID, subID)
	}()

	return ch, subID
}

// Publish sends a message to every subscriber of its account.
// Non-blocking: messages are dropped for subscribers whose channels are full.
func (b *MessageBroadcaster) Publish(msg *store.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers[msg.AccountID] {
		select {
		case ch <- msg:
		default:
			b.logger.Debug("dropped message for slow subscriber",
				"account_id", msg.AccountID,
				"sub_id", subID,
				"message_id", msg.ID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *MessageBroadcaster) Unsubscribe(accountID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[accountID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, accountID)
	}

	b.logger.Debug("subscriber removed", "account_id", accountID, "sub_id", subID)
}

// Close closes all subscriber channels. Later subscriptions get a closed channel.
func (b *MessageBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for accountID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, accountID)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
