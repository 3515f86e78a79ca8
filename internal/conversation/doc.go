// Package conversation owns the conversation state machine and message routing.
//
// # Lifecycle
//
// A conversation is a session between one participant and one agent channel.
// It is either open or closed, and closed is terminal: the next participant
// message for the same pair opens a new conversation with a new id.
//
//	lifecycle := conversation.NewLifecycle(store, dispatcher, 120*time.Minute, logger)
//
// Operations:
//
//   - Resolve: find the open conversation for a pair or create one. If the open
//     conversation has been idle for more than the timeout at the message's
//     time it is exported, closed and replaced. Otherwise its last activity is
//     advanced (never backwards).
//   - AttachAgentEcho: join an agent's own message to the open conversation with
//     its recipient. Never creates one; ErrNoActiveConversation if none is open.
//   - CloseBatch / CloseExpired: close many conversations at once, skipping ones
//     already closed (and, for CloseExpired, ones extended since they were read).
//
// # Concurrency
//
// The store allows at most one open conversation per pair. Two requests racing
// to create the same conversation both try; the loser gets
// store.ErrOpenConversationExists, re-reads and joins the winner's
// conversation. Resolve gives up after a few rounds with ErrLifecyclePersistence.
//
// # Router
//
// Router takes a webhook.ParsedMessage and persists it. The conversation is
// resolved or extended first and the message is written second, so a failure
// in between leaves a conversation without its message (harmless, healed by
// redelivery) rather than a message in a stale conversation.
//
// # Broadcaster
//
// MessageBroadcaster fans persisted messages out to live subscribers of an
// account (the gateway's /api/stream endpoint). Slow subscribers lose messages
// rather than block routing.
package conversation
