// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// Store is the single interface the rest of the gateway depends on. It embeds
// AgentDirectory, the narrow lookup the webhook authenticator needs, so the
// authenticator can be tested against any secret-to-agent source.
//
// SQLiteStore implements Store on modernc.org/sqlite; MockStore implements it in
// memory for unit tests and enforces the same uniqueness rules.
//
// # Data Models
//
//   - Agent: a webhook integration owned by an account, identified on the wire
//     by its secret and in payloads by its ChannelID
//   - Conversation: a session between one participant and one agent channel
//   - Message: an append-only message inside a conversation
//
// # Invariants
//
// At most one conversation per (participant, agent channel) pair is open. SQLite
// enforces this with a partial unique index:
//
//	CREATE UNIQUE INDEX idx_conversations_open_pair
//	    ON conversations(participant, agent_channel_id) WHERE status = 'open';
//
// CreateConversation reports a violation as ErrOpenConversationExists so callers
// can re-read and retry. TouchConversation never moves LastActivityAt backwards.
// CloseConversations only closes rows that are still open (and, when asked,
// still stale) and reports which ones it closed.
//
// Secrets are never stored. Agents carry the BLAKE2b-256 digest from
// SecretDigest, and FindAgentBySecretAndMode hashes the candidate before lookup.
//
// # Timestamps
//
// Times are stored as fixed-width UTC text with nanosecond precision so that
// SQL string comparison orders them correctly.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateAgent: channel id or secret already registered
//   - ErrOpenConversationExists: the pair already has an open conversation
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") or a file in
// t.TempDir() for integration tests with real SQLite.
package store
