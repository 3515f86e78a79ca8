// Package agents is the owner side of the agent directory.
//
// An agent is one webhook integration: a channel id (such as a phone number
// id), an auth mode naming where its secret must arrive, and a payload format.
// Service registers agents, rotates their secrets, changes their mapping and
// deletes them. Secrets are returned once in plaintext and stored only as a
// digest, so the webhook authenticator can look them up without holding them.
package agents
