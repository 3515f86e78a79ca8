// Package webhook authenticates inbound webhook requests and maps their
// payloads to canonical messages.
//
// Authentication looks for a secret in three places, in order: the "secret"
// query parameter, the "x-agent-secret" header and the "agentSecret" body
// field. The first secret that belongs to an agent configured for that same
// channel wins. A secret presented on the wrong channel never matches.
//
// MapPayload turns a decoded JSON body into a ParsedMessage. Structured agents
// post the canonical fields at the top level of the body:
//
//	{"from": "5491100000000", "text": "hola", "timestamp": 1718000000000,
//	 "userName": "Ana", "direction": "participant", "to": "", "type": "text"}
//
// Custom agents carry a mapping from canonical field to dot path, e.g.
//
//	{"text": "entry.0.changes.0.value.messages.0.text.body", "from": "...", "timestamp": "..."}
//
// Paths are resolved by Resolve, which treats anything missing as absent.
package webhook
