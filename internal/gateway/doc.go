// Package gateway orchestrates the centinai-gateway server components.
//
// # Overview
//
// The gateway owns the store and wires the webhook pipeline end to end:
//
//	POST /webhook
//	  -> webhook.Authenticator  (query, header, body secret)
//	  -> webhook.MapPayload     (structured or custom field mapping)
//	  -> conversation.Router    (find/extend/open conversation, append message)
//	  -> conversation.MessageBroadcaster (live /api/stream subscribers)
//
// Alongside the HTTP server it runs a reaper.Reaper on the configured cron
// schedule, which exports idle conversations through the configured
// export.Dispatcher and closes them.
//
// # HTTP API
//
//   - POST /webhook - Webhook ingestion
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (store ping)
//   - GET /api/conversations - List the caller's conversations
//   - GET /api/conversations/{id}/messages - Messages of one conversation
//   - GET /api/stream - SSE feed of the caller's messages
//
// The /api routes exist only when auth.jwt_secret is configured and require a
// bearer token whose subject is the account id.
//
// # Webhook Responses
//
//	200 {"status":"ok"}
//	200 {"status":"ok","dropped":true}      agent echo with no open conversation
//	200 {"status":"ok","duplicate":true}    repeated delivery inside webhook.dedupe_window
//	400 {"error":"missing_credential"}
//	404 {"error":"agent_not_found"}
//	400 {"error":"invalid_mapping_or_payload"}
//	413 {"error":"payload_too_large"}
//	500 {"error":"server_error"}
//
// # Listeners
//
// Without Tailscale the server listens on server.http_addr. With
// tailscale.enabled it joins the tailnet through tsnet and serves on :80,
// on :443 with tailnet certificates (https), or publicly through Funnel
// (funnel), which is how chat providers reach /webhook.
//
// # Shutdown
//
// Run blocks until its context is canceled, then stops the reaper (waiting
// for an in-flight sweep), drains HTTP requests, and closes the store.
package gateway
