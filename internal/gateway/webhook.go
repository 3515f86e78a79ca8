// ABOUTME: POST /webhook handler: authenticate, map, route
// ABOUTME: Maps pipeline errors to stable status codes without echoing internals

package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/2389/centinai-gateway/internal/conversation"
	"github.com/2389/centinai-gateway/internal/dedupe"
	"github.com/2389/centinai-gateway/internal/webhook"
)

// Stable error codes returned to webhook senders.
const (
	codeMissingCredential = "missing_credential"
	codeAgentNotFound     = "agent_not_found"
	codeInvalidPayload    = "invalid_mapping_or_payload"
	codePayloadTooLarge   = "payload_too_large"
	codeServerError       = "server_error"
)

// WebhookResponse is the JSON body of a successful delivery.
type WebhookResponse struct {
	Status    string `json:"status"`
	Dropped   bool   `json:"dropped,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// webhookErrors maps pipeline sentinels to HTTP status and code, in match order.
var webhookErrors = []struct {
	err    error
	status int
	code   string
}{
	{webhook.ErrMissingCredential, http.StatusBadRequest, codeMissingCredential},
	{webhook.ErrAgentNotFound, http.StatusNotFound, codeAgentNotFound},
	{webhook.ErrInvalidMapping, http.StatusBadRequest, codeInvalidPayload},
	{errInvalidJSON, http.StatusBadRequest, codeInvalidPayload},
	{conversation.ErrLifecyclePersistence, http.StatusInternalServerError, codeServerError},
}

var errInvalidJSON = errors.New("invalid JSON body")

// webhookStatus returns the status and code for a pipeline error.
// Anything unrecognised is a server error.
func webhookStatus(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, codePayloadTooLarge
	}
	for _, e := range webhookErrors {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, codeServerError
}

// decodeBody parses a webhook body, keeping numbers as json.Number so epoch
// timestamps survive intact.
func decodeBody(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, errInvalidJSON
	}
	if dec.More() {
		return nil, errInvalidJSON
	}
	return payload, nil
}

// bodySecret returns the agentSecret field of an object payload.
func bodySecret(payload any) string {
	obj, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := obj[webhook.BodySecretField].(string)
	return s
}

// handleWebhook handles POST /webhook deliveries from chat platforms.
// Credentials are checked before the payload, so an unauthenticated sender
// learns nothing about payload validity.
func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.config.Webhook.MaxBodyBytes))
	if err != nil {
		g.writeWebhookError(w, err)
		return
	}

	payload, decodeErr := decodeBody(body)

	creds := webhook.Credentials{
		Query:  r.URL.Query().Get(webhook.QuerySecretParam),
		Header: r.Header.Get(webhook.HeaderSecretName),
		Body:   bodySecret(payload),
	}
	agent, channel, err := g.authenticator.Authenticate(r.Context(), creds)
	if err != nil {
		g.writeWebhookError(w, err)
		return
	}
	if decodeErr != nil {
		g.writeWebhookError(w, decodeErr)
		return
	}

	msg, err := webhook.MapPayload(payload, agent)
	if err != nil {
		g.logger.Info("rejected webhook payload", "agent_id", agent.ID, "error", err)
		g.writeWebhookError(w, err)
		return
	}

	var key string
	if g.dedupe != nil {
		key = dedupe.Key(agent.ID, body)
		if !g.dedupe.Claim(key) {
			g.logger.Debug("duplicate webhook delivery", "agent_id", agent.ID)
			writeJSON(w, http.StatusOK, WebhookResponse{Status: "ok", Duplicate: true})
			return
		}
	}

	result, err := g.router.Route(r.Context(), agent, msg)
	if err != nil {
		if key != "" {
			g.dedupe.Release(key)
		}
		g.writeWebhookError(w, err)
		return
	}

	g.logger.Debug("webhook delivered",
		"agent_id", agent.ID,
		"channel", channel,
		"conversation_id", result.ConversationID,
		"dropped", result.Dropped)
	writeJSON(w, http.StatusOK, WebhookResponse{Status: "ok", Dropped: result.Dropped})
}

func (g *Gateway) writeWebhookError(w http.ResponseWriter, err error) {
	status, code := webhookStatus(err)
	if status >= http.StatusInternalServerError {
		g.logger.Error("webhook processing failed", "error", err)
	}
	g.sendJSONError(w, status, code)
}
