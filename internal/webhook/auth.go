// ABOUTME: Webhook authentication across query, header and body secret channels
// ABOUTME: A secret only matches agents configured for the channel that carried it

package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/centinai-gateway/internal/store"
)

var (
	// ErrMissingCredential is returned when no channel carried a secret.
	ErrMissingCredential = errors.New("missing credential")

	// ErrAgentNotFound is returned when secrets were supplied but none matched
	// an agent configured for the channel that supplied it.
	ErrAgentNotFound = errors.New("agent not found")
)

// Wire names of the three secret channels.
const (
	QuerySecretParam = "secret"
	HeaderSecretName = "x-agent-secret"
	BodySecretField  = "agentSecret"
)

// AuthChannel identifies where in the request a secret was found.
type AuthChannel int

const (
	ChannelQuery AuthChannel = iota
	ChannelHeader
	ChannelBody
)

// Mode returns the agent auth mode a secret on this channel must match.
func (c AuthChannel) Mode() store.AuthMode {
	switch c {
	case ChannelQuery:
		return store.AuthModeQuery
	case ChannelHeader:
		return store.AuthModeHeader
	case ChannelBody:
		return store.AuthModeBody
	default:
		return ""
	}
}

func (c AuthChannel) String() string {
	return string(c.Mode())
}

// Credentials holds the candidate secrets pulled from one request.
// Empty strings mean the channel carried nothing.
type Credentials struct {
	Query  string
	Header string
	Body   string
}

// channelRule pairs a channel with the extractor for its candidate secret.
type channelRule struct {
	channel AuthChannel
	extract func(Credentials) string
}

// channelOrder is the precedence in which channels are tried.
var channelOrder = []channelRule{
	{ChannelQuery, func(c Credentials) string { return c.Query }},
	{ChannelHeader, func(c Credentials) string { return c.Header }},
	{ChannelBody, func(c Credentials) string { return c.Body }},
}

// Authenticator resolves request credentials to an agent.
type Authenticator struct {
	agents store.AgentDirectory
	logger *slog.Logger
}

// NewAuthenticator creates an Authenticator backed by an agent directory.
func NewAuthenticator(agents store.AgentDirectory, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		agents: agents,
		logger: logger.With("component", "webhook_auth"),
	}
}

// Authenticate tries each channel in order and returns the first agent whose
// secret matches and whose auth mode equals that channel. It has no side effects.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (*store.Agent, AuthChannel, error) {
	supplied := false

	for _, rule := range channelOrder {
		secret := rule.extract(creds)
		if secret == "" {
			continue
		}
		supplied = true

		agent, err := a.agents.FindAgentBySecretAndMode(ctx, secret, rule.channel.Mode())
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, rule.channel, fmt.Errorf("looking up agent by %s secret: %w", rule.channel, err)
		}
		return agent, rule.channel, nil
	}

	if !supplied {
		return nil, 0, ErrMissingCredential
	}
	a.logger.Debug("no agent matched supplied secrets")
	return nil, 0, ErrAgentNotFound
}
