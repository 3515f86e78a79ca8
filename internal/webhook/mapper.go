// ABOUTME: Maps raw webhook payloads into canonical ParsedMessage values
// ABOUTME: Structured agents use fixed paths, custom agents use their own dot-path mapping

package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/2389/centinai-gateway/internal/store"
)

// ErrInvalidMapping is returned when a payload lacks a required field or
// carries a value that cannot be interpreted.
var ErrInvalidMapping = errors.New("invalid mapping or payload")

// Canonical field names. Custom agents map these keys to dot paths.
const (
	FieldText        = "text"
	FieldFrom        = "from"
	FieldTimestamp   = "timestamp"
	FieldDisplayName = "userName"
	FieldDirection   = "direction"
	FieldRecipient   = "to"
	FieldType        = "type"
)

// RequiredFields must resolve for every payload.
var RequiredFields = []string{FieldText, FieldFrom, FieldTimestamp}

// UnknownDisplayName is used when the payload names no sender.
const UnknownDisplayName = "unknown"

const defaultMessageType = "text"

// structuredPaths is the fixed layout of structured payloads.
var structuredPaths = map[string]string{
	FieldText:        "text",
	FieldFrom:        "from",
	FieldTimestamp:   "timestamp",
	FieldDisplayName: "userName",
	FieldDirection:   "direction",
	FieldRecipient:   "to",
	FieldType:        "type",
}

// epochMillisThreshold separates Unix seconds from Unix milliseconds.
// 1e12 seconds is tens of thousands of years away; 1e12 ms is 2001.
const epochMillisThreshold = 1e12

// Timestamps must fall in years 0001 through 9999 UTC, the range stored
// timestamps can round-trip through fixed-width text.
var (
	minTimestamp = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	maxTimestamp = time.Date(9999, time.December, 31, 23, 59, 59, 999999999, time.UTC)
)

// ParsedMessage is a webhook event normalized to canonical fields.
type ParsedMessage struct {
	From        string
	Recipient   string // only meaningful for agent messages
	DisplayName string
	Type        string
	Text        string
	OccurredAt  time.Time
	Direction   store.Direction
}

// MapPayload converts a decoded JSON payload into a ParsedMessage according to
// the agent's payload format. It never mutates the payload.
func MapPayload(payload any, agent *store.Agent) (*ParsedMessage, error) {
	var paths map[string]string
	switch agent.PayloadFormat {
	case store.PayloadFormatStructured:
		paths = structuredPaths
	case store.PayloadFormatCustom:
		paths = agent.FieldMapping
	default:
		return nil, fmt.Errorf("%w: unknown payload format %q", ErrInvalidMapping, agent.PayloadFormat)
	}

	lookup := func(field string) (any, bool) {
		path, ok := paths[field]
		if !ok {
			return nil, false
		}
		return Resolve(payload, path)
	}

	msg := &ParsedMessage{
		DisplayName: UnknownDisplayName,
		Type:        defaultMessageType,
	}

	var err error
	if msg.Text, err = requiredString(lookup, FieldText); err != nil {
		return nil, err
	}
	if msg.From, err = requiredString(lookup, FieldFrom); err != nil {
		return nil, err
	}

	raw, ok := lookup(FieldTimestamp)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidMapping, FieldTimestamp)
	}
	if msg.OccurredAt, ok = parseTimestamp(raw); !ok {
		return nil, fmt.Errorf("%w: unparseable %s", ErrInvalidMapping, FieldTimestamp)
	}

	if v, ok := optionalString(lookup, FieldDisplayName); ok {
		msg.DisplayName = v
	}
	if v, ok := optionalString(lookup, FieldType); ok {
		msg.Type = v
	}
	if v, ok := optionalString(lookup, FieldRecipient); ok {
		msg.Recipient = v
	}

	if msg.Direction, err = resolveDirection(lookup, msg.From, agent.ChannelID); err != nil {
		return nil, err
	}
	if msg.Direction == store.DirectionAgent && msg.Recipient == "" {
		return nil, fmt.Errorf("%w: agent message without %s", ErrInvalidMapping, FieldRecipient)
	}

	return msg, nil
}

type lookupFunc func(field string) (any, bool)

func requiredString(lookup lookupFunc, field string) (string, error) {
	raw, ok := lookup(field)
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrInvalidMapping, field)
	}
	s, ok := scalarString(raw)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: empty or non-scalar %s", ErrInvalidMapping, field)
	}
	return s, nil
}

// optionalString treats non-scalar and blank values as absent.
func optionalString(lookup lookupFunc, field string) (string, bool) {
	raw, ok := lookup(field)
	if !ok {
		return "", false
	}
	s, ok := scalarString(raw)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// resolveDirection prefers an explicit direction and otherwise infers it from
// whether the sender is the agent's own channel.
func resolveDirection(lookup lookupFunc, from, channelID string) (store.Direction, error) {
	if raw, ok := lookup(FieldDirection); ok {
		s, ok := raw.(string)
		if !ok {
			return "", fmt.Errorf("%w: non-string %s", ErrInvalidMapping, FieldDirection)
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "":
			// blank counts as absent
		case "participant", "user":
			return store.DirectionParticipant, nil
		case "agent", "assistant", "echo":
			return store.DirectionAgent, nil
		default:
			return "", fmt.Errorf("%w: unknown %s %q", ErrInvalidMapping, FieldDirection, s)
		}
	}

	if channelID != "" && from == channelID {
		return store.DirectionAgent, nil
	}
	return store.DirectionParticipant, nil
}

// scalarString renders strings, numbers and booleans as text.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// parseTimestamp accepts Unix seconds or milliseconds (as numbers or numeric
// strings) and RFC 3339 strings. Results are in UTC and within years 0001-9999.
func parseTimestamp(v any) (time.Time, bool) {
	ts, ok := decodeTimestamp(v)
	if !ok || ts.Before(minTimestamp) || ts.After(maxTimestamp) {
		return time.Time{}, false
	}
	return ts, true
}

func decodeTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case json.Number:
		return parseNumericTimestamp(t.String())
	case float64:
		return epochToTime(t)
	case int:
		return epochIntToTime(int64(t))
	case int64:
		return epochIntToTime(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if ts, ok := parseNumericTimestamp(s); ok {
			return ts, true
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, false
		}
		return ts.UTC(), true
	default:
		return time.Time{}, false
	}
}

func parseNumericTimestamp(s string) (time.Time, bool) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return epochIntToTime(i)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, false
	}
	return epochToTime(f)
}

func epochIntToTime(i int64) (time.Time, bool) {
	if i <= 0 {
		return time.Time{}, false
	}
	if i < epochMillisThreshold {
		return time.Unix(i, 0).UTC(), true
	}
	return time.UnixMilli(i).UTC(), true
}

func epochToTime(f float64) (time.Time, bool) {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64/1e6 {
		return time.Time{}, false
	}
	if f < epochMillisThreshold {
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	}
	sec, frac := math.Modf(f / 1e3)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}
