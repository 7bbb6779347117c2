// Package protocol defines the named events exchanged between an OMECHAT
// client and the relay service. All events are serialized as JSON and follow
// a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Client -> relay event types.
const (
	EventJoin       = "join"
	EventMessage    = "message" // also relay -> client
	EventTyping     = "typing"  // also relay -> client
	EventStopTyping = "stop-typing"
	EventLeaveRoom  = "leave-room"
)

// Relay -> client event types.
const (
	EventPartnerFound        = "partner-found"
	EventPartnerDisconnected = "partner-disconnected"
)

// ---------------------------------------------------------------------------
// Envelope for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> relay event structs
// ---------------------------------------------------------------------------

// JoinEvent requests pairing. Identity is the per-tab anonymous identifier;
// interests are only meaningful when RequireMatching is true.
type JoinEvent struct {
	Type            string   `json:"type"`
	Identity        string   `json:"identity"`
	Interests       []string `json:"interests"`
	RequireMatching bool     `json:"require_matching"`
}

// MessageEvent delivers chat text to the paired partner. Room is set on the
// outbound direction only; inbound messages are scoped by the connection.
type MessageEvent struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
	Text string `json:"text"`
}

// TypingEvent signals that the sender has started typing. Room is empty on
// the inbound direction.
type TypingEvent struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
}

// StopTypingEvent signals that the sender has stopped typing.
type StopTypingEvent struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
}

// LeaveRoomEvent is a voluntary session termination notice.
type LeaveRoomEvent struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// ---------------------------------------------------------------------------
// Relay -> client event structs
// ---------------------------------------------------------------------------

// PartnerFoundEvent reports that pairing succeeded.
type PartnerFoundEvent struct {
	Type            string   `json:"type"`
	Room            string   `json:"room"`
	SharedInterests []string `json:"shared_interests"`
}

// PartnerDisconnectedEvent reports that the partner left the room or dropped
// its connection.
type PartnerDisconnectedEvent struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientEvent parses raw bytes received by the relay into a typed client
// event. It returns the event type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or relay-only
// event types.
func ParseClientEvent(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse event: %w", err)
	}

	var (
		evt interface{}
		err error
	)

	switch env.Type {
	case EventJoin:
		var e JoinEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventMessage:
		var e MessageEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventTyping:
		var e TypingEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventStopTyping:
		var e StopTypingEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventLeaveRoom:
		var e LeaveRoomEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client event type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, evt, nil
}

// NewEvent creates a JSON-encoded byte slice for an event. The eventType is
// injected into the payload under the "type" key so callers do not have to
// fill the Type field on every struct.
func NewEvent(eventType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = eventType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal event: %w", err)
	}
	return out, nil
}
