package socket

import (
	"encoding/json"
	"errors"
	"fmt"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event types pushed by the PhlexiLeads backend. Servers may introduce new
// types at any time; any string is a valid subscription key.
const (
	EventLeadUpdate      = "leadUpdate"
	EventLeadCreated     = "leadCreated"
	EventLeadDeleted     = "leadDeleted"
	EventLeadImport      = "leadImport"
	EventTeamUpdate      = "teamUpdate"
	EventDashboardUpdate = "dashboardUpdate"
	EventNotification    = "notification"
)

// Message is one inbound frame.
type Message struct {
	Type    string
	Payload json.RawMessage
	// Fields holds every top-level member of the frame, unknown ones included.
	Fields map[string]json.RawMessage
	Raw    []byte
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: message %q has no payload", ErrInvalidMessage, m.Type)
	}
	return json.Unmarshal(m.Payload, v)
}

// DecodePayload returns the payload of m as a T.
func DecodePayload[T any](m Message) (T, error) {
	var v T
	err := m.Decode(&v)
	return v, err
}

// LeadUpdate is the payload of EventLeadUpdate.
type LeadUpdate struct {
	ID string `json:"id"`
}

// Outbound is the envelope written for every Send.
type Outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func parseMessage(raw []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	rawType, ok := fields["type"]
	if !ok {
		return Message{}, ErrMissingType
	}
	var eventType string
	if err := json.Unmarshal(rawType, &eventType); err != nil || eventType == "" {
		return Message{}, ErrMissingType
	}

	return Message{
		Type:    eventType,
		Payload: fields["payload"],
		Fields:  fields,
		Raw:     raw,
	}, nil
}

// Handler receives messages of the type it is subscribed to. Handlers are kept
// in sets, so implementations must be comparable; pointer types are.
type Handler interface {
	HandleMessage(msg Message)
}

type funcHandler struct {
	fn func(Message)
}

func (h *funcHandler) HandleMessage(msg Message) {
	h.fn(msg)
}

// NewHandler wraps fn in a Handler with its own identity. Keep the returned
// value to unsubscribe later.
func NewHandler(fn func(Message)) Handler {
	return &funcHandler{fn: fn}
}

// StatusListener observes connected/disconnected transitions. Implementations
// must be comparable.
type StatusListener interface {
	ConnectionStatusChanged(connected bool)
}

type funcStatusListener struct {
	fn func(bool)
}

func (l *funcStatusListener) ConnectionStatusChanged(connected bool) {
	l.fn(connected)
}

func NewStatusListener(fn func(connected bool)) StatusListener {
	return &funcStatusListener{fn: fn}
}

var (
	ErrNotConnected      = errors.New("push channel not connected")
	ErrInvalidMessage    = errors.New("invalid message format")
	ErrMissingType       = errors.New("message has no type")
	ErrInvalidEndpoint   = errors.New("invalid endpoint")
	ErrNotComparable     = errors.New("callback is not comparable")
	ErrAttemptsExhausted = errors.New("reconnect attempts exhausted")
)
