package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventKind is the closed set of envelope types exchanged over a live connection.
type EventKind string

const (
	KindConnection        EventKind = "connection"
	KindPing              EventKind = "ping"
	KindPong              EventKind = "pong"
	KindNotification      EventKind = "notification"
	KindChatMessage       EventKind = "chat_message"
	KindNewChat           EventKind = "new_chat"
	KindChatDeleted       EventKind = "chat_deleted"
	KindMessagesRead      EventKind = "messages_read"
	KindNewJob            EventKind = "new_job"
	KindJobUpdated        EventKind = "job_updated"
	KindJobDeleted        EventKind = "job_deleted"
	KindNewApplication    EventKind = "new_application"
	KindApplicationUpdate EventKind = "application_update"
	KindTeamUpdate        EventKind = "team_update"
)

// Direction tells whether a kind travels from client to server or the other way.
type Direction int

const (
	Inbound Direction = iota + 1
	Outbound
)

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

var eventKinds = map[EventKind]Direction{
	KindConnection:        Outbound,
	KindPing:              Inbound,
	KindPong:              Outbound,
	KindNotification:      Outbound,
	KindChatMessage:       Outbound,
	KindNewChat:           Outbound,
	KindChatDeleted:       Outbound,
	KindMessagesRead:      Outbound,
	KindNewJob:            Outbound,
	KindJobUpdated:        Outbound,
	KindJobDeleted:        Outbound,
	KindNewApplication:    Outbound,
	KindApplicationUpdate: Outbound,
	KindTeamUpdate:        Outbound,
}

// EventKinds returns every known kind. Order is not significant.
func EventKinds() []EventKind {
	kinds := make([]EventKind, 0, len(eventKinds))
	for k := range eventKinds {
		kinds = append(kinds, k)
	}
	return kinds
}

// ParseEventKind maps a wire string onto the closed set.
func ParseEventKind(s string) (EventKind, error) {
	kind := EventKind(s)
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventKind, s)
	}
	return kind, nil
}

func (k EventKind) Valid() bool {
	_, ok := eventKinds[k]
	return ok
}

func (k EventKind) Direction() Direction {
	return eventKinds[k]
}

// Envelope is the typed message unit delivered to a connection.
// It is immutable: every With* method returns a modified copy.
type Envelope struct {
	kind    EventKind
	payload json.RawMessage
	roomID  string
}

var emptyObject = json.RawMessage(`{}`)

// NewEnvelope marshals payload and wraps it in an envelope of the given kind.
// A nil payload becomes an empty JSON object.
func NewEnvelope(kind EventKind, payload any) (Envelope, error) {
	if !kind.Valid() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownEventKind, kind)
	}

	var raw json.RawMessage
	switch p := payload.(type) {
	case nil:
		raw = emptyObject
	case json.RawMessage:
		if len(bytes.TrimSpace(p)) == 0 {
			raw = emptyObject
		} else {
			raw = bytes.Clone(p)
		}
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		raw = data
	}

	return Envelope{kind: kind, payload: raw}, nil
}

func (e Envelope) Kind() EventKind { return e.kind }

func (e Envelope) RoomID() string { return e.roomID }

// Payload returns a copy of the raw payload.
func (e Envelope) Payload() json.RawMessage { return bytes.Clone(e.payload) }

// WithRoom returns a copy of e addressed to the given room key.
func (e Envelope) WithRoom(roomID string) Envelope {
	e.roomID = roomID
	return e
}

// WithPayloadField returns a copy of e whose payload object carries key=value.
// The payload must be a JSON object.
func (e Envelope) WithPayloadField(key string, value any) (Envelope, error) {
	payload, err := SetField(e.payload, key, value)
	if err != nil {
		return Envelope{}, fmt.Errorf("augment %s payload: %w", e.kind, err)
	}
	e.payload = payload
	return e, nil
}

type wireEnvelope struct {
	Type    EventKind       `json:"type"`
	Payload json.RawMessage `json:"payload"`
	RoomID  string          `json:"roomId,omitempty"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	payload := e.payload
	if payload == nil {
		payload = emptyObject
	}
	data, err := json.Marshal(wireEnvelope{Type: e.kind, Payload: payload, RoomID: e.roomID})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// InboundFrame is a decoded client frame.
type InboundFrame struct {
	Kind    EventKind
	Payload json.RawMessage
}

// ConnectionAck is the first message a client receives after a successful handshake.
type ConnectionAck struct {
	Type   EventKind `json:"type"`
	Status string    `json:"status"`
	UserID UserID    `json:"userId"`
}

func NewConnectionAck(userID UserID) ConnectionAck {
	return ConnectionAck{Type: KindConnection, Status: "success", UserID: userID}
}

// SetField decodes a JSON object, sets key to value and re-encodes it.
func SetField(object json.RawMessage, key string, value any) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(object)) > 0 {
		if err := json.Unmarshal(object, &fields); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPayloadNotObject, err)
		}
		if fields == nil {
			return nil, ErrPayloadNotObject
		}
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal field %q: %w", key, err)
	}
	fields[key] = encoded

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal object: %w", err)
	}
	return data, nil
}
