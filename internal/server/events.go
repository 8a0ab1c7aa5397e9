// Package server defines the wire protocol shared by clients and the hub:
// event names, the JSON envelope framing every WebSocket message, and the
// payload types relayed between participants.
package server

import (
	"encoding/json"
	"time"
)

// Inbound event names (client -> server).
const (
	EventUserJoin   = "user_join"
	EventMessage    = "message"
	EventTyping     = "typing"
	EventStopTyping = "stop_typing"
)

// Outbound event names (server -> all other clients).
const (
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventUserTyping     = "user_typing"
	EventUserStopTyping = "user_stop_typing"
)

// Envelope frames every WebSocket message. Data is kept raw so that
// pass-through events (typing indicators) are relayed byte for byte.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Participant is the identity a connection announces at join time.
// LoginTime is opaque client data carried through to the presence query.
type Participant struct {
	Username  string `json:"username"`
	LoginTime string `json:"loginTime,omitempty"`
}

// Message is the chat message payload relayed between clients. The id is
// client-generated and never deduplicated. ReplyTo references a message the
// server may never have seen; it is relayed without validation.
type Message struct {
	ID              string          `json:"id"`
	Text            string          `json:"text"`
	Username        string          `json:"username"`
	Timestamp       string          `json:"timestamp,omitempty"`
	ServerTimestamp string          `json:"serverTimestamp,omitempty"`
	ReplyTo         json.RawMessage `json:"replyTo,omitempty"`
}

// PresenceNotice announces a participant joining or leaving, under the
// user_joined and user_left event names.
type PresenceNotice struct {
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
}

// EventKind tags the variants dispatched through the hub's transition
// function.
type EventKind int

const (
	// KindConnect announces a freshly accepted connection.
	KindConnect EventKind = iota
	// KindJoin carries a Participant payload.
	KindJoin
	// KindMessage carries a Message payload.
	KindMessage
	// KindTyping and KindStopTyping carry opaque pass-through payloads.
	KindTyping
	KindStopTyping
	// KindDisconnect marks the terminal state of a connection.
	KindDisconnect
)

// Event is one inbound protocol event from a client connection. All events,
// across all connections, flow through a single hub queue so that registry
// mutation and fan-out enumeration are never concurrent.
type Event struct {
	Kind   EventKind
	Sender *Client
	Data   json.RawMessage
}

// parseEvent maps a raw inbound frame onto a dispatchable Event. It reports
// false for frames that are not valid envelopes or that name an event the
// relay does not handle; such frames are dropped without an error reply.
func parseEvent(sender *Client, raw []byte) (Event, bool) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, false
	}

	var kind EventKind
	switch env.Event {
	case EventUserJoin:
		kind = KindJoin
	case EventMessage:
		kind = KindMessage
	case EventTyping:
		kind = KindTyping
	case EventStopTyping:
		kind = KindStopTyping
	default:
		return Event{}, false
	}

	return Event{Kind: kind, Sender: sender, Data: env.Data}, true
}

// encodeFrame marshals an outbound envelope for fan-out.
func encodeFrame(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: payload})
}

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// serverNow returns the server clock as an ISO-8601 string, matching the
// format clients use for their own timestamps.
func serverNow() string {
	return time.Now().UTC().Format(timestampLayout)
}
