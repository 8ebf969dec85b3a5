// Package wire defines the JSON envelopes exchanged over a support-chat
// socket. Inbound payloads are tagged events ({"event": ...}), outbound
// payloads are tagged actions ({"action": ...}). Unknown event tags decode
// to UnknownEvent and are never fatal to the connection.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/barchshimelis/supportchat/pkg/models"
)

// Event is the inbound sum type. Exactly one concrete event type matches
// each recognized tag; handlers switch on the concrete type and fall through
// to UnknownEvent for anything unrecognized.
type Event interface {
	eventTag() string
}

type Bootstrap struct {
	Messages []models.Message
}

type MessageEvent struct {
	Message models.Message
}

// ReadEvent signals that the peer has read the thread. It carries no
// content and only drives "seen" affordances.
type ReadEvent struct {
	Reader models.Role
}

type TypingEvent struct {
	Sender models.Role
}

type DeleteEvent struct {
	MessageID string
}

// ErrorEvent is a server-signaled diagnostic. The connection stays open.
type ErrorEvent struct {
	Detail string
}

type UnknownEvent struct {
	Tag string
}

func (Bootstrap) eventTag() string    { return EventBootstrap }
func (MessageEvent) eventTag() string { return EventMessage }
func (ReadEvent) eventTag() string    { return EventRead }
func (TypingEvent) eventTag() string  { return EventTyping }
func (DeleteEvent) eventTag() string  { return EventDelete }
func (ErrorEvent) eventTag() string   { return EventError }
func (UnknownEvent) eventTag() string { return "" }

const (
	EventBootstrap = "bootstrap"
	EventMessage   = "message"
	EventRead      = "read"
	EventTyping    = "typing"
	EventDelete    = "delete"
	EventError     = "error"
)

type eventEnvelope struct {
	Event     string           `json:"event"`
	Messages  []models.Message `json:"messages,omitempty"`
	Message   *models.Message  `json:"message,omitempty"`
	Role      models.Role      `json:"role,omitempty"`
	MessageID string           `json:"message_id,omitempty"`
	Detail    string           `json:"detail,omitempty"`
}

// DecodeEvent parses one inbound frame. Malformed JSON is an error; a
// well-formed frame with an unrecognized tag is not.
func DecodeEvent(data []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	switch env.Event {
	case EventBootstrap:
		return Bootstrap{Messages: env.Messages}, nil
	case EventMessage:
		if env.Message == nil {
			return nil, fmt.Errorf("message event without message payload")
		}
		return MessageEvent{Message: *env.Message}, nil
	case EventRead:
		return ReadEvent{Reader: env.Role}, nil
	case EventTyping:
		return TypingEvent{Sender: env.Role}, nil
	case EventDelete:
		return DeleteEvent{MessageID: env.MessageID}, nil
	case EventError:
		return ErrorEvent{Detail: env.Detail}, nil
	default:
		return UnknownEvent{Tag: env.Event}, nil
	}
}

// EncodeEvent marshals an event for delivery to a socket peer.
func EncodeEvent(ev Event) ([]byte, error) {
	env := eventEnvelope{Event: ev.eventTag()}
	switch e := ev.(type) {
	case Bootstrap:
		env.Messages = e.Messages
	case MessageEvent:
		m := e.Message
		env.Message = &m
	case ReadEvent:
		env.Role = e.Reader
	case TypingEvent:
		env.Role = e.Sender
	case DeleteEvent:
		env.MessageID = e.MessageID
	case ErrorEvent:
		env.Detail = e.Detail
	default:
		return nil, fmt.Errorf("cannot encode event of type %T", ev)
	}
	return json.Marshal(env)
}
