// Package bot turns inbound chat events into relay, room and broadcast actions.
package bot

import "github.com/ashureev/roomrelay/internal/domain"

// EventKind is the shape of an inbound event.
type EventKind int

const (
	// EventCommand is a slash command such as /start.
	EventCommand EventKind = iota + 1
	// EventCallback is an inline keyboard button press.
	EventCallback
	// EventMessage is a plain message.
	EventMessage
	// EventReply is a message that replies to an earlier message.
	EventReply
)

func (k EventKind) String() string {
	switch k {
	case EventCommand:
		return "command"
	case EventCallback:
		return "callback"
	case EventMessage:
		return "message"
	case EventReply:
		return "reply"
	}
	return "unknown"
}

// Event is one inbound update, already stripped of platform types.
type Event struct {
	Kind      EventKind
	ChatID    int64
	UserID    int64
	Username  string
	MessageID int

	// Command is the command name without the leading slash.
	Command string

	CallbackID   string
	CallbackData string

	Payload domain.Payload

	// ReplyTo is the id of the message being replied to.
	ReplyTo int
}
