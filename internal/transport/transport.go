// Package transport defines the outbound messaging port the relay core depends on.
package transport

import (
	"context"

	"github.com/ashureev/roomrelay/internal/domain"
)

// Button is one inline keyboard button. Data is returned as the callback token.
type Button struct {
	Text string
	Data string
}

// Keyboard is an inline keyboard laid out in rows.
type Keyboard struct {
	Rows [][]Button
}

// Grid lays buttons out perRow per row.
func Grid(buttons []Button, perRow int) *Keyboard {
	if perRow <= 0 {
		perRow = 1
	}
	kb := &Keyboard{}
	for i := 0; i < len(buttons); i += perRow {
		end := i + perRow
		if end > len(buttons) {
			end = len(buttons)
		}
		kb.Rows = append(kb.Rows, buttons[i:end])
	}
	return kb
}

// Outbound is one message to send. Payload.Kind selects the platform send
// operation; Payload.Caption is used for captionable media.
type Outbound struct {
	ChatID   int64
	Payload  domain.Payload
	Markdown bool
	ReplyTo  int
	Keyboard *Keyboard
}

// Text builds a plain text outbound message.
func Text(chatID int64, text string) Outbound {
	return Outbound{ChatID: chatID, Payload: domain.TextPayload(text)}
}

// Messenger sends, edits and acknowledges messages on the chat platform.
type Messenger interface {
	// Send delivers msg and returns the platform message id.
	Send(ctx context.Context, msg Outbound) (int, error)

	// EditText replaces the text and keyboard of an earlier message.
	EditText(ctx context.Context, chatID int64, messageID int, text string, kb *Keyboard) error

	// AnswerCallback acknowledges a button press.
	AnswerCallback(ctx context.Context, callbackID string) error
}
