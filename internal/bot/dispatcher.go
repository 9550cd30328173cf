package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/roomrelay/internal/broadcast"
	"github.com/ashureev/roomrelay/internal/domain"
	"github.com/ashureev/roomrelay/internal/relay"
	"github.com/ashureev/roomrelay/internal/reset"
	"github.com/ashureev/roomrelay/internal/rooms"
	"github.com/ashureev/roomrelay/internal/transport"
)

const (
	msgSelectRoom     = "Please select a room:"
	msgCurrentRoom    = "You've selected %s. You can change your selection:"
	msgRoomRecorded   = "You've selected %s. You can change your selection anytime."
	msgSelectFirst    = "Please select a room first before sending messages."
	msgMessageSent    = "Message sent ✓"
	msgForwardFailed  = "Sorry, your message could not be delivered. Please try again."
	msgReplySent      = "Reply sent to user ✓"
	msgUnknownOrigin  = "Cannot find the original message this is a reply to."
	msgReplyFailed    = "Error sending reply: %v"
	msgTemporaryError = "Something went wrong, please try again later."
)

// Operator commands.
const (
	cmdStart    = "start"
	cmdSendAll  = "send_all"
	cmdSendRoom = "send_room"
	cmdConfirm  = "confirm"
	cmdCancel   = "cancel"
)

// Dispatcher routes events to the services that own them. Handle is safe for
// concurrent use; per-chat ordering is the Runner's job.
type Dispatcher struct {
	reset     *reset.Engine
	tracker   *rooms.Tracker
	router    *relay.Router
	workflow  *broadcast.Workflow
	messenger transport.Messenger
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(engine *reset.Engine, tracker *rooms.Tracker, router *relay.Router, workflow *broadcast.Workflow, messenger transport.Messenger) *Dispatcher {
	return &Dispatcher{
		reset:     engine,
		tracker:   tracker,
		router:    router,
		workflow:  workflow,
		messenger: messenger,
	}
}

// Handle processes one event. The daily reset check always runs first.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) error {
	d.reset.MaybeReset(ctx)

	fromOperator := ev.ChatID == d.router.OperatorChatID()

	switch ev.Kind {
	case EventCommand:
		return d.handleCommand(ctx, ev, fromOperator)
	case EventCallback:
		return d.handleCallback(ctx, ev, fromOperator)
	case EventReply:
		if fromOperator {
			return d.handleOperatorReply(ctx, ev)
		}
		return d.handleUserMessage(ctx, ev)
	case EventMessage:
		if fromOperator {
			return d.handleOperatorMessage(ctx, ev)
		}
		return d.handleUserMessage(ctx, ev)
	}
	slog.Warn("Ignoring event of unknown kind", "kind", int(ev.Kind), "chat_id", ev.ChatID)
	return nil
}

func (d *Dispatcher) handleCommand(ctx context.Context, ev Event, fromOperator bool) error {
	if ev.Command == cmdStart {
		return d.sendRoomMenu(ctx, ev)
	}
	if !fromOperator {
		return nil
	}

	var resp broadcast.Response
	switch ev.Command {
	case cmdSendAll:
		resp = d.workflow.StartAll(ctx)
	case cmdSendRoom:
		resp = d.workflow.RequestRoom(ctx)
	case cmdConfirm:
		resp = d.workflow.Confirm(ctx).Response
	case cmdCancel:
		resp = d.workflow.Cancel(ctx)
	default:
		return nil
	}
	return d.respond(ctx, ev.ChatID, resp)
}

func (d *Dispatcher) handleCallback(ctx context.Context, ev Event, fromOperator bool) error {
	if err := d.messenger.AnswerCallback(ctx, ev.CallbackID); err != nil {
		slog.Warn("Failed to answer callback", "callback_id", ev.CallbackID, "error", err)
	}

	if roomID, ok := broadcast.ParseRoomCallback(ev.CallbackData); ok {
		if !fromOperator {
			slog.Warn("Ignoring operator callback from another chat", "chat_id", ev.ChatID)
			return nil
		}
		resp := d.workflow.SelectRoom(ctx, roomID)
		return d.messenger.EditText(ctx, ev.ChatID, ev.MessageID, resp.Text, resp.Keyboard)
	}

	roomID := ev.CallbackData
	name := rooms.DisplayName(ev.Username, ev.UserID)
	if err := d.tracker.RecordSelection(ctx, ev.UserID, roomID, name); err != nil {
		if errors.Is(err, domain.ErrUnknownRoom) {
			slog.Warn("Ignoring selection of unknown room", "user_id", ev.UserID, "room", roomID)
			return nil
		}
		return err
	}
	slog.Info("User selected room", "user_id", ev.UserID, "room", roomID)

	return d.messenger.EditText(ctx, ev.ChatID, ev.MessageID,
		fmt.Sprintf(msgRoomRecorded, roomID), d.roomKeyboard())
}

func (d *Dispatcher) handleOperatorReply(ctx context.Context, ev Event) error {
	err := d.router.RelayReplyToOrigin(ctx, ev.ReplyTo, ev.Payload)

	var ack string
	switch {
	case err == nil:
		ack = msgReplySent
	case errors.Is(err, domain.ErrUnknownOrigin):
		ack = msgUnknownOrigin
	default:
		var de *domain.DeliveryError
		if errors.As(err, &de) {
			ack = fmt.Sprintf(msgReplyFailed, de.Err)
		} else {
			ack = fmt.Sprintf(msgReplyFailed, err)
		}
	}
	if _, sendErr := d.messenger.Send(ctx, transport.Text(ev.ChatID, ack)); sendErr != nil {
		slog.Error("Failed to acknowledge operator reply", "error", sendErr)
	}

	if domain.IsStorage(err) {
		return err
	}
	return nil
}

func (d *Dispatcher) handleOperatorMessage(ctx context.Context, ev Event) error {
	resp, handled := d.workflow.Capture(ctx, ev.Payload)
	if !handled {
		return nil
	}
	return d.respond(ctx, ev.ChatID, resp)
}

func (d *Dispatcher) handleUserMessage(ctx context.Context, ev Event) error {
	a, err := d.tracker.CurrentAssignment(ctx, ev.UserID)
	if err != nil {
		d.notify(ctx, ev.ChatID, msgTemporaryError)
		return err
	}
	if !a.SelectedOn(d.tracker.Today()) {
		if err := d.sendMenu(ctx, ev.ChatID, a); err != nil {
			return err
		}
		d.notify(ctx, ev.ChatID, msgSelectFirst)
		return nil
	}

	name := a.DisplayName
	if name == "" {
		name = rooms.DisplayName(ev.Username, ev.UserID)
	}
	header := relay.Header(name, a.SelectedRoom)
	origin := relay.Origin{ChatID: ev.ChatID, UserID: ev.UserID}

	if _, err := d.router.ForwardToOperator(ctx, origin, header, ev.Payload); err != nil {
		slog.Error("Failed to forward message to operator", "chat_id", ev.ChatID, "user_id", ev.UserID, "error", err)
		d.notify(ctx, ev.ChatID, msgForwardFailed)
		return err
	}
	d.notify(ctx, ev.ChatID, msgMessageSent)
	return nil
}

func (d *Dispatcher) sendRoomMenu(ctx context.Context, ev Event) error {
	a, err := d.tracker.CurrentAssignment(ctx, ev.UserID)
	if err != nil {
		d.notify(ctx, ev.ChatID, msgTemporaryError)
		return err
	}
	return d.sendMenu(ctx, ev.ChatID, a)
}

func (d *Dispatcher) sendMenu(ctx context.Context, chatID int64, a *domain.RoomAssignment) error {
	text := msgSelectRoom
	if a.SelectedOn(d.tracker.Today()) && a.SelectedRoom != "" {
		text = fmt.Sprintf(msgCurrentRoom, a.SelectedRoom)
	}
	msg := transport.Text(chatID, text)
	msg.Keyboard = d.roomKeyboard()
	if _, err := d.messenger.Send(ctx, msg); err != nil {
		return &domain.DeliveryError{ChatID: chatID, Err: err}
	}
	return nil
}

func (d *Dispatcher) roomKeyboard() *transport.Keyboard {
	rs := d.tracker.Rooms()
	buttons := make([]transport.Button, 0, len(rs))
	for _, r := range rs {
		buttons = append(buttons, transport.Button{Text: r.Label, Data: r.ID})
	}
	return transport.Grid(buttons, 2)
}

func (d *Dispatcher) respond(ctx context.Context, chatID int64, resp broadcast.Response) error {
	if resp.Text == "" {
		return nil
	}
	msg := transport.Text(chatID, resp.Text)
	msg.Keyboard = resp.Keyboard
	if _, err := d.messenger.Send(ctx, msg); err != nil {
		return &domain.DeliveryError{ChatID: chatID, Err: err}
	}
	return nil
}

// notify sends a short status text. Failures are logged only.
func (d *Dispatcher) notify(ctx context.Context, chatID int64, text string) {
	if _, err := d.messenger.Send(ctx, transport.Text(chatID, text)); err != nil {
		slog.Warn("Failed to send notice", "chat_id", chatID, "error", err)
	}
}
