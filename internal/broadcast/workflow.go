// Package broadcast drives the operator's multi-step broadcast dialogue:
// pick an audience, capture one message, then confirm or cancel.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ashureev/roomrelay/internal/clock"
	"github.com/ashureev/roomrelay/internal/domain"
	"github.com/ashureev/roomrelay/internal/feed"
	"github.com/ashureev/roomrelay/internal/store"
	"github.com/ashureev/roomrelay/internal/transport"
)

// RoomCallbackPrefix prefixes callback tokens of the operator room picker.
const RoomCallbackPrefix = "admin_select_"

const (
	msgPromptAll       = "Please send the message you want to broadcast to all users."
	msgPromptRoom      = "Select the room to send the message to:"
	msgRoomSelected    = "You've selected %s. Please send the message you want to broadcast to users in this room."
	msgUnknownRoom     = "Unknown room %q. Please use /send_room again."
	msgBusy            = "A broadcast is already in progress. Use /confirm to send it or /cancel to abort."
	msgUnsupported     = "This message type is not supported for broadcasting. Please send text, photo, video, document, voice, sticker, animation, or video note."
	msgConfirmPrompt   = "You're about to send this message to %s.\nPlease reply with /confirm to send or /cancel to abort."
	msgNothingToSend   = "Nothing to confirm. Please use /send_all or /send_room first."
	msgNoRecipients    = "No %s found to send message to."
	msgRecipientsError = "Could not load recipients. Please try /confirm again."
	msgSummary         = "Message sent to %d out of %d %s."
	msgCancelled       = "Broadcast cancelled."
	msgNothingToCancel = "No pending broadcast to cancel."
)

// Audiences resolves recipients; rooms.Tracker implements it.
type Audiences interface {
	UsersIn(ctx context.Context, roomID string) ([]int64, error)
}

// Response is what the operator is told after a step.
type Response struct {
	Text     string
	Keyboard *transport.Keyboard
}

// Delivery is the outcome of sending to one recipient.
type Delivery struct {
	UserID int64
	Err    error
}

// Report is the outcome of a confirm.
type Report struct {
	Response
	BroadcastID string
	Deliveries  []Delivery
}

// Delivered counts successful deliveries.
func (r Report) Delivered() int {
	n := 0
	for _, d := range r.Deliveries {
		if d.Err == nil {
			n++
		}
	}
	return n
}

// Workflow owns the single pending broadcast slot. Every transition happens under
// one mutex and is mirrored to the store so a dialogue survives a restart.
type Workflow struct {
	repo      store.Repository
	audiences Audiences
	messenger transport.Messenger
	rooms     []domain.Room
	clock     clock.Clock
	feed      *feed.Hub

	mu      sync.Mutex
	pending *domain.PendingBroadcast
}

// NewWorkflow creates an idle workflow.
func NewWorkflow(repo store.Repository, audiences Audiences, messenger transport.Messenger, rooms []domain.Room, c clock.Clock, hub *feed.Hub) *Workflow {
	return &Workflow{
		repo:      repo,
		audiences: audiences,
		messenger: messenger,
		rooms:     rooms,
		clock:     c,
		feed:      hub,
	}
}

// Restore loads a dialogue persisted by a previous process.
func (w *Workflow) Restore(ctx context.Context) error {
	p, err := w.repo.GetPendingBroadcast(ctx)
	if err != nil {
		return &domain.StorageError{Op: "load pending broadcast", Err: err}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = p
	if p.Active() {
		slog.Info("Restored pending broadcast", "broadcast_id", p.ID, "stage", p.Stage.String())
	}
	return nil
}

// Stage returns the current dialogue stage.
func (w *Workflow) Stage() domain.Stage {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return domain.StageIdle
	}
	return w.pending.Stage
}

// Pending returns a copy of the pending broadcast, or nil when idle.
func (w *Workflow) Pending() *domain.PendingBroadcast {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.pending.Active() {
		return nil
	}
	cp := *w.pending
	if cp.Message != nil {
		msg := *cp.Message
		cp.Message = &msg
	}
	return &cp
}

// AwaitingMessage reports whether the next operator message will be captured.
func (w *Workflow) AwaitingMessage() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending.AwaitingMessage()
}

// StartAll begins a broadcast to every user.
func (w *Workflow) StartAll(ctx context.Context) Response {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending.Active() {
		return Response{Text: msgBusy}
	}
	w.set(ctx, w.newPending(domain.StageAwaitingMessage, domain.AllUsersAudience()))
	return Response{Text: msgPromptAll}
}

// RequestRoom begins a room broadcast by offering the room picker.
func (w *Workflow) RequestRoom(ctx context.Context) Response {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending.Active() {
		return Response{Text: msgBusy}
	}
	w.set(ctx, w.newPending(domain.StageAwaitingAudience, domain.Audience{}))
	return Response{Text: msgPromptRoom, Keyboard: RoomKeyboard(w.rooms)}
}

// SelectRoom fixes the audience to one room. It is accepted while idle as well,
// since the picker message can outlive the dialogue that posted it.
func (w *Workflow) SelectRoom(ctx context.Context, roomID string) Response {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending.Active() && w.pending.Stage != domain.StageAwaitingAudience {
		return Response{Text: msgBusy}
	}
	if !w.knownRoom(roomID) {
		return Response{Text: fmt.Sprintf(msgUnknownRoom, roomID)}
	}

	p := w.pending
	if !p.Active() {
		p = w.newPending(domain.StageAwaitingMessage, domain.RoomAudience(roomID))
	} else {
		p.Stage = domain.StageAwaitingMessage
		p.Audience = domain.RoomAudience(roomID)
	}
	w.set(ctx, p)
	return Response{Text: fmt.Sprintf(msgRoomSelected, roomID)}
}

// Capture takes the operator's message while one is awaited. handled is false
// when no message is awaited, in which case the caller should ignore the message.
func (w *Workflow) Capture(ctx context.Context, payload domain.Payload) (resp Response, handled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.pending.AwaitingMessage() {
		return Response{}, false
	}
	if !payload.Supported() {
		return Response{Text: msgUnsupported}, true
	}

	msg := payload
	w.pending.Message = &msg
	w.pending.Stage = domain.StageAwaitingConfirmation
	w.set(ctx, w.pending)

	w.feed.Publish(feed.Event{
		Type:        feed.EventBroadcastCaptured,
		BroadcastID: w.pending.ID,
		Kind:        payload.Kind.String(),
		Detail:      w.pending.Audience.Describe(),
	})
	return Response{Text: fmt.Sprintf(msgConfirmPrompt, w.pending.Audience.Describe())}, true
}

// Confirm sends the captured message to every recipient of the audience. Each
// send is independent; failures are logged and counted, never fatal.
func (w *Workflow) Confirm(ctx context.Context) Report {
	w.mu.Lock()
	if w.pending == nil || w.pending.Stage != domain.StageAwaitingConfirmation || w.pending.Message == nil {
		w.mu.Unlock()
		return Report{Response: Response{Text: msgNothingToSend}}
	}

	p := *w.pending
	target := p.Audience.Describe()
	recipients, err := w.audiences.UsersIn(ctx, p.Audience.Filter())
	if err != nil {
		w.mu.Unlock()
		slog.Error("Failed to resolve broadcast audience", "broadcast_id", p.ID, "error", err)
		return Report{Response: Response{Text: msgRecipientsError}, BroadcastID: p.ID}
	}

	// Clear before sending so a second confirm cannot send twice.
	w.set(ctx, nil)
	w.mu.Unlock()

	if len(recipients) == 0 {
		slog.Info("Broadcast has no recipients", "broadcast_id", p.ID, "audience", target)
		return Report{Response: Response{Text: fmt.Sprintf(msgNoRecipients, target)}, BroadcastID: p.ID}
	}

	deliveries := make([]Delivery, 0, len(recipients))
	for _, userID := range recipients {
		_, err := w.messenger.Send(ctx, transport.Outbound{
			ChatID:   userID,
			Payload:  *p.Message,
			Markdown: p.Message.Kind == domain.KindText,
		})
		if err != nil {
			slog.Error("Error sending broadcast to user", "broadcast_id", p.ID, "user_id", userID, "error", err)
			err = &domain.DeliveryError{ChatID: userID, Err: err}
		}
		deliveries = append(deliveries, Delivery{UserID: userID, Err: err})
	}

	report := Report{BroadcastID: p.ID, Deliveries: deliveries}
	report.Text = fmt.Sprintf(msgSummary, report.Delivered(), len(recipients), target)

	slog.Info("Broadcast finished",
		"broadcast_id", p.ID,
		"audience", target,
		"delivered", report.Delivered(),
		"total", len(recipients))
	w.feed.Publish(feed.Event{
		Type:        feed.EventBroadcastSent,
		BroadcastID: p.ID,
		Kind:        p.Message.Kind.String(),
		Detail:      report.Text,
	})
	return report
}

// Cancel abandons any dialogue in progress.
func (w *Workflow) Cancel(ctx context.Context) Response {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.pending.Active() {
		return Response{Text: msgNothingToCancel}
	}
	id := w.pending.ID
	w.set(ctx, nil)

	w.feed.Publish(feed.Event{Type: feed.EventBroadcastCancelled, BroadcastID: id})
	return Response{Text: msgCancelled}
}

// RoomKeyboard renders the operator room picker, two rooms per row.
func RoomKeyboard(rooms []domain.Room) *transport.Keyboard {
	buttons := make([]transport.Button, 0, len(rooms))
	for _, r := range rooms {
		buttons = append(buttons, transport.Button{Text: r.Label, Data: RoomCallbackPrefix + r.ID})
	}
	return transport.Grid(buttons, 2)
}

// ParseRoomCallback extracts the room id from an operator picker token.
func ParseRoomCallback(data string) (string, bool) {
	if !strings.HasPrefix(data, RoomCallbackPrefix) {
		return "", false
	}
	return strings.TrimPrefix(data, RoomCallbackPrefix), true
}

func (w *Workflow) newPending(stage domain.Stage, audience domain.Audience) *domain.PendingBroadcast {
	return &domain.PendingBroadcast{
		ID:        uuid.NewString(),
		Stage:     stage,
		Audience:  audience,
		StartedAt: w.clock.Now(),
	}
}

func (w *Workflow) knownRoom(id string) bool {
	for _, r := range w.rooms {
		if r.ID == id {
			return true
		}
	}
	return false
}

// set replaces the slot. Callers hold w.mu. Persistence is best-effort: the
// in-memory slot stays authoritative for this process.
func (w *Workflow) set(ctx context.Context, p *domain.PendingBroadcast) {
	w.pending = p

	var err error
	if p.Active() {
		err = w.repo.SavePendingBroadcast(ctx, p)
	} else {
		err = w.repo.ClearPendingBroadcast(ctx)
	}
	if err != nil {
		slog.Error("Failed to persist pending broadcast", "error", err)
	}
}
