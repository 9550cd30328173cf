package transport

import (
	"context"
	"sync"
)

// Edit records an EditText call.
type Edit struct {
	ChatID    int64
	MessageID int
	Text      string
	Keyboard  *Keyboard
}

// Recorder is an in-memory Messenger for tests. It assigns increasing message ids
// and can be told to fail sends to given chats.
type Recorder struct {
	mu        sync.Mutex
	nextID    int
	sent      []Outbound
	edits     []Edit
	answered  []string
	failChats map[int64]error
}

// NewRecorder creates a Recorder whose first message id is firstID.
func NewRecorder(firstID int) *Recorder {
	return &Recorder{nextID: firstID, failChats: make(map[int64]error)}
}

// FailChat makes every send to chatID return err.
func (r *Recorder) FailChat(chatID int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failChats[chatID] = err
}

// Send records msg and returns the next id.
func (r *Recorder) Send(_ context.Context, msg Outbound) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failChats[msg.ChatID]; ok {
		return 0, err
	}
	id := r.nextID
	r.nextID++
	r.sent = append(r.sent, msg)
	return id, nil
}

// EditText records the edit.
func (r *Recorder) EditText(_ context.Context, chatID int64, messageID int, text string, kb *Keyboard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edits = append(r.edits, Edit{ChatID: chatID, MessageID: messageID, Text: text, Keyboard: kb})
	return nil
}

// AnswerCallback records the acknowledgement.
func (r *Recorder) AnswerCallback(_ context.Context, callbackID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answered = append(r.answered, callbackID)
	return nil
}

// Sent returns a copy of all delivered messages in send order.
func (r *Recorder) Sent() []Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outbound(nil), r.sent...)
}

// SentTo returns delivered messages addressed to chatID.
func (r *Recorder) SentTo(chatID int64) []Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Outbound
	for _, m := range r.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// Edits returns a copy of all recorded edits.
func (r *Recorder) Edits() []Edit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Edit(nil), r.edits...)
}

// Answered returns acknowledged callback ids.
func (r *Recorder) Answered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.answered...)
}
