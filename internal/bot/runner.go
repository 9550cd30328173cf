package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Handler processes a single event.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// Runner executes events concurrently across chats while keeping the events of one
// chat in arrival order. At most maxConcurrent events run at once.
type Runner struct {
	handler Handler
	sem     chan struct{}

	mu     sync.Mutex
	queues map[int64][]Event // chat id -> events waiting behind the running one
	wg     sync.WaitGroup
}

// NewRunner creates a runner. maxConcurrent <= 0 means 1.
func NewRunner(h Handler, maxConcurrent int) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Runner{
		handler: h,
		sem:     make(chan struct{}, maxConcurrent),
		queues:  make(map[int64][]Event),
	}
}

// Submit schedules ev. It never blocks on event processing.
func (r *Runner) Submit(ctx context.Context, ev Event) {
	r.mu.Lock()
	if queue, busy := r.queues[ev.ChatID]; busy {
		r.queues[ev.ChatID] = append(queue, ev)
		r.mu.Unlock()
		return
	}
	r.queues[ev.ChatID] = nil
	r.wg.Add(1)
	r.mu.Unlock()

	go r.drain(ctx, ev)
}

// Wait blocks until every submitted event has been processed.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) drain(ctx context.Context, ev Event) {
	defer r.wg.Done()
	chatID := ev.ChatID

	for {
		r.sem <- struct{}{}
		r.run(ctx, ev)
		<-r.sem

		r.mu.Lock()
		queue := r.queues[chatID]
		if len(queue) == 0 {
			delete(r.queues, chatID)
			r.mu.Unlock()
			return
		}
		ev = queue[0]
		r.queues[chatID] = queue[1:]
		r.mu.Unlock()
	}
}

func (r *Runner) run(ctx context.Context, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Panic while handling event",
				"kind", ev.Kind.String(),
				"chat_id", ev.ChatID,
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()))
		}
	}()

	if err := r.handler.Handle(ctx, ev); err != nil {
		slog.Error("Failed to handle event",
			"kind", ev.Kind.String(),
			"chat_id", ev.ChatID,
			"user_id", ev.UserID,
			"error", err)
	}
}
