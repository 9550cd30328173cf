// Package reset clears every user's daily room selection once per day after the cutover.
package reset

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ashureev/roomrelay/internal/clock"
	"github.com/ashureev/roomrelay/internal/domain"
	"github.com/ashureev/roomrelay/internal/store"
)

// Notifier receives a callback after a reset has been applied.
type Notifier func(day domain.Date)

// Engine is the idempotent daily reset gate. It is safe for concurrent use.
type Engine struct {
	repo   store.Repository
	window *clock.DayWindow
	onDone Notifier

	mu        sync.Mutex
	lastReset domain.Date // cache of the persisted watermark
}

// NewEngine creates a reset engine.
func NewEngine(repo store.Repository, window *clock.DayWindow) *Engine {
	return &Engine{repo: repo, window: window}
}

// OnReset registers a callback invoked after each applied reset.
func (e *Engine) OnReset(fn Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDone = fn
}

// MaybeReset runs the daily reset if the cutover has passed and today's reset has
// not happened yet. Storage failures are logged and leave state as it was.
func (e *Engine) MaybeReset(ctx context.Context) {
	today, past := e.window.Current()
	if !past {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lastReset == today {
		return
	}

	applied, err := e.repo.ApplyDailyReset(ctx, today)
	if err != nil {
		slog.Error("Daily reset failed, continuing with stale selections", "date", today, "error", err)
		return
	}
	e.lastReset = today

	if !applied {
		return
	}
	slog.Info("All room selections have been reset", "date", today)
	if e.onDone != nil {
		e.onDone(today)
	}
}
