// Package retention prunes relay mappings that are too old to be replied to.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/roomrelay/internal/clock"
	"github.com/ashureev/roomrelay/internal/domain"
	"github.com/ashureev/roomrelay/internal/store"
)

// DefaultInterval is how often the worker sweeps.
const DefaultInterval = time.Hour

// Prune deletes mappings older than maxAge and returns how many were removed.
func Prune(ctx context.Context, repo store.Repository, c clock.Clock, maxAge time.Duration) (int64, error) {
	cutoff := c.Now().Add(-maxAge)

	deleted, err := repo.PruneRelayMappings(ctx, cutoff)
	if err != nil {
		return 0, &domain.StorageError{Op: "prune relay mappings", Err: err}
	}
	return deleted, nil
}

// StartWorker runs a background goroutine that prunes mappings older than maxAge
// every interval until ctx is done. A non-positive maxAge keeps mappings forever
// and starts nothing.
func StartWorker(ctx context.Context, repo store.Repository, c clock.Clock, maxAge, interval time.Duration) {
	if maxAge <= 0 {
		slog.Info("Relay mapping retention disabled, keeping mappings forever")
		return
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "max_age", maxAge)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, repo, c, maxAge)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, repo store.Repository, c clock.Clock, maxAge time.Duration) {
	deleted, err := Prune(ctx, repo, c, maxAge)
	if err != nil {
		slog.Error("Retention worker failed to prune relay mappings", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Retention worker pruned relay mappings", "count", deleted)
	}
}
