// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/roomrelay/internal/domain"
)

// Repository defines the interface for persisting room assignments, the reset
// watermark, relay mappings and the pending broadcast slot.
type Repository interface {
	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// GetRoomAssignment retrieves a user's room record. Returns nil, nil when absent.
	GetRoomAssignment(ctx context.Context, userID int64) (*domain.RoomAssignment, error)

	// UpsertRoomAssignment creates or replaces a user's room record.
	UpsertRoomAssignment(ctx context.Context, a *domain.RoomAssignment) error

	// ListUserIDs returns users whose current room is room, or all users when room is empty.
	ListUserIDs(ctx context.Context, room string) ([]int64, error)

	// GetResetWatermark returns the singleton reset watermark.
	GetResetWatermark(ctx context.Context) (*domain.ResetWatermark, error)

	// ApplyDailyReset clears every selection date and moves the watermark to today,
	// atomically and only if the watermark is not already today. Reports whether it ran.
	ApplyDailyReset(ctx context.Context, today domain.Date) (bool, error)

	// SaveRelayMappings writes mappings in one transaction, overwriting existing ids.
	SaveRelayMappings(ctx context.Context, mappings ...*domain.RelayMapping) error

	// GetRelayMapping looks up a relay message id. Returns nil, nil when absent.
	GetRelayMapping(ctx context.Context, relayMessageID int) (*domain.RelayMapping, error)

	// PruneRelayMappings deletes mappings created before the cutoff.
	PruneRelayMappings(ctx context.Context, before time.Time) (int64, error)

	// GetPendingBroadcast loads the broadcast slot. Returns nil, nil when idle.
	GetPendingBroadcast(ctx context.Context) (*domain.PendingBroadcast, error)

	// SavePendingBroadcast replaces the broadcast slot.
	SavePendingBroadcast(ctx context.Context, p *domain.PendingBroadcast) error

	// ClearPendingBroadcast empties the broadcast slot.
	ClearPendingBroadcast(ctx context.Context) error

	// Stats summarises persisted state as of today.
	Stats(ctx context.Context, today domain.Date) (*domain.Stats, error)
}
