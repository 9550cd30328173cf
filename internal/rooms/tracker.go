// Package rooms tracks each user's room and whether it was picked today.
package rooms

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ashureev/roomrelay/internal/clock"
	"github.com/ashureev/roomrelay/internal/domain"
	"github.com/ashureev/roomrelay/internal/store"
)

// Tracker is the room assignment service.
type Tracker struct {
	repo   store.Repository
	window *clock.DayWindow
	rooms  []domain.Room
}

// NewTracker creates a tracker over the configured, ordered room list.
func NewTracker(repo store.Repository, window *clock.DayWindow, rooms []domain.Room) *Tracker {
	return &Tracker{repo: repo, window: window, rooms: rooms}
}

// Rooms returns the configured rooms in display order.
func (t *Tracker) Rooms() []domain.Room {
	return t.rooms
}

// Room looks up a configured room by id.
func (t *Tracker) Room(id string) (domain.Room, bool) {
	for _, r := range t.rooms {
		if r.ID == id {
			return r, true
		}
	}
	return domain.Room{}, false
}

// Today returns the current calendar date in the configured timezone.
func (t *Tracker) Today() domain.Date {
	return t.window.Today()
}

// CurrentAssignment returns the user's room record, or nil if they never selected one.
func (t *Tracker) CurrentAssignment(ctx context.Context, userID int64) (*domain.RoomAssignment, error) {
	a, err := t.repo.GetRoomAssignment(ctx, userID)
	if err != nil {
		return nil, &domain.StorageError{Op: "get room assignment", Err: err}
	}
	return a, nil
}

// HasSelectedToday reports whether the user picked a room since today's reset.
func (t *Tracker) HasSelectedToday(ctx context.Context, userID int64) (bool, error) {
	a, err := t.CurrentAssignment(ctx, userID)
	if err != nil {
		return false, err
	}
	return a.SelectedOn(t.window.Today()), nil
}

// RecordSelection stores the user's room choice dated today. Re-selecting the same
// room refreshes the date.
func (t *Tracker) RecordSelection(ctx context.Context, userID int64, roomID, displayName string) error {
	if _, ok := t.Room(roomID); !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownRoom, roomID)
	}

	today := t.window.Today()
	err := t.repo.UpsertRoomAssignment(ctx, &domain.RoomAssignment{
		UserID:            userID,
		DisplayName:       displayName,
		SelectedRoom:      roomID,
		LastSelectionDate: &today,
	})
	if err != nil {
		return &domain.StorageError{Op: "record selection", Err: err}
	}
	return nil
}

// UsersIn returns users currently assigned to roomID, or every user when roomID is
// empty. Membership is independent of the daily reset.
func (t *Tracker) UsersIn(ctx context.Context, roomID string) ([]int64, error) {
	ids, err := t.repo.ListUserIDs(ctx, roomID)
	if err != nil {
		return nil, &domain.StorageError{Op: "list users", Err: err}
	}
	return ids, nil
}

// DisplayName returns the platform username, or a name synthesized from the id.
func DisplayName(username string, userID int64) string {
	if username != "" {
		return username
	}
	return "user_" + strconv.FormatInt(userID, 10)
}
