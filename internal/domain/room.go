// Package domain contains core domain types for the room relay bot.
package domain

import (
	"time"
)

// Date is a calendar date in the bot's configured timezone, formatted YYYY-MM-DD.
type Date string

// DateLayout is the storage and comparison format of Date.
const DateLayout = "2006-01-02"

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

// Room is one selectable room. ID doubles as the callback token and the stored value.
type Room struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// RoomAssignment is a user's current room and whether it was picked since the last reset.
type RoomAssignment struct {
	UserID            int64  `json:"user_id"`
	DisplayName       string `json:"display_name"`
	SelectedRoom      string `json:"selected_room,omitempty"`
	LastSelectionDate *Date  `json:"last_selection_date,omitempty"`
}

// SelectedOn reports whether the assignment was made on day and not cleared since.
func (a *RoomAssignment) SelectedOn(day Date) bool {
	if a == nil || a.LastSelectionDate == nil {
		return false
	}
	return *a.LastSelectionDate == day
}

// ResetWatermark records the last day the daily reset ran.
type ResetWatermark struct {
	LastResetDate *Date
}

// RelayMapping ties a message in the operator chat back to the conversation it came from.
type RelayMapping struct {
	RelayMessageID int       `json:"relay_message_id"`
	OriginChatID   int64     `json:"origin_chat_id"`
	OriginUserID   int64     `json:"origin_user_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Stats summarises persisted state for status reporting.
type Stats struct {
	Users          int            `json:"users"`
	SelectedToday  int            `json:"selected_today"`
	UsersByRoom    map[string]int `json:"users_by_room"`
	RelayMappings  int            `json:"relay_mappings"`
	LastResetDate  *Date          `json:"last_reset_date,omitempty"`
	BroadcastStage string         `json:"broadcast_stage"`
}
