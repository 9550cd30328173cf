package domain

import (
	"fmt"
	"time"
)

// Stage is a position in the operator broadcast dialogue.
type Stage int

// Broadcast stages in dialogue order.
const (
	StageIdle Stage = iota
	StageAwaitingAudience
	StageAwaitingMessage
	StageAwaitingConfirmation
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageAwaitingAudience:
		return "awaiting_audience"
	case StageAwaitingMessage:
		return "awaiting_message"
	case StageAwaitingConfirmation:
		return "awaiting_confirmation"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Audience selects the recipients of a broadcast: every known user, or the
// users whose current room is Room.
type Audience struct {
	AllUsers bool   `json:"all_users"`
	Room     string `json:"room,omitempty"`
}

// AllUsersAudience targets every user with a room record.
func AllUsersAudience() Audience {
	return Audience{AllUsers: true}
}

// RoomAudience targets users currently assigned to room.
func RoomAudience(room string) Audience {
	return Audience{Room: room}
}

// Filter returns the room filter for recipient lookup; empty means all users.
func (a Audience) Filter() string {
	if a.AllUsers {
		return ""
	}
	return a.Room
}

// Describe renders the audience for operator-facing messages.
func (a Audience) Describe() string {
	if a.AllUsers {
		return "all users"
	}
	return "users in " + a.Room
}

// PendingBroadcast is the single in-flight operator broadcast.
// Message is set exactly when Stage is StageAwaitingConfirmation.
type PendingBroadcast struct {
	ID        string
	Stage     Stage
	Audience  Audience
	Message   *Payload
	StartedAt time.Time
}

// AwaitingMessage reports whether the next operator message is captured.
func (p *PendingBroadcast) AwaitingMessage() bool {
	return p != nil && p.Stage == StageAwaitingMessage
}

// Active reports whether a dialogue is in progress.
func (p *PendingBroadcast) Active() bool {
	return p != nil && p.Stage != StageIdle
}
