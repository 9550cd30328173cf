package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownOrigin is returned when a reply references a relay message with no mapping.
	ErrUnknownOrigin = errors.New("cannot find the original message")

	// ErrUnsupportedPayload is returned for message shapes outside the handled set.
	ErrUnsupportedPayload = errors.New("unsupported payload type")

	// ErrUnknownRoom is returned when a selection names a room that is not configured.
	ErrUnknownRoom = errors.New("unknown room")
)

// StorageError wraps a read or write failure on the state store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// DeliveryError wraps a failed send to a single chat.
type DeliveryError struct {
	ChatID int64
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to chat %d: %v", e.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsStorage reports whether err is a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsDelivery reports whether err is a DeliveryError.
func IsDelivery(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}
