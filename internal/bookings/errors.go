package bookings

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("bookings: invalid input")
	ErrInvalidTransition = errors.New("bookings: invalid transition")
	ErrNotFound          = errors.New("bookings: not found")
	ErrRoomConflict      = errors.New("bookings: room conflict")
	ErrIntegrity         = errors.New("bookings: integrity violation")
	ErrAlreadyInitiated  = errors.New("bookings: payment session already initiated")
	ErrNoActiveIncident  = errors.New("bookings: no active overstay incident")
	ErrDuplicate         = errors.New("bookings: duplicate record")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	From   Status
	To     Status
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("bookings: invalid transition %s -> %s", e.From, e.To)
	}
	return fmt.Sprintf("bookings: invalid transition %s -> %s: %s", e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
