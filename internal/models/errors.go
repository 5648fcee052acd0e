package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by every NotFoundError
	ErrNotFound = errors.New("not found")
	// ErrGatewayUnavailable means the payment gateway could not be reached
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrInvalidRange means check-out is before check-in
	ErrInvalidRange = errors.New("invalid stay range: check-out before check-in")
	// ErrEmptyRange means the stay covers no nights
	ErrEmptyRange = errors.New("empty stay range: no nights between check-in and check-out")
	// ErrMissingIdentifiers means no payment intent, session or booking id was given
	ErrMissingIdentifiers = errors.New("at least one of payment_intent, session_id or booking_id is required")
	// ErrRoomNotFound means the booked room record does not exist
	ErrRoomNotFound = &NotFoundError{Resource: "room"}
	// ErrBookingNotFound means the booking record does not exist
	ErrBookingNotFound = &NotFoundError{Resource: "booking"}
	// ErrConcurrentUpdate means a compare-and-set lost against another writer
	ErrConcurrentUpdate = errors.New("booking was modified concurrently")
	// ErrNotConfirmed means an operation requires a confirmed booking
	ErrNotConfirmed = errors.New("booking is not confirmed")
)

// NotFoundError reports a missing booking, room or gateway record
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// Is matches ErrNotFound and any NotFoundError for the same resource
func (e *NotFoundError) Is(target error) bool {
	if target == ErrNotFound {
		return true
	}
	var other *NotFoundError
	if errors.As(target, &other) {
		return other.Resource == e.Resource && (other.ID == "" || other.ID == e.ID)
	}
	return false
}

// NewNotFound creates a NotFoundError
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// PartialFailureError reports that the booking status was committed but the
// nights could not be locked. The committed booking is carried so callers can
// still show it and staff can re-run locking.
type PartialFailureError struct {
	Booking *Booking
	Cause   error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("booking %s saved but dates not locked: %v", e.Booking.ID, e.Cause)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Cause
}
