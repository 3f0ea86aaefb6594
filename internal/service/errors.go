package service

import (
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/helper-slots/internal/model"
)

// Engine errors
var (
	// Validation errors
	ErrInvalidInput  = errors.New("invalid input")
	ErrEventNotFound = errors.New("event not found")
	ErrSlotNotFound  = errors.New("slot not found")

	// Signup conflicts
	ErrSlotConflict      = errors.New("slot overlaps a confirmed reservation")
	ErrAlreadySignedUp   = errors.New("already signed up for a slot of this event")
	ErrAlreadyRegistered = errors.New("already registered for this event")

	// Cancellation errors
	ErrCancellationNotFound     = errors.New("no active reservation to cancel")
	ErrCancellationWindowClosed = errors.New("event has started; cancellation is closed")
)

// SlotConflictError names the event whose confirmed slot overlaps the
// requested one. It matches ErrSlotConflict with errors.Is.
type SlotConflictError struct {
	EventID    string
	EventTitle string
	Conflicts  []model.Conflict
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("slot overlaps your confirmed reservation for %q", e.EventTitle)
}

// Is reports whether target is ErrSlotConflict.
func (e *SlotConflictError) Is(target error) bool {
	return target == ErrSlotConflict
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrSlotNotFound) ||
		errors.Is(err, ErrCancellationNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsConflictError checks if the error is a business-rule conflict
func IsConflictError(err error) bool {
	return errors.Is(err, ErrSlotConflict) ||
		errors.Is(err, ErrAlreadySignedUp) ||
		errors.Is(err, ErrAlreadyRegistered) ||
		errors.Is(err, ErrCancellationWindowClosed)
}

// reason is a short label for metrics and logs.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrEventNotFound):
		return "event_not_found"
	case errors.Is(err, ErrSlotNotFound):
		return "slot_not_found"
	case errors.Is(err, ErrSlotConflict):
		return "slot_conflict"
	case errors.Is(err, ErrAlreadySignedUp):
		return "already_signed_up"
	case errors.Is(err, ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, ErrCancellationNotFound):
		return "cancellation_not_found"
	case errors.Is(err, ErrCancellationWindowClosed):
		return "cancellation_window_closed"
	}
	return "internal"
}
