// Package repository implements persistence for events, helper slots and
// reservations. Queries are hand-written SQL (no ORM); the reservation engine
// only touches storage through the transactional Tx interface.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/helper-slots/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateActive is returned when an insert would give a member a second
// active reservation for the same event.
var ErrDuplicateActive = errors.New("member already holds an active reservation for this event")

// ErrTxConflict is returned when the database aborted a transaction because it
// lost a race (serialization failure, deadlock, busy database). The whole unit
// of work may be retried.
var ErrTxConflict = errors.New("transaction conflict")

// Store is the persistence boundary. Event and slot management use the plain
// methods; the reservation engine runs every read and write inside WithTx.
type Store interface {
	// WithTx runs fn in a single transaction. The transaction commits if fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	CreateEvent(ctx context.Context, event *model.Event) error
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)

	CreateSlot(ctx context.Context, slot *model.HelperSlot) error
	GetSlot(ctx context.Context, id string) (*model.HelperSlot, error)
	ListSlots(ctx context.Context, eventID string) ([]model.HelperSlot, error)

	ListReservationsByEvent(ctx context.Context, eventID string) ([]model.Reservation, error)
	ListReservationsByMember(ctx context.Context, memberID string) ([]model.Reservation, error)
}

// Tx is the unit-of-work view used by the reservation engine.
//
// Lock order is slot row first, then member locks. Implementations that
// serialize whole transactions may treat the lock methods as plain reads.
type Tx interface {
	// GetEvent reads an event's scheduling fields.
	GetEvent(ctx context.Context, id string) (*model.Event, error)

	// LockSlot reads a slot and holds a row lock on it until the transaction ends.
	LockSlot(ctx context.Context, id string) (*model.HelperSlot, error)

	// LockMember serializes transactions acting on the same member.
	LockMember(ctx context.Context, memberID string) error

	// CountSlot returns confirmed and waitlisted counts for a slot.
	CountSlot(ctx context.Context, slotID string) (confirmed, waitlisted int, err error)

	// ActiveForMember returns the member's confirmed or waitlisted
	// reservations for one event.
	ActiveForMember(ctx context.Context, eventID, memberID string) ([]model.Reservation, error)

	// GetActiveReservation returns the active reservation with the given id
	// owned by memberID. forUpdate takes a row lock.
	GetActiveReservation(ctx context.Context, id, memberID string, forUpdate bool) (*model.Reservation, error)

	// InsertReservation stores r and fills r.Seq.
	InsertReservation(ctx context.Context, r *model.Reservation) error

	// UpdateStatus moves a reservation from one status to another. It returns
	// ErrNotFound if the reservation is not currently in status from.
	UpdateStatus(ctx context.Context, id string, from, to model.Status, at time.Time) error

	// Waitlisted returns a slot's waitlisted reservations in queue order.
	Waitlisted(ctx context.Context, slotID string) ([]model.Reservation, error)

	// ConfirmedOverlapping returns memberID's confirmed slot reservations whose
	// slot intersects [start, end), ignoring excludingEventID.
	ConfirmedOverlapping(ctx context.Context, memberID string, start, end time.Time, excludingEventID string) ([]model.Conflict, error)
}
