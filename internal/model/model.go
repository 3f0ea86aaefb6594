// Package model defines the core domain types for the helper-slot reservation system.
package model

import (
	"slices"
	"time"
)

// Event represents an organization event that members can register or help at.
// Events are owned by event management; the reservation engine only reads them.
type Event struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	VisibleRoles []string  `json:"visible_roles,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// VisibleTo reports whether a member with the given role may see the event.
// An event without a role filter is visible to everyone.
func (e *Event) VisibleTo(role string) bool {
	if len(e.VisibleRoles) == 0 {
		return true
	}
	return slices.Contains(e.VisibleRoles, role)
}

// HasStarted reports whether the event has begun at the given instant.
func (e *Event) HasStarted(now time.Time) bool {
	return !now.Before(e.StartTime)
}

// HelperSlot is a capacity-bounded, time-bounded sub-unit of an event.
type HelperSlot struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Capacity  int       `json:"capacity"`
	CreatedAt time.Time `json:"created_at"`
}

// Overlaps reports whether the slot intersects the half-open interval [start, end).
func (s *HelperSlot) Overlaps(start, end time.Time) bool {
	return s.StartTime.Before(end) && s.EndTime.After(start)
}

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusConfirmed  Status = "confirmed"
	StatusWaitlisted Status = "waitlisted"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusConfirmed, StatusWaitlisted, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether the status holds or queues for a place.
func (s Status) Active() bool {
	return s == StatusConfirmed || s == StatusWaitlisted
}

// CanTransitionTo reports whether moving from s to next is allowed.
//
//	waitlisted -> confirmed | cancelled
//	confirmed  -> cancelled
//	cancelled  -> (terminal)
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusWaitlisted:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusCancelled
	}
	return false
}

// Reservation is a member's hold on an event. A nil SlotID is a general,
// capacity-less registration for the event as a whole.
type Reservation struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	SlotID    *string   `json:"slot_id,omitempty"`
	MemberID  string    `json:"member_id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// Seq breaks ties between reservations created at the same instant.
	Seq int64 `json:"-"`
}

// SlotBound reports whether the reservation targets a helper slot.
func (r *Reservation) SlotBound() bool {
	return r.SlotID != nil
}

// Occupancy is a consistent snapshot of a slot's confirmed load.
type Occupancy struct {
	SlotID     string `json:"slot_id"`
	Confirmed  int    `json:"confirmed"`
	Waitlisted int    `json:"waitlisted"`
	Capacity   int    `json:"capacity"`
	Remaining  int    `json:"remaining"`
}

// Full reports whether no confirmed seats remain.
func (o Occupancy) Full() bool {
	return o.Remaining <= 0
}

// Conflict is a confirmed slot reservation that overlaps a candidate interval.
type Conflict struct {
	ReservationID string    `json:"reservation_id"`
	EventID       string    `json:"event_id"`
	EventTitle    string    `json:"event_title"`
	SlotID        string    `json:"slot_id"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
}

// SignupResult is the committed outcome of a signup. ReplacedReservationID is
// set when a general registration was cancelled in favour of the slot.
type SignupResult struct {
	ReservationID         string  `json:"reservation_id"`
	EventID               string  `json:"event_id"`
	SlotID                *string `json:"slot_id,omitempty"`
	MemberID              string  `json:"member_id"`
	Status                Status  `json:"status"`
	ReplacedReservationID *string `json:"replaced_reservation_id,omitempty"`
}

// CancelResult is the committed outcome of a cancellation. PromotedMemberID is
// a hint for the caller to notify; it is not a pending delivery.
type CancelResult struct {
	ReservationID         string  `json:"reservation_id"`
	EventID               string  `json:"event_id"`
	SlotID                *string `json:"slot_id,omitempty"`
	PreviousStatus        Status  `json:"previous_status"`
	PromotedMemberID      *string `json:"promoted_member_id,omitempty"`
	PromotedReservationID *string `json:"promoted_reservation_id,omitempty"`
}

// NotificationReason says why a confirmation is being sent.
type NotificationReason string

const (
	ReasonConfirmed NotificationReason = "confirmed"
	ReasonPromoted  NotificationReason = "promoted"
)

// Notification is the payload handed to the notifier after a reservation
// becomes confirmed, either at signup or by promotion.
type Notification struct {
	ReservationID string             `json:"reservation_id"`
	MemberID      string             `json:"member_id"`
	EventID       string             `json:"event_id"`
	SlotID        *string            `json:"slot_id,omitempty"`
	Reason        NotificationReason `json:"reason"`
	CreatedAt     time.Time          `json:"created_at"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Title        string    `json:"title"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	VisibleRoles []string  `json:"visible_roles,omitempty"`
}

// CreateSlotRequest is the payload for adding a helper slot to an event.
type CreateSlotRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Capacity  int       `json:"capacity"`
}

// SignupRequest is the payload for signing up for an event or one of its slots.
type SignupRequest struct {
	MemberID string  `json:"member_id"`
	SlotID   *string `json:"slot_id,omitempty"`
	Role     string  `json:"role,omitempty"`
}

// CancelRequest is the payload for cancelling a reservation.
type CancelRequest struct {
	MemberID string `json:"member_id"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
