// Package service implements the reservation engine and the event management
// around it: validation, transactions and orchestration between HTTP handlers
// and the repository layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Shivanand-hulikatti/helper-slots/internal/model"
	"github.com/Shivanand-hulikatti/helper-slots/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxSlotCapacity bounds the number of confirmed helpers per slot.
const MaxSlotCapacity = 10_000

// EventService orchestrates event and helper slot management.
type EventService struct {
	store repository.Store
	clock Clock
	log   *zap.Logger
}

// NewEventService constructs an EventService with its dependencies.
func NewEventService(store repository.Store, clock Clock, log *zap.Logger) *EventService {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &EventService{store: store, clock: clock, log: log}
}

// CreateEvent validates the request and stores a new event.
func (s *EventService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, invalid("event title is required")
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		return nil, invalid("start_time and end_time are required")
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, invalid("end_time must be after start_time")
	}

	var roles []string
	for _, role := range req.VisibleRoles {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}

	event := &model.Event{
		ID:           uuid.NewString(),
		Title:        req.Title,
		StartTime:    req.StartTime.UTC(),
		EndTime:      req.EndTime.UTC(),
		VisibleRoles: roles,
		CreatedAt:    s.clock.Now().UTC(),
	}
	if err := s.store.CreateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	s.log.Info("event created", zap.String("event_id", event.ID), zap.String("title", event.Title))
	return event, nil
}

// ListEvents returns all events.
func (s *EventService) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.store.ListEvents(ctx)
}

// GetEvent returns a single event by ID.
func (s *EventService) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, invalid("event id is required")
	}
	event, err := s.store.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

// CreateSlot adds a helper slot to an event. The slot must lie inside the
// event's time window.
func (s *EventService) CreateSlot(ctx context.Context, eventID string, req model.CreateSlotRequest) (*model.HelperSlot, error) {
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		return nil, invalid("start_time and end_time are required")
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, invalid("end_time must be after start_time")
	}
	if req.StartTime.Before(event.StartTime) || req.EndTime.After(event.EndTime) {
		return nil, invalid("slot must lie within the event's time window")
	}
	if req.Capacity <= 0 {
		return nil, invalid("capacity must be a positive integer")
	}
	if req.Capacity > MaxSlotCapacity {
		return nil, invalid("capacity cannot exceed %d", MaxSlotCapacity)
	}

	slot := &model.HelperSlot{
		ID:        uuid.NewString(),
		EventID:   event.ID,
		StartTime: req.StartTime.UTC(),
		EndTime:   req.EndTime.UTC(),
		Capacity:  req.Capacity,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.store.CreateSlot(ctx, slot); err != nil {
		return nil, fmt.Errorf("create slot: %w", err)
	}

	s.log.Info("helper slot created",
		zap.String("event_id", event.ID),
		zap.String("slot_id", slot.ID),
		zap.Int("capacity", slot.Capacity),
	)
	return slot, nil
}

// ListSlots returns the helper slots of an event ordered by start time.
func (s *EventService) ListSlots(ctx context.Context, eventID string) ([]model.HelperSlot, error) {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.store.ListSlots(ctx, strings.TrimSpace(eventID))
}

// ListReservations returns all reservations for an event in queue order.
func (s *EventService) ListReservations(ctx context.Context, eventID string) ([]model.Reservation, error) {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.store.ListReservationsByEvent(ctx, strings.TrimSpace(eventID))
}

// ListMemberReservations returns every reservation a member has made.
func (s *EventService) ListMemberReservations(ctx context.Context, memberID string) ([]model.Reservation, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return nil, invalid("member id is required")
	}
	return s.store.ListReservationsByMember(ctx, memberID)
}
