package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/helper-slots/internal/metrics"
	"github.com/Shivanand-hulikatti/helper-slots/internal/model"
	"github.com/Shivanand-hulikatti/helper-slots/internal/repository"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/Shivanand-hulikatti/helper-slots/internal/service")

// SignupParams identifies who signs up for what. A nil SlotID requests a
// general registration for the event.
type SignupParams struct {
	EventID  string
	MemberID string
	SlotID   *string
	Role     string
}

// ReservationService is the reservation state machine. Every operation is one
// transaction; callers notify members only after it returns.
type ReservationService struct {
	store     repository.Store
	clock     Clock
	log       *zap.Logger
	conflicts ConflictValidator
	capacity  CapacityTracker
	promoter  *WaitlistPromoter
}

// NewReservationService constructs a ReservationService.
func NewReservationService(store repository.Store, clock Clock, log *zap.Logger) *ReservationService {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ReservationService{
		store:    store,
		clock:    clock,
		log:      log,
		promoter: NewWaitlistPromoter(clock, log),
	}
}

// Signup registers a member for an event, or reserves one of its helper
// slots. A slot reservation is confirmed while seats remain and waitlisted
// otherwise. An active general registration for the same event is cancelled
// in the same transaction when the member takes a slot.
func (s *ReservationService) Signup(ctx context.Context, p SignupParams) (*model.SignupResult, error) {
	ctx, span := tracer.Start(ctx, "reservation.signup")
	defer span.End()
	defer metrics.ObserveOperation("signup", time.Now())

	p.EventID = strings.TrimSpace(p.EventID)
	p.MemberID = strings.TrimSpace(p.MemberID)
	p.Role = strings.TrimSpace(p.Role)
	if p.SlotID != nil {
		id := strings.TrimSpace(*p.SlotID)
		p.SlotID = &id
	}
	if err := validateSignup(p); err != nil {
		return nil, s.rejectSignup(span, p, err)
	}

	span.SetAttributes(
		attribute.String("event_id", p.EventID),
		attribute.String("member_id", p.MemberID),
		attribute.Bool("slot_bound", p.SlotID != nil),
	)

	var result *model.SignupResult
	err := s.inTx(ctx, "signup", func(tx repository.Tx) error {
		var err error
		result, err = s.signup(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, s.rejectSignup(span, p, err)
	}

	kind := "general"
	if result.SlotID != nil {
		kind = "slot"
	}
	metrics.SignupCommitted(kind, string(result.Status))
	span.SetAttributes(attribute.String("status", string(result.Status)))
	s.log.Info("signup committed",
		zap.String("reservation_id", result.ReservationID),
		zap.String("event_id", result.EventID),
		zap.String("member_id", result.MemberID),
		zap.Stringp("slot_id", result.SlotID),
		zap.String("status", string(result.Status)),
		zap.Stringp("replaced_reservation_id", result.ReplacedReservationID),
	)
	return result, nil
}

func validateSignup(p SignupParams) error {
	if p.EventID == "" {
		return invalid("event id is required")
	}
	if p.MemberID == "" {
		return invalid("member id is required")
	}
	if p.SlotID != nil && *p.SlotID == "" {
		return invalid("slot id must not be empty when given")
	}
	return nil
}

func (s *ReservationService) rejectSignup(span trace.Span, p SignupParams, err error) error {
	metrics.SignupRejected(reason(err))
	span.RecordError(err)
	span.SetStatus(codes.Error, reason(err))
	if reason(err) == "internal" {
		s.log.Error("signup failed",
			zap.String("event_id", p.EventID),
			zap.String("member_id", p.MemberID),
			zap.Error(err),
		)
	}
	return err
}

func (s *ReservationService) signup(ctx context.Context, tx repository.Tx, p SignupParams) (*model.SignupResult, error) {
	// created_at of the new row is the transaction start time; it fixes the
	// reservation's place in the waitlist.
	now := s.clock.Now().UTC()

	event, err := tx.GetEvent(ctx, p.EventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	if !event.VisibleTo(p.Role) {
		return nil, ErrEventNotFound
	}

	if p.SlotID == nil {
		return s.registerGeneral(ctx, tx, event, p.MemberID, now)
	}
	return s.reserveSlot(ctx, tx, event, *p.SlotID, p.MemberID, now)
}

func (s *ReservationService) registerGeneral(ctx context.Context, tx repository.Tx, event *model.Event, memberID string, now time.Time) (*model.SignupResult, error) {
	if err := tx.LockMember(ctx, memberID); err != nil {
		return nil, err
	}

	active, err := tx.ActiveForMember(ctx, event.ID, memberID)
	if err != nil {
		return nil, err
	}
	for _, r := range active {
		if r.SlotBound() {
			return nil, ErrAlreadySignedUp
		}
		return nil, ErrAlreadyRegistered
	}

	r := &model.Reservation{
		ID:        uuid.NewString(),
		EventID:   event.ID,
		MemberID:  memberID,
		Status:    model.StatusConfirmed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.InsertReservation(ctx, r); err != nil {
		if errors.Is(err, repository.ErrDuplicateActive) {
			return nil, ErrAlreadyRegistered
		}
		return nil, err
	}

	return &model.SignupResult{
		ReservationID: r.ID,
		EventID:       r.EventID,
		MemberID:      r.MemberID,
		Status:        r.Status,
	}, nil
}

func (s *ReservationService) reserveSlot(ctx context.Context, tx repository.Tx, event *model.Event, slotID, memberID string, now time.Time) (*model.SignupResult, error) {
	// Lock order: slot row, then member.
	slot, err := tx.LockSlot(ctx, slotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("lock slot: %w", err)
	}
	if slot.EventID != event.ID {
		return nil, ErrSlotNotFound
	}
	if err := tx.LockMember(ctx, memberID); err != nil {
		return nil, err
	}

	conflicts, err := s.conflicts.FindConflicts(ctx, tx, memberID, slot.StartTime, slot.EndTime, event.ID)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return nil, &SlotConflictError{
			EventID:    conflicts[0].EventID,
			EventTitle: conflicts[0].EventTitle,
			Conflicts:  conflicts,
		}
	}

	active, err := tx.ActiveForMember(ctx, event.ID, memberID)
	if err != nil {
		return nil, err
	}
	var general *model.Reservation
	for i := range active {
		if active[i].SlotBound() {
			return nil, ErrAlreadySignedUp
		}
		general = &active[i]
	}

	// Upgrade: the general registration is cancelled before the slot
	// reservation is inserted, so both halves commit or neither does.
	var replaced *string
	if general != nil {
		if err := tx.UpdateStatus(ctx, general.ID, general.Status, model.StatusCancelled, now); err != nil {
			return nil, fmt.Errorf("cancel general registration: %w", err)
		}
		replaced = &general.ID
	}

	occ, err := s.capacity.Occupancy(ctx, tx, slot.ID)
	if err != nil {
		return nil, err
	}
	status := model.StatusConfirmed
	if occ.Full() {
		status = model.StatusWaitlisted
	}

	r := &model.Reservation{
		ID:        uuid.NewString(),
		EventID:   event.ID,
		SlotID:    &slot.ID,
		MemberID:  memberID,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.InsertReservation(ctx, r); err != nil {
		if errors.Is(err, repository.ErrDuplicateActive) {
			return nil, ErrAlreadySignedUp
		}
		return nil, err
	}

	if status == model.StatusConfirmed {
		status, err = s.recheckCapacity(ctx, tx, r, now)
		if err != nil {
			return nil, err
		}
	}

	return &model.SignupResult{
		ReservationID:         r.ID,
		EventID:               r.EventID,
		SlotID:                r.SlotID,
		MemberID:              r.MemberID,
		Status:                status,
		ReplacedReservationID: replaced,
	}, nil
}

// recheckCapacity demotes a just-confirmed reservation to the waitlist if the
// slot turned out to be over capacity after the insert. With the slot row
// lock held this should not happen; losing the seat is preferred to failing.
func (s *ReservationService) recheckCapacity(ctx context.Context, tx repository.Tx, r *model.Reservation, now time.Time) (model.Status, error) {
	occ, err := s.capacity.Occupancy(ctx, tx, *r.SlotID)
	if err != nil {
		return "", err
	}
	if occ.Confirmed <= occ.Capacity {
		return model.StatusConfirmed, nil
	}

	s.log.Warn("slot over capacity after insert, waitlisting",
		zap.String("slot_id", occ.SlotID),
		zap.String("reservation_id", r.ID),
		zap.Int("confirmed", occ.Confirmed),
		zap.Int("capacity", occ.Capacity),
	)
	if err := tx.UpdateStatus(ctx, r.ID, model.StatusConfirmed, model.StatusWaitlisted, now); err != nil {
		return "", fmt.Errorf("demote reservation: %w", err)
	}
	r.Status = model.StatusWaitlisted
	return model.StatusWaitlisted, nil
}

// Cancel withdraws a member's active reservation. Cancelling a confirmed slot
// reservation promotes the next eligible waitlisted member in the same
// transaction; the result names them so the caller can notify.
func (s *ReservationService) Cancel(ctx context.Context, reservationID, memberID string) (*model.CancelResult, error) {
	ctx, span := tracer.Start(ctx, "reservation.cancel")
	defer span.End()
	defer metrics.ObserveOperation("cancel", time.Now())

	reservationID = strings.TrimSpace(reservationID)
	memberID = strings.TrimSpace(memberID)
	if reservationID == "" {
		return nil, s.rejectCancel(span, invalid("reservation id is required"))
	}
	if memberID == "" {
		return nil, s.rejectCancel(span, invalid("member id is required"))
	}
	span.SetAttributes(
		attribute.String("reservation_id", reservationID),
		attribute.String("member_id", memberID),
	)

	var result *model.CancelResult
	err := s.inTx(ctx, "cancel", func(tx repository.Tx) error {
		var err error
		result, err = s.cancel(ctx, tx, reservationID, memberID)
		return err
	})
	if err != nil {
		return nil, s.rejectCancel(span, err)
	}

	metrics.CancellationCommitted(string(result.PreviousStatus))
	s.log.Info("reservation cancelled",
		zap.String("reservation_id", result.ReservationID),
		zap.String("event_id", result.EventID),
		zap.String("member_id", memberID),
		zap.Stringp("slot_id", result.SlotID),
		zap.String("previous_status", string(result.PreviousStatus)),
		zap.Stringp("promoted_member_id", result.PromotedMemberID),
	)
	return result, nil
}

func (s *ReservationService) rejectCancel(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, reason(err))
	if reason(err) == "internal" {
		s.log.Error("cancel failed", zap.Error(err))
	}
	return err
}

func (s *ReservationService) cancel(ctx context.Context, tx repository.Tx, reservationID, memberID string) (*model.CancelResult, error) {
	now := s.clock.Now().UTC()

	r, err := tx.GetActiveReservation(ctx, reservationID, memberID, false)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCancellationNotFound
		}
		return nil, err
	}

	event, err := tx.GetEvent(ctx, r.EventID)
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	if event.HasStarted(now) {
		return nil, ErrCancellationWindowClosed
	}

	// Same lock order as signup: slot row, then member, then the reservation
	// row itself. The status is re-read under the locks.
	if r.SlotBound() {
		if _, err := tx.LockSlot(ctx, *r.SlotID); err != nil {
			return nil, fmt.Errorf("lock slot: %w", err)
		}
	}
	if err := tx.LockMember(ctx, memberID); err != nil {
		return nil, err
	}
	r, err = tx.GetActiveReservation(ctx, reservationID, memberID, true)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCancellationNotFound
		}
		return nil, err
	}
	if !r.Status.CanTransitionTo(model.StatusCancelled) {
		return nil, ErrCancellationNotFound
	}

	if err := tx.UpdateStatus(ctx, r.ID, r.Status, model.StatusCancelled, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCancellationNotFound
		}
		return nil, err
	}

	result := &model.CancelResult{
		ReservationID:  r.ID,
		EventID:        r.EventID,
		SlotID:         r.SlotID,
		PreviousStatus: r.Status,
	}

	if r.Status == model.StatusConfirmed && r.SlotBound() {
		promoted, err := s.promoter.Promote(ctx, tx, *r.SlotID)
		if err != nil {
			return nil, fmt.Errorf("promote waitlist: %w", err)
		}
		if promoted != nil {
			result.PromotedMemberID = &promoted.MemberID
			result.PromotedReservationID = &promoted.ID
		}
	}
	return result, nil
}

// Occupancy returns a consistent snapshot of a slot's load.
func (s *ReservationService) Occupancy(ctx context.Context, slotID string) (model.Occupancy, error) {
	slotID = strings.TrimSpace(slotID)
	if slotID == "" {
		return model.Occupancy{}, invalid("slot id is required")
	}
	var occ model.Occupancy
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		occ, err = s.capacity.Occupancy(ctx, tx, slotID)
		return err
	})
	return occ, err
}

// FindConflicts lists memberID's confirmed slot reservations overlapping
// [start, end) on events other than excludingEventID.
func (s *ReservationService) FindConflicts(ctx context.Context, memberID string, start, end time.Time, excludingEventID string) ([]model.Conflict, error) {
	var conflicts []model.Conflict
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		conflicts, err = s.conflicts.FindConflicts(ctx, tx, strings.TrimSpace(memberID), start, end, excludingEventID)
		return err
	})
	return conflicts, err
}

// inTx runs fn in a transaction, retrying once if the store reports that the
// transaction lost a race. The retry re-reads everything, so a signup that
// lost the last seat comes back waitlisted instead of failing.
func (s *ReservationService) inTx(ctx context.Context, op string, fn func(tx repository.Tx) error) error {
	err := s.store.WithTx(ctx, fn)
	if !errors.Is(err, repository.ErrTxConflict) {
		return err
	}
	metrics.TxRetried(op)
	s.log.Warn("transaction conflict, retrying", zap.String("operation", op), zap.Error(err))
	return s.store.WithTx(ctx, fn)
}
