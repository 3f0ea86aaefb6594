package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/helper-slots/internal/metrics"
	"github.com/Shivanand-hulikatti/helper-slots/internal/model"
	"github.com/Shivanand-hulikatti/helper-slots/internal/repository"
	"go.uber.org/zap"
)

// WaitlistPromoter fills a freed seat with the earliest eligible waitlisted
// reservation of the slot.
type WaitlistPromoter struct {
	conflicts ConflictValidator
	capacity  CapacityTracker
	clock     Clock
	log       *zap.Logger
}

// NewWaitlistPromoter constructs a WaitlistPromoter.
func NewWaitlistPromoter(clock Clock, log *zap.Logger) *WaitlistPromoter {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WaitlistPromoter{clock: clock, log: log}
}

// Promote confirms the first waitlisted reservation, in (created_at, seq)
// order, whose member has no overlapping confirmed reservation on another
// event. Conflicting candidates stay waitlisted. It returns nil when the slot
// is full or no candidate is eligible.
func (p *WaitlistPromoter) Promote(ctx context.Context, tx repository.Tx, slotID string) (*model.Reservation, error) {
	occ, err := p.capacity.Occupancy(ctx, tx, slotID)
	if err != nil {
		return nil, err
	}
	if occ.Full() {
		return nil, nil
	}

	slot, err := tx.LockSlot(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("lock slot: %w", err)
	}

	queue, err := tx.Waitlisted(ctx, slotID)
	if err != nil {
		return nil, err
	}

	now := p.clock.Now().UTC()
	for i := range queue {
		candidate := &queue[i]

		if err := tx.LockMember(ctx, candidate.MemberID); err != nil {
			return nil, err
		}
		conflicts, err := p.conflicts.FindConflicts(ctx, tx, candidate.MemberID, slot.StartTime, slot.EndTime, slot.EventID)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			metrics.PromotionSkipped()
			p.log.Info("waitlist candidate skipped",
				zap.String("slot_id", slotID),
				zap.String("reservation_id", candidate.ID),
				zap.String("member_id", candidate.MemberID),
				zap.String("conflicting_event_id", conflicts[0].EventID),
			)
			continue
		}

		err = tx.UpdateStatus(ctx, candidate.ID, model.StatusWaitlisted, model.StatusConfirmed, now)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, err
		}
		candidate.Status = model.StatusConfirmed
		candidate.UpdatedAt = now

		metrics.Promoted()
		p.log.Info("waitlist candidate promoted",
			zap.String("slot_id", slotID),
			zap.String("reservation_id", candidate.ID),
			zap.String("member_id", candidate.MemberID),
		)
		return candidate, nil
	}
	return nil, nil
}
