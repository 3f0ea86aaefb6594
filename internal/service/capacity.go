package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/helper-slots/internal/model"
	"github.com/Shivanand-hulikatti/helper-slots/internal/repository"
)

// CapacityTracker computes slot occupancy from reservation rows. It keeps no
// state of its own.
type CapacityTracker struct{}

// Occupancy locks the slot row and counts its reservations on tx. Any insert
// that depends on the result must happen on the same tx.
func (CapacityTracker) Occupancy(ctx context.Context, tx repository.Tx, slotID string) (model.Occupancy, error) {
	slot, err := tx.LockSlot(ctx, slotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Occupancy{}, ErrSlotNotFound
		}
		return model.Occupancy{}, fmt.Errorf("lock slot: %w", err)
	}

	confirmed, waitlisted, err := tx.CountSlot(ctx, slotID)
	if err != nil {
		return model.Occupancy{}, err
	}

	return model.Occupancy{
		SlotID:     slot.ID,
		Confirmed:  confirmed,
		Waitlisted: waitlisted,
		Capacity:   slot.Capacity,
		Remaining:  max(slot.Capacity-confirmed, 0),
	}, nil
}
