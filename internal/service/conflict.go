package service

import (
	"context"
	"time"

	"github.com/Shivanand-hulikatti/helper-slots/internal/model"
	"github.com/Shivanand-hulikatti/helper-slots/internal/repository"
)

// ConflictValidator detects overlap between a candidate interval and a
// member's confirmed slot reservations on other events.
type ConflictValidator struct{}

// FindConflicts returns every confirmed, slot-bound reservation of memberID on
// an event other than excludingEventID whose slot satisfies
// slot.start < end AND slot.end > start. Back-to-back slots do not conflict.
func (ConflictValidator) FindConflicts(
	ctx context.Context,
	tx repository.Tx,
	memberID string,
	start, end time.Time,
	excludingEventID string,
) ([]model.Conflict, error) {
	if memberID == "" {
		return nil, invalid("member id is required")
	}
	if !end.After(start) {
		return nil, invalid("interval end must be after start")
	}
	return tx.ConfirmedOverlapping(ctx, memberID, start, end, excludingEventID)
}
