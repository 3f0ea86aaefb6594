// Package notify delivers confirmation notices after a reservation commits.
// Delivery is best effort: failures are logged and counted, never returned to
// the member whose request caused them.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/helper-slots/internal/metrics"
	"github.com/Shivanand-hulikatti/helper-slots/internal/model"
	"go.uber.org/zap"
)

// Notifier sends one notification to a sink.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
	// Name labels the sink in logs and metrics.
	Name() string
}

// ForSignup returns the notification for a committed signup. Only confirmed
// signups notify.
func ForSignup(res *model.SignupResult, at time.Time) (model.Notification, bool) {
	if res == nil || res.Status != model.StatusConfirmed {
		return model.Notification{}, false
	}
	return model.Notification{
		ReservationID: res.ReservationID,
		MemberID:      res.MemberID,
		EventID:       res.EventID,
		SlotID:        res.SlotID,
		Reason:        model.ReasonConfirmed,
		CreatedAt:     at.UTC(),
	}, true
}

// ForPromotion returns the notification for the member promoted by a
// cancellation, if any.
func ForPromotion(res *model.CancelResult, at time.Time) (model.Notification, bool) {
	if res == nil || res.PromotedMemberID == nil || res.PromotedReservationID == nil {
		return model.Notification{}, false
	}
	return model.Notification{
		ReservationID: *res.PromotedReservationID,
		MemberID:      *res.PromotedMemberID,
		EventID:       res.EventID,
		SlotID:        res.SlotID,
		Reason:        model.ReasonPromoted,
		CreatedAt:     at.UTC(),
	}, true
}

// Dispatcher hands notifications to a Notifier in the background.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	log      *zap.Logger
	wg       sync.WaitGroup
}

// NewDispatcher constructs a Dispatcher. Each delivery gets its own timeout.
func NewDispatcher(notifier Notifier, timeout time.Duration, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{notifier: notifier, timeout: timeout, log: log}
}

// Dispatch sends n without blocking the caller. The request context is not
// used: delivery outlives the HTTP request that triggered it.
func (d *Dispatcher) Dispatch(n model.Notification) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		err := d.notifier.Notify(ctx, n)
		metrics.NotificationSent(d.notifier.Name(), err == nil)
		if err != nil {
			d.log.Warn("notification failed",
				zap.String("sink", d.notifier.Name()),
				zap.String("reservation_id", n.ReservationID),
				zap.String("member_id", n.MemberID),
				zap.String("reason", string(n.Reason)),
				zap.Error(err),
			)
			return
		}
		d.log.Debug("notification sent",
			zap.String("sink", d.notifier.Name()),
			zap.String("reservation_id", n.ReservationID),
			zap.String("member_id", n.MemberID),
		)
	}()
}

// Wait blocks until every dispatched notification has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
