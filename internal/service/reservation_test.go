package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/helper-slots/internal/model"
	"github.com/Shivanand-hulikatti/helper-slots/internal/repository"
	"github.com/Shivanand-hulikatti/helper-slots/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignupWaitlistAndPromoteOnCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.event(t, "Spring Fair")
	s := f.slot(t, e.ID, base, time.Hour, 1)

	a := f.signup(t, e.ID, s.ID, "alice")
	assert.Equal(t, model.StatusConfirmed, a.Status)
	require.NotNil(t, a.SlotID)
	assert.Equal(t, s.ID, *a.SlotID)

	b := f.signup(t, e.ID, s.ID, "bob")
	assert.Equal(t, model.StatusWaitlisted, b.Status)

	res, err := f.reservations.Cancel(ctx, a.ReservationID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, res.PreviousStatus)
	require.NotNil(t, res.PromotedMemberID)
	assert.Equal(t, "bob", *res.PromotedMemberID)
	require.NotNil(t, res.PromotedReservationID)
	assert.Equal(t, b.ReservationID, *res.PromotedReservationID)

	assert.Equal(t, model.StatusConfirmed, statusOf(t, f, b.ReservationID, "bob"))
	assert.Equal(t, model.StatusCancelled, statusOf(t, f, a.ReservationID, "alice"))

	occ := f.occupancy(t, s.ID)
	assert.Equal(t, 1, occ.Confirmed)
	assert.Equal(t, 0, occ.Waitlisted)
	assert.Equal(t, 0, occ.Remaining)
}

func TestSignupRejectsOverlapOnAnotherEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e1 := f.event(t, "Harvest Market")
	e2 := f.event(t, "Book Swap")
	s1 := f.slot(t, e1.ID, base, 2*time.Hour, 5)
	s2 := f.slot(t, e2.ID, base.Add(time.Hour), 2*time.Hour, 5)

	f.signup(t, e1.ID, s1.ID, "alice")

	_, err := f.reservations.Signup(ctx, service.SignupParams{EventID: e2.ID, MemberID: "alice", SlotID: &s2.ID})
	require.ErrorIs(t, err, service.ErrSlotConflict)

	var conflict *service.SlotConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, e1.ID, conflict.EventID)
	assert.Equal(t, "Harvest Market", conflict.EventTitle)
	assert.Contains(t, err.Error(), "Harvest Market")
	require.Len(t, conflict.Conflicts, 1)
	assert.Equal(t, s1.ID, conflict.Conflicts[0].SlotID)

	assert.Len(t, f.active(t, "alice"), 1)
	assert.Equal(t, 0, f.occupancy(t, s2.ID).Confirmed)
}

func TestSignupAllowsBackToBackSlots(t *testing.T) {
	f := newFixture(t)
	e1 := f.event(t, "Morning Shift")
	e2 := f.event(t, "Afternoon Shift")
	s1 := f.slot(t, e1.ID, base, time.Hour, 1)
	s2 := f.slot(t, e2.ID, base.Add(time.Hour), time.Hour, 1)

	assert.Equal(t, model.StatusConfirmed, f.signup(t, e1.ID, s1.ID, "alice").Status)
	assert.Equal(t, model.StatusConfirmed, f.signup(t, e2.ID, s2.ID, "alice").Status)
}

func TestWaitlistedReservationsDoNotConflict(t *testing.T) {
	f := newFixture(t)
	e1 := f.event(t, "Full Event")
	e2 := f.event(t, "Open Event")
	s1 := f.slot(t, e1.ID, base, time.Hour, 1)
	s2 := f.slot(t, e2.ID, base, time.Hour, 1)

	f.signup(t, e1.ID, s1.ID, "alice")
	assert.Equal(t, model.StatusWaitlisted, f.signup(t, e1.ID, s1.ID, "bob").Status)
	assert.Equal(t, model.StatusConfirmed, f.signup(t, e2.ID, s2.ID, "bob").Status)
}

func TestCancelPromotesIntoFreedSeat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.event(t, "Cleanup Day")
	s := f.slot(t, e.ID, base, time.Hour, 2)

	f.signup(t, e.ID, s.ID, "alice")
	b := f.signup(t, e.ID, s.ID, "bob")
	c := f.signup(t, e.ID, s.ID, "carol")
	assert.Equal(t, model.StatusWaitlisted, c.Status)

	res, err := f.reservations.Cancel(ctx, b.ReservationID, "bob")
	require.NoError(t, err)
	require.NotNil(t, res.PromotedMemberID)
	assert.Equal(t, "carol", *res.PromotedMemberID)

	occ := f.occupancy(t, s.ID)
	assert.Equal(t, 2, occ.Confirmed)
	assert.Equal(t, 2, occ.Capacity)
	assert.Equal(t, 0, occ.Waitlisted)
	assert.True(t, occ.Full())
}

func TestPromotionIsFIFO(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.event(t, "Concert")
	s := f.slot(t, e.ID, base, time.Hour, 1)

	a := f.signup(t, e.ID, s.ID, "alice")
	w1 := f.signup(t, e.ID, s.ID, "w1")
	w2 := f.signup(t, e.ID, s.ID, "w2")

	res, err := f.reservations.Cancel(ctx, a.ReservationID, "alice")
	require.NoError(t, err)
	require.NotNil(t, res.PromotedReservationID)
	assert.Equal(t, w1.ReservationID, *res.PromotedReservationID)
	assert.Equal(t, model.StatusWaitlisted, statusOf(t, f, w2.ReservationID, "w2"))
}

func TestPromotionSkipsConflictingCandidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.event(t, "Parade")
	other := f.event(t, "Street Fair")
	s := f.slot(t, e.ID, base, time.Hour, 1)
	clash := f.slot(t, other.ID, base.Add(30*time.Minute), time.Hour, 1)

	a := f.signup(t, e.ID, s.ID, "alice")
	b := f.signup(t, e.ID, s.ID, "bob")
	c := f.signup(t, e.ID, s.ID, "carol")
	// bob takes an overlapping seat elsewhere while still queued here.
	assert.Equal(t, model.StatusConfirmed, f.signup(t, other.ID, clash.ID, "bob").Status)

	res, err := f.reservations.Cancel(ctx, a.ReservationID, "alice")
	require.NoError(t, err)
	require.NotNil(t, res.PromotedMemberID)
	assert.Equal(t, "carol", *res.PromotedMemberID)

	assert.Equal(t, model.StatusWaitlisted, statusOf(t, f, b.ReservationID, "bob"))
	assert.Equal(t, model.StatusConfirmed, statusOf(t, f, c.ReservationID, "carol"))
}

func TestPromotionWithOnlyConflictingCandidatesLeavesSeatFree(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.event(t, "Parade")
	other := f.event(t, "Street Fair")
	s := f.slot(t, e.ID, base, time.Hour, 1)
	clash := f.slot(t, other.ID, base, time.Hour, 1)

	a := f.signup(t, e.ID, s.ID, "alice")
	b := f.signup(t, e.ID, s.ID, "bob")
	f.signup(t, other.ID, clash.ID, "bob")

	res, err := f.reservations.Cancel(ctx, a.ReservationID, "alice")
	require.NoError(t, err)
	assert.Nil(t, res.PromotedMemberID)
	assert.Nil(t, res.PromotedReservationID)
	assert.Equal(t, model.StatusWaitlisted, statusOf(t, f, b.ReservationID, "bob"))

	occ := f.occupancy(t, s.ID)
	assert.Equal(t, 0, occ.Confirmed)
	assert.Equal(t, 1, occ.Waitlisted)
	assert.Equal(t, 1, occ.Remaining)
}

func TestCancelWaitlistedDoesNotPromote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.event(t, "Choir")
	s := f.slot(t, e.ID, base, time.Hour, 1)

	f.signup(t, e.ID, s.ID, "alice")
	b := f.signup(t, e.ID, s.ID, "bob")
	c := f.signup(t, e.ID, s.ID, "carol")

	res, err := f.reservations.Cancel(ctx, b.ReservationID, "bob")
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaitlisted, res.PreviousStatus)
	assert.Nil(t, res.PromotedMemberID)
	assert.Equal(t, model.StatusWaitlisted, statusOf(t, f, c.ReservationID, "carol"))
}

func TestUpgradeGeneralRegistrationToSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.event(t, "Open House")
	s := f.slot(t, e.ID, base, time.Hour, 3)

	general, err := f.reservations.Signup(ctx, service.SignupParams{EventID: e.ID, MemberID: "dana"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, general.Status)
	assert.Nil(t, general.SlotID)
	f.clock.Advance(time.Second)

	res := f.signup(t, e.ID, s.ID, "dana")
	assert.Equal(t, model.StatusConfirmed, res.Status)
	require.NotNil(t, res.ReplacedReservationID)
	assert.Equal(t, general.ReservationID, *res.ReplacedReservationID)

	active := f.active(t, "dana")
	require.Len(t, active, 1)
	assert.Equal(t, res.ReservationID, active[0].ID)
	assert.Equal(t, model.StatusCancelled, statusOf(t, f, general.ReservationID, "dana"))
}

func TestUpgradeRollsBackWhenInsertFails(t *testing.T) {
	ctx := context.Background()
	hooks := &hookStore{Store: openStore(t)}
	f := newFixtureWithStore(t, hooks)
	e := f.event(t, "Open House")
	s := f.slot(t, e.ID, base, time.Hour, 3)

	general, err := f.reservations.Signup(ctx, service.SignupParams{EventID: e.ID, MemberID: "dana"})
	require.NoError(t, err)

	diskFull := errors.New("disk full")
	hooks.set(0, func(tx repository.Tx) repository.Tx { return &hookTx{Tx: tx, insertErr: diskFull} })

	_, err = f.reservations.Signup(ctx, service.SignupParams{EventID: e.ID, MemberID: "dana", SlotID: &s.ID})
	require.ErrorIs(t, err, diskFull)

	active := f.active(t, "dana")
	require.Len(t, active, 1)
	assert.Equal(t, general.ReservationID, active[0].ID)
	assert.Nil(t, active[0].SlotID)
}

func TestSignupDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.event(t, "Bake Sale")
	s1 := f.slot(t, e.ID, base, time.Hour, 2)
	s2 := f.slot(t, e.ID, base.Add(2*time.Hour), time.Hour, 2)

	_, err := f.reservations.Signup(ctx, service.SignupParams{EventID: e.ID, MemberID: "erin"})
	require.NoError(t, err)
	_, err = f.reservations.Signup(ctx, service.SignupParams{EventID: e.ID, MemberID: "erin"})
	assert.ErrorIs(t, err, service.ErrAlreadyRegistered)

	f.signup(t, e.ID, s1.ID, "frank")
	_, err = f.reservations.Signup(ctx, service.SignupParams{EventID: e.ID, MemberID: "frank", SlotID: &s1.ID})
	assert.ErrorIs(t, err, service.ErrAlreadySignedUp)
	_, err = f.reservations.Signup(ctx, service.SignupParams{EventID: e.ID, MemberID: "frank", SlotID: &s2.ID})
	assert.ErrorIs(t, err, service.ErrAlreadySignedUp)
	_, err = f.reservations.Signup(ctx, service.SignupParams{EventID: e.ID, MemberID: "frank"})
	assert.ErrorIs(t, err, service.ErrAlreadySignedUp)

	// A waitlisted member is also already signed up.
	full := f.slot(t, e.ID, base.Add(4*time.Hour), time.Hour, 1)
	f.signup(t, e.ID, full.ID, "gina")
	assert.Equal(t, model.StatusWaitlisted, f.signup(t, e.ID, full.ID, "hank").Status)
	_, err = f.reservations.Signup(ctx, service.SignupParams{EventID: e.ID, MemberID: "hank", SlotID: &s1.ID})
	assert.ErrorIs(t, err, service.ErrAlreadySignedUp)
}

func TestSignupAfterCancelIsAllowed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.event(t, "Quiz Night")
	s := f.slot(t, e.ID, base, time.Hour, 1)

	first := f.signup(t, e.ID, s.ID, "ivan")
	_, err := f.reservations.Cancel(ctx, first.ReservationID, "ivan")
	require.NoError(t, err)

	again := f.signup(t, e.ID, s.ID, "ivan")
	assert.Equal(t, model.StatusConfirmed, again.Status)
	assert.NotEqual(t, first.ReservationID, again.ReservationID)
}

func TestSignupRoleVisibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.event(t, "Board Retreat", "board")
	s := f.slot(t, e.ID, base, time.Hour, 1)

	_, err := f.reservations.Signup(ctx, service.SignupParams{EventID: e.ID, MemberID: "jo", SlotID: &s.ID, Role: "member"})
	assert.ErrorIs(t, err, service.ErrEventNotFound)
	_, err = f.reservations.Signup(ctx, service.SignupParams{EventID: e.ID, MemberID: "jo", SlotID: &s.ID})
	assert.ErrorIs(t, err, service.ErrEventNotFound)

	res, err := f.reservations.Signup(ctx, service.SignupParams{EventID: e.ID, MemberID: "jo", SlotID: &s.ID, Role: "board"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, res.Status)
}

func TestSignupValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.event(t, "Library Day")
	otherEvent := f.event(t, "Elsewhere")
	foreign := f.slot(t, otherEvent.ID, base, time.Hour, 1)
	empty := "  "
	missing := "missing"

	tests := []struct {
		name    string
		params  service.SignupParams
		wantErr error
	}{
		{"missing event id", service.SignupParams{MemberID: "kim"}, service.ErrInvalidInput},
		{"missing member id", service.SignupParams{EventID: e.ID}, service.ErrInvalidInput},
		{"blank slot id", service.SignupParams{EventID: e.ID, MemberID: "kim", SlotID: &empty}, service.ErrInvalidInput},
		{"unknown event", service.SignupParams{EventID: "missing", MemberID: "kim"}, service.ErrEventNotFound},
		{"unknown slot", service.SignupParams{EventID: e.ID, MemberID: "kim", SlotID: &missing}, service.ErrSlotNotFound},
		{"slot of another event", service.SignupParams{EventID: e.ID, MemberID: "kim", SlotID: &foreign.ID}, service.ErrSlotNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.reservations.Signup(ctx, tt.params)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Empty(t, f.active(t, "kim"))
}

func TestCancelWindowClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.event(t, "Morning Run") // starts 09:00
	s := f.slot(t, e.ID, base, time.Hour, 1)

	a := f.signup(t, e.ID, s.ID, "alice")
	b := f.signup(t, e.ID, s.ID, "bob")

	f.clock.Set(e.StartTime.Add(5 * time.Minute))

	_, err := f.reservations.Cancel(ctx, a.ReservationID, "alice")
	assert.ErrorIs(t, err, service.ErrCancellationWindowClosed)
	_, err = f.reservations.Cancel(ctx, b.ReservationID, "bob")
	assert.ErrorIs(t, err, service.ErrCancellationWindowClosed)

	// Exactly at the start the window is already closed.
	f.clock.Set(e.StartTime)
	_, err = f.reservations.Cancel(ctx, a.ReservationID, "alice")
	assert.ErrorIs(t, err, service.ErrCancellationWindowClosed)

	assert.Equal(t, model.StatusConfirmed, statusOf(t, f, a.ReservationID, "alice"))
	assert.Equal(t, model.StatusWaitlisted, statusOf(t, f, b.ReservationID, "bob"))
}

func TestCancelNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.event(t, "Picnic")
	s := f.slot(t, e.ID, base, time.Hour, 1)
	a := f.signup(t, e.ID, s.ID, "alice")

	_, err := f.reservations.Cancel(ctx, a.ReservationID, "mallory")
	assert.ErrorIs(t, err, service.ErrCancellationNotFound)
	_, err = f.reservations.Cancel(ctx, "missing", "alice")
	assert.ErrorIs(t, err, service.ErrCancellationNotFound)
	_, err = f.reservations.Cancel(ctx, "", "alice")
	assert.ErrorIs(t, err, service.ErrInvalidInput)
	_, err = f.reservations.Cancel(ctx, a.ReservationID, " ")
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = f.reservations.Cancel(ctx, a.ReservationID, "alice")
	require.NoError(t, err)
	_, err = f.reservations.Cancel(ctx, a.ReservationID, "alice")
	assert.ErrorIs(t, err, service.ErrCancellationNotFound)
}

func TestCancelGeneralRegistration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.event(t, "Town Hall")

	reg, err := f.reservations.Signup(ctx, service.SignupParams{EventID: e.ID, MemberID: "nina"})
	require.NoError(t, err)

	res, err := f.reservations.Cancel(ctx, reg.ReservationID, "nina")
	require.NoError(t, err)
	assert.Nil(t, res.SlotID)
	assert.Nil(t, res.PromotedMemberID)
	assert.Empty(t, f.active(t, "nina"))
}

func TestConcurrentSignupsNeverExceedCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.event(t, "Marathon")
	s := f.slot(t, e.ID, base, time.Hour, 3)

	const members = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		confirmed int
		errs      []error
	)
	for i := range members {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.reservations.Signup(ctx, service.SignupParams{
				EventID:  e.ID,
				MemberID: fmt.Sprintf("runner-%d", i),
				SlotID:   &s.ID,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res.Status == model.StatusConfirmed {
				confirmed++
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 3, confirmed)
	occ := f.occupancy(t, s.ID)
	assert.Equal(t, 3, occ.Confirmed)
	assert.Equal(t, members-3, occ.Waitlisted)
}

func TestConcurrentOverlappingSignupsConfirmAtMostOne(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	slots := make([]*model.HelperSlot, 4)
	for i := range slots {
		e := f.event(t, fmt.Sprintf("Event %d", i))
		slots[i] = f.slot(t, e.ID, base.Add(time.Duration(i)*15*time.Minute), time.Hour, 5)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for _, s := range slots {
		wg.Add(1)
		go func(s *model.HelperSlot) {
			defer wg.Done()
			_, err := f.reservations.Signup(ctx, service.SignupParams{EventID: s.EventID, MemberID: "olga", SlotID: &s.ID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, service.ErrSlotConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(s)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, len(slots)-1, conflicts)
	assert.Len(t, f.active(t, "olga"), 1)
}

func TestSignupRetriesOnceOnTxConflict(t *testing.T) {
	ctx := context.Background()
	hooks := &hookStore{Store: openStore(t)}
	f := newFixtureWithStore(t, hooks)
	e := f.event(t, "Relay")
	s := f.slot(t, e.ID, base, time.Hour, 1)

	hooks.set(1, nil)
	res, err := f.reservations.Signup(ctx, service.SignupParams{EventID: e.ID, MemberID: "pat", SlotID: &s.ID})
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, res.Status)

	hooks.set(2, nil)
	_, err = f.reservations.Signup(ctx, service.SignupParams{EventID: e.ID, MemberID: "quinn", SlotID: &s.ID})
	assert.ErrorIs(t, err, repository.ErrTxConflict)
	assert.Empty(t, f.active(t, "quinn"))
}

func TestSignupDemotesWhenRecheckFindsSlotOverCapacity(t *testing.T) {
	ctx := context.Background()
	hooks := &hookStore{Store: openStore(t)}
	f := newFixtureWithStore(t, hooks)
	e := f.event(t, "Tour")
	s := f.slot(t, e.ID, base, time.Hour, 1)
	f.signup(t, e.ID, s.ID, "rita")

	hooks.set(0, func(tx repository.Tx) repository.Tx { return &hookTx{Tx: tx, staleCounts: 1} })
	res, err := f.reservations.Signup(ctx, service.SignupParams{EventID: e.ID, MemberID: "sam", SlotID: &s.ID})
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaitlisted, res.Status)

	hooks.set(0, nil)
	occ := f.occupancy(t, s.ID)
	assert.Equal(t, 1, occ.Confirmed)
	assert.Equal(t, 1, occ.Waitlisted)
}

func TestFindConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e1 := f.event(t, "Harvest Market")
	e2 := f.event(t, "Book Swap")
	s1 := f.slot(t, e1.ID, base, 2*time.Hour, 5)
	f.signup(t, e1.ID, s1.ID, "alice")

	tests := []struct {
		name    string
		start   time.Time
		end     time.Time
		exclude string
		want    int
	}{
		{"overlapping", base.Add(time.Hour), base.Add(3 * time.Hour), e2.ID, 1},
		{"contained", base.Add(30 * time.Minute), base.Add(time.Hour), "", 1},
		{"ends at slot start", base.Add(-time.Hour), base, "", 0},
		{"starts at slot end", base.Add(2 * time.Hour), base.Add(3 * time.Hour), "", 0},
		{"own event excluded", base, base.Add(time.Hour), e1.ID, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.reservations.FindConflicts(ctx, "alice", tt.start, tt.end, tt.exclude)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}

	_, err := f.reservations.FindConflicts(ctx, "alice", base, base, "")
	assert.ErrorIs(t, err, service.ErrInvalidInput)
	_, err = f.reservations.FindConflicts(ctx, "", base, base.Add(time.Hour), "")
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestOccupancyUnknownSlot(t *testing.T) {
	f := newFixture(t)
	_, err := f.reservations.Occupancy(context.Background(), "missing")
	assert.ErrorIs(t, err, service.ErrSlotNotFound)
	_, err = f.reservations.Occupancy(context.Background(), "")
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}
