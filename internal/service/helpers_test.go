package service_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/helper-slots/internal/database"
	"github.com/Shivanand-hulikatti/helper-slots/internal/model"
	"github.com/Shivanand-hulikatti/helper-slots/internal/repository"
	"github.com/Shivanand-hulikatti/helper-slots/internal/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// base is 10:00 on the day of every test event.
var base = time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func openStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return repository.NewSQLiteStore(db)
}

type fixture struct {
	store        repository.Store
	clock        *fakeClock
	events       *service.EventService
	reservations *service.ReservationService
}

// newFixture builds both services over a fresh SQLite store. The clock starts
// two days before base so every seeded event lies in the future.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, openStore(t))
}

func newFixtureWithStore(t *testing.T, store repository.Store) *fixture {
	t.Helper()
	clock := newFakeClock(base.Add(-48 * time.Hour))
	log := zap.NewNop()
	return &fixture{
		store:        store,
		clock:        clock,
		events:       service.NewEventService(store, clock, log),
		reservations: service.NewReservationService(store, clock, log),
	}
}

func (f *fixture) event(t *testing.T, title string, roles ...string) *model.Event {
	t.Helper()
	e, err := f.events.CreateEvent(context.Background(), model.CreateEventRequest{
		Title:        title,
		StartTime:    base.Add(-time.Hour),
		EndTime:      base.Add(8 * time.Hour),
		VisibleRoles: roles,
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) slot(t *testing.T, eventID string, start time.Time, d time.Duration, capacity int) *model.HelperSlot {
	t.Helper()
	s, err := f.events.CreateSlot(context.Background(), eventID, model.CreateSlotRequest{
		StartTime: start,
		EndTime:   start.Add(d),
		Capacity:  capacity,
	})
	require.NoError(t, err)
	return s
}

// signup reserves slotID for member and advances the clock by a second so
// later signups queue behind it.
func (f *fixture) signup(t *testing.T, eventID, slotID, member string) *model.SignupResult {
	t.Helper()
	res, err := f.reservations.Signup(context.Background(), service.SignupParams{
		EventID:  eventID,
		MemberID: member,
		SlotID:   &slotID,
	})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return res
}

func (f *fixture) occupancy(t *testing.T, slotID string) model.Occupancy {
	t.Helper()
	occ, err := f.reservations.Occupancy(context.Background(), slotID)
	require.NoError(t, err)
	return occ
}

func (f *fixture) active(t *testing.T, member string) []model.Reservation {
	t.Helper()
	all, err := f.events.ListMemberReservations(context.Background(), member)
	require.NoError(t, err)
	var out []model.Reservation
	for _, r := range all {
		if r.Status.Active() {
			out = append(out, r)
		}
	}
	return out
}

func statusOf(t *testing.T, f *fixture, reservationID, member string) model.Status {
	t.Helper()
	all, err := f.events.ListMemberReservations(context.Background(), member)
	require.NoError(t, err)
	for _, r := range all {
		if r.ID == reservationID {
			return r.Status
		}
	}
	t.Fatalf("reservation %s not found for %s", reservationID, member)
	return ""
}

// hookStore injects failures around a real store.
type hookStore struct {
	repository.Store

	mu        sync.Mutex
	conflicts int // WithTx calls to fail with ErrTxConflict before running fn
	wrap      func(repository.Tx) repository.Tx
}

func (s *hookStore) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return repository.ErrTxConflict
	}
	wrap := s.wrap
	s.mu.Unlock()

	return s.Store.WithTx(ctx, func(tx repository.Tx) error {
		if wrap != nil {
			tx = wrap(tx)
		}
		return fn(tx)
	})
}

func (s *hookStore) set(conflicts int, wrap func(repository.Tx) repository.Tx) {
	s.mu.Lock()
	s.conflicts = conflicts
	s.wrap = wrap
	s.mu.Unlock()
}

type hookTx struct {
	repository.Tx

	insertErr   error
	staleCounts int // CountSlot calls that report an empty slot
}

func (t *hookTx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	if t.insertErr != nil {
		return t.insertErr
	}
	return t.Tx.InsertReservation(ctx, r)
}

func (t *hookTx) CountSlot(ctx context.Context, slotID string) (int, int, error) {
	if t.staleCounts > 0 {
		t.staleCounts--
		return 0, 0, nil
	}
	return t.Tx.CountSlot(ctx, slotID)
}
