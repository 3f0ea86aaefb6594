package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/helper-slots/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"
)

const reservationColumns = `id, seq, event_id, slot_id, member_id, status, created_at, updated_at`

// PostgresStore persists reservation state in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// WithTx runs fn inside a READ COMMITTED transaction. Capacity races are
// closed by the row lock LockSlot takes, not by the isolation level.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Ensure the transaction is always resolved.
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(&pgTx{tx: tx}); err != nil {
		return classifyPG(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return classifyPG(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// CreateEvent inserts a new event.
func (s *PostgresStore) CreateEvent(ctx context.Context, e *model.Event) error {
	roles := e.VisibleRoles
	if roles == nil {
		roles = []string{}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO events (id, title, start_time, end_time, visible_roles, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Title, e.StartTime, e.EndTime, roles, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetEvent returns a single event or ErrNotFound.
func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return pgGetEvent(ctx, s.db, id)
}

// ListEvents returns all events ordered by start time.
func (s *PostgresStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, title, start_time, end_time, visible_roles, created_at
		 FROM events
		 ORDER BY start_time ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanPGEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// CreateSlot inserts a new helper slot.
func (s *PostgresStore) CreateSlot(ctx context.Context, slot *model.HelperSlot) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO helper_slots (id, event_id, start_time, end_time, capacity, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		slot.ID, slot.EventID, slot.StartTime, slot.EndTime, slot.Capacity, slot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

// GetSlot returns a single slot or ErrNotFound.
func (s *PostgresStore) GetSlot(ctx context.Context, id string) (*model.HelperSlot, error) {
	return pgGetSlot(ctx, s.db, id, false)
}

// ListSlots returns an event's slots ordered by start time.
func (s *PostgresStore) ListSlots(ctx context.Context, eventID string) ([]model.HelperSlot, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, event_id, start_time, end_time, capacity, created_at
		 FROM helper_slots
		 WHERE event_id = $1
		 ORDER BY start_time ASC, id ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var slots []model.HelperSlot
	for rows.Next() {
		slot, err := scanPGSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, *slot)
	}
	return slots, rows.Err()
}

// ListReservationsByEvent returns every reservation of an event in creation order.
func (s *PostgresStore) ListReservationsByEvent(ctx context.Context, eventID string) ([]model.Reservation, error) {
	return pgQueryReservations(ctx, s.db,
		`SELECT `+reservationColumns+`
		 FROM reservations
		 WHERE event_id = $1
		 ORDER BY created_at ASC, seq ASC`,
		eventID,
	)
}

// ListReservationsByMember returns every reservation of a member in creation order.
func (s *PostgresStore) ListReservationsByMember(ctx context.Context, memberID string) ([]model.Reservation, error) {
	return pgQueryReservations(ctx, s.db,
		`SELECT `+reservationColumns+`
		 FROM reservations
		 WHERE member_id = $1
		 ORDER BY created_at ASC, seq ASC`,
		memberID,
	)
}

// pgTx implements Tx on a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return pgGetEvent(ctx, t.tx, id)
}

// LockSlot acquires an exclusive row-level lock on the slot. Any other
// transaction that attempts the same SELECT … FOR UPDATE blocks until this one
// commits or rolls back, so occupancy read after this call cannot go stale
// before our insert.
func (t *pgTx) LockSlot(ctx context.Context, id string) (*model.HelperSlot, error) {
	return pgGetSlot(ctx, t.tx, id, true)
}

// LockMember takes a transaction-scoped advisory lock keyed on the member id.
func (t *pgTx) LockMember(ctx context.Context, memberID string) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, memberID); err != nil {
		return fmt.Errorf("lock member: %w", err)
	}
	return nil
}

func (t *pgTx) CountSlot(ctx context.Context, slotID string) (confirmed, waitlisted int, err error) {
	err = t.tx.QueryRow(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE status = 'confirmed'),
		   COUNT(*) FILTER (WHERE status = 'waitlisted')
		 FROM reservations
		 WHERE slot_id = $1`,
		slotID,
	).Scan(&confirmed, &waitlisted)
	if err != nil {
		return 0, 0, fmt.Errorf("count slot reservations: %w", err)
	}
	return confirmed, waitlisted, nil
}

func (t *pgTx) ActiveForMember(ctx context.Context, eventID, memberID string) ([]model.Reservation, error) {
	return pgQueryReservations(ctx, t.tx,
		`SELECT `+reservationColumns+`
		 FROM reservations
		 WHERE event_id = $1 AND member_id = $2 AND status IN ('confirmed', 'waitlisted')
		 ORDER BY created_at ASC, seq ASC`,
		eventID, memberID,
	)
}

func (t *pgTx) GetActiveReservation(ctx context.Context, id, memberID string, forUpdate bool) (*model.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
		 FROM reservations
		 WHERE id = $1 AND member_id = $2 AND status IN ('confirmed', 'waitlisted')`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	r, err := scanPGReservation(t.tx.QueryRow(ctx, query, id, memberID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return r, nil
}

func (t *pgTx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO reservations (id, event_id, slot_id, member_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING seq`,
		r.ID, r.EventID, r.SlotID, r.MemberID, string(r.Status), r.CreatedAt, r.UpdatedAt,
	).Scan(&r.Seq)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateActive
		}
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateStatus(ctx context.Context, id string, from, to model.Status, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE reservations SET status = $3, updated_at = $4
		 WHERE id = $1 AND status = $2`,
		id, string(from), string(to), at,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateActive
		}
		return fmt.Errorf("update reservation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) Waitlisted(ctx context.Context, slotID string) ([]model.Reservation, error) {
	return pgQueryReservations(ctx, t.tx,
		`SELECT `+reservationColumns+`
		 FROM reservations
		 WHERE slot_id = $1 AND status = 'waitlisted'
		 ORDER BY created_at ASC, seq ASC`,
		slotID,
	)
}

// ConfirmedOverlapping uses half-open interval overlap: a slot ending exactly
// when the candidate starts does not conflict.
func (t *pgTx) ConfirmedOverlapping(ctx context.Context, memberID string, start, end time.Time, excludingEventID string) ([]model.Conflict, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT r.id, r.event_id, e.title, s.id, s.start_time, s.end_time
		 FROM reservations r
		 JOIN helper_slots s ON s.id = r.slot_id
		 JOIN events e ON e.id = r.event_id
		 WHERE r.member_id = $1
		   AND r.status = 'confirmed'
		   AND r.event_id <> $4
		   AND s.start_time < $3
		   AND s.end_time > $2
		 ORDER BY s.start_time ASC, r.id ASC`,
		memberID, start, end, excludingEventID,
	)
	if err != nil {
		return nil, fmt.Errorf("find conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []model.Conflict
	for rows.Next() {
		var c model.Conflict
		if err := rows.Scan(&c.ReservationID, &c.EventID, &c.EventTitle, &c.SlotID, &c.StartTime, &c.EndTime); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		c.StartTime = c.StartTime.UTC()
		c.EndTime = c.EndTime.UTC()
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pgGetEvent(ctx context.Context, q querier, id string) (*model.Event, error) {
	e, err := scanPGEvent(q.QueryRow(ctx,
		`SELECT id, title, start_time, end_time, visible_roles, created_at
		 FROM events WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func pgGetSlot(ctx context.Context, q querier, id string, forUpdate bool) (*model.HelperSlot, error) {
	query := `SELECT id, event_id, start_time, end_time, capacity, created_at
		 FROM helper_slots WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	slot, err := scanPGSlot(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return slot, nil
}

func pgQueryReservations(ctx context.Context, q querier, query string, args ...any) ([]model.Reservation, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		r, err := scanPGReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanPGEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	if err := row.Scan(&e.ID, &e.Title, &e.StartTime, &e.EndTime, &e.VisibleRoles, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.StartTime, e.EndTime, e.CreatedAt = e.StartTime.UTC(), e.EndTime.UTC(), e.CreatedAt.UTC()
	if len(e.VisibleRoles) == 0 {
		e.VisibleRoles = nil
	}
	return &e, nil
}

func scanPGSlot(row pgx.Row) (*model.HelperSlot, error) {
	var s model.HelperSlot
	if err := row.Scan(&s.ID, &s.EventID, &s.StartTime, &s.EndTime, &s.Capacity, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan slot: %w", err)
	}
	s.StartTime, s.EndTime, s.CreatedAt = s.StartTime.UTC(), s.EndTime.UTC(), s.CreatedAt.UTC()
	return &s, nil
}

func scanPGReservation(row pgx.Row) (*model.Reservation, error) {
	var (
		r      model.Reservation
		status string
	)
	if err := row.Scan(&r.ID, &r.Seq, &r.EventID, &r.SlotID, &r.MemberID, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.Status(status)
	r.CreatedAt, r.UpdatedAt = r.CreatedAt.UTC(), r.UpdatedAt.UTC()
	return &r, nil
}

// classifyPG maps lost races to ErrTxConflict while keeping the driver
// error in the chain.
func classifyPG(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return fmt.Errorf("%w: %w", ErrTxConflict, err)
		}
	}
	return err
}
