package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/helper-slots/internal/model"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// SQLiteStore persists reservation state in SQLite. The handle must be opened
// with IMMEDIATE transactions (see database.OpenSQLite) so that every
// WithTx call holds the database write lock from its first statement; that
// lock is what serializes concurrent signups and cancellations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore constructs a SQLiteStore.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// WithTx runs fn in one transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLite(fmt.Errorf("begin transaction: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&sqliteTx{tx: tx}); err != nil {
		return classifySQLite(err)
	}
	if err = tx.Commit(); err != nil {
		return classifySQLite(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// CreateEvent inserts a new event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, e *model.Event) error {
	roles, err := json.Marshal(nonNil(e.VisibleRoles))
	if err != nil {
		return fmt.Errorf("encode visible roles: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, title, start_time, end_time, visible_roles, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Title, toMillis(e.StartTime), toMillis(e.EndTime), string(roles), toMillis(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetEvent returns a single event or ErrNotFound.
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return sqliteGetEvent(ctx, s.db, id)
}

// ListEvents returns all events ordered by start time.
func (s *SQLiteStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
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
		e, err := scanSQLiteEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// CreateSlot inserts a new helper slot.
func (s *SQLiteStore) CreateSlot(ctx context.Context, slot *model.HelperSlot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO helper_slots (id, event_id, start_time, end_time, capacity, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		slot.ID, slot.EventID, toMillis(slot.StartTime), toMillis(slot.EndTime), slot.Capacity, toMillis(slot.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

// GetSlot returns a single slot or ErrNotFound.
func (s *SQLiteStore) GetSlot(ctx context.Context, id string) (*model.HelperSlot, error) {
	return sqliteGetSlot(ctx, s.db, id)
}

// ListSlots returns an event's slots ordered by start time.
func (s *SQLiteStore) ListSlots(ctx context.Context, eventID string) ([]model.HelperSlot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, start_time, end_time, capacity, created_at
		 FROM helper_slots
		 WHERE event_id = ?
		 ORDER BY start_time ASC, id ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var slots []model.HelperSlot
	for rows.Next() {
		slot, err := scanSQLiteSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, *slot)
	}
	return slots, rows.Err()
}

// ListReservationsByEvent returns every reservation of an event in creation order.
func (s *SQLiteStore) ListReservationsByEvent(ctx context.Context, eventID string) ([]model.Reservation, error) {
	return sqliteQueryReservations(ctx, s.db,
		`SELECT `+reservationColumns+`
		 FROM reservations
		 WHERE event_id = ?
		 ORDER BY created_at ASC, seq ASC`,
		eventID,
	)
}

// ListReservationsByMember returns every reservation of a member in creation order.
func (s *SQLiteStore) ListReservationsByMember(ctx context.Context, memberID string) ([]model.Reservation, error) {
	return sqliteQueryReservations(ctx, s.db,
		`SELECT `+reservationColumns+`
		 FROM reservations
		 WHERE member_id = ?
		 ORDER BY created_at ASC, seq ASC`,
		memberID,
	)
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return sqliteGetEvent(ctx, t.tx, id)
}

// LockSlot is a plain read: the IMMEDIATE transaction already holds the
// database write lock.
func (t *sqliteTx) LockSlot(ctx context.Context, id string) (*model.HelperSlot, error) {
	return sqliteGetSlot(ctx, t.tx, id)
}

func (t *sqliteTx) LockMember(ctx context.Context, memberID string) error {
	return ctx.Err()
}

func (t *sqliteTx) CountSlot(ctx context.Context, slotID string) (confirmed, waitlisted int, err error) {
	err = t.tx.QueryRowContext(ctx,
		`SELECT
		   COALESCE(SUM(CASE WHEN status = 'confirmed' THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN status = 'waitlisted' THEN 1 ELSE 0 END), 0)
		 FROM reservations
		 WHERE slot_id = ?`,
		slotID,
	).Scan(&confirmed, &waitlisted)
	if err != nil {
		return 0, 0, fmt.Errorf("count slot reservations: %w", err)
	}
	return confirmed, waitlisted, nil
}

func (t *sqliteTx) ActiveForMember(ctx context.Context, eventID, memberID string) ([]model.Reservation, error) {
	return sqliteQueryReservations(ctx, t.tx,
		`SELECT `+reservationColumns+`
		 FROM reservations
		 WHERE event_id = ? AND member_id = ? AND status IN ('confirmed', 'waitlisted')
		 ORDER BY created_at ASC, seq ASC`,
		eventID, memberID,
	)
}

func (t *sqliteTx) GetActiveReservation(ctx context.Context, id, memberID string, _ bool) (*model.Reservation, error) {
	r, err := scanSQLiteReservation(t.tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+`
		 FROM reservations
		 WHERE id = ? AND member_id = ? AND status IN ('confirmed', 'waitlisted')`,
		id, memberID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return r, nil
}

func (t *sqliteTx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO reservations (id, event_id, slot_id, member_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EventID, nullString(r.SlotID), r.MemberID, string(r.Status), toMillis(r.CreatedAt), toMillis(r.UpdatedAt),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrDuplicateActive
		}
		return fmt.Errorf("insert reservation: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read reservation seq: %w", err)
	}
	r.Seq = seq
	return nil
}

func (t *sqliteTx) UpdateStatus(ctx context.Context, id string, from, to model.Status, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE reservations SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(to), toMillis(at), id, string(from),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrDuplicateActive
		}
		return fmt.Errorf("update reservation status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update reservation status: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqliteTx) Waitlisted(ctx context.Context, slotID string) ([]model.Reservation, error) {
	return sqliteQueryReservations(ctx, t.tx,
		`SELECT `+reservationColumns+`
		 FROM reservations
		 WHERE slot_id = ? AND status = 'waitlisted'
		 ORDER BY created_at ASC, seq ASC`,
		slotID,
	)
}

func (t *sqliteTx) ConfirmedOverlapping(ctx context.Context, memberID string, start, end time.Time, excludingEventID string) ([]model.Conflict, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT r.id, r.event_id, e.title, s.id, s.start_time, s.end_time
		 FROM reservations r
		 JOIN helper_slots s ON s.id = r.slot_id
		 JOIN events e ON e.id = r.event_id
		 WHERE r.member_id = ?
		   AND r.status = 'confirmed'
		   AND r.event_id <> ?
		   AND s.start_time < ?
		   AND s.end_time > ?
		 ORDER BY s.start_time ASC, r.id ASC`,
		memberID, excludingEventID, toMillis(end), toMillis(start),
	)
	if err != nil {
		return nil, fmt.Errorf("find conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []model.Conflict
	for rows.Next() {
		var (
			c                  model.Conflict
			slotStart, slotEnd int64
		)
		if err := rows.Scan(&c.ReservationID, &c.EventID, &c.EventTitle, &c.SlotID, &slotStart, &slotEnd); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		c.StartTime, c.EndTime = fromMillis(slotStart), fromMillis(slotEnd)
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func sqliteGetEvent(ctx context.Context, q sqlQuerier, id string) (*model.Event, error) {
	e, err := scanSQLiteEvent(q.QueryRowContext(ctx,
		`SELECT id, title, start_time, end_time, visible_roles, created_at
		 FROM events WHERE id = ?`,
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func sqliteGetSlot(ctx context.Context, q sqlQuerier, id string) (*model.HelperSlot, error) {
	slot, err := scanSQLiteSlot(q.QueryRowContext(ctx,
		`SELECT id, event_id, start_time, end_time, capacity, created_at
		 FROM helper_slots WHERE id = ?`,
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return slot, nil
}

func sqliteQueryReservations(ctx context.Context, q sqlQuerier, query string, args ...any) ([]model.Reservation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		r, err := scanSQLiteReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanSQLiteEvent(row rowScanner) (*model.Event, error) {
	var (
		e                   model.Event
		start, end, created int64
		roles               string
	)
	if err := row.Scan(&e.ID, &e.Title, &start, &end, &roles, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	if err := json.Unmarshal([]byte(roles), &e.VisibleRoles); err != nil {
		return nil, fmt.Errorf("decode visible roles: %w", err)
	}
	if len(e.VisibleRoles) == 0 {
		e.VisibleRoles = nil
	}
	e.StartTime, e.EndTime, e.CreatedAt = fromMillis(start), fromMillis(end), fromMillis(created)
	return &e, nil
}

func scanSQLiteSlot(row rowScanner) (*model.HelperSlot, error) {
	var (
		s                   model.HelperSlot
		start, end, created int64
	)
	if err := row.Scan(&s.ID, &s.EventID, &start, &end, &s.Capacity, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan slot: %w", err)
	}
	s.StartTime, s.EndTime, s.CreatedAt = fromMillis(start), fromMillis(end), fromMillis(created)
	return &s, nil
}

func scanSQLiteReservation(row rowScanner) (*model.Reservation, error) {
	var (
		r                model.Reservation
		slotID           sql.NullString
		status           string
		created, updated int64
	)
	if err := row.Scan(&r.ID, &r.Seq, &r.EventID, &slotID, &r.MemberID, &status, &created, &updated); err != nil {
		return nil, err
	}
	if slotID.Valid {
		id := slotID.String
		r.SlotID = &id
	}
	r.Status = model.Status(status)
	r.CreatedAt, r.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &r, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nonNil(roles []string) []string {
	if roles == nil {
		return []string{}
	}
	return roles
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

// classifySQLite maps a busy or locked database to ErrTxConflict.
func classifySQLite(err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", ErrTxConflict, err)
		}
	}
	return err
}
