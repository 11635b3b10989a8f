package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/concert-ticketing/internal/database"
	"github.com/iliyamo/concert-ticketing/internal/model"
)

// HoldInsert is the outcome of an optimistic hold insert: either the row
// was inserted, or the seat already has an active occupant, returned as
// Current. Current can be nil when the conflicting row was released between
// the failed insert and the locking read.
type HoldInsert struct {
	Inserted    bool
	Reservation *model.Reservation // set when Inserted
	Current     *model.Reservation // set on conflict, may be nil
}

// ReservationRepo provides data access to the reservation table. Every
// state change is a single conditional UPDATE so that concurrent writers
// are serialised by the row lock, and the unique index on
// (schedule_id, seat_no, active) arbitrates concurrent inserts.
type ReservationRepo struct {
	db *database.DB
}

func NewReservationRepo(db *database.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = `id, user_id, schedule_id, seat_no, status, active, expires_at, created_at, updated_at`

// InsertHold inserts a HELD row. A duplicate-key failure is not an error:
// it is reported as a conflict together with the current active row.
func (r *ReservationRepo) InsertHold(ctx context.Context, userID, scheduleID uint64, seatNo string, now, expiresAt time.Time) (HoldInsert, error) {
	res, err := r.db.Conn(ctx).ExecContext(ctx,
		`INSERT INTO reservation (user_id, schedule_id, seat_no, status, active, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?, ?)`,
		userID, scheduleID, seatNo, model.StatusHeld, expiresAt, now, now,
	)
	if err != nil {
		if !IsDuplicateKey(err) {
			return HoldInsert{}, fmt.Errorf("insert hold: %w", err)
		}
		cur, ferr := r.FindActive(ctx, scheduleID, seatNo)
		if errors.Is(ferr, ErrNotFound) {
			return HoldInsert{}, nil
		}
		if ferr != nil {
			return HoldInsert{}, ferr
		}
		return HoldInsert{Current: cur}, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return HoldInsert{}, err
	}
	exp := expiresAt
	return HoldInsert{
		Inserted: true,
		Reservation: &model.Reservation{
			ID:         uint64(id),
			UserID:     userID,
			ScheduleID: scheduleID,
			SeatNo:     seatNo,
			Status:     model.StatusHeld,
			Active:     true,
			ExpiresAt:  &exp,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}, nil
}

// FindActive returns the live occupant of a seat or ErrNotFound. It is a
// locking read, so inside a transaction it sees rows committed after the
// transaction's snapshot.
func (r *ReservationRepo) FindActive(ctx context.Context, scheduleID uint64, seatNo string) (*model.Reservation, error) {
	row := r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservation
		 WHERE schedule_id = ? AND seat_no = ? AND active = 1
		 LIMIT 1 FOR SHARE`,
		scheduleID, seatNo,
	)
	res, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return res, err
}

// ExpireHeld flips one expired hold to EXPIRED. It reports false when the
// row is no longer an expired active hold.
func (r *ReservationRepo) ExpireHeld(ctx context.Context, id uint64, now time.Time) (bool, error) {
	res, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE reservation SET status = ?, active = NULL, updated_at = ?
		 WHERE id = ? AND active = 1 AND status = ? AND expires_at <= ?`,
		model.StatusExpired, now, id, model.StatusHeld, now,
	)
	return affectedOne(res, err)
}

// ConfirmHeld turns the caller's valid hold into CONFIRMED in one statement.
func (r *ReservationRepo) ConfirmHeld(ctx context.Context, userID, scheduleID uint64, seatNo string, now time.Time) (bool, error) {
	res, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE reservation SET status = ?, expires_at = NULL, updated_at = ?
		 WHERE user_id = ? AND schedule_id = ? AND seat_no = ?
		   AND active = 1 AND status = ?
		   AND (expires_at IS NULL OR expires_at > ?)`,
		model.StatusConfirmed, now, userID, scheduleID, seatNo, model.StatusHeld, now,
	)
	return affectedOne(res, err)
}

// CancelHeld releases the caller's hold. False means there was nothing to cancel.
func (r *ReservationRepo) CancelHeld(ctx context.Context, userID, scheduleID uint64, seatNo string, now time.Time) (bool, error) {
	res, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE reservation SET status = ?, active = NULL, updated_at = ?
		 WHERE user_id = ? AND schedule_id = ? AND seat_no = ?
		   AND active = 1 AND status = ?`,
		model.StatusCancelled, now, userID, scheduleID, seatNo, model.StatusHeld,
	)
	return affectedOne(res, err)
}

// SweepExpired expires at most limit holds, oldest deadline first, and
// returns how many rows changed. The LIMIT keeps lock footprints small
// next to the hot insert path.
func (r *ReservationRepo) SweepExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	res, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE reservation SET status = ?, active = NULL, updated_at = ?
		 WHERE active = 1 AND status = ? AND expires_at <= ?
		 ORDER BY expires_at
		 LIMIT ?`,
		model.StatusExpired, now, model.StatusHeld, now, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep expired holds: %w", err)
	}
	return res.RowsAffected()
}

// HasValidHold checks for an unexpired active hold owned by userID.
func (r *ReservationRepo) HasValidHold(ctx context.Context, userID, scheduleID uint64, seatNo string, now time.Time) (bool, error) {
	var one int
	err := r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT 1 FROM reservation
		 WHERE user_id = ? AND schedule_id = ? AND seat_no = ?
		   AND active = 1 AND status = ?
		   AND (expires_at IS NULL OR expires_at > ?)
		 LIMIT 1`,
		userID, scheduleID, seatNo, model.StatusHeld, now,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListByUser returns a user's reservations, newest first.
func (r *ReservationRepo) ListByUser(ctx context.Context, userID uint64, limit int) ([]model.Reservation, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservation
		 WHERE user_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

// ActiveSeats maps seat_no to the status of its live occupant for a schedule.
// Expired-but-unswept holds are left out.
func (r *ReservationRepo) ActiveSeats(ctx context.Context, scheduleID uint64, now time.Time) (map[string]model.ReservationStatus, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx,
		`SELECT seat_no, status FROM reservation
		 WHERE schedule_id = ? AND active = 1
		   AND (status = ? OR expires_at IS NULL OR expires_at > ?)`,
		scheduleID, model.StatusConfirmed, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]model.ReservationStatus{}
	for rows.Next() {
		var seatNo string
		var st model.ReservationStatus
		if err := rows.Scan(&seatNo, &st); err != nil {
			return nil, err
		}
		out[seatNo] = st
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(s rowScanner) (*model.Reservation, error) {
	var (
		res     model.Reservation
		active  sql.NullInt64
		expires sql.NullTime
	)
	if err := s.Scan(&res.ID, &res.UserID, &res.ScheduleID, &res.SeatNo, &res.Status,
		&active, &expires, &res.CreatedAt, &res.UpdatedAt); err != nil {
		return nil, err
	}
	res.Active = active.Valid && active.Int64 == 1
	if expires.Valid {
		t := expires.Time
		res.ExpiresAt = &t
	}
	return &res, nil
}

func affectedOne(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
