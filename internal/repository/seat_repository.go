package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/concert-ticketing/internal/database"
	"github.com/iliyamo/concert-ticketing/internal/model"
)

// SeatRepo is the read-only seat catalog.
type SeatRepo struct {
	db *database.DB
}

func NewSeatRepo(db *database.DB) *SeatRepo { return &SeatRepo{db: db} }

// SeatExists reports whether seatNo is a seat of the schedule.
func (r *SeatRepo) SeatExists(ctx context.Context, scheduleID uint64, seatNo string) (bool, error) {
	var one int
	err := r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT 1 FROM seat WHERE schedule_id = ? AND seat_no = ? LIMIT 1`,
		scheduleID, seatNo,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// FindSeatNoByID resolves a seat id to its label, or ErrNotFound.
func (r *SeatRepo) FindSeatNoByID(ctx context.Context, scheduleID, seatID uint64) (string, error) {
	var seatNo string
	err := r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT seat_no FROM seat WHERE schedule_id = ? AND id = ?`,
		scheduleID, seatID,
	).Scan(&seatNo)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return seatNo, err
}

// GetSeat loads one seat, or ErrNotFound.
func (r *SeatRepo) GetSeat(ctx context.Context, scheduleID uint64, seatNo string) (*model.Seat, error) {
	var s model.Seat
	err := r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT id, schedule_id, seat_no, price_cents FROM seat WHERE schedule_id = ? AND seat_no = ?`,
		scheduleID, seatNo,
	).Scan(&s.ID, &s.ScheduleID, &s.SeatNo, &s.PriceCents)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListBySchedule returns the seat layout of a schedule ordered by label.
func (r *SeatRepo) ListBySchedule(ctx context.Context, scheduleID uint64) ([]model.Seat, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx,
		`SELECT id, schedule_id, seat_no, price_cents FROM seat WHERE schedule_id = ? ORDER BY seat_no`,
		scheduleID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Seat
	for rows.Next() {
		var s model.Seat
		if err := rows.Scan(&s.ID, &s.ScheduleID, &s.SeatNo, &s.PriceCents); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
