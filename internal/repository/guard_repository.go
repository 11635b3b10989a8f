package repository

import (
	"context"
	"time"

	"github.com/iliyamo/concert-ticketing/internal/database"
)

// GuardRepo writes confirmed_seat_guard, the second uniqueness backstop
// taken once per (schedule, seat) when a hold is confirmed.
type GuardRepo struct {
	db *database.DB
}

func NewGuardRepo(db *database.DB) *GuardRepo { return &GuardRepo{db: db} }

// Acquire inserts the guard row. It returns false, without error, when a
// guard already exists: a concurrent confirm already won.
func (r *GuardRepo) Acquire(ctx context.Context, scheduleID uint64, seatNo string, reservationID uint64) (bool, error) {
	_, err := r.db.Conn(ctx).ExecContext(ctx,
		`INSERT INTO confirmed_seat_guard (schedule_id, seat_no, reservation_id, created_at)
		 VALUES (?, ?, ?, ?)`,
		scheduleID, seatNo, reservationID, time.Now().UTC(),
	)
	if IsDuplicateKey(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
