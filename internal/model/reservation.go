package model

import (
	"strings"
	"time"
)

// ReservationStatus is the lifecycle state of a reservation row.
type ReservationStatus string

const (
	StatusHeld      ReservationStatus = "HELD"
	StatusConfirmed ReservationStatus = "CONFIRMED"
	StatusCancelled ReservationStatus = "CANCELLED"
	StatusExpired   ReservationStatus = "EXPIRED"
)

// Reservation is the authoritative record of who occupies a seat for a
// schedule. A row is inserted as HELD and then mutated in place exactly
// once into CONFIRMED, CANCELLED or EXPIRED; rows are never deleted, so the
// table doubles as an audit trail.
//
// Fields:
//
//	ID         – primary key identifier.
//	UserID     – user who placed the hold.
//	ScheduleID – concert schedule the seat belongs to.
//	SeatNo     – normalised (upper-case) seat label.
//	Status     – HELD, CONFIRMED, CANCELLED or EXPIRED.
//	Active     – true while this row is the live occupant of the seat.
//	ExpiresAt  – hold deadline; nil once CONFIRMED.
//	CreatedAt  – creation timestamp.
//	UpdatedAt  – last update timestamp.
type Reservation struct {
	ID         uint64            `json:"id"`                   // reservation.id
	UserID     uint64            `json:"user_id"`              // reservation.user_id
	ScheduleID uint64            `json:"schedule_id"`          // reservation.schedule_id
	SeatNo     string            `json:"seat_no"`              // reservation.seat_no
	Status     ReservationStatus `json:"status"`               // reservation.status
	Active     bool              `json:"active"`               // reservation.active (1 or NULL)
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"` // reservation.expires_at (nullable)
	CreatedAt  time.Time         `json:"created_at"`           // reservation.created_at
	UpdatedAt  time.Time         `json:"updated_at"`           // reservation.updated_at
}

// HeldValid reports whether r is an active HELD row that has not expired at now.
func (r *Reservation) HeldValid(now time.Time) bool {
	return r.Active && r.Status == StatusHeld && (r.ExpiresAt == nil || r.ExpiresAt.After(now))
}

// HeldExpired reports whether r is an active HELD row whose deadline has
// been reached. It is the exact complement of HeldValid for HELD rows, so a
// hold is expired at its deadline instant.
func (r *Reservation) HeldExpired(now time.Time) bool {
	return r.Active && r.Status == StatusHeld && r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// NormalizeSeatNo trims and upper-cases a seat label ("a1 " -> "A1").
func NormalizeSeatNo(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
