package model

import "time"

// Seat is a catalog row: a sellable seat of a schedule.
type Seat struct {
	ID         uint64 `json:"id"`          // seat.id
	ScheduleID uint64 `json:"schedule_id"` // seat.schedule_id
	SeatNo     string `json:"seat_no"`     // seat.seat_no
	PriceCents uint32 `json:"price_cents"` // seat.price_cents
}

type SeatState string

const (
	SeatAvailable SeatState = "AVAILABLE"
	SeatHeld      SeatState = "HELD"
	SeatReserved  SeatState = "RESERVED"
)

// SeatStatus is a seat joined with its live occupancy.
type SeatStatus struct {
	Seat
	State SeatState `json:"state"`
}

// SeatEventType names a committed seat state change pushed to subscribers.
type SeatEventType string

const (
	SeatEventHeld      SeatEventType = "HELD"
	SeatEventReleased  SeatEventType = "RELEASED"
	SeatEventConfirmed SeatEventType = "CONFIRMED"
)

// SeatEvent is emitted only after the transaction behind it commits.
type SeatEvent struct {
	Type       SeatEventType `json:"type"`
	ScheduleID uint64        `json:"schedule_id"`
	SeatNo     string        `json:"seat_no"`
	Reserved   bool          `json:"reserved"`
	UserID     uint64        `json:"user_id"`
	OccurredAt time.Time     `json:"occurred_at"`
}
