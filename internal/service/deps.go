package service

import (
	"context"
	"time"

	"github.com/iliyamo/concert-ticketing/internal/model"
	"github.com/iliyamo/concert-ticketing/internal/repository"
)

// The interfaces below are satisfied by the MySQL repositories, the Redis
// gate and seat locks; tests substitute in-memory versions.

type ReservationStore interface {
	InsertHold(ctx context.Context, userID, scheduleID uint64, seatNo string, now, expiresAt time.Time) (repository.HoldInsert, error)
	FindActive(ctx context.Context, scheduleID uint64, seatNo string) (*model.Reservation, error)
	ExpireHeld(ctx context.Context, id uint64, now time.Time) (bool, error)
	ConfirmHeld(ctx context.Context, userID, scheduleID uint64, seatNo string, now time.Time) (bool, error)
	CancelHeld(ctx context.Context, userID, scheduleID uint64, seatNo string, now time.Time) (bool, error)
	SweepExpired(ctx context.Context, now time.Time, limit int) (int64, error)
	HasValidHold(ctx context.Context, userID, scheduleID uint64, seatNo string, now time.Time) (bool, error)
	ListByUser(ctx context.Context, userID uint64, limit int) ([]model.Reservation, error)
	ActiveSeats(ctx context.Context, scheduleID uint64, now time.Time) (map[string]model.ReservationStatus, error)
}

type GuardStore interface {
	Acquire(ctx context.Context, scheduleID uint64, seatNo string, reservationID uint64) (bool, error)
}

// Catalog is the read-only seat lookup.
type Catalog interface {
	SeatExists(ctx context.Context, scheduleID uint64, seatNo string) (bool, error)
	FindSeatNoByID(ctx context.Context, scheduleID, seatID uint64) (string, error)
	GetSeat(ctx context.Context, scheduleID uint64, seatNo string) (*model.Seat, error)
	ListBySchedule(ctx context.Context, scheduleID uint64) ([]model.Seat, error)
}

type OutboxStore interface {
	Insert(ctx context.Context, e *model.OutboxEvent) error
	LockDueBatch(ctx context.Context, now time.Time, limit int) ([]*model.OutboxEvent, error)
	Save(ctx context.Context, e *model.OutboxEvent) error
	ListFailed(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	Requeue(ctx context.Context, eventID string, now time.Time) (bool, error)
}

type DedupStore interface {
	Claim(ctx context.Context, eventID string, now time.Time) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type PaymentStore interface {
	Create(ctx context.Context, o *model.PaymentOrder) error
	FindByOrderNo(ctx context.Context, orderNo string) (*model.PaymentOrder, error)
	UpdateStatus(ctx context.Context, orderNo string, status model.PaymentStatus, reason string, now time.Time) error
}

// TxRunner opens a unit of work; see database.DB.WithinTransaction.
type TxRunner interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type QueueGate interface {
	Enter(ctx context.Context, scheduleID, userID uint64) (int64, error)
	Position(ctx context.Context, scheduleID, userID uint64) (int64, error)
	GetPass(ctx context.Context, scheduleID, userID uint64) (*model.QueuePass, error)
	TryIssuePass(ctx context.Context, scheduleID, userID uint64, capacity int, ttl time.Duration) (*model.QueuePass, string, error)
	ValidatePass(ctx context.Context, scheduleID, userID uint64, token string) (bool, error)
	ReleasePass(ctx context.Context, scheduleID, userID uint64) error
}

type SeatLocker interface {
	Lock(ctx context.Context, scheduleID uint64, seatNo string, ownerID uint64, ttl time.Duration) (bool, error)
	Release(ctx context.Context, scheduleID uint64, seatNo string, ownerID uint64) error
	Owner(ctx context.Context, scheduleID uint64, seatNo string) (uint64, bool, error)
}

// SeatConfirmer is the synchronous confirm entry point used by the
// consumer and the payment flow.
type SeatConfirmer interface {
	ConfirmSeat(ctx context.Context, scheduleID uint64, seatNo string, userID uint64) (Result, error)
}
