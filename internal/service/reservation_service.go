package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/apperr"
	"github.com/iliyamo/concert-ticketing/internal/model"
	"github.com/iliyamo/concert-ticketing/internal/repository"
)

// ReservationService is the durable seat state machine:
//
//	HELD -> CONFIRMED | CANCELLED | EXPIRED
//
// Every transition is one conditional statement against the store, and the
// unique index on the active row decides who wins a seat. Callers that need
// atomicity across several calls wrap them in a transaction.
type ReservationService struct {
	store   ReservationStore
	guards  GuardStore
	catalog Catalog
	holdTTL time.Duration
	log     *zap.SugaredLogger
	now     func() time.Time
}

func NewReservationService(store ReservationStore, guards GuardStore, catalog Catalog, holdTTL time.Duration, log *zap.SugaredLogger) *ReservationService {
	return &ReservationService{
		store:   store,
		guards:  guards,
		catalog: catalog,
		holdTTL: holdTTL,
		log:     log,
		now:     time.Now,
	}
}

// ConfirmResult reports the confirmed row. AlreadyConfirmed is set when
// this call found the work already done, so callers can choose between
// idempotent success and ALREADY_RESERVED.
type ConfirmResult struct {
	Reservation      *model.Reservation
	AlreadyConfirmed bool
}

func seatArgs(userID, scheduleID uint64, seatNo string) (string, error) {
	seatNo = model.NormalizeSeatNo(seatNo)
	if userID == 0 || scheduleID == 0 || seatNo == "" {
		return "", apperr.Invalid("user, schedule and seat are required")
	}
	return seatNo, nil
}

// Hold places a HELD row for the caller. The insert goes first and the
// unique index arbitrates; on conflict the current occupant decides the
// outcome. An expired occupant is flipped to EXPIRED and the insert is
// retried once.
func (s *ReservationService) Hold(ctx context.Context, userID, scheduleID uint64, seatNo string) (*model.Reservation, error) {
	seatNo, err := seatArgs(userID, scheduleID, seatNo)
	if err != nil {
		return nil, err
	}
	exists, err := s.catalog.SeatExists(ctx, scheduleID, seatNo)
	if err != nil {
		return nil, fmt.Errorf("seat lookup: %w", err)
	}
	if !exists {
		return nil, apperr.ErrSeatNotFound
	}

	for attempt := 0; attempt < 2; attempt++ {
		now := s.now().UTC()
		res, err := s.store.InsertHold(ctx, userID, scheduleID, seatNo, now, now.Add(s.holdTTL))
		if err != nil {
			return nil, err
		}
		if res.Inserted {
			return res.Reservation, nil
		}

		cur := res.Current
		switch {
		case cur == nil:
			// occupant released between the insert and the locking read
			continue
		case cur.Status == model.StatusConfirmed:
			return nil, apperr.ErrAlreadyReserved
		case cur.HeldExpired(now):
			if _, err := s.store.ExpireHeld(ctx, cur.ID, now); err != nil {
				return nil, err
			}
			s.log.Debugw("expired stale hold before re-hold",
				"schedule_id", scheduleID, "seat_no", seatNo, "reservation_id", cur.ID)
			continue
		case cur.UserID == userID:
			return cur, nil
		default:
			return nil, apperr.ErrAlreadyHeld
		}
	}
	return nil, apperr.ErrAlreadyHeld
}

// Confirm turns the caller's valid hold into CONFIRMED and takes the
// confirmed-seat guard. When the conditional update matches nothing the
// active row is re-read to explain why. Another user's row is reported as
// HOLD_NOT_FOUND so occupancy does not leak.
func (s *ReservationService) Confirm(ctx context.Context, userID, scheduleID uint64, seatNo string) (ConfirmResult, error) {
	seatNo, err := seatArgs(userID, scheduleID, seatNo)
	if err != nil {
		return ConfirmResult{}, err
	}
	now := s.now().UTC()

	updated, err := s.store.ConfirmHeld(ctx, userID, scheduleID, seatNo, now)
	if err != nil {
		return ConfirmResult{}, err
	}
	if updated {
		cur, err := s.store.FindActive(ctx, scheduleID, seatNo)
		if err != nil {
			return ConfirmResult{}, fmt.Errorf("reload confirmed row: %w", err)
		}
		first, err := s.guards.Acquire(ctx, scheduleID, seatNo, cur.ID)
		if err != nil {
			return ConfirmResult{}, err
		}
		return ConfirmResult{Reservation: cur, AlreadyConfirmed: !first}, nil
	}

	cur, err := s.store.FindActive(ctx, scheduleID, seatNo)
	if errors.Is(err, repository.ErrNotFound) {
		return ConfirmResult{}, apperr.ErrHoldNotFound
	}
	if err != nil {
		return ConfirmResult{}, err
	}
	if cur.UserID != userID {
		return ConfirmResult{}, apperr.ErrHoldNotFound
	}
	switch cur.Status {
	case model.StatusConfirmed:
		return ConfirmResult{Reservation: cur, AlreadyConfirmed: true}, nil
	case model.StatusHeld:
		if !cur.HeldValid(now) {
			if _, err := s.store.ExpireHeld(ctx, cur.ID, now); err != nil {
				return ConfirmResult{}, err
			}
			return ConfirmResult{}, apperr.ErrHoldExpired
		}
	}
	return ConfirmResult{}, apperr.ErrHoldNotFound
}

// Cancel releases the caller's hold. False with a nil error means there
// was nothing to cancel, which cleanup paths treat as success.
func (s *ReservationService) Cancel(ctx context.Context, userID, scheduleID uint64, seatNo string) (bool, error) {
	seatNo, err := seatArgs(userID, scheduleID, seatNo)
	if err != nil {
		return false, err
	}
	return s.store.CancelHeld(ctx, userID, scheduleID, seatNo, s.now().UTC())
}

// SweepExpired expires one bounded batch of overdue holds.
func (s *ReservationService) SweepExpired(ctx context.Context, limit int) (int64, error) {
	return s.store.SweepExpired(ctx, s.now().UTC(), limit)
}

// HasValidHold reports whether the caller holds the seat right now.
func (s *ReservationService) HasValidHold(ctx context.Context, userID, scheduleID uint64, seatNo string) (bool, error) {
	seatNo, err := seatArgs(userID, scheduleID, seatNo)
	if err != nil {
		return false, err
	}
	return s.store.HasValidHold(ctx, userID, scheduleID, seatNo, s.now().UTC())
}

func (s *ReservationService) ListByUser(ctx context.Context, userID uint64, limit int) ([]model.Reservation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}
