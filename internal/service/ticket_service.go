package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/apperr"
	"github.com/iliyamo/concert-ticketing/internal/database"
	"github.com/iliyamo/concert-ticketing/internal/gate"
	"github.com/iliyamo/concert-ticketing/internal/metrics"
	"github.com/iliyamo/concert-ticketing/internal/model"
	"github.com/iliyamo/concert-ticketing/internal/notify"
	"github.com/iliyamo/concert-ticketing/internal/repository"
)

// Result is the shape returned by the ticket operations.
type Result struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	ReservationID uint64 `json:"reservation_id,omitempty"`
}

// HoldRequest asks for one seat on behalf of a queue pass holder.
type HoldRequest struct {
	ScheduleID uint64
	UserID     uint64
	SeatNo     string
	QueueToken string
}

type TicketConfig struct {
	QueueEnabled bool
	SeatLockTTL  time.Duration
	MaxAttempts  int // per operation, for deadlocks and lock-wait timeouts
}

// TicketService orchestrates a purchase: queue pass check, seat lock fast
// path, durable state change in a transaction, then lock/pass release and
// notification strictly after commit.
type TicketService struct {
	tx           TxRunner
	reservations *ReservationService
	catalog      Catalog
	gate         QueueGate
	locks        SeatLocker
	notifier     notify.Publisher
	metrics      *metrics.Metrics
	cfg          TicketConfig
	log          *zap.SugaredLogger
	now          func() time.Time
}

func NewTicketService(
	tx TxRunner,
	reservations *ReservationService,
	catalog Catalog,
	gate QueueGate,
	locks SeatLocker,
	notifier notify.Publisher,
	m *metrics.Metrics,
	cfg TicketConfig,
	log *zap.SugaredLogger,
) *TicketService {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &TicketService{
		tx:           tx,
		reservations: reservations,
		catalog:      catalog,
		gate:         gate,
		locks:        locks,
		notifier:     notifier,
		metrics:      m,
		cfg:          cfg,
		log:          log,
		now:          time.Now,
	}
}

// inTx runs fn in a transaction, retrying the whole transaction on
// transient store errors. A business error commits what fn already wrote
// (such as a stale hold flipped to EXPIRED) and is then returned.
func (s *TicketService) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	var bizErr error
	err := retryTransient(ctx, s.cfg.MaxAttempts, func() error {
		bizErr = nil
		return s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			err := fn(ctx)
			if apperr.IsBusiness(err) {
				bizErr = err
				return nil
			}
			return err
		})
	})
	if err != nil {
		return err
	}
	return bizErr
}

func (s *TicketService) HoldSeat(ctx context.Context, req HoldRequest) (Result, error) {
	seatNo := model.NormalizeSeatNo(req.SeatNo)
	if req.ScheduleID == 0 || req.UserID == 0 || seatNo == "" {
		return Result{}, apperr.Invalid("schedule_id, user and seat_no are required")
	}
	sid, uid := req.ScheduleID, req.UserID

	if err := s.checkPass(ctx, sid, uid, req.QueueToken); err != nil {
		s.countHold("rejected")
		return Result{}, err
	}

	locked, err := s.locks.Lock(ctx, sid, seatNo, uid, s.cfg.SeatLockTTL)
	if err != nil {
		s.countHold("error")
		return Result{}, fmt.Errorf("seat lock: %w", err)
	}
	if !locked {
		owner, ok, err := s.locks.Owner(ctx, sid, seatNo)
		if err != nil {
			s.countHold("error")
			return Result{}, fmt.Errorf("seat lock owner: %w", err)
		}
		if !ok || owner != uid {
			s.countHold("locked")
			return Result{}, apperr.ErrSeatAlreadyLocked
		}
	}

	var held *model.Reservation
	err = s.inTx(ctx, func(ctx context.Context) error {
		r, err := s.reservations.Hold(ctx, uid, sid, seatNo)
		if err != nil {
			return err
		}
		held = r
		database.AfterCommit(ctx, func() {
			s.notifier.Publish(sid, s.seatEvent(model.SeatEventHeld, sid, seatNo, uid, true))
		})
		return nil
	})
	if err != nil {
		s.releaseLock(ctx, sid, seatNo, uid)
		if apperr.IsBusiness(err) {
			s.countHold("conflict")
		} else {
			s.countHold("error")
			s.log.Errorw("hold failed", "schedule_id", sid, "seat_no", seatNo, "user_id", uid, "error", err)
		}
		return Result{}, err
	}
	s.countHold("held")
	return Result{Success: true, Message: "seat held", ReservationID: held.ID}, nil
}

// HoldSeatBySeatID resolves a catalog seat id and holds it.
func (s *TicketService) HoldSeatBySeatID(ctx context.Context, scheduleID, seatID, userID uint64, queueToken string) (Result, error) {
	if scheduleID == 0 || seatID == 0 || userID == 0 {
		return Result{}, apperr.Invalid("schedule_id, seat_id and user are required")
	}
	seatNo, err := s.catalog.FindSeatNoByID(ctx, scheduleID, seatID)
	if errors.Is(err, repository.ErrNotFound) {
		return Result{}, apperr.ErrSeatNotFound
	}
	if err != nil {
		return Result{}, fmt.Errorf("seat lookup: %w", err)
	}
	return s.HoldSeat(ctx, HoldRequest{ScheduleID: scheduleID, UserID: userID, SeatNo: seatNo, QueueToken: queueToken})
}

// ReleaseSeat cancels the caller's hold. Releasing a seat that is not held
// succeeds with a different message.
func (s *TicketService) ReleaseSeat(ctx context.Context, scheduleID uint64, seatNo string, userID uint64) (Result, error) {
	seatNo = model.NormalizeSeatNo(seatNo)
	if scheduleID == 0 || userID == 0 || seatNo == "" {
		return Result{}, apperr.Invalid("schedule_id, user and seat_no are required")
	}

	var cancelled bool
	err := s.inTx(ctx, func(ctx context.Context) error {
		c, err := s.reservations.Cancel(ctx, userID, scheduleID, seatNo)
		if err != nil {
			return err
		}
		cancelled = c
		database.AfterCommit(ctx, func() { s.afterRelease(ctx, scheduleID, seatNo, userID, c) })
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if !cancelled {
		return Result{Success: true, Message: "nothing to release"}, nil
	}
	return Result{Success: true, Message: "seat released"}, nil
}

// ConfirmSeat confirms the caller's hold synchronously. A seat lock held by
// someone else is rejected early; otherwise the database decides.
func (s *TicketService) ConfirmSeat(ctx context.Context, scheduleID uint64, seatNo string, userID uint64) (Result, error) {
	seatNo = model.NormalizeSeatNo(seatNo)
	if scheduleID == 0 || userID == 0 || seatNo == "" {
		return Result{}, apperr.Invalid("schedule_id, user and seat_no are required")
	}

	owner, ok, err := s.locks.Owner(ctx, scheduleID, seatNo)
	if err != nil {
		s.log.Warnw("seat lock owner lookup failed, falling back to database",
			"schedule_id", scheduleID, "seat_no", seatNo, "error", err)
	} else if ok && owner != userID {
		return Result{}, apperr.ErrNotSeatOwner
	}

	var out ConfirmResult
	err = s.inTx(ctx, func(ctx context.Context) error {
		r, err := s.reservations.Confirm(ctx, userID, scheduleID, seatNo)
		if err != nil {
			return err
		}
		out = r
		database.AfterCommit(ctx, func() {
			bg := context.WithoutCancel(ctx)
			if err := s.gate.ReleasePass(bg, scheduleID, userID); err != nil {
				s.log.Warnw("release pass after confirm", "schedule_id", scheduleID, "user_id", userID, "error", err)
			}
			s.releaseLock(bg, scheduleID, seatNo, userID)
			if !r.AlreadyConfirmed {
				s.notifier.Publish(scheduleID, s.seatEvent(model.SeatEventConfirmed, scheduleID, seatNo, userID, true))
			}
		})
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	msg := "seat confirmed"
	if out.AlreadyConfirmed {
		msg = "seat already confirmed"
	}
	return Result{Success: true, Message: msg, ReservationID: out.Reservation.ID}, nil
}

// checkPass enforces the admission gate. A caller without a valid pass is
// put in line (if not there yet) and turned away.
func (s *TicketService) checkPass(ctx context.Context, scheduleID, userID uint64, token string) error {
	if !s.cfg.QueueEnabled {
		return nil
	}
	ok, err := s.gate.ValidatePass(ctx, scheduleID, userID, token)
	if err != nil {
		return fmt.Errorf("validate pass: %w", err)
	}
	if ok {
		return nil
	}
	if pos, err := s.gate.Position(ctx, scheduleID, userID); err == nil && pos == gate.NotQueued {
		if _, err := s.gate.Enter(ctx, scheduleID, userID); err != nil {
			s.log.Warnw("auto-enqueue failed", "schedule_id", scheduleID, "user_id", userID, "error", err)
		}
	}
	return apperr.ErrQueueNotAllowed
}

func (s *TicketService) afterRelease(ctx context.Context, scheduleID uint64, seatNo string, userID uint64, cancelled bool) {
	bg := context.WithoutCancel(ctx)
	if err := s.gate.ReleasePass(bg, scheduleID, userID); err != nil {
		s.log.Warnw("release pass after cancel", "schedule_id", scheduleID, "user_id", userID, "error", err)
	}
	owner, owned, err := s.locks.Owner(bg, scheduleID, seatNo)
	if err != nil {
		s.log.Warnw("seat lock owner lookup failed", "schedule_id", scheduleID, "seat_no", seatNo, "error", err)
	}
	ownedByCaller := owned && owner == userID
	s.releaseLock(bg, scheduleID, seatNo, userID)
	if cancelled || ownedByCaller {
		s.notifier.Publish(scheduleID, s.seatEvent(model.SeatEventReleased, scheduleID, seatNo, userID, false))
	}
}

func (s *TicketService) releaseLock(ctx context.Context, scheduleID uint64, seatNo string, userID uint64) {
	if err := s.locks.Release(context.WithoutCancel(ctx), scheduleID, seatNo, userID); err != nil {
		s.log.Warnw("seat lock release failed", "schedule_id", scheduleID, "seat_no", seatNo, "user_id", userID, "error", err)
	}
}

func (s *TicketService) seatEvent(t model.SeatEventType, scheduleID uint64, seatNo string, userID uint64, reserved bool) model.SeatEvent {
	return model.SeatEvent{
		Type:       t,
		ScheduleID: scheduleID,
		SeatNo:     seatNo,
		Reserved:   reserved,
		UserID:     userID,
		OccurredAt: s.now().UTC(),
	}
}

func (s *TicketService) countHold(result string) {
	if s.metrics != nil {
		s.metrics.Holds.AttemptsTotal.WithLabelValues(result).Inc()
	}
}
