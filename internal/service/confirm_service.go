package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/apperr"
	"github.com/iliyamo/concert-ticketing/internal/model"
)

type ConfirmRequestConfig struct {
	Topic    string
	MaxRetry int
}

// ConfirmService records confirm intents in the outbox. Nothing is
// published from the request path.
type ConfirmService struct {
	tx       TxRunner
	store    ReservationStore
	outbox   OutboxStore
	cfg      ConfirmRequestConfig
	log      *zap.SugaredLogger
	now      func() time.Time
	newEvent func() string
}

func NewConfirmService(tx TxRunner, store ReservationStore, outbox OutboxStore, cfg ConfirmRequestConfig, log *zap.SugaredLogger) *ConfirmService {
	return &ConfirmService{
		tx:       tx,
		store:    store,
		outbox:   outbox,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		newEvent: uuid.NewString,
	}
}

// RequestConfirm checks for a valid hold and writes one PENDING event in the
// same transaction. It returns the event id.
func (s *ConfirmService) RequestConfirm(ctx context.Context, scheduleID uint64, seatNo string, userID uint64) (string, error) {
	seatNo, err := seatArgs(userID, scheduleID, seatNo)
	if err != nil {
		return "", err
	}
	var eventID string
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		now := s.now().UTC()
		ok, err := s.store.HasValidHold(ctx, userID, scheduleID, seatNo, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrHoldNotFound
		}
		id := s.newEvent()
		body, err := json.Marshal(model.ConfirmRequested{
			EventID:     id,
			ScheduleID:  scheduleID,
			SeatNo:      seatNo,
			UserID:      userID,
			RequestedAt: now,
		})
		if err != nil {
			return fmt.Errorf("encode confirm event: %w", err)
		}
		key := fmt.Sprintf("%d:%s", scheduleID, seatNo)
		if err := s.outbox.Insert(ctx, model.NewPendingOutboxEvent(id, s.cfg.Topic, key, body, s.cfg.MaxRetry, now)); err != nil {
			return err
		}
		eventID = id
		return nil
	})
	if err != nil {
		return "", err
	}
	s.log.Infow("confirm requested", "event_id", eventID, "schedule_id", scheduleID, "seat_no", seatNo, "user_id", userID)
	return eventID, nil
}

// ListFailed returns events that exhausted their retries.
func (s *ConfirmService) ListFailed(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.outbox.ListFailed(ctx, limit)
}

// Requeue moves a FAILED event back to PENDING with a fresh retry budget.
func (s *ConfirmService) Requeue(ctx context.Context, eventID string) error {
	if eventID == "" {
		return apperr.Invalid("event id is required")
	}
	ok, err := s.outbox.Requeue(ctx, eventID, s.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrInvalidRequest.WithMessage("event is not in FAILED state")
	}
	s.log.Infow("outbox event requeued", "event_id", eventID)
	return nil
}
