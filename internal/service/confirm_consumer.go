package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/apperr"
	"github.com/iliyamo/concert-ticketing/internal/broker"
	"github.com/iliyamo/concert-ticketing/internal/metrics"
	"github.com/iliyamo/concert-ticketing/internal/model"
)

// ConfirmConsumer applies confirm-requested events exactly once in effect.
// The dedup row is claimed before any work and kept on success; it is
// released only when an infrastructure error asks for redelivery.
type ConfirmConsumer struct {
	dedup     DedupStore
	store     ReservationStore
	confirmer SeatConfirmer
	maxAge    time.Duration
	metrics   *metrics.Metrics
	log       *zap.SugaredLogger
	now       func() time.Time
}

func NewConfirmConsumer(dedup DedupStore, store ReservationStore, confirmer SeatConfirmer, maxAge time.Duration, m *metrics.Metrics, log *zap.SugaredLogger) *ConfirmConsumer {
	return &ConfirmConsumer{
		dedup:     dedup,
		store:     store,
		confirmer: confirmer,
		maxAge:    maxAge,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// Handle is a broker.Handler. It returns an error only when the message
// should be redelivered.
func (c *ConfirmConsumer) Handle(ctx context.Context, msg broker.Message) error {
	start := c.now()
	outcome, err := c.handle(ctx, msg)
	if c.metrics != nil {
		c.metrics.Outbox.ConsumedTotal.WithLabelValues(outcome).Inc()
		c.metrics.Outbox.ConsumeLatency.Observe(c.now().Sub(start).Seconds())
	}
	return err
}

func (c *ConfirmConsumer) handle(ctx context.Context, msg broker.Message) (string, error) {
	var ev model.ConfirmRequested
	if err := json.Unmarshal(msg.Body, &ev); err != nil || !ev.Complete() {
		c.log.Warnw("dropping malformed confirm event", "message_id", msg.ID, "error", err)
		return "malformed", nil
	}
	seatNo := model.NormalizeSeatNo(ev.SeatNo)
	log := c.log.With("event_id", ev.EventID, "schedule_id", ev.ScheduleID, "seat_no", seatNo, "user_id", ev.UserID)

	now := c.now().UTC()
	claimed, err := c.dedup.Claim(ctx, ev.EventID, now)
	if err != nil {
		return "retry", err
	}
	if !claimed {
		log.Infow("duplicate confirm event dropped")
		return "duplicate", nil
	}

	if c.maxAge > 0 && !ev.RequestedAt.IsZero() && now.Sub(ev.RequestedAt) > c.maxAge {
		log.Warnw("stale confirm event dropped", "requested_at", ev.RequestedAt)
		return "stale", nil
	}

	ok, err := c.store.HasValidHold(ctx, ev.UserID, ev.ScheduleID, seatNo, now)
	if err != nil {
		c.unclaim(ctx, ev.EventID, log)
		return "retry", err
	}
	if !ok {
		log.Infow("no valid hold for confirm event, dropped")
		return "no_hold", nil
	}

	res, err := c.confirmer.ConfirmSeat(ctx, ev.ScheduleID, seatNo, ev.UserID)
	if apperr.IsBusiness(err) {
		log.Infow("confirm event rejected", "error", err)
		return "business", nil
	}
	if err != nil {
		c.unclaim(ctx, ev.EventID, log)
		log.Errorw("confirm event failed, requesting redelivery", "error", err)
		return "retry", err
	}
	log.Infow("confirm event applied", "reservation_id", res.ReservationID, "message", res.Message)
	return "confirmed", nil
}

func (c *ConfirmConsumer) unclaim(ctx context.Context, eventID string, log *zap.SugaredLogger) {
	if err := c.dedup.Release(context.WithoutCancel(ctx), eventID); err != nil {
		log.Errorw("dedup release failed, redelivery will be dropped as duplicate", "error", err)
	}
}
