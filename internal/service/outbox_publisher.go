package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/broker"
	"github.com/iliyamo/concert-ticketing/internal/metrics"
	"github.com/iliyamo/concert-ticketing/internal/model"
)

type OutboxPublisherConfig struct {
	BatchSize      int
	PublishTimeout time.Duration
	BackoffCap     time.Duration
}

// BatchStats summarises one publisher tick.
type BatchStats struct {
	Claimed   int
	Published int
	Retried   int
	Failed    int
}

// OutboxPublisher drains due PENDING rows to the broker. Rows are claimed
// with FOR UPDATE SKIP LOCKED, so several instances can run side by side
// without publishing the same row twice in one round.
type OutboxPublisher struct {
	tx      TxRunner
	outbox  OutboxStore
	pub     broker.Publisher
	metrics *metrics.Metrics
	cfg     OutboxPublisherConfig
	log     *zap.SugaredLogger
	now     func() time.Time
}

func NewOutboxPublisher(tx TxRunner, outbox OutboxStore, pub broker.Publisher, m *metrics.Metrics, cfg OutboxPublisherConfig, log *zap.SugaredLogger) *OutboxPublisher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 3 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = time.Minute
	}
	return &OutboxPublisher{tx: tx, outbox: outbox, pub: pub, metrics: m, cfg: cfg, log: log, now: time.Now}
}

// PublishBatch claims up to BatchSize due rows and publishes each one. A
// publish failure is recorded on the row; it never aborts the batch.
func (p *OutboxPublisher) PublishBatch(ctx context.Context) (BatchStats, error) {
	var st BatchStats
	err := p.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		st = BatchStats{}
		events, err := p.outbox.LockDueBatch(ctx, p.now().UTC(), p.cfg.BatchSize)
		if err != nil {
			return err
		}
		st.Claimed = len(events)
		for _, e := range events {
			perr := p.publish(ctx, e)
			now := p.now().UTC()
			if perr == nil {
				e.MarkPublished(now)
				st.Published++
				p.count("published")
			} else {
				e.MarkAttemptFailed(now, perr.Error(), p.cfg.BackoffCap)
				if e.Status == model.OutboxFailed {
					st.Failed++
					p.count("failed")
					p.log.Errorw("outbox event failed permanently",
						"event_id", e.EventID, "retry_count", e.RetryCount, "error", perr)
				} else {
					st.Retried++
					p.count("retry")
					p.log.Warnw("outbox publish failed, will retry",
						"event_id", e.EventID, "retry_count", e.RetryCount, "next_retry_at", e.NextRetryAt, "error", perr)
				}
			}
			if err := p.outbox.Save(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if p.metrics != nil {
		p.metrics.Outbox.BatchSize.Observe(float64(st.Claimed))
	}
	if err != nil {
		return st, err
	}
	if st.Claimed > 0 {
		p.log.Debugw("outbox batch done", "claimed", st.Claimed, "published", st.Published, "retried", st.Retried, "failed", st.Failed)
	}
	return st, nil
}

func (p *OutboxPublisher) publish(ctx context.Context, e *model.OutboxEvent) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()
	return p.pub.Publish(ctx, broker.Message{
		ID:        e.EventID,
		Topic:     e.Topic,
		Key:       e.EventKey,
		Body:      e.Payload,
		Timestamp: e.CreatedAt,
	})
}

func (p *OutboxPublisher) count(result string) {
	if p.metrics != nil {
		p.metrics.Outbox.PublishTotal.WithLabelValues(result).Inc()
	}
}
