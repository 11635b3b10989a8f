package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/gate"
	"github.com/iliyamo/concert-ticketing/internal/metrics"
	"github.com/iliyamo/concert-ticketing/internal/service"
)

// ClusterLock is the advisory lock that keeps one advancer running across
// instances.
type ClusterLock interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) (bool, error)
}

// ScheduleSource lists schedules with someone waiting.
type ScheduleSource interface {
	ActiveSchedules(ctx context.Context) ([]uint64, error)
}

// QueueAdvanceJob tops up every active schedule's pass set from the front
// of its waiting line.
type QueueAdvanceJob struct {
	lock      ClusterLock
	schedules ScheduleSource
	advancer  gate.Advancer
	capacity  int
	passTTL   time.Duration
	lockTTL   time.Duration
	metrics   *metrics.Metrics
	log       *zap.SugaredLogger
	now       func() time.Time
}

func NewQueueAdvanceJob(lock ClusterLock, schedules ScheduleSource, advancer gate.Advancer, capacity int, passTTL, lockTTL time.Duration, m *metrics.Metrics, log *zap.SugaredLogger) *QueueAdvanceJob {
	return &QueueAdvanceJob{
		lock:      lock,
		schedules: schedules,
		advancer:  advancer,
		capacity:  capacity,
		passTTL:   passTTL,
		lockTTL:   lockTTL,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

func (j *QueueAdvanceJob) Name() string { return "queue-advance" }

func (j *QueueAdvanceJob) Run(ctx context.Context) {
	owner := uuid.NewString()
	ok, err := j.lock.Acquire(ctx, gate.AdvanceLockKey, owner, j.lockTTL)
	if err != nil {
		j.log.Warnw("advance lock failed", "error", err)
		return
	}
	if !ok {
		return
	}
	defer func() {
		if _, err := j.lock.Release(context.WithoutCancel(ctx), gate.AdvanceLockKey, owner); err != nil {
			j.log.Warnw("advance lock release failed", "error", err)
		}
	}()

	ids, err := j.schedules.ActiveSchedules(ctx)
	if err != nil {
		j.log.Warnw("list active schedules failed", "error", err)
		return
	}
	total, failed := 0, 0
	for _, sid := range ids {
		if ctx.Err() != nil {
			return
		}
		n, err := j.advancer.Advance(ctx, sid, j.now(), j.capacity, j.passTTL)
		if err != nil {
			failed++
			if j.metrics != nil {
				j.metrics.Queue.AdvanceErrorsTotal.Inc()
			}
			j.log.Warnw("advance failed", "schedule_id", sid, "engine", j.advancer.Name(), "error", err)
			continue
		}
		total += n
	}
	if j.metrics != nil {
		j.metrics.Queue.PassesAdvancedTotal.Add(float64(total))
	}
	if total > 0 || failed > 0 {
		j.log.Infow("queue advanced", "schedules", len(ids), "issued", total, "failed", failed)
	}
}

// Sweeper is the bounded expiry batch.
type Sweeper interface {
	SweepExpired(ctx context.Context, limit int) (int64, error)
}

// HoldExpiryJob repeats the bounded sweep until a batch comes back short.
type HoldExpiryJob struct {
	sweeper Sweeper
	batch   int
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
}

func NewHoldExpiryJob(sweeper Sweeper, batch int, m *metrics.Metrics, log *zap.SugaredLogger) *HoldExpiryJob {
	if batch <= 0 {
		batch = 500
	}
	return &HoldExpiryJob{sweeper: sweeper, batch: batch, metrics: m, log: log}
}

func (j *HoldExpiryJob) Name() string { return "hold-expiry" }

func (j *HoldExpiryJob) Run(ctx context.Context) {
	var total int64
	for ctx.Err() == nil {
		n, err := j.sweeper.SweepExpired(ctx, j.batch)
		if err != nil {
			j.log.Warnw("hold sweep failed", "expired_so_far", total, "error", err)
			break
		}
		total += n
		if n < int64(j.batch) {
			break
		}
	}
	if total > 0 {
		if j.metrics != nil {
			j.metrics.Holds.ExpiredTotal.Add(float64(total))
		}
		j.log.Infow("expired holds swept", "count", total)
	}
}

// BatchPublisher is the outbox publisher's per-tick entry point.
type BatchPublisher interface {
	PublishBatch(ctx context.Context) (service.BatchStats, error)
}

type OutboxPublishJob struct {
	pub BatchPublisher
	log *zap.SugaredLogger
}

func NewOutboxPublishJob(pub BatchPublisher, log *zap.SugaredLogger) *OutboxPublishJob {
	return &OutboxPublishJob{pub: pub, log: log}
}

func (j *OutboxPublishJob) Name() string { return "outbox-publish" }

func (j *OutboxPublishJob) Run(ctx context.Context) {
	if _, err := j.pub.PublishBatch(ctx); err != nil {
		j.log.Warnw("outbox publish batch failed", "error", err)
	}
}
