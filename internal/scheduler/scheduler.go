// Package scheduler runs the periodic jobs that keep the queue, the holds
// and the outbox moving.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/observability"
)

// Job is one periodic unit of work.
type Job interface {
	Name() string
	Run(ctx context.Context)
}

// Scheduler wraps cron. Overlapping runs of the same job are skipped and a
// panicking job is logged instead of killing the process.
type Scheduler struct {
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.SugaredLogger
}

func New(ctx context.Context, log *zap.SugaredLogger) *Scheduler {
	cl := observability.CronLogger{L: log}
	c := cron.New(
		cron.WithParser(cron.NewParser(
			cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
		)),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{c: c, ctx: ctx, cancel: cancel, log: log}
}

// Every schedules job at a fixed interval. cron only resolves whole
// seconds, so sub-second intervals are rounded up to one second.
func (s *Scheduler) Every(interval time.Duration, job Job) (cron.EntryID, error) {
	if interval < time.Second {
		interval = time.Second
	}
	return s.Add(fmt.Sprintf("@every %s", interval.Truncate(time.Second)), job)
}

func (s *Scheduler) Add(spec string, job Job) (cron.EntryID, error) {
	id, err := s.c.AddFunc(spec, func() { job.Run(s.ctx) })
	if err != nil {
		return 0, fmt.Errorf("schedule %s: %w", job.Name(), err)
	}
	s.log.Infow("job scheduled", "job", job.Name(), "spec", spec)
	return id, nil
}

func (s *Scheduler) Start() { s.c.Start() }

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.c.Stop().Done()
}
