package scheduler

import (
	"context"
	"time"

	"EpiFind/pkg/logger"

	"go.uber.org/zap"
)

type Job interface{ Run(ctx context.Context) error }

type FuncJob func(ctx context.Context) error

func (f FuncJob) Run(ctx context.Context) error { return f(ctx) }

// Scheduler runs named background jobs on simple interval or daily
// schedules. Job errors are logged, never fatal.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{ctx: ctx, cancel: cancel}
}

func (s *Scheduler) Stop() { s.cancel() }

func (s *Scheduler) Every(name string, d time.Duration, job Job) { go s.loopEvery(name, d, job) }

func (s *Scheduler) DailyAt(name string, hh, mm int, job Job) { go s.loopDaily(name, hh, mm, job) }

func (s *Scheduler) loopEvery(name string, d time.Duration, job Job) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.runJob(name, job)
		}
	}
}

func (s *Scheduler) loopDaily(name string, hh, mm int, job Job) {
	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(next.Sub(now)):
			s.runJob(name, job)
		}
	}
}

func (s *Scheduler) runJob(name string, job Job) {
	start := time.Now()
	if err := job.Run(s.ctx); err != nil {
		logger.Warn("job failed", zap.String("job", name), zap.Error(err))
		return
	}
	logger.Debug("job completed", zap.String("job", name), zap.Duration("took", time.Since(start)))
}
