package scheduler

import (
	"context"
	"fmt"
	"time"

	"billing/internal/service"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper runs one renewal pass followed by one expiration pass.
type Sweeper interface {
	RunScheduledSweep(ctx context.Context, now time.Time) (service.ScheduledSweepResult, error)
}

// Scheduler triggers the billing sweep on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	sweeper  Sweeper
	schedule string
	timeout  time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func New(sweeper Sweeper, schedule string, log *zap.Logger) *Scheduler {
	log = log.Named("scheduler")
	cronLogger := cron.PrintfLogger(zap.NewStdLog(log))
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		sweeper:  sweeper,
		schedule: schedule,
		timeout:  30 * time.Minute,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start registers the sweep job and starts the cron loop in the background.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.runJob); err != nil {
		return fmt.Errorf("invalid billing sweep schedule %q: %w", s.schedule, err)
	}
	s.log.Info("scheduled billing sweep", zap.String("schedule", s.schedule))
	s.cron.Start()
	return nil
}

// Stop halts the cron loop. The returned context is done once a running sweep finishes.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce performs a single sweep synchronously.
func (s *Scheduler) RunOnce(ctx context.Context) (service.ScheduledSweepResult, error) {
	started := s.now()
	res, err := s.sweeper.RunScheduledSweep(ctx, started)
	if err != nil {
		s.log.Error("billing sweep failed", zap.Error(err))
		return res, err
	}
	s.log.Info("billing sweep finished",
		zap.Int("renewals_issued", res.Renewals.Processed),
		zap.Int("renewals_failed", res.Renewals.Failed),
		zap.Int("expired", res.Expirations.Processed),
		zap.Int("expirations_failed", res.Expirations.Failed),
		zap.Duration("took", time.Since(started)),
	)
	return res, nil
}

func (s *Scheduler) runJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, _ = s.RunOnce(ctx)
}
