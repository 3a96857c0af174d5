package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

// NewCron registers the enabled jobs on their daily specs. Overlapping runs of
// the same job are skipped.
func (s *Scheduler) NewCron(ctx context.Context) (*cron.Cron, error) {
	logger := cronLogger{log: s.log.Sugar()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{JobRenewal, s.cfg.RenewalSpec, func(ctx context.Context) error {
			return s.runJob(ctx, JobRenewal, s.billing.Get().RenewalBatchSize, s.cfg.JobTimeout, func(ctx context.Context) error {
				_, err := s.RunDailyRenewal(ctx)
				return err
			})
		}},
		{JobExpiration, s.cfg.ExpirationSpec, func(ctx context.Context) error {
			return s.runJob(ctx, JobExpiration, s.cfg.SweepBatchSize, s.cfg.JobTimeout, func(ctx context.Context) error {
				_, err := s.Sweep(ctx)
				return err
			})
		}},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.name) {
			continue
		}
		if _, err := c.AddFunc(job.spec, func() {
			if err := job.run(ctx); err != nil {
				s.log.Warn("scheduler run failed", zap.String("job", job.name), zap.Error(err))
			}
		}); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", job.name, job.spec, err)
		}
	}
	return c, nil
}
