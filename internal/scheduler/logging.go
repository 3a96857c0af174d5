package scheduler

import (
	"context"
	"slices"
	"time"

	"github.com/bwmarrin/snowflake"
	obscontext "github.com/smallbiznis/modulebilling/internal/observability/context"
	obslogger "github.com/smallbiznis/modulebilling/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/modulebilling/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/modulebilling/internal/subscription/domain"
	"go.uber.org/zap"
)

// jobRun accumulates what one renewal or expiration pass did. It is owned by
// the goroutine driving the job; item workers report back under the caller's lock.
type jobRun struct {
	job       string
	runID     string
	batchSize int
	startedAt time.Time
	claimed   int
	errors    int
	outcomes  map[string]int
}

type jobRunKey struct{}

type outcomeCount struct {
	outcome string
	count   int
}

func (r *jobRun) AddClaimed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.claimed += count
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.errors++
}

func (r *jobRun) addOutcome(outcome string, count int) {
	if r == nil || count <= 0 {
		return
	}
	if r.outcomes == nil {
		r.outcomes = make(map[string]int)
	}
	r.outcomes[outcome] += count
}

// recordOutcomes adds per-outcome item counts to the run log and the
// scheduler processed counter.
func recordOutcomes(run *jobRun, job string, counts ...outcomeCount) {
	m := obsmetrics.Scheduler()
	for _, c := range counts {
		m.AddProcessed(job, c.outcome, c.count)
		run.addOutcome(c.outcome, c.count)
	}
}

func (s *Scheduler) ensureJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun, bool) {
	if existing := jobRunFromContext(ctx); existing != nil {
		return ctx, existing, false
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: s.clock.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	return obscontext.WithActor(ctx, "system", "scheduler"), run, true
}

func jobRunFromContext(ctx context.Context) *jobRun {
	run, _ := ctx.Value(jobRunKey{}).(*jobRun)
	return run
}

// withStore scopes log fields to one store.
func (s *Scheduler) withStore(ctx context.Context, storeID int64) context.Context {
	if storeID == 0 {
		return ctx
	}
	return obscontext.WithStoreID(ctx, storeID)
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Duration("duration", s.clock.Now().Sub(run.startedAt)),
		zap.Int("claimed", run.claimed),
		zap.Int("errors", run.errors),
	}
	names := make([]string, 0, len(run.outcomes))
	for name := range run.outcomes {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fields = append(fields, zap.Int(name, run.outcomes[name]))
	}

	log := s.logger(ctx)
	if run.errors > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logItemError(ctx context.Context, msg, job string, sub *subscriptiondomain.Subscription, err error) {
	fields := []zap.Field{
		zap.String("job", job),
		zap.String("error_type", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	}
	if sub != nil {
		ctx = s.withStore(ctx, sub.StoreID)
		fields = append(fields,
			zap.String("subscription_id", idString(sub.ID)),
			zap.String("module_id", sub.ModuleID),
		)
	}
	s.logger(ctx).Error(msg, fields...)
}

func (s *Scheduler) logClaimed(ctx context.Context, job string, sub subscriptiondomain.Subscription) {
	s.logger(s.withStore(ctx, sub.StoreID)).Debug("scheduler.subscription.claimed",
		zap.String("job", job),
		zap.String("subscription_id", idString(sub.ID)),
		zap.String("module_id", sub.ModuleID),
		zap.String("status", string(sub.Status)),
		zap.Time("next_billing_date", sub.NextBillingDate),
		zap.Time("end_date", sub.EndDate),
		zap.Int("failed_payment_count", sub.FailedPaymentCount),
	)
}

func idString(id snowflake.ID) string {
	if id == 0 {
		return ""
	}
	return id.String()
}
