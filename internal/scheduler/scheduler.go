package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/modulebilling/internal/clock"
	"github.com/smallbiznis/modulebilling/internal/config"
	credentialdomain "github.com/smallbiznis/modulebilling/internal/credential/domain"
	entitlementdomain "github.com/smallbiznis/modulebilling/internal/entitlement/domain"
	ledgerdomain "github.com/smallbiznis/modulebilling/internal/ledger/domain"
	"github.com/smallbiznis/modulebilling/internal/lock"
	obsmetrics "github.com/smallbiznis/modulebilling/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/modulebilling/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/modulebilling/internal/subscription/domain"
	taxdomain "github.com/smallbiznis/modulebilling/internal/tax/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Billing      *config.BillingConfigHolder
	Repo         subscriptiondomain.Repository
	Credentials  credentialdomain.Resolver
	Entitlements entitlementdomain.Store
	Ledger       ledgerdomain.Ledger
	Tax          taxdomain.Calculator
	Gateway      paymentdomain.Gateway
	Locker       lock.Locker
	Metrics      *obsmetrics.Metrics `optional:"true"`
	Config       Config              `optional:"true"`
}

type Scheduler struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          Config
	genID        *snowflake.Node
	clock        clock.Clock
	billing      *config.BillingConfigHolder
	repo         subscriptiondomain.Repository
	credentials  credentialdomain.Resolver
	entitlements entitlementdomain.Store
	ledger       ledgerdomain.Ledger
	tax          taxdomain.Calculator
	gateway      paymentdomain.Gateway
	locker       lock.Locker
	metrics      *obsmetrics.Metrics
}

// BillingRun is the outcome of one pass of both jobs.
type BillingRun struct {
	Renewal    RenewalSummary `json:"renewal"`
	Expiration SweepSummary   `json:"expiration"`
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Billing == nil || p.Repo == nil ||
		p.Credentials == nil || p.Entitlements == nil || p.Ledger == nil || p.Tax == nil || p.Gateway == nil || p.Locker == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		db:           p.DB,
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          cfg,
		genID:        p.GenID,
		clock:        p.Clock,
		billing:      p.Billing,
		repo:         p.Repo,
		credentials:  p.Credentials,
		entitlements: p.Entitlements,
		ledger:       p.Ledger,
		tax:          p.Tax,
		gateway:      p.Gateway,
		locker:       p.Locker,
		metrics:      p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errors == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		// Unfinished items stay due and are picked up by the next run.
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs the enabled jobs in order: renewal first, then expiration.
func (s *Scheduler) RunOnce(parent context.Context) (BillingRun, error) {
	var (
		out BillingRun
		err error
	)

	if s.isJobEnabled(JobRenewal) {
		err = errors.Join(err, s.runJob(parent, JobRenewal, s.billing.Get().RenewalBatchSize, s.cfg.JobTimeout, func(ctx context.Context) error {
			var jobErr error
			out.Renewal, jobErr = s.RunDailyRenewal(ctx)
			return jobErr
		}))
	} else {
		obsmetrics.Scheduler().IncJobSkipped(JobRenewal, obsmetrics.SchedulerSkipReasonDisabled)
	}
	if s.isJobEnabled(JobExpiration) {
		err = errors.Join(err, s.runJob(parent, JobExpiration, s.cfg.SweepBatchSize, s.cfg.JobTimeout, func(ctx context.Context) error {
			var jobErr error
			out.Expiration, jobErr = s.Sweep(ctx)
			return jobErr
		}))
	} else {
		obsmetrics.Scheduler().IncJobSkipped(JobExpiration, obsmetrics.SchedulerSkipReasonDisabled)
	}

	return out, err
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// If EnabledJobs is empty, all jobs are enabled by default (monolith mode)
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

func jobLockKey(job string) string {
	return "module-billing:job:" + job
}

// withJobLock runs fn under the global lock for job. It reports false when
// another runner holds the lock.
func (s *Scheduler) withJobLock(ctx context.Context, job string, fn func(ctx context.Context) error) (bool, error) {
	acquired, err := lock.WithLock(ctx, s.locker, jobLockKey(job), s.cfg.JobTimeout+time.Minute, fn)
	if !acquired {
		if err != nil {
			return false, subscriptiondomain.Infrastructure("acquire job lock", err)
		}
		obsmetrics.Scheduler().IncJobSkipped(job, obsmetrics.SchedulerSkipReasonLockHeld)
		s.logger(ctx).Info("scheduler.job.skipped",
			zap.String("job", job),
			zap.String("reason", obsmetrics.SchedulerSkipReasonLockHeld),
		)
		return false, nil
	}
	return true, err
}
