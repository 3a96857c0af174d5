package scheduler

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/modulebilling/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type SweepSummary struct {
	Expired     int         `json:"expired"`
	Deactivated int         `json:"deactivated"`
	Errors      []ItemError `json:"errors"`
	Skipped     bool        `json:"skipped,omitempty"`
}

// Sweep expires CANCELLED subscriptions whose paid period has ended and turns
// their entitlement off. Entitlements of pairs that were bought again during
// the grace period stay active. Re-running is a no-op.
func (s *Scheduler) Sweep(ctx context.Context) (SweepSummary, error) {
	summary := SweepSummary{Errors: []ItemError{}}

	ctx, run, owner := s.ensureJobRun(ctx, JobExpiration, s.cfg.SweepBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	ran, err := s.withJobLock(ctx, JobExpiration, func(ctx context.Context) error {
		return s.expireEnded(ctx, run, &summary)
	})
	if !ran && err == nil {
		summary.Skipped = true
	}

	recordOutcomes(run, JobExpiration,
		outcomeCount{"expired", summary.Expired},
		outcomeCount{"deactivated", summary.Deactivated},
	)
	return summary, err
}

func (s *Scheduler) expireEnded(ctx context.Context, run *jobRun, summary *SweepSummary) error {
	now := s.clock.Now()
	var (
		lastID snowflake.ID
		jobErr error
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		items, err := s.claimExpiring(ctx, now, lastID, s.cfg.SweepBatchSize)
		if err != nil {
			run.IncError()
			s.logItemError(ctx, "scheduler.expiration.claim.failed", JobExpiration, nil, err)
			return subscriptiondomain.Infrastructure("claim expiring subscriptions", err)
		}
		if len(items) == 0 {
			return jobErr
		}
		lastID = items[len(items)-1].ID

		for _, sub := range items {
			s.logClaimed(ctx, JobExpiration, sub)
			expired, deactivated, err := s.expireOne(ctx, sub)
			if err != nil {
				run.IncError()
				jobErr = errors.Join(jobErr, err)
				summary.Errors = append(summary.Errors, itemError(sub, subscriptiondomain.ErrInfrastructure.Error()))
				s.logItemError(ctx, "scheduler.expiration.item.failed", JobExpiration, &sub, err)
				continue
			}
			if expired {
				summary.Expired++
			}
			if deactivated {
				summary.Deactivated++
			}
		}
		run.AddClaimed(len(items))

		if jobErr != nil {
			return jobErr
		}
	}
}

func (s *Scheduler) expireOne(ctx context.Context, sub subscriptiondomain.Subscription) (expired, deactivated bool, err error) {
	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		affected, err := s.repo.Expire(ctx, tx, sub.ID, now)
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		expired = true

		replacement, err := s.repo.FindActive(ctx, tx, sub.StoreID, sub.ModuleID)
		if err != nil {
			return err
		}
		if replacement != nil {
			return nil
		}
		deactivated, err = s.entitlements.DeactivateTx(ctx, tx, sub.StoreID, sub.ModuleID)
		return err
	})
	if err != nil {
		return false, false, subscriptiondomain.Infrastructure("expire subscription", err)
	}
	if deactivated {
		s.entitlements.Invalidate(sub.StoreID, sub.ModuleID)
	}
	if expired {
		s.metrics.RecordSubscriptionTransition(ctx, string(subscriptiondomain.StatusExpired), "grace_period_ended")
		s.logger(s.withStore(ctx, sub.StoreID)).Info("subscription expired",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("module_id", sub.ModuleID),
			zap.Bool("entitlement_deactivated", deactivated),
		)
	}
	return expired, deactivated, nil
}
