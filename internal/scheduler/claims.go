package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/smallbiznis/modulebilling/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/modulebilling/internal/subscription/domain"
	"gorm.io/gorm"
)

const claimTimeout = 5 * time.Second

// claimDue returns the next page of ACTIVE subscriptions billed before asOf.
// Rows are claimed in a short transaction; the job lock keeps other runners
// from picking the same page.
func (s *Scheduler) claimDue(ctx context.Context, asOf time.Time, afterID snowflake.ID, limit int) ([]subscriptiondomain.Subscription, error) {
	return s.claim(ctx, obsmetrics.LockResourceRenewalsDue, func(ctx context.Context, tx *gorm.DB) ([]subscriptiondomain.Subscription, error) {
		return s.repo.ListDueForRenewal(ctx, tx, asOf, afterID, limit)
	})
}

// claimExpiring returns the next page of CANCELLED subscriptions whose paid period ended before now.
func (s *Scheduler) claimExpiring(ctx context.Context, now time.Time, afterID snowflake.ID, limit int) ([]subscriptiondomain.Subscription, error) {
	return s.claim(ctx, obsmetrics.LockResourceCancelledExpiring, func(ctx context.Context, tx *gorm.DB) ([]subscriptiondomain.Subscription, error) {
		return s.repo.ListExpiring(ctx, tx, now, afterID, limit)
	})
}

func (s *Scheduler) claim(
	ctx context.Context,
	resource string,
	fetch func(ctx context.Context, tx *gorm.DB) ([]subscriptiondomain.Subscription, error),
) ([]subscriptiondomain.Subscription, error) {
	claimCtx, cancel := context.WithTimeout(ctx, claimTimeout)
	defer cancel()

	var items []subscriptiondomain.Subscription
	lockStart := time.Now()
	err := s.db.WithContext(claimCtx).Transaction(func(tx *gorm.DB) error {
		var err error
		items, err = fetch(claimCtx, tx)
		return err
	})
	obsmetrics.Scheduler().ObserveDBLockWait(resource, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return items, nil
}
