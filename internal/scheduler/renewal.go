package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/modulebilling/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/modulebilling/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/modulebilling/internal/subscription/domain"
	subscriptionservice "github.com/smallbiznis/modulebilling/internal/subscription/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const reasonNoPaymentCredential = "no_payment_credential"

// ItemError describes one subscription that was not renewed or expired.
type ItemError struct {
	SubscriptionID string `json:"subscription_id"`
	StoreID        int64  `json:"store_id"`
	ModuleID       string `json:"module_id"`
	Reason         string `json:"reason"`
}

type RenewalSummary struct {
	Charged       int             `json:"charged"`
	Failed        int             `json:"failed"`
	Refunded      int             `json:"refunded"`
	AutoCancelled int             `json:"auto_cancelled"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Errors        []ItemError     `json:"errors"`
	Skipped       bool            `json:"skipped,omitempty"`
}

type renewalOutcome int

const (
	renewalCharged renewalOutcome = iota
	renewalFailed
	renewalRefunded
)

type renewalResult struct {
	outcome       renewalOutcome
	amount        decimal.Decimal
	reason        string
	autoCancelled bool
}

func (s *RenewalSummary) record(sub subscriptiondomain.Subscription, res renewalResult) {
	switch res.outcome {
	case renewalCharged:
		s.Charged++
		s.TotalAmount = s.TotalAmount.Add(res.amount)
	case renewalFailed:
		s.Failed++
		s.Errors = append(s.Errors, itemError(sub, res.reason))
	case renewalRefunded:
		s.Refunded++
	}
	if res.autoCancelled {
		s.AutoCancelled++
	}
}

func itemError(sub subscriptiondomain.Subscription, reason string) ItemError {
	return ItemError{
		SubscriptionID: sub.ID.String(),
		StoreID:        sub.StoreID,
		ModuleID:       sub.ModuleID,
		Reason:         reason,
	}
}

// RenewalIdempotencyKey is stable across reruns of the same billing day and
// attempt, and changes once a failed attempt has been recorded.
func RenewalIdempotencyKey(sub subscriptiondomain.Subscription) string {
	return fmt.Sprintf("renewal:%s:%s:%d",
		sub.ID,
		sub.NextBillingDate.UTC().Format("20060102"),
		sub.FailedPaymentCount+1,
	)
}

// dueBefore is the exclusive bound for subscriptions billed on or before the day of now.
func dueBefore(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// RunDailyRenewal charges every ACTIVE subscription whose next billing date is
// today or earlier. Item failures are reported in the summary; only storage
// and lock failures are returned.
func (s *Scheduler) RunDailyRenewal(ctx context.Context) (RenewalSummary, error) {
	summary := RenewalSummary{TotalAmount: decimal.Zero, Errors: []ItemError{}}

	ctx, run, owner := s.ensureJobRun(ctx, JobRenewal, s.billing.Get().RenewalBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	ran, err := s.withJobLock(ctx, JobRenewal, func(ctx context.Context) error {
		return s.renewDue(ctx, run, &summary)
	})
	if !ran && err == nil {
		summary.Skipped = true
	}

	recordOutcomes(run, JobRenewal,
		outcomeCount{"charged", summary.Charged},
		outcomeCount{"failed", summary.Failed},
		outcomeCount{"refunded", summary.Refunded},
		outcomeCount{"auto_cancelled", summary.AutoCancelled},
	)
	return summary, err
}

func (s *Scheduler) renewDue(ctx context.Context, run *jobRun, summary *RenewalSummary) error {
	billing := s.billing.Get()
	asOf := dueBefore(s.clock.Now())
	batchSize := max(billing.RenewalBatchSize, 1)
	concurrency := max(billing.RenewalConcurrency, 1)

	var (
		mu     sync.Mutex
		lastID snowflake.ID
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		items, err := s.claimDue(ctx, asOf, lastID, batchSize)
		if err != nil {
			run.IncError()
			s.logItemError(ctx, "scheduler.renewal.claim.failed", JobRenewal, nil, err)
			return subscriptiondomain.Infrastructure("claim due subscriptions", err)
		}
		if len(items) == 0 {
			return nil
		}
		lastID = items[len(items)-1].ID

		var (
			g        errgroup.Group
			batchErr error
		)
		g.SetLimit(concurrency)
		for _, sub := range items {
			g.Go(func() error {
				s.logClaimed(ctx, JobRenewal, sub)
				res, err := s.renewOne(ctx, sub)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					run.IncError()
					batchErr = errors.Join(batchErr, err)
					summary.Errors = append(summary.Errors, itemError(sub, subscriptiondomain.ErrInfrastructure.Error()))
					s.logItemError(ctx, "scheduler.renewal.item.failed", JobRenewal, &sub, err)
					return nil
				}
				summary.record(sub, res)
				return nil
			})
		}
		_ = g.Wait()
		run.AddClaimed(len(items))

		// Storage trouble is not item specific; stop before claiming more work.
		if batchErr != nil {
			return batchErr
		}
	}
}

func (s *Scheduler) renewOne(ctx context.Context, sub subscriptiondomain.Subscription) (renewalResult, error) {
	log := s.logger(s.withStore(ctx, sub.StoreID)).With(
		zap.String("job", JobRenewal),
		zap.String("subscription_id", sub.ID.String()),
		zap.String("module_id", sub.ModuleID),
	)

	subscriptionID := sub.ID
	breakdown := s.tax.Compute(sub.MonthlyPrice)
	base := ledgerdomain.BillingTransaction{
		StoreID:        sub.StoreID,
		SubscriptionID: &subscriptionID,
		ModuleID:       sub.ModuleID,
		Type:           ledgerdomain.TransactionTypeRenewal,
		Amount:         breakdown.Net,
		VatAmount:      breakdown.Vat,
		TotalAmount:    breakdown.Total,
		Currency:       sub.Currency,
		IdempotencyKey: RenewalIdempotencyKey(sub),
	}

	credential, err := s.credentials.GetPrimaryCredential(ctx, sub.StoreID)
	if err != nil {
		return renewalResult{}, subscriptiondomain.Infrastructure("resolve credential", err)
	}
	if credential == nil {
		return s.recordRenewalFailure(ctx, log, sub, base, reasonNoPaymentCredential)
	}

	charge, chargeErr := s.gateway.ChargeStoredCredential(ctx, paymentdomain.ChargeRequest{
		Amount:              breakdown.Total,
		Currency:            sub.Currency,
		StoredCredentialRef: credential.ExternalTokenRef,
		CustomerRef:         credential.ExternalCustomerRef,
		IdempotencyKey:      base.IdempotencyKey,
		Description:         sub.ModuleID + " renewal",
		LineItems: []paymentdomain.LineItem{
			{Name: sub.ModuleID, Quantity: 1, UnitPrice: breakdown.Total},
		},
	})
	if chargeErr != nil {
		return s.recordRenewalFailure(ctx, log, sub, base, paymentdomain.FailureReason(chargeErr))
	}

	// A captured charge must be recorded even if the job deadline passes now.
	writeCtx := context.WithoutCancel(ctx)
	now := s.clock.Now()
	paidThrough := subscriptiondomain.AddPeriod(now, s.billing.Get().PeriodMonths)

	success := base
	success.Status = ledgerdomain.TransactionStatusSuccess
	success.ExternalTransactionRef = charge.ExternalTransactionRef
	success.ApprovalCode = charge.ApprovalCode
	success.ProcessedAt = now

	var affected int64
	err = s.db.WithContext(writeCtx).Transaction(func(tx *gorm.DB) error {
		var err error
		if affected, err = s.repo.ApplyRenewal(writeCtx, tx, sub.ID, paidThrough, breakdown.Total, now); err != nil {
			return err
		}
		_, err = s.ledger.Append(writeCtx, tx, success)
		return err
	})
	if err != nil {
		log.Error("renewal charged but not recorded, refunding",
			zap.String("external_transaction_ref", charge.ExternalTransactionRef),
			zap.Error(err),
		)
		subscriptionservice.Compensate(writeCtx, s.gateway, s.ledger, log, base, &subscriptionID, charge.ExternalTransactionRef)
		return renewalResult{}, subscriptiondomain.Infrastructure("record renewal", err)
	}

	if affected == 0 {
		// Cancelled while the charge was in flight.
		log.Warn("renewal charged after cancellation, refunding",
			zap.String("external_transaction_ref", charge.ExternalTransactionRef),
		)
		subscriptionservice.Compensate(writeCtx, s.gateway, s.ledger, log, base, &subscriptionID, charge.ExternalTransactionRef)
		return renewalResult{outcome: renewalRefunded, amount: breakdown.Total}, nil
	}

	s.metrics.RecordSubscriptionTransition(ctx, string(subscriptiondomain.StatusActive), "renewed")
	log.Info("subscription renewed",
		zap.String("total_amount", breakdown.Total.StringFixed(2)),
		zap.Time("paid_through", paidThrough),
	)
	return renewalResult{outcome: renewalCharged, amount: breakdown.Total}, nil
}

// recordRenewalFailure appends the failed attempt and bumps the failure streak,
// cancelling the subscription once the streak reaches the configured limit.
// Billing dates are left alone so the next run retries.
func (s *Scheduler) recordRenewalFailure(
	ctx context.Context,
	log *zap.Logger,
	sub subscriptiondomain.Subscription,
	base ledgerdomain.BillingTransaction,
	reason string,
) (renewalResult, error) {
	writeCtx := context.WithoutCancel(ctx)
	maxFailures := s.billing.Get().MaxConsecutiveFailures
	now := s.clock.Now()

	failed := base
	failed.Status = ledgerdomain.TransactionStatusFailed
	failed.FailureReason = reason
	failed.ProcessedAt = now

	var (
		streak    int
		cancelled bool
	)
	err := s.db.WithContext(writeCtx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ledger.Append(writeCtx, tx, failed); err != nil {
			return err
		}
		var err error
		if streak, err = s.repo.RecordRenewalFailure(writeCtx, tx, sub.ID, now); err != nil {
			return err
		}
		if maxFailures <= 0 || streak < maxFailures {
			return nil
		}
		affected, err := s.repo.Cancel(writeCtx, tx, sub.ID, subscriptiondomain.CancellationReasonPaymentFailed, now)
		if err != nil {
			return err
		}
		cancelled = affected > 0
		return nil
	})
	if err != nil {
		return renewalResult{}, subscriptiondomain.Infrastructure("record renewal failure", err)
	}

	log.Warn("renewal charge failed",
		zap.String("reason", reason),
		zap.Int("failed_payment_count", streak),
	)
	if cancelled {
		s.metrics.RecordSubscriptionTransition(ctx, string(subscriptiondomain.StatusCancelled), subscriptiondomain.CancellationReasonPaymentFailed)
		log.Warn("subscription cancelled after repeated payment failures",
			zap.Int("failed_payment_count", streak),
			zap.Time("end_date", sub.EndDate),
		)
	}
	return renewalResult{outcome: renewalFailed, reason: reason, autoCancelled: cancelled}, nil
}
