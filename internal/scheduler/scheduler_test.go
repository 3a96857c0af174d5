package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/modulebilling/internal/billingtest"
	"github.com/smallbiznis/modulebilling/internal/config"
	ledgerdomain "github.com/smallbiznis/modulebilling/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/modulebilling/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/modulebilling/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/modulebilling/internal/subscription/domain"
	"github.com/smallbiznis/modulebilling/internal/subscription/subscriptiontest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const premium = "premium-club"

func newTestScheduler(t *testing.T, h *subscriptiontest.Harness, cfg Config) *Scheduler {
	t.Helper()
	s, err := New(Params{
		DB:           h.DB,
		Log:          h.Log,
		GenID:        h.GenID,
		Clock:        h.Clock,
		Billing:      h.Billing,
		Repo:         h.Repo,
		Credentials:  h.Credentials,
		Entitlements: h.Entitlements,
		Ledger:       h.Ledger,
		Tax:          h.Tax,
		Gateway:      h.Gateway,
		Locker:       h.Locker,
		Config:       cfg,
	})
	require.NoError(t, err)
	return s
}

func purchase(t *testing.T, h *subscriptiontest.Harness, storeID int64, moduleID string) subscriptiondomain.Subscription {
	t.Helper()
	res, err := h.Service.Purchase(context.Background(), subscriptiondomain.PurchaseRequest{StoreID: storeID, ModuleID: moduleID})
	require.NoError(t, err)
	require.NotNil(t, res.Subscription)
	return *res.Subscription
}

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if hasLabels(metric.GetLabel(), labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if value, ok := want[pair.GetName()]; ok {
			if value != pair.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(want)
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDueBefore(t *testing.T) {
	now := time.Date(2026, 4, 10, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 4, 11, 0, 0, 0, 0, time.UTC), dueBefore(now))

	local := time.Date(2026, 4, 11, 1, 30, 0, 0, time.FixedZone("IDT", 3*60*60))
	assert.Equal(t, time.Date(2026, 4, 11, 0, 0, 0, 0, time.UTC), dueBefore(local))
}

func TestRenewalIdempotencyKey(t *testing.T) {
	sub := subscriptiondomain.Subscription{
		ID:                 42,
		NextBillingDate:    time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC),
		FailedPaymentCount: 2,
	}
	assert.Equal(t, "renewal:42:20260410:3", RenewalIdempotencyKey(sub))
}

func TestRunDailyRenewalCountsFailuresPerItem(t *testing.T) {
	h := subscriptiontest.New(t)
	sched := newTestScheduler(t, h, Config{})
	ctx := context.Background()

	subs := make(map[int64]subscriptiondomain.Subscription)
	for storeID := int64(1); storeID <= 5; storeID++ {
		h.SeedPayingStore(t, storeID, fmt.Sprintf("tok_%d", storeID))
		subs[storeID] = purchase(t, h, storeID, premium)
	}
	// Cancelled subscriptions are never charged again.
	h.SeedPayingStore(t, 8, "tok_8")
	purchase(t, h, 8, premium)
	_, err := h.Service.Cancel(ctx, 8, premium)
	require.NoError(t, err)

	h.Clock.AdvanceMonths(1)
	// Bought today, so not due yet.
	h.SeedPayingStore(t, 9, "tok_9")
	purchase(t, h, 9, premium)

	h.Gateway.Decline = billingtest.DeclineTokens("tok_2", "tok_4")
	chargesBefore := len(h.Gateway.Charges())
	chargedBefore := counterValue(t, "modulebilling_scheduler_items_processed_total", map[string]string{"job": JobRenewal, "outcome": "charged"})

	summary, err := sched.RunDailyRenewal(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Charged)
	assert.Equal(t, 2, summary.Failed)
	assert.Zero(t, summary.Refunded)
	assert.False(t, summary.Skipped)
	assert.True(t, decimal.RequireFromString("175.14").Equal(summary.TotalAmount), summary.TotalAmount.String())
	require.Len(t, summary.Errors, 2)
	for _, itemErr := range summary.Errors {
		assert.Contains(t, []int64{2, 4}, itemErr.StoreID)
		assert.NotEmpty(t, itemErr.Reason)
	}

	assert.Len(t, h.Gateway.Charges(), chargesBefore+5)
	assert.Equal(t, int64(5), billingtest.CountRows(t, h.DB, "module_billing_transactions", "type = ?", ledgerdomain.TransactionTypeRenewal))
	assert.Equal(t, int64(3), billingtest.CountRows(t, h.DB, "module_billing_transactions", "type = ? AND status = ?",
		ledgerdomain.TransactionTypeRenewal, ledgerdomain.TransactionStatusSuccess))
	assert.Equal(t, float64(3), counterValue(t, "modulebilling_scheduler_items_processed_total", map[string]string{"job": JobRenewal, "outcome": "charged"})-chargedBefore)

	now := h.Clock.Now()
	for storeID, original := range subs {
		got := h.Subscription(t, original.ID)
		assert.Equal(t, subscriptiondomain.StatusActive, got.Status)
		if storeID == 2 || storeID == 4 {
			assert.True(t, original.NextBillingDate.Equal(got.NextBillingDate.UTC()), "store %d next billing moved", storeID)
			assert.True(t, original.EndDate.Equal(got.EndDate.UTC()))
			assert.Equal(t, 1, got.FailedPaymentCount)
			continue
		}
		want := now.AddDate(0, 1, 0)
		assert.True(t, want.Equal(got.NextBillingDate.UTC()), "store %d next billing %s", storeID, got.NextBillingDate)
		assert.True(t, want.Equal(got.EndDate.UTC()))
		assert.Zero(t, got.FailedPaymentCount)
		require.NotNil(t, got.LastPaymentDate)
		assert.True(t, now.Equal(got.LastPaymentDate.UTC()))
	}
}

func TestRunDailyRenewalChargesFrozenPriceOnce(t *testing.T) {
	h := subscriptiontest.New(t)
	sched := newTestScheduler(t, h, Config{})
	ctx := context.Background()

	h.SeedPayingStore(t, 1, "tok_1")
	sub := purchase(t, h, 1, premium)
	require.NoError(t, h.DB.Exec(`UPDATE module_subscriptions SET monthly_price = ? WHERE id = ?`, "10.00", sub.ID).Error)

	h.Clock.AdvanceMonths(1)
	h.Clock.Advance(2 * time.Hour)

	summary, err := sched.RunDailyRenewal(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Charged)

	charges := h.Gateway.Charges()
	require.Len(t, charges, 2)
	renewal := charges[1]
	assert.True(t, decimal.RequireFromString("11.70").Equal(renewal.Amount), renewal.Amount.String())
	assert.Equal(t, RenewalIdempotencyKey(sub), renewal.IdempotencyKey)

	// Same day rerun finds nothing due.
	summary, err = sched.RunDailyRenewal(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Charged)
	assert.Len(t, h.Gateway.Charges(), 2)
}

func TestRunDailyRenewalWithoutCredential(t *testing.T) {
	h := subscriptiontest.New(t)
	sched := newTestScheduler(t, h, Config{})

	h.SeedPayingStore(t, 1, "tok_1")
	sub := purchase(t, h, 1, premium)
	require.NoError(t, h.DB.Exec(`UPDATE payment_tokens SET is_active = ? WHERE store_id = ?`, false, 1).Error)
	h.Clock.AdvanceMonths(1)

	summary, err := sched.RunDailyRenewal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, reasonNoPaymentCredential, summary.Errors[0].Reason)
	assert.Len(t, h.Gateway.Charges(), 1)

	assert.Equal(t, int64(1), billingtest.CountRows(t, h.DB, "module_billing_transactions", "subscription_id = ? AND status = ? AND failure_reason = ?",
		sub.ID, ledgerdomain.TransactionStatusFailed, reasonNoPaymentCredential))
}

func TestRunDailyRenewalAutoCancelsAfterConsecutiveFailures(t *testing.T) {
	h := subscriptiontest.New(t)
	sched := newTestScheduler(t, h, Config{})
	ctx := context.Background()

	h.SeedPayingStore(t, 1, "tok_1")
	sub := purchase(t, h, 1, premium)
	h.Gateway.Decline = billingtest.DeclineTokens("tok_1")
	h.Clock.AdvanceMonths(1)

	for day := 1; day <= 3; day++ {
		summary, err := sched.RunDailyRenewal(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Failed, "day %d", day)
		if day < 3 {
			assert.Zero(t, summary.AutoCancelled)
			assert.Equal(t, subscriptiondomain.StatusActive, h.Subscription(t, sub.ID).Status)
		} else {
			assert.Equal(t, 1, summary.AutoCancelled)
		}
		h.Clock.Advance(24 * time.Hour)
	}

	got := h.Subscription(t, sub.ID)
	assert.Equal(t, subscriptiondomain.StatusCancelled, got.Status)
	assert.Equal(t, subscriptiondomain.CancellationReasonPaymentFailed, got.CancellationReason)
	assert.Equal(t, 3, got.FailedPaymentCount)

	charges := h.Gateway.Charges()
	require.Len(t, charges, 4)
	assert.Equal(t, fmt.Sprintf("renewal:%s:%s:1", sub.ID, sub.NextBillingDate.Format("20060102")), charges[1].IdempotencyKey)
	assert.Equal(t, fmt.Sprintf("renewal:%s:%s:3", sub.ID, sub.NextBillingDate.Format("20060102")), charges[3].IdempotencyKey)

	summary, err := sched.RunDailyRenewal(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Failed+summary.Charged)
	assert.Len(t, h.Gateway.Charges(), 4)

	// The paid period is already over, so the next sweep turns the module off.
	sweep, err := sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Expired)
	assert.Equal(t, 1, sweep.Deactivated)
}

func TestRunDailyRenewalKeepsRetryingWhenAutoCancelDisabled(t *testing.T) {
	h := subscriptiontest.New(t, func(cfg *config.BillingConfig) { cfg.MaxConsecutiveFailures = 0 })
	sched := newTestScheduler(t, h, Config{})
	ctx := context.Background()

	h.SeedPayingStore(t, 1, "tok_1")
	sub := purchase(t, h, 1, premium)
	h.Gateway.Decline = billingtest.DeclineTokens("tok_1")
	h.Clock.AdvanceMonths(1)

	for day := 0; day < 5; day++ {
		_, err := sched.RunDailyRenewal(ctx)
		require.NoError(t, err)
		h.Clock.Advance(24 * time.Hour)
	}
	got := h.Subscription(t, sub.ID)
	assert.Equal(t, subscriptiondomain.StatusActive, got.Status)
	assert.Equal(t, 5, got.FailedPaymentCount)
}

func TestRunDailyRenewalRefundsChargeAfterCancel(t *testing.T) {
	h := subscriptiontest.New(t, func(cfg *config.BillingConfig) { cfg.RenewalConcurrency = 1 })
	sched := newTestScheduler(t, h, Config{})
	ctx := context.Background()

	h.SeedPayingStore(t, 1, "tok_1")
	sub := purchase(t, h, 1, premium)
	h.Clock.AdvanceMonths(1)

	h.Gateway.BeforeApprove = func(paymentdomain.ChargeRequest) {
		_, err := h.Service.Cancel(ctx, 1, premium)
		require.NoError(t, err)
	}

	summary, err := sched.RunDailyRenewal(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Charged)
	assert.Equal(t, 1, summary.Refunded)
	assert.True(t, summary.TotalAmount.IsZero())

	refunds := h.Gateway.Refunds()
	require.Len(t, refunds, 1)
	assert.Equal(t, "txn_2", refunds[0].ExternalTransactionRef)
	assert.Equal(t, "refund:"+RenewalIdempotencyKey(sub), refunds[0].IdempotencyKey)

	got := h.Subscription(t, sub.ID)
	assert.Equal(t, subscriptiondomain.StatusCancelled, got.Status)
	assert.True(t, sub.EndDate.Equal(got.EndDate.UTC()))

	assert.Equal(t, int64(1), billingtest.CountRows(t, h.DB, "module_billing_transactions", "type = ? AND status = ?",
		ledgerdomain.TransactionTypeRenewal, ledgerdomain.TransactionStatusSuccess))
	assert.Equal(t, int64(1), billingtest.CountRows(t, h.DB, "module_billing_transactions", "type = ? AND status = ? AND subscription_id = ?",
		ledgerdomain.TransactionTypeRefund, ledgerdomain.TransactionStatusRefunded, sub.ID))
}

func TestRunDailyRenewalSkipsWhenLockHeld(t *testing.T) {
	h := subscriptiontest.New(t)
	sched := newTestScheduler(t, h, Config{})
	ctx := context.Background()

	h.SeedPayingStore(t, 1, "tok_1")
	purchase(t, h, 1, premium)
	h.Clock.AdvanceMonths(1)

	_, ok, err := h.Locker.TryLock(ctx, jobLockKey(JobRenewal), time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	skippedBefore := counterValue(t, "modulebilling_scheduler_job_skipped_total", map[string]string{"job": JobRenewal, "reason": obsmetrics.SchedulerSkipReasonLockHeld})
	summary, err := sched.RunDailyRenewal(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Skipped)
	assert.Len(t, h.Gateway.Charges(), 1)
	assert.Equal(t, float64(1), counterValue(t, "modulebilling_scheduler_job_skipped_total", map[string]string{"job": JobRenewal, "reason": obsmetrics.SchedulerSkipReasonLockHeld})-skippedBefore)
}

func TestSweepExpiresOnlyAfterPaidPeriod(t *testing.T) {
	h := subscriptiontest.New(t)
	sched := newTestScheduler(t, h, Config{})
	ctx := context.Background()

	h.SeedPayingStore(t, 1, "tok_1")
	sub := purchase(t, h, 1, premium)
	_, err := h.Service.Cancel(ctx, 1, premium)
	require.NoError(t, err)

	h.Clock.Advance(10 * 24 * time.Hour)
	summary, err := sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Expired)

	active, err := h.Entitlements.IsActive(ctx, 1, premium)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, subscriptiondomain.StatusCancelled, h.Subscription(t, sub.ID).Status)

	h.Clock.Set(sub.EndDate.Add(time.Second))
	summary, err = sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Expired)
	assert.Equal(t, 1, summary.Deactivated)

	got := h.Subscription(t, sub.ID)
	assert.Equal(t, subscriptiondomain.StatusExpired, got.Status)
	require.NotNil(t, got.ExpiredAt)

	active, err = h.Entitlements.IsActive(ctx, 1, premium)
	require.NoError(t, err)
	assert.False(t, active)

	entitlement, err := h.Entitlements.Get(ctx, 1, premium)
	require.NoError(t, err)
	require.NotNil(t, entitlement)
	assert.True(t, entitlement.IsInstalled)
	assert.False(t, entitlement.IsActive)

	summary, err = sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Expired)
	assert.Zero(t, summary.Deactivated)
	assert.Empty(t, summary.Errors)
}

func TestSweepKeepsEntitlementOfRepurchasedModule(t *testing.T) {
	h := subscriptiontest.New(t)
	sched := newTestScheduler(t, h, Config{})
	ctx := context.Background()

	h.SeedPayingStore(t, 1, "tok_1")
	first := purchase(t, h, 1, premium)
	_, err := h.Service.Cancel(ctx, 1, premium)
	require.NoError(t, err)

	h.Clock.Advance(5 * 24 * time.Hour)
	second := purchase(t, h, 1, premium)
	require.True(t, second.EndDate.After(first.EndDate))

	h.Clock.Set(first.EndDate.Add(time.Hour))
	summary, err := sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Expired)
	assert.Zero(t, summary.Deactivated)

	assert.Equal(t, subscriptiondomain.StatusExpired, h.Subscription(t, first.ID).Status)
	assert.Equal(t, subscriptiondomain.StatusActive, h.Subscription(t, second.ID).Status)

	active, err := h.Entitlements.IsActive(ctx, 1, premium)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestRunOnceHonoursEnabledJobs(t *testing.T) {
	h := subscriptiontest.New(t)
	sched := newTestScheduler(t, h, Config{EnabledJobs: []string{" Expiration "}})
	ctx := context.Background()

	h.SeedPayingStore(t, 1, "tok_1")
	purchase(t, h, 1, premium)
	_, err := h.Service.Cancel(ctx, 1, premium)
	require.NoError(t, err)
	h.SeedPayingStore(t, 2, "tok_2")
	purchase(t, h, 2, premium)
	h.Clock.AdvanceMonths(1)
	h.Clock.Advance(time.Hour)

	run, err := sched.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, run.Renewal.Charged)
	assert.Equal(t, 1, run.Expiration.Expired)
	assert.Len(t, h.Gateway.Charges(), 2)

	all := newTestScheduler(t, h, Config{})
	run, err = all.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Renewal.Charged)
	assert.Zero(t, run.Expiration.Expired)
}

func TestNewCronRejectsBadSpec(t *testing.T) {
	h := subscriptiontest.New(t)
	sched := newTestScheduler(t, h, Config{RenewalSpec: "not a spec"})

	_, err := sched.NewCron(context.Background())
	assert.Error(t, err)

	ok := newTestScheduler(t, h, Config{})
	c, err := ok.NewCron(context.Background())
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 2)
}
