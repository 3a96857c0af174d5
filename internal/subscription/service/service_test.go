package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/modulebilling/internal/billingtest"
	ledgerdomain "github.com/smallbiznis/modulebilling/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/modulebilling/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/modulebilling/internal/subscription/domain"
	"github.com/smallbiznis/modulebilling/internal/subscription/service"
	"github.com/smallbiznis/modulebilling/internal/subscription/subscriptiontest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const storeID int64 = 7

func countAll(t *testing.T, h *subscriptiontest.Harness) (subs, ents, txns int64) {
	t.Helper()
	return billingtest.CountRows(t, h.DB, "module_subscriptions", ""),
		billingtest.CountRows(t, h.DB, "module_entitlements", ""),
		billingtest.CountRows(t, h.DB, "module_billing_transactions", "")
}

func TestPurchaseFreeModuleIsIdempotent(t *testing.T) {
	h := subscriptiontest.New(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := h.Service.Purchase(ctx, subscriptiondomain.PurchaseRequest{StoreID: storeID, ModuleID: "reviews"})
		require.NoError(t, err)
		assert.False(t, res.Charged)
		assert.Nil(t, res.Subscription)
		assert.True(t, res.Entitlement.IsInstalled)
		assert.True(t, res.Entitlement.IsActive)
	}

	subs, ents, txns := countAll(t, h)
	assert.Zero(t, subs)
	assert.Equal(t, int64(1), ents)
	assert.Zero(t, txns)
	assert.Empty(t, h.Gateway.Charges())
}

func TestPurchaseUnknownModule(t *testing.T) {
	h := subscriptiontest.New(t)

	_, err := h.Service.Purchase(context.Background(), subscriptiondomain.PurchaseRequest{StoreID: storeID, ModuleID: "does-not-exist"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrModuleNotFound)
}

func TestPurchaseValidatesInput(t *testing.T) {
	h := subscriptiontest.New(t)
	ctx := context.Background()

	_, err := h.Service.Purchase(ctx, subscriptiondomain.PurchaseRequest{StoreID: 0, ModuleID: "premium-club"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidStore)

	_, err = h.Service.Purchase(ctx, subscriptiondomain.PurchaseRequest{StoreID: storeID, ModuleID: "  "})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidModuleID)
}

func TestPurchaseRequiresPayingAccount(t *testing.T) {
	h := subscriptiontest.New(t)
	billingtest.SeedAccount(t, h.DB, storeID, "past_due")
	billingtest.SeedCredential(t, h.DB, 1, storeID, "tok_ok", true, true)

	_, err := h.Service.Purchase(context.Background(), subscriptiondomain.PurchaseRequest{StoreID: storeID, ModuleID: "premium-club"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrAccountNotPaying)
	assert.Empty(t, h.Gateway.Charges())
}

func TestPurchaseWithoutCredentialCreatesNothing(t *testing.T) {
	h := subscriptiontest.New(t)
	billingtest.SeedAccount(t, h.DB, storeID, "active")
	billingtest.SeedCredential(t, h.DB, 1, storeID, "tok_old", true, false)

	_, err := h.Service.Purchase(context.Background(), subscriptiondomain.PurchaseRequest{StoreID: storeID, ModuleID: "premium-club"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrNoPaymentCredential)

	subs, ents, txns := countAll(t, h)
	assert.Zero(t, subs)
	assert.Zero(t, ents)
	assert.Zero(t, txns)
	assert.Empty(t, h.Gateway.Charges())
}

func TestPurchaseDeclinedRecordsOneFailedTransaction(t *testing.T) {
	h := subscriptiontest.New(t)
	h.SeedPayingStore(t, storeID, "tok_bad")
	h.Gateway.Decline = billingtest.DeclineTokens("tok_bad")
	ctx := context.Background()

	_, err := h.Service.Purchase(ctx, subscriptiondomain.PurchaseRequest{StoreID: storeID, ModuleID: "premium-club"})
	require.Error(t, err)
	assert.ErrorIs(t, err, subscriptiondomain.ErrChargeFailed)
	assert.ErrorIs(t, err, paymentdomain.ErrChargeDeclined)

	var chargeErr *subscriptiondomain.ChargeFailedError
	require.True(t, errors.As(err, &chargeErr))
	assert.NotEmpty(t, chargeErr.Reason)

	subs, ents, txns := countAll(t, h)
	assert.Zero(t, subs)
	assert.Zero(t, ents)
	assert.Equal(t, int64(1), txns)
	assert.Equal(t, int64(1), billingtest.CountRows(t, h.DB, "module_billing_transactions", "status = ? AND type = ?",
		ledgerdomain.TransactionStatusFailed, ledgerdomain.TransactionTypePurchase))

	active, err := h.Entitlements.IsActive(ctx, storeID, "premium-club")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestPurchasePaidModule(t *testing.T) {
	h := subscriptiontest.New(t)
	h.SeedPayingStore(t, storeID, "tok_ok")
	ctx := context.Background()

	res, err := h.Service.Purchase(ctx, subscriptiondomain.PurchaseRequest{StoreID: storeID, ModuleID: "premium-club", RequestKey: "req-1"})
	require.NoError(t, err)
	require.True(t, res.Charged)
	require.NotNil(t, res.Subscription)
	require.NotNil(t, res.Transaction)

	charges := h.Gateway.Charges()
	require.Len(t, charges, 1)
	assert.True(t, decimal.RequireFromString("58.38").Equal(charges[0].Amount))
	assert.Equal(t, "tok_ok", charges[0].StoredCredentialRef)
	assert.Equal(t, "cus_7", charges[0].CustomerRef)
	assert.Equal(t, "purchase:7:premium-club:req-1", charges[0].IdempotencyKey)
	require.Len(t, charges[0].LineItems, 1)

	sub := h.Subscription(t, res.Subscription.ID)
	assert.Equal(t, subscriptiondomain.StatusActive, sub.Status)
	wantEnd := subscriptiontest.Start.AddDate(0, 1, 0)
	assert.True(t, wantEnd.Equal(sub.EndDate.UTC()), "end date %s", sub.EndDate)
	assert.True(t, wantEnd.Equal(sub.NextBillingDate.UTC()))
	assert.True(t, decimal.RequireFromString("49.90").Equal(sub.MonthlyPrice))

	assert.Equal(t, ledgerdomain.TransactionStatusSuccess, res.Transaction.Status)
	assert.True(t, decimal.RequireFromString("49.90").Equal(res.Transaction.Amount))
	assert.True(t, decimal.RequireFromString("8.48").Equal(res.Transaction.VatAmount))
	assert.True(t, decimal.RequireFromString("58.38").Equal(res.Transaction.TotalAmount))
	assert.Equal(t, "txn_1", res.Transaction.ExternalTransactionRef)

	active, err := h.Entitlements.IsActive(ctx, storeID, "premium-club")
	require.NoError(t, err)
	assert.True(t, active)

	_, err = h.Service.Purchase(ctx, subscriptiondomain.PurchaseRequest{StoreID: storeID, ModuleID: "premium-club"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrAlreadySubscribed)
	assert.Len(t, h.Gateway.Charges(), 1)
	assert.Equal(t, int64(1), billingtest.CountRows(t, h.DB, "module_subscriptions", "status = ?", subscriptiondomain.StatusActive))
}

func TestPurchaseRefundsWhenPersistLosesRace(t *testing.T) {
	h := subscriptiontest.New(t)
	h.SeedPayingStore(t, storeID, "tok_ok")
	ctx := context.Background()

	// A row that appears while the charge is in flight trips the unique index.
	h.Gateway.BeforeApprove = func(paymentdomain.ChargeRequest) {
		now := h.Clock.Now()
		require.NoError(t, h.Repo.Insert(ctx, h.DB, &subscriptiondomain.Subscription{
			ID:              h.GenID.Generate(),
			StoreID:         storeID,
			ModuleID:        "premium-club",
			Status:          subscriptiondomain.StatusActive,
			StartDate:       now,
			EndDate:         now.AddDate(0, 1, 0),
			NextBillingDate: now.AddDate(0, 1, 0),
			MonthlyPrice:    decimal.RequireFromString("49.90"),
			Currency:        "ILS",
			CreatedAt:       now,
			UpdatedAt:       now,
		}))
	}

	_, err := h.Service.Purchase(ctx, subscriptiondomain.PurchaseRequest{StoreID: storeID, ModuleID: "premium-club"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrAlreadySubscribed)

	refunds := h.Gateway.Refunds()
	require.Len(t, refunds, 1)
	assert.Equal(t, "txn_1", refunds[0].ExternalTransactionRef)
	assert.True(t, decimal.RequireFromString("58.38").Equal(refunds[0].Amount))

	assert.Equal(t, int64(1), billingtest.CountRows(t, h.DB, "module_subscriptions", ""))
	assert.Zero(t, billingtest.CountRows(t, h.DB, "module_billing_transactions", "status = ?", ledgerdomain.TransactionStatusSuccess))
	assert.Equal(t, int64(1), billingtest.CountRows(t, h.DB, "module_billing_transactions", "type = ? AND status = ?",
		ledgerdomain.TransactionTypeRefund, ledgerdomain.TransactionStatusRefunded))
}

func TestPurchaseBlockedByConcurrentOperation(t *testing.T) {
	h := subscriptiontest.New(t)
	h.SeedPayingStore(t, storeID, "tok_ok")
	ctx := context.Background()

	_, ok, err := h.Locker.TryLock(ctx, service.PairLockKey(storeID, "premium-club"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.Service.Purchase(ctx, subscriptiondomain.PurchaseRequest{StoreID: storeID, ModuleID: "premium-club"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrOperationInProgress)
	assert.Empty(t, h.Gateway.Charges())

	_, err = h.Service.Cancel(ctx, storeID, "premium-club")
	assert.ErrorIs(t, err, subscriptiondomain.ErrOperationInProgress)
}

func TestCancelKeepsPaidPeriod(t *testing.T) {
	h := subscriptiontest.New(t)
	h.SeedPayingStore(t, storeID, "tok_ok")
	ctx := context.Background()

	res, err := h.Service.Purchase(ctx, subscriptiondomain.PurchaseRequest{StoreID: storeID, ModuleID: "shop-the-look"})
	require.NoError(t, err)
	endDate := res.Subscription.EndDate

	h.Clock.Advance(72 * time.Hour)
	cancelled, err := h.Service.Cancel(ctx, storeID, "shop-the-look")
	require.NoError(t, err)
	assert.True(t, endDate.Equal(cancelled.EndDate))
	assert.Equal(t, subscriptiondomain.StatusCancelled, cancelled.Subscription.Status)

	sub := h.Subscription(t, res.Subscription.ID)
	assert.Equal(t, subscriptiondomain.StatusCancelled, sub.Status)
	assert.True(t, endDate.Equal(sub.EndDate.UTC()))
	require.NotNil(t, sub.CancelledAt)
	assert.True(t, h.Clock.Now().Equal(sub.CancelledAt.UTC()))
	assert.Equal(t, subscriptiondomain.CancellationReasonUserRequested, sub.CancellationReason)

	active, err := h.Entitlements.IsActive(ctx, storeID, "shop-the-look")
	require.NoError(t, err)
	assert.True(t, active)

	_, err = h.Service.Cancel(ctx, storeID, "shop-the-look")
	assert.ErrorIs(t, err, subscriptiondomain.ErrNoActiveSubscription)
}

func TestUninstallIsCancel(t *testing.T) {
	h := subscriptiontest.New(t)
	h.SeedPayingStore(t, storeID, "tok_ok")
	ctx := context.Background()

	_, err := h.Service.Uninstall(ctx, storeID, "smart-advisor")
	assert.ErrorIs(t, err, subscriptiondomain.ErrNoActiveSubscription)

	_, err = h.Service.Purchase(ctx, subscriptiondomain.PurchaseRequest{StoreID: storeID, ModuleID: "smart-advisor"})
	require.NoError(t, err)

	res, err := h.Service.Uninstall(ctx, storeID, "smart-advisor")
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCancelled, res.Subscription.Status)

	active, err := h.Entitlements.IsActive(ctx, storeID, "smart-advisor")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestGetAndList(t *testing.T) {
	h := subscriptiontest.New(t)
	h.SeedPayingStore(t, storeID, "tok_ok")
	ctx := context.Background()

	_, err := h.Service.Get(ctx, storeID, "premium-club")
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)

	_, err = h.Service.Purchase(ctx, subscriptiondomain.PurchaseRequest{StoreID: storeID, ModuleID: "premium-club"})
	require.NoError(t, err)
	h.Clock.Advance(time.Minute)
	_, err = h.Service.Purchase(ctx, subscriptiondomain.PurchaseRequest{StoreID: storeID, ModuleID: "product-stories"})
	require.NoError(t, err)

	got, err := h.Service.Get(ctx, storeID, "premium-club")
	require.NoError(t, err)
	assert.Equal(t, "premium-club", got.ModuleID)

	items, err := h.Service.ListByStore(ctx, storeID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "product-stories", items[0].ModuleID)

	other, err := h.Service.ListByStore(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, other)
}
