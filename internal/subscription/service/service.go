package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/modulebilling/internal/account/domain"
	"github.com/smallbiznis/modulebilling/internal/clock"
	"github.com/smallbiznis/modulebilling/internal/config"
	credentialdomain "github.com/smallbiznis/modulebilling/internal/credential/domain"
	entitlementdomain "github.com/smallbiznis/modulebilling/internal/entitlement/domain"
	ledgerdomain "github.com/smallbiznis/modulebilling/internal/ledger/domain"
	"github.com/smallbiznis/modulebilling/internal/lock"
	moduledomain "github.com/smallbiznis/modulebilling/internal/module/domain"
	"github.com/smallbiznis/modulebilling/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/modulebilling/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/modulebilling/internal/subscription/domain"
	taxdomain "github.com/smallbiznis/modulebilling/internal/tax/domain"
	"github.com/smallbiznis/modulebilling/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Billing      *config.BillingConfigHolder
	Repo         subscriptiondomain.Repository
	Catalog      moduledomain.Catalog
	Accounts     accountdomain.Checker
	Credentials  credentialdomain.Resolver
	Entitlements entitlementdomain.Store
	Ledger       ledgerdomain.Ledger
	Tax          taxdomain.Calculator
	Gateway      paymentdomain.Gateway
	Locker       lock.Locker
	Metrics      *metrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	billing      *config.BillingConfigHolder
	repo         subscriptiondomain.Repository
	catalog      moduledomain.Catalog
	accounts     accountdomain.Checker
	credentials  credentialdomain.Resolver
	entitlements entitlementdomain.Store
	ledger       ledgerdomain.Ledger
	tax          taxdomain.Calculator
	gateway      paymentdomain.Gateway
	locker       lock.Locker
	metrics      *metrics.Metrics
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("subscription.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		billing:      p.Billing,
		repo:         p.Repo,
		catalog:      p.Catalog,
		accounts:     p.Accounts,
		credentials:  p.Credentials,
		entitlements: p.Entitlements,
		ledger:       p.Ledger,
		tax:          p.Tax,
		gateway:      p.Gateway,
		locker:       p.Locker,
		metrics:      p.Metrics,
	}
}

func PairLockKey(storeID int64, moduleID string) string {
	return fmt.Sprintf("module-billing:pair:%d:%s", storeID, moduleID)
}

func (s *Service) Purchase(ctx context.Context, req subscriptiondomain.PurchaseRequest) (subscriptiondomain.PurchaseResult, error) {
	moduleID := strings.TrimSpace(req.ModuleID)
	if req.StoreID <= 0 {
		return subscriptiondomain.PurchaseResult{}, subscriptiondomain.ErrInvalidStore
	}
	if moduleID == "" {
		return subscriptiondomain.PurchaseResult{}, subscriptiondomain.ErrInvalidModuleID
	}

	def, err := s.catalog.Get(moduleID)
	if err != nil {
		return subscriptiondomain.PurchaseResult{}, subscriptiondomain.ErrModuleNotFound
	}

	log := s.log.With(zap.Int64("store_id", req.StoreID), zap.String("module_id", moduleID))

	if def.IsFree {
		entitlement, err := s.entitlements.Activate(ctx, req.StoreID, moduleID)
		if err != nil {
			return subscriptiondomain.PurchaseResult{}, subscriptiondomain.Infrastructure("activate entitlement", err)
		}
		log.Info("free module installed")
		return subscriptiondomain.PurchaseResult{Entitlement: entitlement}, nil
	}

	paying, err := s.accounts.IsPaying(ctx, req.StoreID)
	if err != nil {
		return subscriptiondomain.PurchaseResult{}, subscriptiondomain.Infrastructure("check account status", err)
	}
	if !paying {
		return subscriptiondomain.PurchaseResult{}, subscriptiondomain.ErrAccountNotPaying
	}

	credential, err := s.credentials.GetPrimaryCredential(ctx, req.StoreID)
	if err != nil {
		return subscriptiondomain.PurchaseResult{}, subscriptiondomain.Infrastructure("resolve credential", err)
	}
	if credential == nil {
		return subscriptiondomain.PurchaseResult{}, subscriptiondomain.ErrNoPaymentCredential
	}

	var result subscriptiondomain.PurchaseResult
	err = s.withPairLock(ctx, req.StoreID, moduleID, func(ctx context.Context) error {
		var err error
		result, err = s.purchaseLocked(ctx, log, req, def, credential)
		return err
	})
	if err != nil {
		return subscriptiondomain.PurchaseResult{}, err
	}
	return result, nil
}

func (s *Service) purchaseLocked(
	ctx context.Context,
	log *zap.Logger,
	req subscriptiondomain.PurchaseRequest,
	def moduledomain.ModuleDefinition,
	credential *credentialdomain.PaymentCredential,
) (subscriptiondomain.PurchaseResult, error) {
	existing, err := s.repo.FindActive(ctx, s.db, req.StoreID, def.ID)
	if err != nil {
		return subscriptiondomain.PurchaseResult{}, subscriptiondomain.Infrastructure("find active subscription", err)
	}
	if existing != nil {
		return subscriptiondomain.PurchaseResult{}, subscriptiondomain.ErrAlreadySubscribed
	}

	breakdown := s.tax.Compute(def.MonthlyPrice)
	requestKey := strings.TrimSpace(req.RequestKey)
	if requestKey == "" {
		requestKey = s.genID.Generate().String()
	}
	idempotencyKey := fmt.Sprintf("purchase:%d:%s:%s", req.StoreID, def.ID, requestKey)

	baseTxn := ledgerdomain.BillingTransaction{
		StoreID:        req.StoreID,
		ModuleID:       def.ID,
		Type:           ledgerdomain.TransactionTypePurchase,
		Amount:         breakdown.Net,
		VatAmount:      breakdown.Vat,
		TotalAmount:    breakdown.Total,
		Currency:       def.Currency,
		IdempotencyKey: idempotencyKey,
	}

	charge, chargeErr := s.gateway.ChargeStoredCredential(ctx, paymentdomain.ChargeRequest{
		Amount:              breakdown.Total,
		Currency:            def.Currency,
		StoredCredentialRef: credential.ExternalTokenRef,
		CustomerRef:         credential.ExternalCustomerRef,
		IdempotencyKey:      idempotencyKey,
		Description:         def.Name,
		LineItems: []paymentdomain.LineItem{
			{Name: def.Name, Quantity: 1, UnitPrice: breakdown.Total},
		},
	})
	if chargeErr != nil {
		reason := paymentdomain.FailureReason(chargeErr)
		failed := baseTxn
		failed.Status = ledgerdomain.TransactionStatusFailed
		failed.FailureReason = reason
		if _, err := s.ledger.Append(ctx, nil, failed); err != nil {
			log.Error("failed to record declined purchase", zap.Error(err))
		}
		log.Warn("module purchase charge failed", zap.String("reason", reason))
		return subscriptiondomain.PurchaseResult{}, &subscriptiondomain.ChargeFailedError{Reason: reason, Err: chargeErr}
	}

	now := s.clock.Now()
	paidThrough := subscriptiondomain.AddPeriod(now, s.billing.Get().PeriodMonths)
	subscription := subscriptiondomain.Subscription{
		ID:              s.genID.Generate(),
		StoreID:         req.StoreID,
		ModuleID:        def.ID,
		Status:          subscriptiondomain.StatusActive,
		StartDate:       now,
		EndDate:         paidThrough,
		NextBillingDate: paidThrough,
		MonthlyPrice:    def.MonthlyPrice,
		Currency:        def.Currency,
		LastPaymentDate: &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	subscription.LastPaymentAmount.Decimal = breakdown.Total
	subscription.LastPaymentAmount.Valid = true

	success := baseTxn
	success.SubscriptionID = &subscription.ID
	success.Status = ledgerdomain.TransactionStatusSuccess
	success.ExternalTransactionRef = charge.ExternalTransactionRef
	success.ApprovalCode = charge.ApprovalCode
	success.ProcessedAt = now

	var (
		entitlement entitlementdomain.Entitlement
		recorded    ledgerdomain.BillingTransaction
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &subscription); err != nil {
			return err
		}
		var err error
		if recorded, err = s.ledger.Append(ctx, tx, success); err != nil {
			return err
		}
		entitlement, err = s.entitlements.ActivateTx(ctx, tx, req.StoreID, def.ID)
		return err
	})
	if err != nil {
		log.Error("charged purchase could not be persisted, refunding",
			zap.String("external_transaction_ref", charge.ExternalTransactionRef),
			zap.String("constraint", db.ConstraintName(err)),
			zap.Error(err),
		)
		s.compensate(ctx, baseTxn, nil, charge.ExternalTransactionRef)
		if db.IsDuplicateKeyErr(err) {
			return subscriptiondomain.PurchaseResult{}, subscriptiondomain.ErrAlreadySubscribed
		}
		return subscriptiondomain.PurchaseResult{}, subscriptiondomain.Infrastructure("persist purchase", err)
	}
	s.entitlements.Invalidate(req.StoreID, def.ID)

	s.metrics.RecordSubscriptionTransition(ctx, string(subscriptiondomain.StatusActive), "purchase")
	log.Info("module purchased",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("total_amount", breakdown.Total.StringFixed(2)),
	)
	return subscriptiondomain.PurchaseResult{
		Entitlement:  entitlement,
		Subscription: &subscription,
		Transaction:  &recorded,
		Charged:      true,
	}, nil
}

func (s *Service) compensate(ctx context.Context, base ledgerdomain.BillingTransaction, subscriptionID *snowflake.ID, externalRef string) {
	Compensate(ctx, s.gateway, s.ledger, s.log, base, subscriptionID, externalRef)
}

func (s *Service) Cancel(ctx context.Context, storeID int64, moduleID string) (subscriptiondomain.CancelResult, error) {
	moduleID = strings.TrimSpace(moduleID)
	if storeID <= 0 {
		return subscriptiondomain.CancelResult{}, subscriptiondomain.ErrInvalidStore
	}
	if moduleID == "" {
		return subscriptiondomain.CancelResult{}, subscriptiondomain.ErrInvalidModuleID
	}

	var result subscriptiondomain.CancelResult
	err := s.withPairLock(ctx, storeID, moduleID, func(ctx context.Context) error {
		var err error
		result, err = s.cancelLocked(ctx, storeID, moduleID)
		return err
	})
	if err != nil {
		return subscriptiondomain.CancelResult{}, err
	}
	return result, nil
}

func (s *Service) cancelLocked(ctx context.Context, storeID int64, moduleID string) (subscriptiondomain.CancelResult, error) {
	active, err := s.repo.FindActive(ctx, s.db, storeID, moduleID)
	if err != nil {
		return subscriptiondomain.CancelResult{}, subscriptiondomain.Infrastructure("find active subscription", err)
	}
	if active == nil {
		return subscriptiondomain.CancelResult{}, subscriptiondomain.ErrNoActiveSubscription
	}

	now := s.clock.Now()
	affected, err := s.repo.Cancel(ctx, s.db, active.ID, subscriptiondomain.CancellationReasonUserRequested, now)
	if err != nil {
		return subscriptiondomain.CancelResult{}, subscriptiondomain.Infrastructure("cancel subscription", err)
	}
	if affected == 0 {
		return subscriptiondomain.CancelResult{}, subscriptiondomain.ErrNoActiveSubscription
	}

	active.Status = subscriptiondomain.StatusCancelled
	active.CancelledAt = &now
	active.CancellationReason = subscriptiondomain.CancellationReasonUserRequested
	active.UpdatedAt = now

	s.metrics.RecordSubscriptionTransition(ctx, string(subscriptiondomain.StatusCancelled), subscriptiondomain.CancellationReasonUserRequested)
	s.log.Info("module subscription cancelled",
		zap.Int64("store_id", storeID),
		zap.String("module_id", moduleID),
		zap.String("subscription_id", active.ID.String()),
		zap.Time("end_date", active.EndDate),
	)
	return subscriptiondomain.CancelResult{Subscription: *active, EndDate: active.EndDate}, nil
}

func (s *Service) Uninstall(ctx context.Context, storeID int64, moduleID string) (subscriptiondomain.CancelResult, error) {
	return s.Cancel(ctx, storeID, moduleID)
}

func (s *Service) Get(ctx context.Context, storeID int64, moduleID string) (subscriptiondomain.Subscription, error) {
	item, err := s.repo.FindLatest(ctx, s.db, storeID, strings.TrimSpace(moduleID))
	if err != nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.Infrastructure("find subscription", err)
	}
	if item == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *item, nil
}

func (s *Service) ListByStore(ctx context.Context, storeID int64) ([]subscriptiondomain.Subscription, error) {
	items, err := s.repo.ListByStore(ctx, s.db, storeID)
	if err != nil {
		return nil, subscriptiondomain.Infrastructure("list subscriptions", err)
	}
	return items, nil
}

// withPairLock serializes purchase and cancel for one (store, module) pair.
func (s *Service) withPairLock(ctx context.Context, storeID int64, moduleID string, fn func(ctx context.Context) error) error {
	acquired, err := lock.WithLock(ctx, s.locker, PairLockKey(storeID, moduleID), s.pairLockTTL(), fn)
	if !acquired {
		if err != nil {
			return subscriptiondomain.Infrastructure("acquire pair lock", err)
		}
		return subscriptiondomain.ErrOperationInProgress
	}
	return err
}

// pairLockTTL outlives the slowest allowed gateway call.
func (s *Service) pairLockTTL() time.Duration {
	return s.billing.Get().GatewayTimeout + 30*time.Second
}
