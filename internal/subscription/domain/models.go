package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	entitlementdomain "github.com/smallbiznis/modulebilling/internal/entitlement/domain"
	ledgerdomain "github.com/smallbiznis/modulebilling/internal/ledger/domain"
	"gorm.io/gorm"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

const (
	CancellationReasonUserRequested = "user_requested"
	CancellationReasonPaymentFailed = "payment_failed"
)

// Subscription is the billing lifecycle record for one paid module on one store.
// MonthlyPrice is frozen at purchase and used for every renewal.
type Subscription struct {
	ID                 snowflake.ID        `json:"id" gorm:"column:id"`
	StoreID            int64               `json:"store_id" gorm:"column:store_id"`
	ModuleID           string              `json:"module_id" gorm:"column:module_id"`
	Status             Status              `json:"status" gorm:"column:status"`
	StartDate          time.Time           `json:"start_date" gorm:"column:start_date"`
	EndDate            time.Time           `json:"end_date" gorm:"column:end_date"`
	NextBillingDate    time.Time           `json:"next_billing_date" gorm:"column:next_billing_date"`
	MonthlyPrice       decimal.Decimal     `json:"monthly_price" gorm:"column:monthly_price"`
	Currency           string              `json:"currency" gorm:"column:currency"`
	LastPaymentDate    *time.Time          `json:"last_payment_date,omitempty" gorm:"column:last_payment_date"`
	LastPaymentAmount  decimal.NullDecimal `json:"last_payment_amount" gorm:"column:last_payment_amount"`
	FailedPaymentCount int                 `json:"failed_payment_count" gorm:"column:failed_payment_count"`
	CancelledAt        *time.Time          `json:"cancelled_at,omitempty" gorm:"column:cancelled_at"`
	CancellationReason string              `json:"cancellation_reason,omitempty" gorm:"column:cancellation_reason"`
	ExpiredAt          *time.Time          `json:"expired_at,omitempty" gorm:"column:expired_at"`
	CreatedAt          time.Time           `json:"created_at" gorm:"column:created_at"`
	UpdatedAt          time.Time           `json:"updated_at" gorm:"column:updated_at"`
}

// AddPeriod advances t by the billing period.
func AddPeriod(t time.Time, months int) time.Time {
	if months <= 0 {
		months = 1
	}
	return t.AddDate(0, months, 0)
}

type PurchaseRequest struct {
	StoreID  int64
	ModuleID string
	// RequestKey makes client retries of the same purchase reuse one gateway
	// idempotency key. A fresh key is generated when empty.
	RequestKey string
}

type PurchaseResult struct {
	Entitlement  entitlementdomain.Entitlement    `json:"entitlement"`
	Subscription *Subscription                    `json:"subscription,omitempty"`
	Transaction  *ledgerdomain.BillingTransaction `json:"transaction,omitempty"`
	Charged      bool                             `json:"charged"`
}

type CancelResult struct {
	Subscription Subscription `json:"subscription"`
	EndDate      time.Time    `json:"end_date"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindActive(ctx context.Context, db *gorm.DB, storeID int64, moduleID string) (*Subscription, error)
	FindLatest(ctx context.Context, db *gorm.DB, storeID int64, moduleID string) (*Subscription, error)
	ListByStore(ctx context.Context, db *gorm.DB, storeID int64) ([]Subscription, error)

	// The mutations below are conditional on the current status and report
	// rows affected so callers can detect a lost race.
	Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) (int64, error)
	ApplyRenewal(ctx context.Context, db *gorm.DB, id snowflake.ID, paidThrough time.Time, amount decimal.Decimal, now time.Time) (int64, error)
	RecordRenewalFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (int, error)
	Expire(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (int64, error)

	ListDueForRenewal(ctx context.Context, db *gorm.DB, before time.Time, afterID snowflake.ID, limit int) ([]Subscription, error)
	ListExpiring(ctx context.Context, db *gorm.DB, now time.Time, afterID snowflake.ID, limit int) ([]Subscription, error)
}

type Service interface {
	Purchase(ctx context.Context, req PurchaseRequest) (PurchaseResult, error)
	Cancel(ctx context.Context, storeID int64, moduleID string) (CancelResult, error)
	// Uninstall is Cancel: the module keeps working until the paid period ends.
	Uninstall(ctx context.Context, storeID int64, moduleID string) (CancelResult, error)
	Get(ctx context.Context, storeID int64, moduleID string) (Subscription, error)
	ListByStore(ctx context.Context, storeID int64) ([]Subscription, error)
}
