package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/modulebilling/pkg/db/pagination"
	"gorm.io/gorm"
)

type TransactionType string

const (
	TransactionTypePurchase TransactionType = "purchase"
	TransactionTypeRenewal  TransactionType = "renewal"
	TransactionTypeRefund   TransactionType = "refund"
)

type TransactionStatus string

const (
	TransactionStatusSuccess  TransactionStatus = "success"
	TransactionStatusFailed   TransactionStatus = "failed"
	TransactionStatusRefunded TransactionStatus = "refunded"
)

// BillingTransaction is an append-only ledger row. Corrections are new rows.
type BillingTransaction struct {
	ID                     snowflake.ID      `json:"id" gorm:"column:id"`
	StoreID                int64             `json:"store_id" gorm:"column:store_id"`
	SubscriptionID         *snowflake.ID     `json:"subscription_id,omitempty" gorm:"column:subscription_id"`
	ModuleID               string            `json:"module_id" gorm:"column:module_id"`
	Type                   TransactionType   `json:"type" gorm:"column:type"`
	Amount                 decimal.Decimal   `json:"amount" gorm:"column:amount"`
	VatAmount              decimal.Decimal   `json:"vat_amount" gorm:"column:vat_amount"`
	TotalAmount            decimal.Decimal   `json:"total_amount" gorm:"column:total_amount"`
	Currency               string            `json:"currency" gorm:"column:currency"`
	Status                 TransactionStatus `json:"status" gorm:"column:status"`
	ExternalTransactionRef string            `json:"external_transaction_ref,omitempty" gorm:"column:external_transaction_ref"`
	ApprovalCode           string            `json:"approval_code,omitempty" gorm:"column:approval_code"`
	FailureReason          string            `json:"failure_reason,omitempty" gorm:"column:failure_reason"`
	IdempotencyKey         string            `json:"-" gorm:"column:idempotency_key"`
	ProcessedAt            time.Time         `json:"processed_at" gorm:"column:processed_at"`
	CreatedAt              time.Time         `json:"created_at" gorm:"column:created_at"`
}

var (
	ErrInvalidTransaction = errors.New("invalid_transaction")
	ErrInvalidPageToken   = errors.New("invalid_page_token")
)

type ListRequest struct {
	StoreID   int64
	PageToken string
	PageSize  int
}

type ListResponse struct {
	pagination.PageInfo
	Transactions []BillingTransaction `json:"transactions"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, txn *BillingTransaction) error
	ListByStore(ctx context.Context, db *gorm.DB, storeID int64, beforeID snowflake.ID, limit int) ([]BillingTransaction, error)
	ListBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]BillingTransaction, error)
}

// Ledger appends billing transactions and serves them back for display.
type Ledger interface {
	Append(ctx context.Context, db *gorm.DB, txn BillingTransaction) (BillingTransaction, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	ListBySubscription(ctx context.Context, subscriptionID snowflake.ID) ([]BillingTransaction, error)
}
