package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/modulebilling/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

const selectColumns = `id, store_id, subscription_id, module_id, type, amount, vat_amount, total_amount, currency,
	status, external_transaction_ref, approval_code, failure_reason, idempotency_key, processed_at, created_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, txn *ledgerdomain.BillingTransaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO module_billing_transactions (
			id, store_id, subscription_id, module_id, type, amount, vat_amount, total_amount, currency,
			status, external_transaction_ref, approval_code, failure_reason, idempotency_key, processed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.StoreID,
		txn.SubscriptionID,
		txn.ModuleID,
		txn.Type,
		txn.Amount,
		txn.VatAmount,
		txn.TotalAmount,
		txn.Currency,
		txn.Status,
		txn.ExternalTransactionRef,
		txn.ApprovalCode,
		txn.FailureReason,
		txn.IdempotencyKey,
		txn.ProcessedAt,
		txn.CreatedAt,
	).Error
}

// ListByStore returns newest first. beforeID of zero starts from the top.
func (r *repo) ListByStore(ctx context.Context, db *gorm.DB, storeID int64, beforeID snowflake.ID, limit int) ([]ledgerdomain.BillingTransaction, error) {
	query := `SELECT ` + selectColumns + ` FROM module_billing_transactions WHERE store_id = ?`
	args := []any{storeID}
	if beforeID != 0 {
		query += ` AND id < ?`
		args = append(args, beforeID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	var items []ledgerdomain.BillingTransaction
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]ledgerdomain.BillingTransaction, error) {
	var items []ledgerdomain.BillingTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM module_billing_transactions WHERE subscription_id = ? ORDER BY id ASC`,
		subscriptionID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
