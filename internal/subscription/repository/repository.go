package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	subscriptiondomain "github.com/smallbiznis/modulebilling/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

const selectColumns = `id, store_id, module_id, status, start_date, end_date, next_billing_date, monthly_price,
	currency, last_payment_date, last_payment_amount, failed_payment_count, cancelled_at, cancellation_reason,
	expired_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, s *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO module_subscriptions (
			id, store_id, module_id, status, start_date, end_date, next_billing_date, monthly_price,
			currency, last_payment_date, last_payment_amount, failed_payment_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID,
		s.StoreID,
		s.ModuleID,
		s.Status,
		s.StartDate,
		s.EndDate,
		s.NextBillingDate,
		s.MonthlyPrice,
		s.Currency,
		s.LastPaymentDate,
		s.LastPaymentAmount,
		s.FailedPaymentCount,
		s.CreatedAt,
		s.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db, `SELECT `+selectColumns+` FROM module_subscriptions WHERE id = ?`, id)
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, storeID int64, moduleID string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+selectColumns+` FROM module_subscriptions
		 WHERE store_id = ? AND module_id = ? AND status = ?
		 LIMIT 1`,
		storeID, moduleID, subscriptiondomain.StatusActive,
	)
}

func (r *repo) FindLatest(ctx context.Context, db *gorm.DB, storeID int64, moduleID string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+selectColumns+` FROM module_subscriptions
		 WHERE store_id = ? AND module_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		storeID, moduleID,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*subscriptiondomain.Subscription, error) {
	var item subscriptiondomain.Subscription
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByStore(ctx context.Context, db *gorm.DB, storeID int64) ([]subscriptiondomain.Subscription, error) {
	var items []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM module_subscriptions WHERE store_id = ? ORDER BY created_at DESC, id DESC`,
		storeID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE module_subscriptions
		 SET status = ?, cancelled_at = ?, cancellation_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		subscriptiondomain.StatusCancelled, now, reason, now,
		id, subscriptiondomain.StatusActive,
	)
	return result.RowsAffected, result.Error
}

// ApplyRenewal moves end and next billing date to paidThrough and clears the failure streak.
func (r *repo) ApplyRenewal(ctx context.Context, db *gorm.DB, id snowflake.ID, paidThrough time.Time, amount decimal.Decimal, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE module_subscriptions
		 SET end_date = ?, next_billing_date = ?, last_payment_date = ?, last_payment_amount = ?,
		     failed_payment_count = 0, updated_at = ?
		 WHERE id = ? AND status = ?`,
		paidThrough, paidThrough, now, amount, now,
		id, subscriptiondomain.StatusActive,
	)
	return result.RowsAffected, result.Error
}

// RecordRenewalFailure returns the failure streak after the increment, or
// zero when the subscription is no longer active.
func (r *repo) RecordRenewalFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (int, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE module_subscriptions
		 SET failed_payment_count = failed_payment_count + 1, updated_at = ?
		 WHERE id = ? AND status = ?`,
		now, id, subscriptiondomain.StatusActive,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, nil
	}

	var count int
	if err := db.WithContext(ctx).Raw(
		`SELECT failed_payment_count FROM module_subscriptions WHERE id = ?`, id,
	).Scan(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) Expire(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE module_subscriptions
		 SET status = ?, expired_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		subscriptiondomain.StatusExpired, now, now,
		id, subscriptiondomain.StatusCancelled,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) ListDueForRenewal(ctx context.Context, db *gorm.DB, before time.Time, afterID snowflake.ID, limit int) ([]subscriptiondomain.Subscription, error) {
	var items []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM module_subscriptions
		 WHERE status = ? AND next_billing_date < ? AND id > ?
		 ORDER BY id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		subscriptiondomain.StatusActive, before, afterID, limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListExpiring(ctx context.Context, db *gorm.DB, now time.Time, afterID snowflake.ID, limit int) ([]subscriptiondomain.Subscription, error) {
	var items []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM module_subscriptions
		 WHERE status = ? AND end_date < ? AND id > ?
		 ORDER BY id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		subscriptiondomain.StatusCancelled, now, afterID, limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
