package repository

import (
	"context"

	accountdomain "github.com/smallbiznis/modulebilling/internal/account/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() accountdomain.Repository {
	return &repo{}
}

func (r *repo) LatestStatus(ctx context.Context, db *gorm.DB, storeID int64) (string, error) {
	var status string
	err := db.WithContext(ctx).Raw(
		`SELECT status FROM store_subscriptions
		 WHERE store_id = ?
		 ORDER BY updated_at DESC, id DESC
		 LIMIT 1`,
		storeID,
	).Scan(&status).Error
	if err != nil {
		return "", err
	}
	return status, nil
}
