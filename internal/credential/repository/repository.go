package repository

import (
	"context"

	credentialdomain "github.com/smallbiznis/modulebilling/internal/credential/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() credentialdomain.Repository {
	return &repo{}
}

func (r *repo) FindPrimaryActive(ctx context.Context, db *gorm.DB, storeID int64) (*credentialdomain.PaymentCredential, error) {
	var credential credentialdomain.PaymentCredential
	err := db.WithContext(ctx).Raw(
		`SELECT id, store_id, external_token_ref, external_customer_ref, card_last4, is_primary, is_active, created_at
		 FROM payment_tokens
		 WHERE store_id = ? AND is_primary = ? AND is_active = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		storeID, true, true,
	).Scan(&credential).Error
	if err != nil {
		return nil, err
	}
	if credential.ID == 0 {
		return nil, nil
	}
	return &credential, nil
}
