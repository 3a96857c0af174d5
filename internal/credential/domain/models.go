package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// PaymentCredential is a stored card token owned by the account billing subsystem.
type PaymentCredential struct {
	ID                  snowflake.ID `json:"id" gorm:"column:id"`
	StoreID             int64        `json:"store_id" gorm:"column:store_id"`
	ExternalTokenRef    string       `json:"-" gorm:"column:external_token_ref"`
	ExternalCustomerRef string       `json:"-" gorm:"column:external_customer_ref"`
	CardLast4           string       `json:"card_last4,omitempty" gorm:"column:card_last4"`
	IsPrimary           bool         `json:"is_primary" gorm:"column:is_primary"`
	IsActive            bool         `json:"is_active" gorm:"column:is_active"`
	CreatedAt           time.Time    `json:"created_at" gorm:"column:created_at"`
}

type Repository interface {
	FindPrimaryActive(ctx context.Context, db *gorm.DB, storeID int64) (*PaymentCredential, error)
}

// Resolver returns nil without error when the store has no usable credential.
type Resolver interface {
	GetPrimaryCredential(ctx context.Context, storeID int64) (*PaymentCredential, error)
}
