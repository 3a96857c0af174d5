package domain

import (
	"context"

	"gorm.io/gorm"
)

const (
	StatusActive    = "active"
	StatusTrialing  = "trialing"
	StatusPastDue   = "past_due"
	StatusCancelled = "cancelled"
)

type Repository interface {
	// LatestStatus returns "" when the store has never had a base subscription.
	LatestStatus(ctx context.Context, db *gorm.DB, storeID int64) (string, error)
}

// Checker answers whether a store's own base plan is currently paying.
type Checker interface {
	IsPaying(ctx context.Context, storeID int64) (bool, error)
}
