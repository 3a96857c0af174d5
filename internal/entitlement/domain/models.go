package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entitlement is the per-store installation record. IsActive is the flag
// feature gating reads.
type Entitlement struct {
	ID          snowflake.ID      `json:"id" gorm:"column:id"`
	StoreID     int64             `json:"store_id" gorm:"column:store_id"`
	ModuleID    string            `json:"module_id" gorm:"column:module_id"`
	IsInstalled bool              `json:"is_installed" gorm:"column:is_installed"`
	IsActive    bool              `json:"is_active" gorm:"column:is_active"`
	Config      datatypes.JSONMap `json:"config" gorm:"column:config"`
	InstalledAt *time.Time        `json:"installed_at,omitempty" gorm:"column:installed_at"`
	CreatedAt   time.Time         `json:"created_at" gorm:"column:created_at"`
	UpdatedAt   time.Time         `json:"updated_at" gorm:"column:updated_at"`
}

var ErrInvalidModuleID = errors.New("invalid_module_id")

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, storeID int64, moduleID string) (*Entitlement, error)
	Upsert(ctx context.Context, db *gorm.DB, entitlement *Entitlement) error
	Deactivate(ctx context.Context, db *gorm.DB, storeID int64, moduleID string, config datatypes.JSONMap, now time.Time) (int64, error)
	ListByStore(ctx context.Context, db *gorm.DB, storeID int64) ([]Entitlement, error)
}

// Store owns the installed and active flags. The Tx variants join the
// caller's transaction so entitlement changes commit with the billing rows.
type Store interface {
	Activate(ctx context.Context, storeID int64, moduleID string) (Entitlement, error)
	ActivateTx(ctx context.Context, tx *gorm.DB, storeID int64, moduleID string) (Entitlement, error)
	DeactivateTx(ctx context.Context, tx *gorm.DB, storeID int64, moduleID string) (bool, error)
	Get(ctx context.Context, storeID int64, moduleID string) (*Entitlement, error)
	IsActive(ctx context.Context, storeID int64, moduleID string) (bool, error)
	ListByStore(ctx context.Context, storeID int64) ([]Entitlement, error)
	// Invalidate drops cached IsActive answers; call it after the transaction commits.
	Invalidate(storeID int64, moduleID string)
}
