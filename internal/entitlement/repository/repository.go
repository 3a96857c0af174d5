package repository

import (
	"context"
	"time"

	entitlementdomain "github.com/smallbiznis/modulebilling/internal/entitlement/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() entitlementdomain.Repository {
	return &repo{}
}

const selectColumns = `id, store_id, module_id, is_installed, is_active, config, installed_at, created_at, updated_at`

func (r *repo) Find(ctx context.Context, db *gorm.DB, storeID int64, moduleID string) (*entitlementdomain.Entitlement, error) {
	var entitlement entitlementdomain.Entitlement
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM module_entitlements WHERE store_id = ? AND module_id = ?`,
		storeID, moduleID,
	).Scan(&entitlement).Error
	if err != nil {
		return nil, err
	}
	if entitlement.ID == 0 {
		return nil, nil
	}
	return &entitlement, nil
}

// Upsert keeps the original row id and first install time on conflict.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, e *entitlementdomain.Entitlement) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO module_entitlements (
			id, store_id, module_id, is_installed, is_active, config, installed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (store_id, module_id) DO UPDATE SET
			is_installed = excluded.is_installed,
			is_active = excluded.is_active,
			config = excluded.config,
			installed_at = COALESCE(module_entitlements.installed_at, excluded.installed_at),
			updated_at = excluded.updated_at`,
		e.ID,
		e.StoreID,
		e.ModuleID,
		e.IsInstalled,
		e.IsActive,
		e.Config,
		e.InstalledAt,
		e.CreatedAt,
		e.UpdatedAt,
	).Error
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, storeID int64, moduleID string, config datatypes.JSONMap, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE module_entitlements
		 SET is_active = ?, config = ?, updated_at = ?
		 WHERE store_id = ? AND module_id = ? AND is_active = ?`,
		false, config, now, storeID, moduleID, true,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) ListByStore(ctx context.Context, db *gorm.DB, storeID int64) ([]entitlementdomain.Entitlement, error) {
	var items []entitlementdomain.Entitlement
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM module_entitlements WHERE store_id = ? ORDER BY module_id ASC`,
		storeID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
