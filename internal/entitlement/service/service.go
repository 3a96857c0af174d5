package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/smallbiznis/modulebilling/internal/clock"
	entitlementdomain "github.com/smallbiznis/modulebilling/internal/entitlement/domain"
	"github.com/smallbiznis/modulebilling/internal/module/hooks"
	"github.com/smallbiznis/modulebilling/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	activeCacheSize = 4096
	activeCacheTTL  = 30 * time.Second
)

type cacheKey struct {
	storeID  int64
	moduleID string
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    entitlementdomain.Repository
	hooks   *hooks.Registry
	metrics *metrics.Metrics
	active  *expirable.LRU[cacheKey, bool]
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    entitlementdomain.Repository
	Hooks   *hooks.Registry
	Metrics *metrics.Metrics `optional:"true"`
}

func NewService(p Params) entitlementdomain.Store {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("entitlement.store"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		hooks:   p.Hooks,
		metrics: p.Metrics,
		active:  expirable.NewLRU[cacheKey, bool](activeCacheSize, nil, activeCacheTTL),
	}
}

func (s *Service) Activate(ctx context.Context, storeID int64, moduleID string) (entitlementdomain.Entitlement, error) {
	var out entitlementdomain.Entitlement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = s.ActivateTx(ctx, tx, storeID, moduleID)
		return err
	})
	if err != nil {
		return entitlementdomain.Entitlement{}, err
	}
	s.Invalidate(storeID, moduleID)
	return out, nil
}

func (s *Service) ActivateTx(ctx context.Context, tx *gorm.DB, storeID int64, moduleID string) (entitlementdomain.Entitlement, error) {
	moduleID = strings.TrimSpace(moduleID)
	if moduleID == "" {
		return entitlementdomain.Entitlement{}, entitlementdomain.ErrInvalidModuleID
	}

	existing, err := s.repo.Find(ctx, tx, storeID, moduleID)
	if err != nil {
		return entitlementdomain.Entitlement{}, err
	}

	now := s.clock.Now()
	entitlement := entitlementdomain.Entitlement{
		ID:        s.genID.Generate(),
		StoreID:   storeID,
		ModuleID:  moduleID,
		CreatedAt: now,
	}
	var current map[string]any
	if existing != nil {
		entitlement = *existing
		current = existing.Config
	}

	config, err := s.hooks.For(moduleID).OnActivate(ctx, storeID, current)
	if err != nil {
		return entitlementdomain.Entitlement{}, fmt.Errorf("activate hook %s: %w", moduleID, err)
	}
	if config == nil {
		config = map[string]any{}
	}

	entitlement.IsInstalled = true
	entitlement.IsActive = true
	entitlement.Config = datatypes.JSONMap(config)
	entitlement.UpdatedAt = now
	if entitlement.InstalledAt == nil {
		entitlement.InstalledAt = &now
	}

	if err := s.repo.Upsert(ctx, tx, &entitlement); err != nil {
		return entitlementdomain.Entitlement{}, err
	}

	s.metrics.RecordEntitlementChange(ctx, moduleID, "activate")
	return entitlement, nil
}

// DeactivateTx reports whether an active entitlement was switched off.
func (s *Service) DeactivateTx(ctx context.Context, tx *gorm.DB, storeID int64, moduleID string) (bool, error) {
	existing, err := s.repo.Find(ctx, tx, storeID, moduleID)
	if err != nil {
		return false, err
	}
	if existing == nil || !existing.IsActive {
		return false, nil
	}

	config, err := s.hooks.For(moduleID).OnDeactivate(ctx, storeID, existing.Config)
	if err != nil {
		return false, fmt.Errorf("deactivate hook %s: %w", moduleID, err)
	}
	if config == nil {
		config = map[string]any{}
	}

	affected, err := s.repo.Deactivate(ctx, tx, storeID, moduleID, datatypes.JSONMap(config), s.clock.Now())
	if err != nil {
		return false, err
	}
	if affected > 0 {
		s.metrics.RecordEntitlementChange(ctx, moduleID, "deactivate")
	}
	return affected > 0, nil
}

func (s *Service) Get(ctx context.Context, storeID int64, moduleID string) (*entitlementdomain.Entitlement, error) {
	return s.repo.Find(ctx, s.db, storeID, strings.TrimSpace(moduleID))
}

func (s *Service) IsActive(ctx context.Context, storeID int64, moduleID string) (bool, error) {
	key := cacheKey{storeID: storeID, moduleID: strings.TrimSpace(moduleID)}
	if active, ok := s.active.Get(key); ok {
		return active, nil
	}

	entitlement, err := s.repo.Find(ctx, s.db, key.storeID, key.moduleID)
	if err != nil {
		return false, err
	}
	active := entitlement != nil && entitlement.IsActive
	s.active.Add(key, active)
	return active, nil
}

func (s *Service) ListByStore(ctx context.Context, storeID int64) ([]entitlementdomain.Entitlement, error) {
	return s.repo.ListByStore(ctx, s.db, storeID)
}

func (s *Service) Invalidate(storeID int64, moduleID string) {
	s.active.Remove(cacheKey{storeID: storeID, moduleID: strings.TrimSpace(moduleID)})
}
