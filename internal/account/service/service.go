package service

import (
	"context"
	"slices"
	"strings"

	accountdomain "github.com/smallbiznis/modulebilling/internal/account/domain"
	"github.com/smallbiznis/modulebilling/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    accountdomain.Repository
	billing *config.BillingConfigHolder
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    accountdomain.Repository
	Billing *config.BillingConfigHolder
}

func NewService(p Params) accountdomain.Checker {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("account.checker"),
		repo:    p.Repo,
		billing: p.Billing,
	}
}

func (s *Service) IsPaying(ctx context.Context, storeID int64) (bool, error) {
	status, err := s.repo.LatestStatus(ctx, s.db, storeID)
	if err != nil {
		return false, err
	}
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" {
		return false, nil
	}
	return slices.Contains(s.billing.Get().PayingAccountStatuses, status), nil
}
