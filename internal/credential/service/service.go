package service

import (
	"context"
	"strings"

	credentialdomain "github.com/smallbiznis/modulebilling/internal/credential/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo credentialdomain.Repository
}

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo credentialdomain.Repository
}

func NewService(p Params) credentialdomain.Resolver {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("credential.resolver"),
		repo: p.Repo,
	}
}

func (s *Service) GetPrimaryCredential(ctx context.Context, storeID int64) (*credentialdomain.PaymentCredential, error) {
	credential, err := s.repo.FindPrimaryActive(ctx, s.db, storeID)
	if err != nil {
		return nil, err
	}
	if credential == nil || strings.TrimSpace(credential.ExternalTokenRef) == "" {
		s.log.Debug("no usable payment credential", zap.Int64("store_id", storeID))
		return nil, nil
	}
	return credential, nil
}
