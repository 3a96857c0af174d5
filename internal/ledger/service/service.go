package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/modulebilling/internal/clock"
	ledgerdomain "github.com/smallbiznis/modulebilling/internal/ledger/domain"
	"github.com/smallbiznis/modulebilling/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  ledgerdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  ledgerdomain.Repository
}

func NewService(p Params) ledgerdomain.Ledger {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Append writes txn through db, which may be an open transaction.
func (s *Service) Append(ctx context.Context, db *gorm.DB, txn ledgerdomain.BillingTransaction) (ledgerdomain.BillingTransaction, error) {
	if txn.StoreID == 0 || strings.TrimSpace(txn.ModuleID) == "" || strings.TrimSpace(txn.IdempotencyKey) == "" {
		return ledgerdomain.BillingTransaction{}, ledgerdomain.ErrInvalidTransaction
	}
	switch txn.Status {
	case ledgerdomain.TransactionStatusSuccess, ledgerdomain.TransactionStatusFailed, ledgerdomain.TransactionStatusRefunded:
	default:
		return ledgerdomain.BillingTransaction{}, ledgerdomain.ErrInvalidTransaction
	}

	now := s.clock.Now()
	if txn.ID == 0 {
		txn.ID = s.genID.Generate()
	}
	if txn.ProcessedAt.IsZero() {
		txn.ProcessedAt = now
	}
	txn.CreatedAt = now

	if db == nil {
		db = s.db
	}
	if err := s.repo.Insert(ctx, db, &txn); err != nil {
		return ledgerdomain.BillingTransaction{}, err
	}

	s.log.Info("billing transaction recorded",
		zap.String("transaction_id", txn.ID.String()),
		zap.Int64("store_id", txn.StoreID),
		zap.String("module_id", txn.ModuleID),
		zap.String("type", string(txn.Type)),
		zap.String("status", string(txn.Status)),
		zap.String("total_amount", txn.TotalAmount.StringFixed(2)),
	)
	return txn, nil
}

func (s *Service) List(ctx context.Context, req ledgerdomain.ListRequest) (ledgerdomain.ListResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var beforeID snowflake.ID
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return ledgerdomain.ListResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		beforeID, err = snowflake.ParseString(cursor.ID)
		if err != nil {
			return ledgerdomain.ListResponse{}, ledgerdomain.ErrInvalidPageToken
		}
	}

	items, err := s.repo.ListByStore(ctx, s.db, req.StoreID, beforeID, pageSize+1)
	if err != nil {
		return ledgerdomain.ListResponse{}, err
	}

	items, pageInfo := pagination.Trim(items, pageSize, func(t ledgerdomain.BillingTransaction) string {
		return t.ID.String()
	})
	return ledgerdomain.ListResponse{PageInfo: pageInfo, Transactions: items}, nil
}

func (s *Service) ListBySubscription(ctx context.Context, subscriptionID snowflake.ID) ([]ledgerdomain.BillingTransaction, error) {
	return s.repo.ListBySubscription(ctx, s.db, subscriptionID)
}
