// Package subscriptiontest wires the billing engine over an in-memory database.
package subscriptiontest

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accountrepository "github.com/smallbiznis/modulebilling/internal/account/repository"
	accountservice "github.com/smallbiznis/modulebilling/internal/account/service"
	"github.com/smallbiznis/modulebilling/internal/billingtest"
	"github.com/smallbiznis/modulebilling/internal/clock"
	"github.com/smallbiznis/modulebilling/internal/config"
	credentialdomain "github.com/smallbiznis/modulebilling/internal/credential/domain"
	credentialrepository "github.com/smallbiznis/modulebilling/internal/credential/repository"
	credentialservice "github.com/smallbiznis/modulebilling/internal/credential/service"
	entitlementdomain "github.com/smallbiznis/modulebilling/internal/entitlement/domain"
	entitlementrepository "github.com/smallbiznis/modulebilling/internal/entitlement/repository"
	entitlementservice "github.com/smallbiznis/modulebilling/internal/entitlement/service"
	ledgerdomain "github.com/smallbiznis/modulebilling/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/modulebilling/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/modulebilling/internal/ledger/service"
	"github.com/smallbiznis/modulebilling/internal/lock"
	moduledomain "github.com/smallbiznis/modulebilling/internal/module/domain"
	"github.com/smallbiznis/modulebilling/internal/module/hooks"
	"github.com/smallbiznis/modulebilling/internal/module/registry"
	subscriptiondomain "github.com/smallbiznis/modulebilling/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/modulebilling/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/modulebilling/internal/subscription/service"
	taxdomain "github.com/smallbiznis/modulebilling/internal/tax/domain"
	taxservice "github.com/smallbiznis/modulebilling/internal/tax/service"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

// Start is the default fake clock time used by the harness.
var Start = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type Harness struct {
	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        *clock.FakeClock
	Billing      *config.BillingConfigHolder
	Catalog      moduledomain.Catalog
	Repo         subscriptiondomain.Repository
	Credentials  credentialdomain.Resolver
	Entitlements entitlementdomain.Store
	Ledger       ledgerdomain.Ledger
	Tax          taxdomain.Calculator
	Gateway      *billingtest.Gateway
	Locker       *lock.LocalLocker
	Service      subscriptiondomain.Service
}

type Option func(*config.BillingConfig)

func New(t testing.TB, opts ...Option) *Harness {
	t.Helper()

	cfg := config.DefaultBillingConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	catalog, err := registry.Provide()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	h := &Harness{
		DB:      billingtest.OpenDB(t),
		Log:     zaptest.NewLogger(t),
		GenID:   billingtest.NewNode(t),
		Clock:   clock.NewFakeClock(Start),
		Billing: config.NewStaticBillingConfigHolder(cfg),
		Catalog: catalog,
		Repo:    subscriptionrepository.Provide(),
		Gateway: &billingtest.Gateway{},
		Locker:  lock.NewLocalLocker(),
	}
	h.Tax = taxservice.NewService(h.Billing)
	h.Credentials = credentialservice.NewService(credentialservice.Params{
		DB:   h.DB,
		Log:  h.Log,
		Repo: credentialrepository.Provide(),
	})
	h.Entitlements = entitlementservice.NewService(entitlementservice.Params{
		DB:    h.DB,
		Log:   h.Log,
		GenID: h.GenID,
		Clock: h.Clock,
		Repo:  entitlementrepository.Provide(),
		Hooks: hooks.NewRegistry(catalog),
	})
	h.Ledger = ledgerservice.NewService(ledgerservice.Params{
		DB:    h.DB,
		Log:   h.Log,
		GenID: h.GenID,
		Clock: h.Clock,
		Repo:  ledgerrepository.Provide(),
	})
	accounts := accountservice.NewService(accountservice.Params{
		DB:      h.DB,
		Log:     h.Log,
		Repo:    accountrepository.Provide(),
		Billing: h.Billing,
	})
	h.Service = subscriptionservice.NewService(subscriptionservice.Params{
		DB:           h.DB,
		Log:          h.Log,
		GenID:        h.GenID,
		Clock:        h.Clock,
		Billing:      h.Billing,
		Repo:         h.Repo,
		Catalog:      catalog,
		Accounts:     accounts,
		Credentials:  h.Credentials,
		Entitlements: h.Entitlements,
		Ledger:       h.Ledger,
		Tax:          h.Tax,
		Gateway:      h.Gateway,
		Locker:       h.Locker,
	})
	return h
}

// SeedPayingStore gives storeID an active account and a primary card with tokenRef.
func (h *Harness) SeedPayingStore(t testing.TB, storeID int64, tokenRef string) {
	t.Helper()
	billingtest.SeedAccount(t, h.DB, storeID, "active")
	billingtest.SeedCredential(t, h.DB, storeID*100, storeID, tokenRef, true, true)
}

// Subscription reloads a subscription row by id.
func (h *Harness) Subscription(t testing.TB, id snowflake.ID) subscriptiondomain.Subscription {
	t.Helper()
	item, err := h.Repo.FindByID(t.Context(), h.DB, id)
	if err != nil {
		t.Fatalf("find subscription: %v", err)
	}
	if item == nil {
		t.Fatalf("subscription %s not found", id)
	}
	return *item
}
