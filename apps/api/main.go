package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/modulebilling/internal/account"
	"github.com/smallbiznis/modulebilling/internal/clock"
	"github.com/smallbiznis/modulebilling/internal/config"
	"github.com/smallbiznis/modulebilling/internal/credential"
	"github.com/smallbiznis/modulebilling/internal/entitlement"
	"github.com/smallbiznis/modulebilling/internal/ledger"
	"github.com/smallbiznis/modulebilling/internal/lock"
	"github.com/smallbiznis/modulebilling/internal/migration"
	"github.com/smallbiznis/modulebilling/internal/module"
	"github.com/smallbiznis/modulebilling/internal/observability"
	"github.com/smallbiznis/modulebilling/internal/payment"
	"github.com/smallbiznis/modulebilling/internal/scheduler"
	"github.com/smallbiznis/modulebilling/internal/server"
	"github.com/smallbiznis/modulebilling/internal/subscription"
	"github.com/smallbiznis/modulebilling/internal/tax"
	"github.com/smallbiznis/modulebilling/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		lock.Module,

		module.Module,
		account.Module,
		credential.Module,
		entitlement.Module,
		ledger.Module,
		tax.Module,
		payment.Module,
		subscription.Module,

		// The API serves POST /internal/cron/billing for an external trigger
		// but never runs the cron loop itself.
		fx.Provide(scheduler.ProvideConfig),
		fx.Provide(scheduler.New),

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
