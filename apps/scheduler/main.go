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
	"github.com/smallbiznis/modulebilling/internal/module"
	"github.com/smallbiznis/modulebilling/internal/observability"
	"github.com/smallbiznis/modulebilling/internal/payment"
	"github.com/smallbiznis/modulebilling/internal/scheduler"
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
		lock.Module,

		// Domain services required by scheduler
		account.Module,
		module.Module,
		credential.Module,
		entitlement.Module,
		ledger.Module,
		tax.Module,
		payment.Module,
		subscription.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	// Distinct from the API node so ids never collide when both run.
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
