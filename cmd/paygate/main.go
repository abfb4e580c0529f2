package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paygate/internal/clock"
	"github.com/smallbiznis/paygate/internal/config"
	"github.com/smallbiznis/paygate/internal/ledger"
	"github.com/smallbiznis/paygate/internal/migration"
	"github.com/smallbiznis/paygate/internal/notify"
	"github.com/smallbiznis/paygate/internal/observability"
	"github.com/smallbiznis/paygate/internal/payment"
	"github.com/smallbiznis/paygate/internal/paymentsettings"
	"github.com/smallbiznis/paygate/internal/server"
	"github.com/smallbiznis/paygate/internal/ussd"
	"github.com/smallbiznis/paygate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// Payments
		paymentsettings.Module,
		ledger.Module,
		notify.Module,
		payment.Module,
		ussd.Module,

		server.Module,

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
	app.Run()
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
