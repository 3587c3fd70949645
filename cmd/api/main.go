package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"linkboost-controlplane/internal/httpapi"
	"linkboost-controlplane/pkg/config"
	"linkboost-controlplane/pkg/db"
	"linkboost-controlplane/pkg/gen"
	"linkboost-controlplane/pkg/health"
	"linkboost-controlplane/pkg/logger"
	"linkboost-controlplane/pkg/redis"
	"linkboost-controlplane/pkg/sequence"
	"linkboost-controlplane/pkg/server"
	pkgtask "linkboost-controlplane/pkg/task"
	"linkboost-controlplane/services/artifact"
	"linkboost-controlplane/services/campaign"
	"linkboost-controlplane/services/guild"
	"linkboost-controlplane/services/ledger"
	"linkboost-controlplane/services/notification"
	"linkboost-controlplane/services/payment"
	"linkboost-controlplane/services/setting"
	"linkboost-controlplane/services/submission"
	"linkboost-controlplane/services/task"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		pkgtask.Client,
		sequence.Module,
		gen.Module,
		health.Module,

		notification.Module,
		ledger.Module,
		setting.Module,
		artifact.Module,
		campaign.Module,
		submission.Module,
		guild.Module,
		payment.Module,
		task.Module,

		httpapi.Module,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})
