package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"linkboost-controlplane/pkg/config"
	"linkboost-controlplane/pkg/db"
	"linkboost-controlplane/pkg/gen"
	"linkboost-controlplane/pkg/logger"
	"linkboost-controlplane/pkg/minio"
	"linkboost-controlplane/pkg/redis"
	pkgtask "linkboost-controlplane/pkg/task"
	"linkboost-controlplane/services/artifact"
	"linkboost-controlplane/services/ledger"
	"linkboost-controlplane/services/notification"
	"linkboost-controlplane/services/setting"
	"linkboost-controlplane/services/submission"
	"linkboost-controlplane/services/task"
)

// The worker runs the sweep schedule and consumes the sweep and artifact
// purge queues.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		pkgtask.Client,
		pkgtask.Server,
		gen.Module,
		minio.Client,

		notification.Module,
		ledger.Module,
		setting.Module,
		artifact.Module,
		artifact.Worker,
		submission.Module,
		task.Module,
		task.Worker,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
