package main

import (
	"context"
	"log"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"linkboost-controlplane/pkg/config"
	"linkboost-controlplane/pkg/db"
	"linkboost-controlplane/pkg/gen"
	"linkboost-controlplane/pkg/logger"
	"linkboost-controlplane/services/campaign"
	"linkboost-controlplane/services/guild"
	"linkboost-controlplane/services/ledger"
	"linkboost-controlplane/services/notification"
	"linkboost-controlplane/services/payment"
	"linkboost-controlplane/services/setting"
	"linkboost-controlplane/services/submission"
	"linkboost-controlplane/services/task"
)

// models lists every table owned by the control plane.
var models = []any{
	&ledger.Wallet{},
	&ledger.LedgerEntry{},
	&notification.Notification{},
	&setting.Setting{},
	&campaign.Campaign{},
	&submission.Submission{},
	&guild.Guild{},
	&guild.GuildMember{},
	&payment.Package{},
	&payment.TopUpRequest{},
	&task.Job{},
}

var starterPackages = []struct {
	name     string
	diamonds int64
	price    int64
}{
	{"Starter", 100, 100},
	{"Booster", 550, 500},
	{"Pro", 1200, 1000},
}

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		gen.Module,
		fx.Invoke(run),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	_ = app.Stop(context.Background())
}

func run(db *gorm.DB, node *snowflake.Node) error {
	if err := db.AutoMigrate(models...); err != nil {
		zap.L().Error("failed to migrate schema", zap.Error(err))
		return err
	}
	zap.L().Info("schema migrated", zap.Int("tables", len(models)))

	var count int64
	if err := db.Model(&payment.Package{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	for _, p := range starterPackages {
		pkg := &payment.Package{
			PackageID: node.Generate().String(),
			Name:      p.name,
			Diamonds:  p.diamonds,
			Price:     decimal.NewFromInt(p.price),
			Active:    true,
		}
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(pkg).Error; err != nil {
			zap.L().Error("failed to seed package", zap.String("name", p.name), zap.Error(err))
			return err
		}
	}
	zap.L().Info("seeded starter packages", zap.Int("count", len(starterPackages)))
	return nil
}
