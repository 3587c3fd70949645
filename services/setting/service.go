package setting

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"linkboost-controlplane/pkg/config"
	"linkboost-controlplane/pkg/errutil"
	"linkboost-controlplane/pkg/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Provider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

type Service struct {
	db       *gorm.DB
	defaults Snapshot
	group    singleflight.Group

	setting repository.Repository[Setting]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		defaults: Defaults(p.Config),

		setting: repository.ProvideStore[Setting](p.DB),
	}
}

// Defaults maps the REWARD config section onto a Snapshot.
func Defaults(cfg *config.Config) Snapshot {
	r := cfg.Reward
	return Snapshot{
		Reward: RewardBundle{
			Coin:     r.Coin,
			Diamond:  r.Diamond,
			Currency: decimal.NewFromFloat(r.Currency),
		},
		ProofCount:            r.ProofCount,
		VisitTimer:            time.Duration(r.VisitTimerSeconds) * time.Second,
		AutoApproveTimeout:    time.Duration(r.AutoApproveMinutes) * time.Minute,
		DefaultCommissionRate: decimal.NewFromFloat(r.DefaultCommissionRate),
		CampaignCostPerVisit:  r.CampaignCostPerVisit,
	}
}

// Snapshot re-reads the settings table on every call so operators can tune
// values without a restart. Concurrent callers share one read, which is
// detached from the first caller's cancellation.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	v, err, _ := s.group.Do("snapshot", func() (any, error) {
		return s.load(context.WithoutCancel(ctx))
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

func (s *Service) load(ctx context.Context) (Snapshot, error) {
	rows, err := s.setting.Find(ctx, nil)
	if err != nil {
		zap.L().Error("failed to load settings", zap.Error(err))
		return Snapshot{}, fmt.Errorf("load settings: %w", err)
	}

	snap := s.defaults
	for _, row := range rows {
		if err := apply(&snap, row.Key, row.Value); err != nil {
			zap.L().Warn("ignoring invalid setting", zap.String("key", row.Key), zap.String("value", row.Value), zap.Error(err))
		}
	}
	return snap, nil
}

// Set validates and stores an override for key.
func (s *Service) Set(ctx context.Context, key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)

	var check Snapshot
	if err := apply(&check, key, value); err != nil {
		return errutil.ValidationFailed(err.Error(), nil, errutil.WithDetails(errutil.Detail{Field: key, Message: err.Error()}))
	}

	row := &Setting{Key: key, Value: value, UpdatedAt: time.Now()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(row).Error; err != nil {
		zap.L().Error("failed to store setting", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("store setting: %w", err)
	}

	zap.L().Info("setting updated", zap.String("key", key), zap.String("value", value))
	return nil
}

func apply(snap *Snapshot, key, value string) error {
	switch key {
	case KeyRewardCoin, KeyRewardDiamond, KeyCampaignCostPerVisit:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("%s must be a non-negative integer", key)
		}
		switch key {
		case KeyRewardCoin:
			snap.Reward.Coin = n
		case KeyRewardDiamond:
			snap.Reward.Diamond = n
		default:
			snap.CampaignCostPerVisit = n
		}
	case KeyProofCount, KeyVisitTimerSeconds, KeyAutoApproveMinutes:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%s must be a non-negative integer", key)
		}
		switch key {
		case KeyProofCount:
			snap.ProofCount = n
		case KeyVisitTimerSeconds:
			snap.VisitTimer = time.Duration(n) * time.Second
		default:
			snap.AutoApproveTimeout = time.Duration(n) * time.Minute
		}
	case KeyRewardCurrency, KeyDefaultCommissionRate:
		d, err := decimal.NewFromString(value)
		if err != nil || d.IsNegative() {
			return fmt.Errorf("%s must be a non-negative decimal", key)
		}
		if key == KeyRewardCurrency {
			snap.Reward.Currency = d
		} else {
			if d.GreaterThan(decimal.NewFromInt(100)) {
				return fmt.Errorf("%s must not exceed 100", key)
			}
			snap.DefaultCommissionRate = d
		}
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

// All returns the effective value of every known key.
func (s *Service) All(ctx context.Context) (Snapshot, error) {
	return s.load(ctx)
}
