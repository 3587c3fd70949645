package campaign

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"linkboost-controlplane/pkg/db/option"
	"linkboost-controlplane/pkg/db/uow"
	"linkboost-controlplane/pkg/errutil"
	"linkboost-controlplane/pkg/repository"
	"linkboost-controlplane/pkg/sequence"
	"linkboost-controlplane/services/artifact"
	"linkboost-controlplane/services/ledger"
	"linkboost-controlplane/services/notification"
	"linkboost-controlplane/services/setting"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxTargetVisits = 100000

var (
	ErrCampaignNotFound = errutil.NotFound("campaign not found", nil)
	ErrInvalidURL       = errutil.ValidationFailed("url must be an absolute http or https link", nil)
	ErrInvalidTarget    = errutil.ValidationFailed(fmt.Sprintf("target visits must be between 1 and %d", maxTargetVisits), nil)
	ErrInvalidStatus    = errutil.ValidationFailed("status must be ACTIVE or BLOCKED", nil)
)

// DependentPurger removes the rows that hang off a campaign inside the
// deleting transaction and returns the artifact references they held.
type DependentPurger interface {
	PurgeCampaign(ctx context.Context, tx *gorm.DB, campaignID string) ([]string, error)
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	seq  sequence.Generator

	ledger     *ledger.Service
	settings   setting.Provider
	artifacts  artifact.Purger
	dependents DependentPurger

	campaign repository.Repository[Campaign]
}

type ServiceParams struct {
	fx.In

	DB         *gorm.DB
	Node       *snowflake.Node
	Seq        sequence.Generator
	Ledger     *ledger.Service
	Settings   setting.Provider
	Artifacts  artifact.Purger
	Dependents DependentPurger `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		seq:  p.Seq,

		ledger:     p.Ledger,
		settings:   p.Settings,
		artifacts:  p.Artifacts,
		dependents: p.Dependents,

		campaign: repository.ProvideStore[Campaign](p.DB),
	}
}

func validateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", ErrInvalidURL
	}
	return u.String(), nil
}

// CreateCampaign buys targetVisits slots for ownerID. The coin cost is
// debited in the same unit of work that inserts the campaign.
func (s *Service) CreateCampaign(ctx context.Context, ownerID, rawURL string, targetVisits int64) (*Campaign, error) {
	link, err := validateURL(rawURL)
	if err != nil {
		return nil, err
	}
	if targetVisits <= 0 || targetVisits > maxTargetVisits {
		return nil, ErrInvalidTarget
	}

	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	code, err := s.seq.NextCampaignCode(ctx)
	if err != nil {
		zap.L().Error("failed to generate campaign code", zap.Error(err))
		return nil, errutil.ServiceUnavailable("failed to generate campaign code", err)
	}

	c := &Campaign{
		CampaignID:   s.node.Generate().String(),
		OwnerID:      ownerID,
		Code:         code,
		URL:          link,
		TargetVisits: targetVisits,
		Status:       CampaignStatusActive,
	}
	cost := targetVisits * snap.CampaignCostPerVisit

	err = uow.Run(ctx, s.db, func(u *uow.UnitOfWork) error {
		if err := s.campaign.WithTrx(u.Tx()).Create(ctx, c); err != nil {
			return fmt.Errorf("create campaign: %w", err)
		}
		if cost == 0 {
			return nil
		}
		note := notification.New(notification.TypeDebit, "Campaign created",
			fmt.Sprintf("%d coin spent on campaign %s (%d visits)", cost, c.Code, targetVisits))
		return s.ledger.Apply(ctx, u, ownerID, ledger.Deltas{ledger.Coin: decimal.NewFromInt(-cost)}, note, "campaign:"+c.CampaignID)
	})
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return nil, ledger.ErrInsufficientFunds
		}
		zap.L().Warn("campaign not created", zap.String("owner_id", ownerID), zap.Int64("cost", cost), zap.Error(err))
		return nil, err
	}

	zap.L().Info("campaign created", zap.String("campaign_id", c.CampaignID), zap.String("owner_id", ownerID), zap.Int64("cost", cost))
	return c, nil
}

func (s *Service) GetCampaign(ctx context.Context, campaignID string) (*Campaign, error) {
	c, err := s.campaign.FindOne(ctx, &Campaign{CampaignID: campaignID})
	if err != nil {
		zap.L().Error("failed to query campaign", zap.String("campaign_id", campaignID), zap.Error(err))
		return nil, err
	}
	if c == nil {
		return nil, ErrCampaignNotFound
	}
	return c, nil
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]*Campaign, error) {
	return s.campaign.Find(ctx, &Campaign{OwnerID: ownerID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "created_at",
		OrderBy: "desc",
		Allow:   map[string]bool{"created_at": true},
	}))
}

// ListActive returns open campaigns that still have unreserved slots.
func (s *Service) ListActive(ctx context.Context, limit int) ([]*Campaign, error) {
	return s.campaign.Find(ctx, &Campaign{Status: CampaignStatusActive},
		func(db *gorm.DB) *gorm.DB { return db.Where("completed_visits < target_visits") },
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "asc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.WithLimit(limit),
	)
}

// SetStatus blocks or unblocks a campaign. Blocked campaigns refuse new
// submissions; in-flight ones keep their lifecycle.
func (s *Service) SetStatus(ctx context.Context, campaignID string, status CampaignStatus) error {
	status = CampaignStatus(strings.ToUpper(string(status)))
	if !status.Valid() {
		return ErrInvalidStatus
	}

	if err := s.campaign.Update(ctx, campaignID, map[string]any{"status": status}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCampaignNotFound
		}
		zap.L().Error("failed to update campaign status", zap.String("campaign_id", campaignID), zap.Error(err))
		return err
	}

	zap.L().Info("campaign status changed", zap.String("campaign_id", campaignID), zap.String("status", string(status)))
	return nil
}

// DeleteCampaign hard-deletes a campaign together with its submissions.
// Their artifacts are purged once the delete committed.
func (s *Service) DeleteCampaign(ctx context.Context, campaignID string) error {
	var refs []string
	err := uow.Run(ctx, s.db, func(u *uow.UnitOfWork) error {
		tx := u.Tx()

		c, err := s.campaign.WithTrx(tx).FindOne(ctx, &Campaign{CampaignID: campaignID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if c == nil {
			return ErrCampaignNotFound
		}

		if s.dependents != nil {
			if refs, err = s.dependents.PurgeCampaign(ctx, tx, campaignID); err != nil {
				return err
			}
		}

		if err := tx.WithContext(ctx).Where("campaign_id = ?", campaignID).Delete(&Campaign{}).Error; err != nil {
			return fmt.Errorf("delete campaign: %w", err)
		}
		return nil
	})
	if err != nil {
		zap.L().Warn("campaign not deleted", zap.String("campaign_id", campaignID), zap.Error(err))
		return err
	}

	s.artifacts.Purge(ctx, refs)
	zap.L().Info("campaign deleted", zap.String("campaign_id", campaignID), zap.Int("artifacts", len(refs)))
	return nil
}
