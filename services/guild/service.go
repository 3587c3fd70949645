package guild

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"linkboost-controlplane/pkg/db/option"
	"linkboost-controlplane/pkg/db/uow"
	"linkboost-controlplane/pkg/errutil"
	"linkboost-controlplane/pkg/repository"
	"linkboost-controlplane/services/ledger"
	"linkboost-controlplane/services/notification"
	"linkboost-controlplane/services/setting"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrGuildNotFound  = errutil.NotFound("guild not found", nil)
	ErrInvalidRate    = errutil.ValidationFailed("commission rate must be between 0 and 100", nil)
	ErrInvalidName    = errutil.ValidationFailed("guild name is required", nil)
	ErrAlreadyInGuild = errutil.Conflict("user already belongs to a guild", nil)
	ErrNameTaken      = errutil.Conflict("guild name already taken", nil)
)

var hundred = decimal.NewFromInt(100)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	ledger   *ledger.Service
	settings setting.Provider

	guild  repository.Repository[Guild]
	member repository.Repository[GuildMember]
}

type ServiceParams struct {
	fx.In

	DB       *gorm.DB
	Node     *snowflake.Node
	Ledger   *ledger.Service
	Settings setting.Provider
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		ledger:   p.Ledger,
		settings: p.Settings,

		guild:  repository.ProvideStore[Guild](p.DB),
		member: repository.ProvideStore[GuildMember](p.DB),
	}
}

// ApplyCommission pays the payer's guild leader price × rate / 100 inside u.
// Earnings accumulate untruncated; the leader is credited whole units only.
// It returns nil when the payer has no guild or nothing is owed.
func (s *Service) ApplyCommission(ctx context.Context, u *uow.UnitOfWork, payerID string, price decimal.Decimal, reference string) (*Commission, error) {
	tx := u.Tx()

	m, err := s.member.WithTrx(tx).FindOne(ctx, &GuildMember{UserID: payerID})
	if err != nil {
		return nil, fmt.Errorf("load guild membership: %w", err)
	}
	if m == nil {
		return nil, nil
	}

	g, err := s.guild.WithTrx(tx).FindOne(ctx, &Guild{GuildID: m.GuildID}, option.WithLockingUpdate())
	if err != nil {
		return nil, fmt.Errorf("load guild: %w", err)
	}
	if g == nil {
		zap.L().Warn("membership points at a missing guild", zap.String("guild_id", m.GuildID), zap.String("user_id", payerID))
		return nil, nil
	}

	earned := price.Mul(g.CommissionRate).Div(hundred)
	if !earned.IsPositive() {
		return nil, nil
	}

	res := tx.WithContext(ctx).Model(&Guild{}).
		Where("guild_id = ?", g.GuildID).
		Update("total_earnings", gorm.Expr("total_earnings + ?", earned))
	if res.Error != nil {
		return nil, fmt.Errorf("accumulate guild earnings: %w", res.Error)
	}

	currency := g.CommissionCurrency
	if currency == "" {
		currency = ledger.Diamond
	}
	c := &Commission{
		GuildID:  g.GuildID,
		LeaderID: g.LeaderID,
		Currency: currency,
		Earned:   earned,
		Paid:     earned.Truncate(0),
	}
	if !c.Paid.IsPositive() {
		c.Paid = decimal.Zero
		return c, nil
	}

	var note *notification.Notification
	if g.LeaderID != payerID {
		note = notification.New(notification.TypeCredit, "Guild commission",
			fmt.Sprintf("%s %s commission from a member top-up", c.Paid.String(), currency))
	}
	if err := s.ledger.Apply(ctx, u, g.LeaderID, ledger.Deltas{currency: c.Paid}, note, "commission:"+reference); err != nil {
		return nil, err
	}

	zap.L().Info("guild commission paid",
		zap.String("guild_id", g.GuildID),
		zap.String("leader_id", g.LeaderID),
		zap.String("earned", earned.String()),
		zap.String("paid", c.Paid.String()),
	)
	return c, nil
}

// CreateGuild opens a guild led by leaderID at the default commission rate.
// The leader becomes its first member.
func (s *Service) CreateGuild(ctx context.Context, name, leaderID string) (*Guild, error) {
	name = strings.TrimSpace(name)
	handle := slug.Make(name)
	if name == "" || handle == "" {
		return nil, ErrInvalidName
	}

	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	g := &Guild{
		GuildID:            s.node.Generate().String(),
		Name:               name,
		Slug:               handle,
		LeaderID:           leaderID,
		CommissionRate:     snap.DefaultCommissionRate,
		TotalEarnings:      decimal.Zero,
		CommissionCurrency: ledger.Diamond,
	}

	err = uow.Run(ctx, s.db, func(u *uow.UnitOfWork) error {
		if err := s.guild.WithTrx(u.Tx()).Create(ctx, g); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrNameTaken
			}
			return fmt.Errorf("create guild: %w", err)
		}
		if err := s.member.WithTrx(u.Tx()).Create(ctx, &GuildMember{GuildID: g.GuildID, UserID: leaderID}); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyInGuild
			}
			return fmt.Errorf("add guild leader: %w", err)
		}
		return nil
	})
	if err != nil {
		zap.L().Warn("guild not created", zap.String("leader_id", leaderID), zap.Error(err))
		return nil, err
	}

	zap.L().Info("guild created", zap.String("guild_id", g.GuildID), zap.String("leader_id", leaderID))
	return g, nil
}

// SetCommissionRate changes the rate applied to future top-ups. Earnings
// already accumulated are untouched.
func (s *Service) SetCommissionRate(ctx context.Context, guildID string, rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return ErrInvalidRate
	}

	if err := s.guild.Update(ctx, guildID, map[string]any{"commission_rate": rate}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrGuildNotFound
		}
		zap.L().Error("failed to update commission rate", zap.String("guild_id", guildID), zap.Error(err))
		return err
	}

	zap.L().Info("commission rate changed", zap.String("guild_id", guildID), zap.String("rate", rate.String()))
	return nil
}

// GetGuild looks a guild up by id, falling back to its slug.
func (s *Service) GetGuild(ctx context.Context, ref string) (*Guild, error) {
	for _, query := range []*Guild{{GuildID: ref}, {Slug: slug.Make(ref)}} {
		if query.GuildID == "" && query.Slug == "" {
			continue
		}
		g, err := s.guild.FindOne(ctx, query)
		if err != nil {
			zap.L().Error("failed to query guild", zap.String("ref", ref), zap.Error(err))
			return nil, err
		}
		if g != nil {
			return g, nil
		}
	}
	return nil, ErrGuildNotFound
}
