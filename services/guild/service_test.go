package guild

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"linkboost-controlplane/pkg/db/uow"
	"linkboost-controlplane/services/ledger"
	"linkboost-controlplane/services/notification"
	"linkboost-controlplane/services/setting"
	"linkboost-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type settingsStub setting.Snapshot

func (s settingsStub) Snapshot(context.Context) (setting.Snapshot, error) {
	return setting.Snapshot(s), nil
}

func newTestService(t *testing.T) (*Service, *ledger.Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &Guild{}, &GuildMember{}, &ledger.Wallet{}, &ledger.LedgerEntry{}, &notification.Notification{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	sink := notification.NewService(notification.ServiceParams{DB: db, Node: node})
	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node, Sink: sink})
	svc := NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Ledger:   ledgerSvc,
		Settings: settingsStub{DefaultCommissionRate: decimal.NewFromInt(5)},
	})
	return svc, ledgerSvc, db
}

func cascade(t *testing.T, svc *Service, payerID string, price decimal.Decimal, ref string) *Commission {
	t.Helper()
	var c *Commission
	err := uow.Run(context.Background(), svc.db, func(u *uow.UnitOfWork) error {
		var err error
		c, err = svc.ApplyCommission(context.Background(), u, payerID, price, ref)
		return err
	})
	require.NoError(t, err)
	return c
}

func notifications(t *testing.T, db *gorm.DB, userID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&notification.Notification{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

func TestCommissionTruncatesLeaderPayout(t *testing.T) {
	svc, ledgerSvc, db := newTestService(t)
	ctx := context.Background()

	g, err := svc.CreateGuild(ctx, "Raiders", "leader")
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(5).Equal(g.CommissionRate))
	require.NoError(t, db.Create(&GuildMember{GuildID: g.GuildID, UserID: "member"}).Error)

	c := cascade(t, svc, "member", decimal.NewFromInt(258), "TX1")
	require.NotNil(t, c)
	require.True(t, decimal.RequireFromString("12.9").Equal(c.Earned))
	require.True(t, decimal.NewFromInt(12).Equal(c.Paid))

	w, err := ledgerSvc.GetWallet(ctx, "leader")
	require.NoError(t, err)
	require.Equal(t, int64(12), w.Diamond)

	got, err := svc.GetGuild(ctx, g.GuildID)
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("12.9").Equal(got.TotalEarnings), got.TotalEarnings.String())
	require.Equal(t, int64(1), notifications(t, db, "leader"))
}

func TestCommissionLeaderPayingSelfIsNotNotified(t *testing.T) {
	svc, ledgerSvc, db := newTestService(t)
	ctx := context.Background()

	g, err := svc.CreateGuild(ctx, "Solo", "leader")
	require.NoError(t, err)

	c := cascade(t, svc, "leader", decimal.NewFromInt(100), "TX2")
	require.NotNil(t, c)
	require.Equal(t, g.GuildID, c.GuildID)

	w, err := ledgerSvc.GetWallet(ctx, "leader")
	require.NoError(t, err)
	require.Equal(t, int64(5), w.Diamond)
	require.Equal(t, int64(0), notifications(t, db, "leader"))
}

func TestCommissionBelowOneUnitOnlyAccumulates(t *testing.T) {
	svc, ledgerSvc, _ := newTestService(t)
	ctx := context.Background()

	g, err := svc.CreateGuild(ctx, "Tiny", "leader")
	require.NoError(t, err)

	c := cascade(t, svc, "leader", decimal.NewFromInt(10), "TX3")
	require.NotNil(t, c)
	require.True(t, c.Paid.IsZero())

	w, err := ledgerSvc.GetWallet(ctx, "leader")
	require.NoError(t, err)
	require.Equal(t, int64(0), w.Diamond)

	got, err := svc.GetGuild(ctx, g.GuildID)
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("0.5").Equal(got.TotalEarnings))
}

func TestCommissionWithoutGuild(t *testing.T) {
	svc, _, _ := newTestService(t)
	require.Nil(t, cascade(t, svc, "loner", decimal.NewFromInt(100), "TX4"))
}

func TestSetCommissionRate(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()

	g, err := svc.CreateGuild(ctx, "Raiders", "leader")
	require.NoError(t, err)
	require.NoError(t, db.Create(&GuildMember{GuildID: g.GuildID, UserID: "member"}).Error)

	cascade(t, svc, "member", decimal.NewFromInt(100), "TX5")
	require.NoError(t, svc.SetCommissionRate(ctx, g.GuildID, decimal.NewFromInt(10)))
	cascade(t, svc, "member", decimal.NewFromInt(100), "TX6")

	got, err := svc.GetGuild(ctx, g.GuildID)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(15).Equal(got.TotalEarnings))

	require.ErrorIs(t, svc.SetCommissionRate(ctx, g.GuildID, decimal.NewFromInt(101)), ErrInvalidRate)
	require.ErrorIs(t, svc.SetCommissionRate(ctx, "missing", decimal.NewFromInt(1)), ErrGuildNotFound)

	_, err = svc.CreateGuild(ctx, "Second", "member")
	require.ErrorIs(t, err, ErrAlreadyInGuild)
	_, err = svc.CreateGuild(ctx, " ", "someone")
	require.ErrorIs(t, err, ErrInvalidName)
}

func TestGuildSlug(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	g, err := svc.CreateGuild(ctx, "Night Raiders!", "leader")
	require.NoError(t, err)
	require.Equal(t, "night-raiders", g.Slug)

	got, err := svc.GetGuild(ctx, "Night Raiders")
	require.NoError(t, err)
	require.Equal(t, g.GuildID, got.GuildID)

	_, err = svc.CreateGuild(ctx, "night raiders", "other")
	require.ErrorIs(t, err, ErrNameTaken)
	_, err = svc.CreateGuild(ctx, "!!!", "other")
	require.ErrorIs(t, err, ErrInvalidName)
	_, err = svc.GetGuild(ctx, "nobody")
	require.ErrorIs(t, err, ErrGuildNotFound)
}
