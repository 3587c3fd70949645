package submission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"linkboost-controlplane/services/campaign"
	"linkboost-controlplane/services/ledger"
	"linkboost-controlplane/services/notification"
	"linkboost-controlplane/services/setting"
	"linkboost-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type settingsStub struct {
	snap setting.Snapshot
}

func (s *settingsStub) Snapshot(context.Context) (setting.Snapshot, error) {
	return s.snap, nil
}

type fixture struct {
	svc      *Service
	db       *gorm.DB
	ledger   *ledger.Service
	purger   *testutil.PurgerSpy
	clock    *testutil.Clock
	settings *settingsStub
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&campaign.Campaign{}, &Submission{},
		&ledger.Wallet{}, &ledger.LedgerEntry{}, &notification.Notification{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	sink := notification.NewService(notification.ServiceParams{DB: db, Node: node})
	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node, Sink: sink})
	purger := &testutil.PurgerSpy{}
	clock := testutil.NewClock(epoch)
	settings := &settingsStub{snap: setting.Snapshot{
		Reward:             setting.RewardBundle{Coin: 5, Currency: decimal.Zero},
		ProofCount:         2,
		AutoApproveTimeout: 2880 * time.Minute,
	}}

	svc := NewService(ServiceParams{
		DB:        db,
		Node:      node,
		Ledger:    ledgerSvc,
		Settings:  settings,
		Artifacts: purger,
		Sink:      sink,
	})
	svc.now = clock.Now

	return &fixture{svc: svc, db: db, ledger: ledgerSvc, purger: purger, clock: clock, settings: settings}
}

func (f *fixture) campaign(t *testing.T, id string, target int64) {
	t.Helper()
	require.NoError(t, f.db.Create(&campaign.Campaign{
		CampaignID:   id,
		OwnerID:      "owner",
		Code:         "CMP-" + id,
		URL:          "https://example.com/" + id,
		TargetVisits: target,
		Status:       campaign.CampaignStatusActive,
	}).Error)
}

func (f *fixture) completed(t *testing.T, id string) int64 {
	t.Helper()
	var c campaign.Campaign
	require.NoError(t, f.db.Where("campaign_id = ?", id).Take(&c).Error)
	return c.CompletedVisits
}

func (f *fixture) coins(t *testing.T, userID string) int64 {
	t.Helper()
	w, err := f.ledger.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	return w.Coin
}

func (f *fixture) status(t *testing.T, id string) Status {
	t.Helper()
	sub, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	return sub.Status
}

func (f *fixture) submit(t *testing.T, campaignID, visitorID string) *Submission {
	t.Helper()
	sub, err := f.svc.SubmitProof(context.Background(), campaignID, visitorID, []string{visitorID + "-1.png", visitorID + "-2.png"})
	require.NoError(t, err)
	return sub
}

func TestHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.campaign(t, "c1", 500)

	sub := f.submit(t, "c1", "visitor")
	require.Equal(t, StatusPending, sub.Status)

	require.NoError(t, f.svc.OwnerApprove(ctx, sub.ID, "owner"))
	require.Equal(t, StatusApproved, f.status(t, sub.ID))
	require.Equal(t, int64(5), f.coins(t, "visitor"))
	require.Equal(t, int64(1), f.completed(t, "c1"))
	require.ElementsMatch(t, []string{"visitor-1.png", "visitor-2.png"}, f.purger.Purged())

	got, err := f.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	require.Empty(t, got.Artifacts())
	require.NotNil(t, got.RewardedAt)

	err = f.svc.OwnerApprove(ctx, sub.ID, "owner")
	require.ErrorIs(t, err, ErrNotPending)
	require.True(t, IsStateConflict(err))
	require.Equal(t, int64(5), f.coins(t, "visitor"))
	require.Equal(t, int64(1), f.completed(t, "c1"))
}

func TestSubmitProofValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.campaign(t, "c1", 1)

	_, err := f.svc.SubmitProof(ctx, "c1", "owner", []string{"a", "b"})
	require.ErrorIs(t, err, ErrOwnLink)

	_, err = f.svc.SubmitProof(ctx, "c1", "visitor", []string{"a", " "})
	require.ErrorIs(t, err, ErrNotEnoughProofs)

	_, err = f.svc.SubmitProof(ctx, "missing", "visitor", []string{"a", "b"})
	require.ErrorIs(t, err, campaign.ErrCampaignNotFound)

	f.submit(t, "c1", "visitor")

	_, err = f.svc.SubmitProof(ctx, "c1", "visitor", []string{"a", "b"})
	require.ErrorIs(t, err, ErrAlreadySubmitted)

	// the single slot is taken by the pending submission
	_, err = f.svc.SubmitProof(ctx, "c1", "other", []string{"a", "b"})
	require.ErrorIs(t, err, ErrSlotsFull)

	f.campaign(t, "c2", 10)
	require.NoError(t, f.db.Model(&campaign.Campaign{}).Where("campaign_id = ?", "c2").Update("status", campaign.CampaignStatusBlocked).Error)
	_, err = f.svc.SubmitProof(ctx, "c2", "visitor", []string{"a", "b"})
	require.ErrorIs(t, err, ErrCampaignInactive)
}

func TestOwnerRejectRequiresReasonAndOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.campaign(t, "c1", 5)
	sub := f.submit(t, "c1", "visitor")

	require.ErrorIs(t, f.svc.OwnerReject(ctx, sub.ID, "owner", "  "), ErrMissingReason)
	require.ErrorIs(t, f.svc.OwnerReject(ctx, sub.ID, "intruder", "fake"), ErrUnauthorized)
	require.ErrorIs(t, f.svc.OwnerApprove(ctx, sub.ID, "intruder"), ErrUnauthorized)

	require.NoError(t, f.svc.OwnerReject(ctx, sub.ID, "owner", "blurry screenshot"))
	require.Equal(t, int64(1), f.completed(t, "c1"))
	require.Equal(t, int64(0), f.coins(t, "visitor"))

	got, err := f.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, got.Status)
	require.Equal(t, "blurry screenshot", got.RejectReason)
	require.Len(t, got.Artifacts(), 2)

	require.ErrorIs(t, f.svc.OwnerApprove(ctx, sub.ID, "owner"), ErrNotPending)
	require.ErrorIs(t, f.svc.OwnerReject(ctx, sub.ID, "owner", "again"), ErrNotPending)
	require.Equal(t, int64(1), f.completed(t, "c1"))
}

func TestDisputeOverturned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.campaign(t, "c1", 500)
	sub := f.submit(t, "c1", "visitor")

	require.NoError(t, f.svc.OwnerReject(ctx, sub.ID, "owner", "not visited"))
	require.Equal(t, int64(1), f.completed(t, "c1"))

	f.clock.Advance(24 * time.Hour)
	require.NoError(t, f.svc.Report(ctx, sub.ID, "visitor", "I did visit"))
	require.Equal(t, StatusReported, f.status(t, sub.ID))

	require.NoError(t, f.svc.AdminResolveReport(ctx, sub.ID, VisitorWins))
	require.Equal(t, StatusApproved, f.status(t, sub.ID))
	require.Equal(t, int64(5), f.coins(t, "visitor"))
	require.Equal(t, int64(1), f.completed(t, "c1"))

	require.ErrorIs(t, f.svc.AdminResolveReport(ctx, sub.ID, VisitorWins), ErrNotReported)
	require.ErrorIs(t, f.svc.AdminResolveReport(ctx, sub.ID, OwnerWins), ErrNotReported)
	require.Equal(t, int64(5), f.coins(t, "visitor"))
	require.Equal(t, int64(1), f.completed(t, "c1"))

	var successes int64
	require.NoError(t, f.db.Model(&notification.Notification{}).
		Where("user_id = ? AND type = ?", "visitor", notification.TypeSuccess).Count(&successes).Error)
	require.Equal(t, int64(1), successes)
}

func TestDisputeUpheld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.campaign(t, "c1", 500)
	sub := f.submit(t, "c1", "visitor")

	require.NoError(t, f.svc.OwnerReject(ctx, sub.ID, "owner", "not visited"))
	require.NoError(t, f.svc.Report(ctx, sub.ID, "visitor", "I did visit"))

	require.NoError(t, f.svc.AdminResolveReport(ctx, sub.ID, OwnerWins))
	require.Equal(t, StatusAdminRejected, f.status(t, sub.ID))
	require.Equal(t, int64(0), f.completed(t, "c1"))
	require.Equal(t, int64(0), f.coins(t, "visitor"))

	got, err := f.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, "I did visit", got.ReportMessage)
	require.Empty(t, f.purger.Purged())
}

func TestReportValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.campaign(t, "c1", 5)
	sub := f.submit(t, "c1", "visitor")

	require.ErrorIs(t, f.svc.Report(ctx, sub.ID, "visitor", "early"), ErrNotRejected)
	require.NoError(t, f.svc.OwnerReject(ctx, sub.ID, "owner", "nope"))

	require.ErrorIs(t, f.svc.Report(ctx, sub.ID, "visitor", ""), ErrMissingMessage)
	require.ErrorIs(t, f.svc.Report(ctx, sub.ID, "someone-else", "mine"), ErrUnauthorized)
	require.ErrorIs(t, f.svc.Report(ctx, "missing", "visitor", "mine"), ErrSubmissionNotFound)

	require.NoError(t, f.svc.Report(ctx, sub.ID, "visitor", "please check"))
	require.ErrorIs(t, f.svc.Report(ctx, sub.ID, "visitor", "again"), ErrNotRejected)

	_, err := ParseDecision("maybe")
	require.ErrorIs(t, err, ErrInvalidDecision)
	d, err := ParseDecision("visitor_wins")
	require.NoError(t, err)
	require.Equal(t, VisitorWins, d)
}

func TestDisputeWindowBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.campaign(t, "c1", 5)

	inside := f.submit(t, "c1", "early")
	outside := f.submit(t, "c1", "late")
	require.NoError(t, f.svc.OwnerReject(ctx, inside.ID, "owner", "no"))
	require.NoError(t, f.svc.OwnerReject(ctx, outside.ID, "owner", "no"))

	f.clock.Set(epoch.Add(DisputeWindow - time.Second))
	require.NoError(t, f.svc.Report(ctx, inside.ID, "early", "within the window"))

	f.clock.Set(epoch.Add(DisputeWindow + time.Second))
	require.ErrorIs(t, f.svc.Report(ctx, outside.ID, "late", "too late"), ErrWindowExpired)
	require.Equal(t, StatusRejected, f.status(t, outside.ID))
}

func TestApproveAllPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.campaign(t, "c1", 10)

	a := f.submit(t, "c1", "a")
	f.submit(t, "c1", "b")
	c := f.submit(t, "c1", "c")
	require.NoError(t, f.svc.OwnerReject(ctx, c.ID, "owner", "no"))
	require.NoError(t, f.svc.OwnerApprove(ctx, a.ID, "owner"))
	f.submit(t, "c1", "d")

	_, err := f.svc.ApproveAllPending(ctx, "c1", "intruder")
	require.ErrorIs(t, err, ErrUnauthorized)

	n, err := f.svc.ApproveAllPending(ctx, "c1", "owner")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, int64(4), f.completed(t, "c1"))
	for _, v := range []string{"a", "b", "d"} {
		require.Equal(t, int64(5), f.coins(t, v))
	}
	require.Equal(t, int64(0), f.coins(t, "c"))

	n, err = f.svc.ApproveAllPending(ctx, "c1", "owner")
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, int64(4), f.completed(t, "c1"))
}

func TestAutoApproveSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.campaign(t, "c1", 10)

	stale := f.submit(t, "c1", "stale")
	f.clock.Advance(47 * time.Hour)
	fresh := f.submit(t, "c1", "fresh")

	f.clock.Advance(2 * time.Hour)
	res, err := f.svc.AutoApprove(ctx, f.clock.Now(), 100)
	require.NoError(t, err)
	require.Equal(t, SweepResult{Processed: 1}, res)
	require.Equal(t, StatusApproved, f.status(t, stale.ID))
	require.Equal(t, StatusPending, f.status(t, fresh.ID))
	require.Equal(t, int64(5), f.coins(t, "stale"))
	require.Equal(t, int64(1), f.completed(t, "c1"))

	res, err = f.svc.AutoApprove(ctx, f.clock.Now(), 100)
	require.NoError(t, err)
	require.Equal(t, SweepResult{}, res)
	require.Equal(t, int64(5), f.coins(t, "stale"))

	f.settings.snap.AutoApproveTimeout = 0
	f.clock.Advance(100 * time.Hour)
	res, err = f.svc.AutoApprove(ctx, f.clock.Now(), 100)
	require.NoError(t, err)
	require.Equal(t, SweepResult{}, res)
	require.Equal(t, StatusPending, f.status(t, fresh.ID))
}

func TestCleanupRejectedSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.campaign(t, "c1", 10)

	old := f.submit(t, "c1", "old")
	require.NoError(t, f.svc.OwnerReject(ctx, old.ID, "owner", "no"))
	disputed := f.submit(t, "c1", "disputed")
	require.NoError(t, f.svc.OwnerReject(ctx, disputed.ID, "owner", "no"))
	require.NoError(t, f.svc.Report(ctx, disputed.ID, "disputed", "please"))

	f.clock.Advance(48 * time.Hour)
	recent := f.submit(t, "c1", "recent")
	require.NoError(t, f.svc.OwnerReject(ctx, recent.ID, "owner", "no"))
	require.Equal(t, int64(3), f.completed(t, "c1"))

	f.clock.Advance(48 * time.Hour)
	res, err := f.svc.CleanupRejected(ctx, f.clock.Now(), 100)
	require.NoError(t, err)
	require.Equal(t, SweepResult{Processed: 1}, res)
	require.Equal(t, int64(2), f.completed(t, "c1"))
	require.ElementsMatch(t, []string{"old-1.png", "old-2.png"}, f.purger.Purged())

	_, err = f.svc.Get(ctx, old.ID)
	require.ErrorIs(t, err, ErrSubmissionNotFound)
	require.Equal(t, StatusReported, f.status(t, disputed.ID))
	require.Equal(t, StatusRejected, f.status(t, recent.ID))

	res, err = f.svc.CleanupRejected(ctx, f.clock.Now(), 100)
	require.NoError(t, err)
	require.Equal(t, SweepResult{}, res)
	require.Equal(t, int64(2), f.completed(t, "c1"))

	// the visitor may try again once the stale rejection is gone
	f.submit(t, "c1", "old")
}

func TestPurgeCampaign(t *testing.T) {
	f := newFixture(t)
	f.campaign(t, "c1", 10)
	f.submit(t, "c1", "a")
	f.submit(t, "c1", "b")

	refs, err := f.svc.PurgeCampaign(context.Background(), f.db, "c1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a-1.png", "a-2.png", "b-1.png", "b-2.png"}, refs)

	var left int64
	require.NoError(t, f.db.Model(&Submission{}).Count(&left).Error)
	require.Zero(t, left)
}

func (f *fixture) rewardEntries(t *testing.T, submissionID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&ledger.LedgerEntry{}).
		Where("reference_id = ?", rewardReference(submissionID)).Count(&n).Error)
	return n
}

// race fires every approval path at once against one submission.
func (f *fixture) race(submissionID string) {
	ctx := context.Background()
	paths := []func(){
		func() { _ = f.svc.OwnerApprove(ctx, submissionID, "owner") },
		func() { _, _ = f.svc.AutoApprove(ctx, f.clock.Now(), 100) },
		func() { _ = f.svc.AdminResolveReport(ctx, submissionID, VisitorWins) },
		func() { _, _ = f.svc.ApproveAllPending(ctx, "c1", "owner") },
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		for _, path := range paths {
			wg.Add(1)
			go func() {
				defer wg.Done()
				path()
			}()
		}
	}
	wg.Wait()
}

func TestConcurrentApprovalsRewardOnce(t *testing.T) {
	f := newFixture(t)
	f.campaign(t, "c1", 10)
	sub := f.submit(t, "c1", "visitor")
	f.clock.Advance(49 * time.Hour)

	f.race(sub.ID)

	require.Equal(t, StatusApproved, f.status(t, sub.ID))
	require.Equal(t, int64(1), f.rewardEntries(t, sub.ID))
	require.Equal(t, int64(5), f.coins(t, "visitor"))
	require.Equal(t, int64(1), f.completed(t, "c1"))
}

func TestConcurrentResolutionsRewardOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.campaign(t, "c1", 10)
	sub := f.submit(t, "c1", "visitor")
	require.NoError(t, f.svc.OwnerReject(ctx, sub.ID, "owner", "not visited"))
	require.NoError(t, f.svc.Report(ctx, sub.ID, "visitor", "I did visit"))
	f.clock.Advance(49 * time.Hour)

	f.race(sub.ID)

	require.Equal(t, StatusApproved, f.status(t, sub.ID))
	require.Equal(t, int64(1), f.rewardEntries(t, sub.ID))
	require.Equal(t, int64(5), f.coins(t, "visitor"))
	require.Equal(t, int64(1), f.completed(t, "c1"))
}
