package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"linkboost-controlplane/pkg/config"
	"linkboost-controlplane/pkg/taskname"
	"linkboost-controlplane/services/campaign"
	"linkboost-controlplane/services/ledger"
	"linkboost-controlplane/services/notification"
	"linkboost-controlplane/services/setting"
	"linkboost-controlplane/services/submission"
	"linkboost-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type lockerStub struct {
	held     bool
	err      error
	acquired int
	released int
}

func (l *lockerStub) Acquire(_ context.Context, name string, _ time.Duration) (func(context.Context), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	l.held = true
	l.acquired++
	return func(context.Context) {
		l.held = false
		l.released++
	}, true, nil
}

type sweepStub struct {
	approve submission.SweepResult
	cleanup submission.SweepResult
	err     error
	calls   int
}

func (s *sweepStub) AutoApprove(context.Context, time.Time, int) (submission.SweepResult, error) {
	return s.approve, nil
}

func (s *sweepStub) CleanupRejected(context.Context, time.Time, int) (submission.SweepResult, error) {
	s.calls++
	return s.cleanup, s.err
}

func newTestService(t *testing.T, sweeps Sweepable, locker Locker) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &Job{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Sweeper.BatchSize = 10
	svc := NewService(Params{DB: db, Node: node, Config: cfg, Submissions: sweeps, Locker: locker})
	svc.now = testutil.NewClock(epoch).Now
	return svc
}

func report(t *testing.T, job *Job) SweepReport {
	t.Helper()
	var r SweepReport
	require.NoError(t, json.Unmarshal(job.Metadata, &r))
	return r
}

func TestRunRecordsJob(t *testing.T) {
	sweeps := &sweepStub{
		approve: submission.SweepResult{Processed: 2, Skipped: 1},
		cleanup: submission.SweepResult{Processed: 3},
	}
	locker := &lockerStub{}
	svc := newTestService(t, sweeps, locker)
	ctx := context.Background()

	job, err := svc.Run(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, 1, locker.released)

	jobs, err := svc.RecentJobs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	got := jobs[0]
	require.Equal(t, job.ID, got.ID)
	require.Equal(t, taskname.SubmissionSweep, got.Name)
	require.Equal(t, JobSuccess, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.Equal(t, SweepReport{AutoApprove: sweeps.approve, Cleanup: sweeps.cleanup}, report(t, got))
}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	sweeps := &sweepStub{}
	svc := newTestService(t, sweeps, &lockerStub{held: true})

	job, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Nil(t, job)
	require.Zero(t, sweeps.calls)

	jobs, err := svc.RecentJobs(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestRunLockError(t *testing.T) {
	svc := newTestService(t, &sweepStub{}, &lockerStub{err: errors.New("redis down")})

	_, err := svc.Run(context.Background())
	require.Error(t, err)
}

func TestRunMarksFailures(t *testing.T) {
	sweeps := &sweepStub{
		approve: submission.SweepResult{Processed: 1, Failed: 1},
	}
	svc := newTestService(t, sweeps, &lockerStub{})

	job, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, JobFailed, job.Status)

	sweeps.err = errors.New("list expired rejections: boom")
	locker := &lockerStub{}
	svc.locker = locker
	err = svc.HandleSweepTask(context.Background(), asynq.NewTask(taskname.SubmissionSweep, nil))
	require.Error(t, err)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Equal(t, 1, locker.released)

	jobs, err := svc.RecentJobs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		require.Equal(t, JobFailed, j.Status)
	}
}

type settingsStub setting.Snapshot

func (s settingsStub) Snapshot(context.Context) (setting.Snapshot, error) {
	return setting.Snapshot(s), nil
}

type sweepFixture struct {
	db     *gorm.DB
	node   *snowflake.Node
	ledger *ledger.Service
	subs   *submission.Service
	purger *testutil.PurgerSpy
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	db := testutil.NewTestDB(t,
		&Job{}, &campaign.Campaign{}, &submission.Submission{},
		&ledger.Wallet{}, &ledger.LedgerEntry{}, &notification.Notification{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	sink := notification.NewService(notification.ServiceParams{DB: db, Node: node})
	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node, Sink: sink})
	purger := &testutil.PurgerSpy{}
	subs := submission.NewService(submission.ServiceParams{
		DB:     db,
		Node:   node,
		Ledger: ledgerSvc,
		Settings: settingsStub{
			Reward:             setting.RewardBundle{Coin: 5, Currency: decimal.Zero},
			ProofCount:         1,
			AutoApproveTimeout: 48 * time.Hour,
		},
		Artifacts: purger,
		Sink:      sink,
	})

	require.NoError(t, db.Create(&campaign.Campaign{
		CampaignID:   "c1",
		OwnerID:      "owner",
		Code:         "CMP-c1",
		URL:          "https://example.com/c1",
		TargetVisits: 10,
		Status:       campaign.CampaignStatusActive,
	}).Error)

	return &sweepFixture{db: db, node: node, ledger: ledgerSvc, subs: subs, purger: purger}
}

func (f *sweepFixture) completedVisits(t *testing.T) int64 {
	t.Helper()
	var c campaign.Campaign
	require.NoError(t, f.db.Where("campaign_id = ?", "c1").Take(&c).Error)
	return c.CompletedVisits
}

func TestSweepExpiresStaleSubmissions(t *testing.T) {
	f := newSweepFixture(t)
	db, node, subs, ledgerSvc, purger := f.db, f.node, f.subs, f.ledger, f.purger
	ctx := context.Background()

	pending, err := subs.SubmitProof(ctx, "c1", "waiting", []string{"waiting.png"})
	require.NoError(t, err)
	rejected, err := subs.SubmitProof(ctx, "c1", "refused", []string{"refused.png"})
	require.NoError(t, err)
	require.NoError(t, subs.OwnerReject(ctx, rejected.ID, "owner", "blurry"))
	require.NoError(t, db.Model(&submission.Submission{}).Where("1 = 1").Update("submitted_at", epoch).Error)

	svc := NewService(Params{DB: db, Node: node, Submissions: subs, Locker: &lockerStub{}})
	svc.now = testutil.NewClock(epoch.Add(100 * time.Hour)).Now

	job, err := svc.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, JobSuccess, job.Status)
	require.Equal(t, SweepReport{
		AutoApprove: submission.SweepResult{Processed: 1},
		Cleanup:     submission.SweepResult{Processed: 1},
	}, report(t, job))

	got, err := subs.Get(ctx, pending.ID)
	require.NoError(t, err)
	require.Equal(t, submission.StatusApproved, got.Status)
	_, err = subs.Get(ctx, rejected.ID)
	require.ErrorIs(t, err, submission.ErrSubmissionNotFound)

	w, err := ledgerSvc.GetWallet(ctx, "waiting")
	require.NoError(t, err)
	require.Equal(t, int64(5), w.Coin)

	require.Equal(t, int64(1), f.completedVisits(t))
	require.ElementsMatch(t, []string{"waiting.png", "refused.png"}, purger.Purged())
}

// approveDown fails the auto-approve batch and delegates cleanup.
type approveDown struct {
	*submission.Service
}

func (approveDown) AutoApprove(context.Context, time.Time, int) (submission.SweepResult, error) {
	return submission.SweepResult{}, errors.New("list stale pending: connection reset")
}

func TestCleanupRunsWhenAutoApproveFails(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()

	rejected, err := f.subs.SubmitProof(ctx, "c1", "refused", []string{"refused.png"})
	require.NoError(t, err)
	require.NoError(t, f.subs.OwnerReject(ctx, rejected.ID, "owner", "blurry"))
	require.NoError(t, f.db.Model(&submission.Submission{}).Where("1 = 1").Update("submitted_at", epoch).Error)
	require.Equal(t, int64(1), f.completedVisits(t))

	svc := NewService(Params{DB: f.db, Node: f.node, Submissions: approveDown{f.subs}, Locker: &lockerStub{}})
	svc.now = testutil.NewClock(epoch.Add(100 * time.Hour)).Now

	job, err := svc.Run(ctx)
	require.ErrorContains(t, err, "connection reset")
	require.Equal(t, JobFailed, job.Status)
	require.Equal(t, submission.SweepResult{Processed: 1}, report(t, job).Cleanup)

	_, err = f.subs.Get(ctx, rejected.ID)
	require.ErrorIs(t, err, submission.ErrSubmissionNotFound)
	require.Zero(t, f.completedVisits(t))
	require.Equal(t, []string{"refused.png"}, f.purger.Purged())
}

type enqueuerStub struct {
	tasks []*asynq.Task
	err   error
}

func (e *enqueuerStub) Enqueue(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.tasks = append(e.tasks, t)
	return &asynq.TaskInfo{Type: t.Type()}, nil
}

func TestDispatch(t *testing.T) {
	enq := &enqueuerStub{}
	d := NewDispatcher(enq, nil)
	require.Equal(t, defaultInterval, d.interval)

	ok, err := d.Dispatch(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, taskname.SubmissionSweep, enq.tasks[0].Type())

	enq.err = asynq.ErrDuplicateTask
	ok, err = d.Dispatch(context.Background())
	require.NoError(t, err)
	require.False(t, ok)

	enq.err = errors.New("redis down")
	_, err = d.Dispatch(context.Background())
	require.Error(t, err)
}
