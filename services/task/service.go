package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"linkboost-controlplane/pkg/config"
	"linkboost-controlplane/pkg/db/option"
	"linkboost-controlplane/pkg/metrics"
	"linkboost-controlplane/pkg/repository"
	"linkboost-controlplane/pkg/taskname"
	"linkboost-controlplane/services/submission"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultBatchSize = 100
	defaultLockTTL   = 5 * time.Minute
)

// Sweepable is the part of the submission service the sweeper drives.
type Sweepable interface {
	AutoApprove(ctx context.Context, now time.Time, limit int) (submission.SweepResult, error)
	CleanupRejected(ctx context.Context, now time.Time, limit int) (submission.SweepResult, error)
}

// Service runs the expiry sweeper. Each run holds a distributed lease so
// only one worker sweeps at a time, and leaves a Job row behind.
type Service struct {
	node        *snowflake.Node
	submissions Sweepable
	locker      Locker

	batchSize int
	lockTTL   time.Duration
	now       func() time.Time

	job repository.Repository[Job]
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Node        *snowflake.Node
	Config      *config.Config
	Submissions Sweepable
	Locker      Locker
}

func NewService(p Params) *Service {
	s := &Service{
		node:        p.Node,
		submissions: p.Submissions,
		locker:      p.Locker,
		batchSize:   defaultBatchSize,
		lockTTL:     defaultLockTTL,
		now:         func() time.Time { return time.Now().UTC() },
		job:         repository.ProvideStore[Job](p.DB),
	}
	if p.Config != nil {
		if p.Config.Sweeper.BatchSize > 0 {
			s.batchSize = p.Config.Sweeper.BatchSize
		}
		if p.Config.Sweeper.LockTTL > 0 {
			s.lockTTL = p.Config.Sweeper.LockTTL
		}
	}
	return s
}

// Run performs one sweep: auto-approval of stale PENDING submissions and
// cleanup of REJECTED submissions past the dispute window. It returns a nil
// job when another worker holds the lease.
func (s *Service) Run(ctx context.Context) (*Job, error) {
	release, ok, err := s.locker.Acquire(ctx, taskname.SubmissionSweep, s.lockTTL)
	if err != nil {
		metrics.Default().SweepRun("error")
		zap.L().Error("failed to acquire sweeper lock", zap.Error(err))
		return nil, fmt.Errorf("acquire sweeper lock: %w", err)
	}
	if !ok {
		metrics.Default().SweepRun("locked")
		zap.L().Debug("sweeper lock held elsewhere, skipping run")
		return nil, nil
	}
	defer release(context.WithoutCancel(ctx))

	now := s.now()
	job := &Job{
		ID:        s.node.Generate().String(),
		Name:      taskname.SubmissionSweep,
		Status:    JobRunning,
		StartedAt: &now,
	}
	if err := s.job.Create(ctx, job); err != nil {
		metrics.Default().SweepRun("error")
		zap.L().Error("failed to record sweeper job", zap.Error(err))
		return nil, fmt.Errorf("create job: %w", err)
	}

	// The batches run one after another on the parent context so a failing
	// auto-approval never starves the cleanup of its slot releases.
	var report SweepReport
	var approveErr, cleanupErr error
	report.AutoApprove, approveErr = s.submissions.AutoApprove(ctx, now, s.batchSize)
	if approveErr != nil {
		zap.L().Error("auto-approve batch failed", zap.String("job_id", job.ID), zap.Error(approveErr))
	}
	report.Cleanup, cleanupErr = s.submissions.CleanupRejected(ctx, now, s.batchSize)
	if cleanupErr != nil {
		zap.L().Error("cleanup batch failed", zap.String("job_id", job.ID), zap.Error(cleanupErr))
	}
	runErr := errors.Join(approveErr, cleanupErr)

	if err := s.finish(ctx, job, report, runErr); err != nil {
		return nil, err
	}

	zap.L().Info("sweeper run finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)),
		zap.Int("approved", report.AutoApprove.Processed),
		zap.Int("cleaned", report.Cleanup.Processed),
		zap.Int("failed", report.AutoApprove.Failed+report.Cleanup.Failed),
		zap.Duration("duration", s.now().Sub(now)),
	)
	return job, runErr
}

func (s *Service) finish(ctx context.Context, job *Job, report SweepReport, runErr error) error {
	meta, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode sweep report: %w", err)
	}

	completed := s.now()
	job.Status = JobSuccess
	if runErr != nil || report.AutoApprove.Failed+report.Cleanup.Failed > 0 {
		job.Status = JobFailed
	}
	if runErr != nil {
		job.ErrorMsg = runErr.Error()
	}
	job.CompletedAt = &completed
	job.Metadata = meta
	metrics.Default().SweepRun(string(job.Status))

	err = s.job.Update(context.WithoutCancel(ctx), job.ID, map[string]any{
		"status":       job.Status,
		"error_msg":    job.ErrorMsg,
		"completed_at": job.CompletedAt,
		"metadata":     job.Metadata,
	})
	if err != nil {
		zap.L().Error("failed to update sweeper job", zap.String("job_id", job.ID), zap.Error(err))
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// HandleSweepTask runs a sweep for the asynq worker. A failed sweep is not
// retried; the next tick picks up whatever was left.
func (s *Service) HandleSweepTask(ctx context.Context, _ *asynq.Task) error {
	if _, err := s.Run(ctx); err != nil {
		return errors.Join(err, asynq.SkipRetry)
	}
	return nil
}

// RecentJobs lists the latest sweeper runs, newest first.
func (s *Service) RecentJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.job.Find(ctx, &Job{Name: taskname.SubmissionSweep},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "started_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"started_at": true},
		}),
		option.WithLimit(limit),
	)
}
