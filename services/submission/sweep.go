package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"linkboost-controlplane/pkg/db/option"
	"linkboost-controlplane/pkg/db/uow"
	"linkboost-controlplane/pkg/metrics"
	"linkboost-controlplane/services/campaign"

	"go.uber.org/zap"
)

const (
	sweepAutoApprove = "auto_approve"
	sweepCleanup     = "cleanup_rejected"
)

func (s *Service) stale(ctx context.Context, status Status, before time.Time, limit int) ([]*Submission, error) {
	return s.submission.Find(ctx, &Submission{Status: status},
		option.ApplyOperator(option.Condition{Field: "submitted_at", Operator: option.LT, Value: before}),
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "submitted_at",
			OrderBy: "asc",
			Allow:   map[string]bool{"submitted_at": true},
		}),
		option.WithLimit(limit),
	)
}

func record(res *SweepResult, sweep string, err error) {
	switch {
	case err == nil:
		res.Processed++
		metrics.Default().SweepItem(sweep, "processed")
	case IsStateConflict(err):
		res.Skipped++
		metrics.Default().SweepItem(sweep, "skipped")
	default:
		res.Failed++
		metrics.Default().SweepItem(sweep, "failed")
	}
}

// AutoApprove approves up to limit submissions that stayed PENDING longer
// than the configured timeout, each in its own unit of work. A zero timeout
// disables the sweep.
func (s *Service) AutoApprove(ctx context.Context, now time.Time, limit int) (SweepResult, error) {
	var res SweepResult

	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return res, err
	}
	if snap.AutoApproveTimeout <= 0 {
		return res, nil
	}

	items, err := s.stale(ctx, StatusPending, now.Add(-snap.AutoApproveTimeout), limit)
	if err != nil {
		zap.L().Error("failed to list stale pending submissions", zap.Error(err))
		return res, fmt.Errorf("list stale pending: %w", err)
	}

	for _, item := range items {
		var refs []string
		err := uow.Run(ctx, s.db, func(u *uow.UnitOfWork) error {
			sub, err := s.lock(ctx, u.Tx(), item.ID)
			if err != nil {
				return err
			}
			refs, err = s.approve(ctx, u, sub, StatusPending, snap, true, nil)
			return err
		})
		if errors.Is(err, ErrSubmissionNotFound) {
			err = ErrNotPending
		}
		record(&res, sweepAutoApprove, err)
		if err != nil {
			logTransition("auto approve", item.ID, err)
			continue
		}
		s.artifacts.Purge(ctx, refs)
	}

	if len(items) > 0 {
		zap.L().Info("auto approval sweep finished", zap.Int("processed", res.Processed), zap.Int("skipped", res.Skipped), zap.Int("failed", res.Failed))
	}
	return res, nil
}

// CleanupRejected hard-deletes up to limit REJECTED submissions whose dispute
// window elapsed and releases their slots.
func (s *Service) CleanupRejected(ctx context.Context, now time.Time, limit int) (SweepResult, error) {
	var res SweepResult

	items, err := s.stale(ctx, StatusRejected, now.Add(-DisputeWindow), limit)
	if err != nil {
		zap.L().Error("failed to list expired rejections", zap.Error(err))
		return res, fmt.Errorf("list expired rejections: %w", err)
	}

	for _, item := range items {
		err := uow.Run(ctx, s.db, func(u *uow.UnitOfWork) error {
			tx := u.Tx().WithContext(ctx)
			del := tx.Where("submission_id = ? AND status = ?", item.ID, StatusRejected).Delete(&Submission{})
			if del.Error != nil {
				return fmt.Errorf("delete submission: %w", del.Error)
			}
			if del.RowsAffected == 0 {
				return ErrNotRejected
			}
			return campaign.ReleaseSlot(ctx, u.Tx(), item.CampaignID)
		})
		record(&res, sweepCleanup, err)
		if err != nil {
			logTransition("cleanup rejected", item.ID, err)
			continue
		}
		s.artifacts.Purge(ctx, item.Artifacts())
	}

	if len(items) > 0 {
		zap.L().Info("rejected cleanup sweep finished", zap.Int("processed", res.Processed), zap.Int("skipped", res.Skipped), zap.Int("failed", res.Failed))
	}
	return res, nil
}

var _ campaign.DependentPurger = (*Service)(nil)
