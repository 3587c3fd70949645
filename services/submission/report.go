package submission

import (
	"context"
	"strings"

	"linkboost-controlplane/pkg/db/uow"
	"linkboost-controlplane/pkg/metrics"
	"linkboost-controlplane/services/campaign"
	"linkboost-controlplane/services/notification"

	"go.uber.org/zap"
)

// Report disputes a rejection. It is accepted up to and including
// DisputeWindow after submission and moves no balances.
func (s *Service) Report(ctx context.Context, submissionID, visitorID, message string) (err error) {
	defer func() { metrics.Default().Transition("report", err) }()

	message = strings.TrimSpace(message)
	if message == "" {
		return ErrMissingMessage
	}
	now := s.now()

	err = uow.Run(ctx, s.db, func(u *uow.UnitOfWork) error {
		tx := u.Tx()
		sub, err := s.lock(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		if sub.VisitorID != visitorID {
			return ErrUnauthorized
		}
		if sub.Status != StatusRejected {
			return ErrNotRejected
		}
		if now.Sub(sub.SubmittedAt) > DisputeWindow {
			return ErrWindowExpired
		}

		return s.guard(ctx, tx, sub, StatusRejected, map[string]any{
			"status":         StatusReported,
			"report_message": message,
			"reported_at":    now,
		})
	})
	if err != nil {
		logTransition("report", submissionID, err)
		return err
	}

	zap.L().Info("submission reported", zap.String("submission_id", submissionID), zap.String("visitor_id", visitorID))
	return nil
}

// AdminResolveReport settles a dispute. VisitorWins pays the reward and keeps
// the slot counted at rejection time. OwnerWins releases that slot.
func (s *Service) AdminResolveReport(ctx context.Context, submissionID string, decision Decision) (err error) {
	defer func() { metrics.Default().Transition("resolve_"+strings.ToLower(string(decision)), err) }()

	if decision != VisitorWins && decision != OwnerWins {
		return ErrInvalidDecision
	}

	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return err
	}

	var refs []string
	err = uow.Run(ctx, s.db, func(u *uow.UnitOfWork) error {
		tx := u.Tx()
		sub, err := s.lock(ctx, tx, submissionID)
		if err != nil {
			return err
		}

		if decision == OwnerWins {
			if err := s.guard(ctx, tx, sub, StatusReported, map[string]any{
				"status":      StatusAdminRejected,
				"resolved_at": s.now(),
			}); err != nil {
				return err
			}
			if err := campaign.ReleaseSlot(ctx, tx, sub.CampaignID); err != nil {
				return err
			}
			note := notification.New(notification.TypeInfo, "Report resolved",
				"An admin reviewed your report and upheld the owner's rejection.")
			return s.sink.Insert(ctx, tx, sub.VisitorID, note)
		}

		note := notification.New(notification.TypeSuccess, "Report resolved",
			"An admin reviewed your report in your favour. "+rewardMessage(snap))
		if refs, err = s.approve(ctx, u, sub, StatusReported, snap, false, note); err != nil {
			return err
		}
		if rewardDeltas(snap).IsZero() {
			return s.sink.Insert(ctx, tx, sub.VisitorID, note)
		}
		return nil
	})
	if err != nil {
		logTransition("resolve report", submissionID, err)
		return err
	}

	s.artifacts.Purge(ctx, refs)
	zap.L().Info("report resolved", zap.String("submission_id", submissionID), zap.String("decision", string(decision)))
	return nil
}
