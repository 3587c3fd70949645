package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"linkboost-controlplane/pkg/db/option"
	"linkboost-controlplane/pkg/db/uow"
	"linkboost-controlplane/pkg/metrics"
	"linkboost-controlplane/pkg/repository"
	"linkboost-controlplane/services/artifact"
	"linkboost-controlplane/services/campaign"
	"linkboost-controlplane/services/ledger"
	"linkboost-controlplane/services/notification"
	"linkboost-controlplane/services/setting"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	ledger    *ledger.Service
	settings  setting.Provider
	artifacts artifact.Purger
	sink      notification.Sink
	now       func() time.Time

	submission repository.Repository[Submission]
	campaign   repository.Repository[campaign.Campaign]
}

type ServiceParams struct {
	fx.In

	DB        *gorm.DB
	Node      *snowflake.Node
	Ledger    *ledger.Service
	Settings  setting.Provider
	Artifacts artifact.Purger
	Sink      notification.Sink
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		ledger:    p.Ledger,
		settings:  p.Settings,
		artifacts: p.Artifacts,
		sink:      p.Sink,
		now:       func() time.Time { return time.Now().UTC() },

		submission: repository.ProvideStore[Submission](p.DB),
		campaign:   repository.ProvideStore[campaign.Campaign](p.DB),
	}
}

func rewardDeltas(snap setting.Snapshot) ledger.Deltas {
	return ledger.Deltas{
		ledger.Coin:    decimal.NewFromInt(snap.Reward.Coin),
		ledger.Diamond: decimal.NewFromInt(snap.Reward.Diamond),
		ledger.Balance: snap.Reward.Currency,
	}
}

func rewardReference(submissionID string) string {
	return "submission:" + submissionID + ":reward"
}

func rewardMessage(snap setting.Snapshot) string {
	return fmt.Sprintf("Reward received: %d coin, %d diamond, %s balance",
		snap.Reward.Coin, snap.Reward.Diamond, snap.Reward.Currency.String())
}

// SubmitProof records a visitor's proof as PENDING. Pending submissions count
// against the campaign quota so the slot counter can never pass the target.
func (s *Service) SubmitProof(ctx context.Context, campaignID, visitorID string, artifacts []string) (sub *Submission, err error) {
	defer func() { metrics.Default().Transition("submit", err) }()

	artifacts = cleanArtifacts(artifacts)
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 || len(artifacts) < snap.ProofCount {
		return nil, ErrNotEnoughProofs
	}

	sub = &Submission{
		ID:             s.node.Generate().String(),
		CampaignID:     campaignID,
		VisitorID:      visitorID,
		ProofArtifacts: datatypes.JSONSlice[string](artifacts),
		Status:         StatusPending,
		SubmittedAt:    s.now(),
	}

	err = uow.Run(ctx, s.db, func(u *uow.UnitOfWork) error {
		tx := u.Tx()

		c, err := s.campaign.WithTrx(tx).FindOne(ctx, &campaign.Campaign{CampaignID: campaignID}, option.WithLockingUpdate())
		if err != nil {
			return fmt.Errorf("load campaign: %w", err)
		}
		if c == nil {
			return campaign.ErrCampaignNotFound
		}
		if c.OwnerID == visitorID {
			return ErrOwnLink
		}
		if !c.IsActive() {
			return ErrCampaignInactive
		}

		existing, err := s.submission.WithTrx(tx).Count(ctx, &Submission{CampaignID: campaignID, VisitorID: visitorID})
		if err != nil {
			return fmt.Errorf("count submissions: %w", err)
		}
		if existing > 0 {
			return ErrAlreadySubmitted
		}

		pending, err := s.submission.WithTrx(tx).Count(ctx, &Submission{CampaignID: campaignID, Status: StatusPending})
		if err != nil {
			return fmt.Errorf("count pending: %w", err)
		}
		if c.RemainingSlots(pending) == 0 {
			return ErrSlotsFull
		}

		if err := s.submission.WithTrx(tx).Create(ctx, sub); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadySubmitted
			}
			return fmt.Errorf("create submission: %w", err)
		}
		return nil
	})
	if err != nil {
		zap.L().Info("proof not accepted", zap.String("campaign_id", campaignID), zap.String("visitor_id", visitorID), zap.Error(err))
		return nil, err
	}

	zap.L().Info("proof submitted", zap.String("submission_id", sub.ID), zap.String("campaign_id", campaignID), zap.String("visitor_id", visitorID))
	return sub, nil
}

// lockOwned loads a submission for update and checks that ownerID owns its campaign.
func (s *Service) lockOwned(ctx context.Context, tx *gorm.DB, submissionID, ownerID string) (*Submission, error) {
	sub, err := s.lock(ctx, tx, submissionID)
	if err != nil {
		return nil, err
	}
	c, err := s.campaign.WithTrx(tx).FindOne(ctx, &campaign.Campaign{CampaignID: sub.CampaignID})
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	if c == nil || c.OwnerID != ownerID {
		return nil, ErrUnauthorized
	}
	return sub, nil
}

func (s *Service) lock(ctx context.Context, tx *gorm.DB, submissionID string) (*Submission, error) {
	sub, err := s.submission.WithTrx(tx).FindOne(ctx, &Submission{ID: submissionID}, option.WithLockingUpdate())
	if err != nil {
		return nil, fmt.Errorf("load submission: %w", err)
	}
	if sub == nil {
		return nil, ErrSubmissionNotFound
	}
	return sub, nil
}

// guard moves sub from one status to another with a conditional update. Zero
// rows affected means another actor got there first.
func (s *Service) guard(ctx context.Context, tx *gorm.DB, sub *Submission, from Status, updates map[string]any, extra ...string) error {
	q := tx.WithContext(ctx).Model(&Submission{}).
		Where("submission_id = ? AND status = ?", sub.ID, from)
	for _, cond := range extra {
		q = q.Where(cond)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update submission: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return conflictFor(from)
	}
	return nil
}

// approve is the single reward path shared by owner, bulk, sweeper and admin
// approvals. The reward is guarded by rewarded_at so it is paid at most once.
// reserve adds the slot for submissions that never held one. note rides on
// the ledger credit, so it is dropped when the reward bundle is empty.
func (s *Service) approve(ctx context.Context, u *uow.UnitOfWork, sub *Submission, from Status, snap setting.Snapshot, reserve bool, note *notification.Notification) ([]string, error) {
	tx := u.Tx()
	now := s.now()

	err := s.guard(ctx, tx, sub, from, map[string]any{
		"status":          StatusApproved,
		"proof_artifacts": datatypes.JSONSlice[string]{},
		"resolved_at":     now,
		"rewarded_at":     now,
	}, "rewarded_at IS NULL")
	if err != nil {
		return nil, err
	}

	if reserve {
		if err := campaign.ReserveSlots(ctx, tx, sub.CampaignID, 1); err != nil {
			return nil, err
		}
	}

	if note == nil {
		note = notification.New(notification.TypeCredit, "Task approved", rewardMessage(snap))
	}
	if err := s.ledger.Apply(ctx, u, sub.VisitorID, rewardDeltas(snap), note, rewardReference(sub.ID)); err != nil {
		return nil, err
	}

	return sub.Artifacts(), nil
}

// OwnerApprove approves a pending submission on behalf of the campaign owner.
func (s *Service) OwnerApprove(ctx context.Context, submissionID, ownerID string) (err error) {
	defer func() { metrics.Default().Transition("owner_approve", err) }()

	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return err
	}

	var refs []string
	err = uow.Run(ctx, s.db, func(u *uow.UnitOfWork) error {
		sub, err := s.lockOwned(ctx, u.Tx(), submissionID, ownerID)
		if err != nil {
			return err
		}
		refs, err = s.approve(ctx, u, sub, StatusPending, snap, true, nil)
		return err
	})
	if err != nil {
		logTransition("owner approve", submissionID, err)
		return err
	}

	s.artifacts.Purge(ctx, refs)
	zap.L().Info("submission approved", zap.String("submission_id", submissionID), zap.String("owner_id", ownerID))
	return nil
}

// OwnerReject rejects a pending submission. The slot stays reserved until the
// dispute window closes or an admin upholds the rejection.
func (s *Service) OwnerReject(ctx context.Context, submissionID, ownerID, reason string) (err error) {
	defer func() { metrics.Default().Transition("owner_reject", err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrMissingReason
	}

	err = uow.Run(ctx, s.db, func(u *uow.UnitOfWork) error {
		tx := u.Tx()
		sub, err := s.lockOwned(ctx, tx, submissionID, ownerID)
		if err != nil {
			return err
		}

		if err := s.guard(ctx, tx, sub, StatusPending, map[string]any{
			"status":        StatusRejected,
			"reject_reason": reason,
			"resolved_at":   s.now(),
		}); err != nil {
			return err
		}
		if err := campaign.ReserveSlots(ctx, tx, sub.CampaignID, 1); err != nil {
			return err
		}

		note := notification.New(notification.TypeAlert, "Task rejected",
			fmt.Sprintf("Your proof was rejected: %s. You can report this within 3 days.", reason))
		return s.sink.Insert(ctx, tx, sub.VisitorID, note)
	})
	if err != nil {
		logTransition("owner reject", submissionID, err)
		return err
	}

	zap.L().Info("submission rejected", zap.String("submission_id", submissionID), zap.String("owner_id", ownerID))
	return nil
}

// ApproveAllPending approves every pending submission of a campaign and
// reserves their slots with one counter update. It returns how many moved.
func (s *Service) ApproveAllPending(ctx context.Context, campaignID, ownerID string) (approved int, err error) {
	defer func() { metrics.Default().Transition("approve_all", err) }()

	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return 0, err
	}

	var refs []string
	err = uow.Run(ctx, s.db, func(u *uow.UnitOfWork) error {
		tx := u.Tx()
		approved = 0
		refs = refs[:0]

		c, err := s.campaign.WithTrx(tx).FindOne(ctx, &campaign.Campaign{CampaignID: campaignID}, option.WithLockingUpdate())
		if err != nil {
			return fmt.Errorf("load campaign: %w", err)
		}
		if c == nil {
			return campaign.ErrCampaignNotFound
		}
		if c.OwnerID != ownerID {
			return ErrUnauthorized
		}

		pending, err := s.submission.WithTrx(tx).Find(ctx, &Submission{CampaignID: campaignID, Status: StatusPending}, option.WithLockingUpdate())
		if err != nil {
			return fmt.Errorf("list pending: %w", err)
		}

		for _, sub := range pending {
			r, err := s.approve(ctx, u, sub, StatusPending, snap, false, nil)
			if IsStateConflict(err) {
				continue
			}
			if err != nil {
				return err
			}
			refs = append(refs, r...)
			approved++
		}

		return campaign.ReserveSlots(ctx, tx, campaignID, int64(approved))
	})
	if err != nil {
		zap.L().Warn("bulk approval failed", zap.String("campaign_id", campaignID), zap.Error(err))
		return 0, err
	}

	s.artifacts.Purge(ctx, refs)
	zap.L().Info("pending submissions approved", zap.String("campaign_id", campaignID), zap.Int("count", approved))
	return approved, nil
}

// PurgeCampaign deletes every submission of a campaign inside tx and returns
// the artifacts they still referenced.
func (s *Service) PurgeCampaign(ctx context.Context, tx *gorm.DB, campaignID string) ([]string, error) {
	subs, err := s.submission.WithTrx(tx).Find(ctx, &Submission{CampaignID: campaignID})
	if err != nil {
		return nil, fmt.Errorf("list campaign submissions: %w", err)
	}

	var refs []string
	for _, sub := range subs {
		refs = append(refs, sub.Artifacts()...)
	}

	if err := tx.WithContext(ctx).Where("campaign_id = ?", campaignID).Delete(&Submission{}).Error; err != nil {
		return nil, fmt.Errorf("delete campaign submissions: %w", err)
	}
	return refs, nil
}

func (s *Service) Get(ctx context.Context, submissionID string) (*Submission, error) {
	sub, err := s.submission.FindOne(ctx, &Submission{ID: submissionID})
	if err != nil {
		zap.L().Error("failed to query submission", zap.String("submission_id", submissionID), zap.Error(err))
		return nil, err
	}
	if sub == nil {
		return nil, ErrSubmissionNotFound
	}
	return sub, nil
}

// GetForViewer returns the submission only to its visitor or to the owner of
// its campaign. Admins read through Get.
func (s *Service) GetForViewer(ctx context.Context, submissionID, viewerID string) (*Submission, error) {
	sub, err := s.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if viewerID != "" && sub.VisitorID == viewerID {
		return sub, nil
	}

	c, err := s.campaign.FindOne(ctx, &campaign.Campaign{CampaignID: sub.CampaignID})
	if err != nil {
		zap.L().Error("failed to query campaign", zap.String("campaign_id", sub.CampaignID), zap.Error(err))
		return nil, err
	}
	if c == nil || viewerID == "" || c.OwnerID != viewerID {
		return nil, ErrUnauthorized
	}
	return sub, nil
}

func (s *Service) list(ctx context.Context, query *Submission) ([]*Submission, error) {
	return s.submission.Find(ctx, query, option.WithSortBy(option.QuerySortBy{
		SortBy:  "submitted_at",
		OrderBy: "desc",
		Allow:   map[string]bool{"submitted_at": true},
	}))
}

// ListByCampaign is the owner's review queue.
func (s *Service) ListByCampaign(ctx context.Context, campaignID, ownerID string) ([]*Submission, error) {
	c, err := s.campaign.FindOne(ctx, &campaign.Campaign{CampaignID: campaignID})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, campaign.ErrCampaignNotFound
	}
	if c.OwnerID != ownerID {
		return nil, ErrUnauthorized
	}
	return s.list(ctx, &Submission{CampaignID: campaignID})
}

func (s *Service) ListByVisitor(ctx context.Context, visitorID string) ([]*Submission, error) {
	return s.list(ctx, &Submission{VisitorID: visitorID})
}

// ListReported is the admin dispute queue.
func (s *Service) ListReported(ctx context.Context) ([]*Submission, error) {
	return s.list(ctx, &Submission{Status: StatusReported})
}

func logTransition(name, submissionID string, err error) {
	if IsStateConflict(err) {
		zap.L().Info(name+" was a no-op", zap.String("submission_id", submissionID), zap.Error(err))
		return
	}
	zap.L().Warn(name+" failed", zap.String("submission_id", submissionID), zap.Error(err))
}
