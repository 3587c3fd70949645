package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"linkboost-controlplane/pkg/db/option"
	"linkboost-controlplane/pkg/db/uow"
	"linkboost-controlplane/pkg/errutil"
	"linkboost-controlplane/pkg/repository"
	"linkboost-controlplane/pkg/sequence"
	"linkboost-controlplane/services/guild"
	"linkboost-controlplane/services/ledger"
	"linkboost-controlplane/services/notification"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FallbackCurrency receives the raw confirmed amount when a paid confirmation
// cannot be tied to a package.
const FallbackCurrency = ledger.Balance

var (
	ErrPackageNotFound      = errutil.NotFound("package not found", nil)
	ErrRequestNotFound      = errutil.NotFound("top-up request not found", nil)
	ErrInvalidTransaction   = errutil.ValidationFailed("transaction id is required", nil)
	ErrInvalidPackage       = errutil.ValidationFailed("package needs a name, a positive diamond amount and a positive price", nil)
	ErrMissingReason        = errutil.ValidationFailed("a rejection reason is required", nil)
	ErrDuplicateTransaction = errutil.Conflict("transaction id already used", nil)
	ErrNotPending           = errutil.Conflict("top-up request is not pending", nil)
)

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	seq    sequence.Generator
	ledger *ledger.Service
	guild  *guild.Service
	sink   notification.Sink
	now    func() time.Time

	topup repository.Repository[TopUpRequest]
	pkg   repository.Repository[Package]
}

type ServiceParams struct {
	fx.In

	DB     *gorm.DB
	Node   *snowflake.Node
	Seq    sequence.Generator
	Ledger *ledger.Service
	Guild  *guild.Service
	Sink   notification.Sink
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		seq:    p.Seq,
		ledger: p.Ledger,
		guild:  p.Guild,
		sink:   p.Sink,
		now:    func() time.Time { return time.Now().UTC() },

		topup: repository.ProvideStore[TopUpRequest](p.DB),
		pkg:   repository.ProvideStore[Package](p.DB),
	}
}

// NormalizeTransactionID trims and upper-cases an external transaction id.
func NormalizeTransactionID(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

type TopUpInput struct {
	UserID        string
	PackageID     string
	Channel       string
	Sender        string
	TransactionID string
}

// CreateTopUpRequest records a payment the user says they made. It is credited
// once a matching confirmation arrives or an admin approves it.
func (s *Service) CreateTopUpRequest(ctx context.Context, in TopUpInput) (*TopUpRequest, error) {
	txID := NormalizeTransactionID(in.TransactionID)
	if txID == "" {
		return nil, ErrInvalidTransaction
	}

	pkg, err := s.pkg.FindOne(ctx, &Package{PackageID: in.PackageID, Active: true})
	if err != nil {
		zap.L().Error("failed to query package", zap.String("package_id", in.PackageID), zap.Error(err))
		return nil, err
	}
	if pkg == nil {
		return nil, ErrPackageNotFound
	}

	code, err := s.seq.NextTopUpCode(ctx)
	if err != nil {
		zap.L().Error("failed to generate top-up code", zap.Error(err))
		return nil, errutil.ServiceUnavailable("failed to generate top-up code", err)
	}

	req := &TopUpRequest{
		RequestID:     s.node.Generate().String(),
		Code:          code,
		UserID:        in.UserID,
		PackageID:     &pkg.PackageID,
		Channel:       strings.ToLower(strings.TrimSpace(in.Channel)),
		Sender:        strings.TrimSpace(in.Sender),
		TransactionID: txID,
		Amount:        pkg.Price,
		Status:        TopUpPending,
	}
	if err := s.topup.Create(ctx, req); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateTransaction
		}
		zap.L().Error("failed to create top-up request", zap.String("user_id", in.UserID), zap.Error(err))
		return nil, fmt.Errorf("create top-up request: %w", err)
	}

	zap.L().Info("top-up request created", zap.String("request_id", req.RequestID), zap.String("user_id", in.UserID), zap.String("transaction_id", txID))
	return req, nil
}

func (s *Service) findPackage(ctx context.Context, tx *gorm.DB, packageID *string) (*Package, error) {
	if packageID == nil || *packageID == "" {
		return nil, nil
	}
	pkg, err := s.pkg.WithTrx(tx).FindOne(ctx, &Package{PackageID: *packageID})
	if err != nil {
		return nil, fmt.Errorf("load package: %w", err)
	}
	return pkg, nil
}

// complete marks req COMPLETED and credits it inside u. A package credit
// grants its diamonds and triggers the guild commission; without a package
// amount goes to FallbackCurrency and no commission is paid.
func (s *Service) complete(ctx context.Context, u *uow.UnitOfWork, req *TopUpRequest, pkg *Package, amount decimal.Decimal, payload []byte) error {
	tx := u.Tx()

	updates := map[string]any{
		"status":       TopUpCompleted,
		"processed_at": s.now(),
		"amount":       amount,
	}
	if len(payload) > 0 && json.Valid(payload) {
		updates["gateway_payload"] = datatypes.JSON(payload)
	}
	res := tx.WithContext(ctx).Model(&TopUpRequest{}).
		Where("request_id = ? AND status = ?", req.RequestID, TopUpPending).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("complete top-up request: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotPending
	}

	reference := "topup:" + req.TransactionID

	if pkg == nil {
		zap.L().Warn("top-up credited to fallback currency",
			zap.String("request_id", req.RequestID),
			zap.String("user_id", req.UserID),
			zap.String("amount", amount.String()),
		)
		note := notification.New(notification.TypeCredit, "Top up received",
			fmt.Sprintf("%s %s credited for payment %s", amount.String(), FallbackCurrency, req.TransactionID))
		return s.ledger.Apply(ctx, u, req.UserID, ledger.Deltas{FallbackCurrency: amount}, note, reference)
	}

	note := notification.New(notification.TypeCredit, "Top up completed",
		fmt.Sprintf("%d diamond credited for %s", pkg.Diamonds, pkg.Name))
	if err := s.ledger.Apply(ctx, u, req.UserID, ledger.Deltas{ledger.Diamond: decimal.NewFromInt(pkg.Diamonds)}, note, reference); err != nil {
		return err
	}

	_, err := s.guild.ApplyCommission(ctx, u, req.UserID, pkg.Price, req.TransactionID)
	return err
}

// reject marks req REJECTED and alerts the user. No balance moves.
func (s *Service) reject(ctx context.Context, u *uow.UnitOfWork, req *TopUpRequest, reason string, payload []byte) error {
	tx := u.Tx()

	updates := map[string]any{
		"status":        TopUpRejected,
		"reject_reason": reason,
		"processed_at":  s.now(),
	}
	if len(payload) > 0 && json.Valid(payload) {
		updates["gateway_payload"] = datatypes.JSON(payload)
	}
	res := tx.WithContext(ctx).Model(&TopUpRequest{}).
		Where("request_id = ? AND status = ?", req.RequestID, TopUpPending).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("reject top-up request: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotPending
	}

	note := notification.New(notification.TypeAlert, "Top up rejected",
		fmt.Sprintf("Your top-up %s was rejected: %s", req.TransactionID, reason))
	return s.sink.Insert(ctx, tx, req.UserID, note)
}

func (s *Service) lockRequest(ctx context.Context, tx *gorm.DB, requestID string) (*TopUpRequest, error) {
	req, err := s.topup.WithTrx(tx).FindOne(ctx, &TopUpRequest{RequestID: requestID}, option.WithLockingUpdate())
	if err != nil {
		return nil, fmt.Errorf("load top-up request: %w", err)
	}
	if req == nil {
		return nil, ErrRequestNotFound
	}
	if req.Status != TopUpPending {
		return nil, ErrNotPending
	}
	return req, nil
}

// AdminApproveTopUp credits a pending request without a gateway confirmation.
func (s *Service) AdminApproveTopUp(ctx context.Context, requestID string) error {
	err := uow.Run(ctx, s.db, func(u *uow.UnitOfWork) error {
		req, err := s.lockRequest(ctx, u.Tx(), requestID)
		if err != nil {
			return err
		}
		pkg, err := s.findPackage(ctx, u.Tx(), req.PackageID)
		if err != nil {
			return err
		}
		amount := req.Amount
		if pkg != nil {
			amount = pkg.Price
		}
		return s.complete(ctx, u, req, pkg, amount, nil)
	})
	if err != nil {
		zap.L().Warn("top-up not approved", zap.String("request_id", requestID), zap.Error(err))
		return err
	}

	zap.L().Info("top-up approved by admin", zap.String("request_id", requestID))
	return nil
}

func (s *Service) AdminRejectTopUp(ctx context.Context, requestID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrMissingReason
	}

	err := uow.Run(ctx, s.db, func(u *uow.UnitOfWork) error {
		req, err := s.lockRequest(ctx, u.Tx(), requestID)
		if err != nil {
			return err
		}
		return s.reject(ctx, u, req, reason, nil)
	})
	if err != nil {
		zap.L().Warn("top-up not rejected", zap.String("request_id", requestID), zap.Error(err))
		return err
	}

	zap.L().Info("top-up rejected by admin", zap.String("request_id", requestID))
	return nil
}

func (s *Service) CreatePackage(ctx context.Context, name string, diamonds int64, price decimal.Decimal) (*Package, error) {
	name = strings.TrimSpace(name)
	if name == "" || diamonds <= 0 || !price.IsPositive() {
		return nil, ErrInvalidPackage
	}

	pkg := &Package{
		PackageID: s.node.Generate().String(),
		Name:      name,
		Diamonds:  diamonds,
		Price:     price,
		Active:    true,
	}
	if err := s.pkg.Create(ctx, pkg); err != nil {
		zap.L().Error("failed to create package", zap.String("name", name), zap.Error(err))
		return nil, fmt.Errorf("create package: %w", err)
	}
	return pkg, nil
}

func (s *Service) ListPackages(ctx context.Context) ([]*Package, error) {
	return s.pkg.Find(ctx, &Package{Active: true}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "price",
		OrderBy: "asc",
		Allow:   map[string]bool{"price": true},
	}))
}

func (s *Service) ListRequests(ctx context.Context, userID string) ([]*TopUpRequest, error) {
	return s.topup.Find(ctx, &TopUpRequest{UserID: userID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "created_at",
		OrderBy: "desc",
		Allow:   map[string]bool{"created_at": true},
	}))
}

// ListPending is the admin review queue, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]*TopUpRequest, error) {
	return s.topup.Find(ctx, &TopUpRequest{Status: TopUpPending}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "created_at",
		OrderBy: "asc",
		Allow:   map[string]bool{"created_at": true},
	}))
}
