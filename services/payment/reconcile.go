package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"linkboost-controlplane/pkg/db/option"
	"linkboost-controlplane/pkg/db/uow"
	"linkboost-controlplane/pkg/metrics"
	"linkboost-controlplane/services/ledger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const orderPrefix = "TOPUP-"

// ParseOrderID splits an unsolicited order id of the form
// TOPUP-<userID>-<packageID>.
func ParseOrderID(raw string) (userID, packageID string, ok bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) <= len(orderPrefix) || !strings.EqualFold(raw[:len(orderPrefix)], orderPrefix) {
		return "", "", false
	}
	rest := raw[len(orderPrefix):]
	i := strings.LastIndex(rest, "-")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// Reconcile matches one inbound confirmation to a top-up request and credits
// it at most once. Redelivery, races on the transaction id and unmatched
// confirmations all end in Ignored. Only storage failures return an error so
// the gateway retries.
func (s *Service) Reconcile(ctx context.Context, c Confirmation) (res Result, err error) {
	source := c.Source
	if source == "" {
		source = "unknown"
	}
	defer func() {
		outcome := string(res.Outcome)
		if err != nil {
			outcome = "error"
		}
		metrics.Default().Reconcile(source, outcome)
	}()

	c.TransactionID = NormalizeTransactionID(c.TransactionID)
	if c.TransactionID == "" {
		return Result{}, ErrInvalidTransaction
	}
	fields := []zap.Field{zap.String("source", source), zap.String("transaction_id", c.TransactionID)}

	err = uow.Run(ctx, s.db, func(u *uow.UnitOfWork) error {
		req, err := s.topup.WithTrx(u.Tx()).FindOne(ctx, &TopUpRequest{TransactionID: c.TransactionID}, option.WithLockingUpdate())
		if err != nil {
			return fmt.Errorf("load top-up request: %w", err)
		}
		if req != nil {
			res, err = s.settle(ctx, u, req, c)
			return err
		}

		userID, packageID, ok := ParseOrderID(c.OrderID)
		if !ok {
			res = Ignore(ReasonNoMatch)
			return nil
		}
		res, err = s.unsolicited(ctx, u, userID, packageID, c)
		return err
	})
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, ledger.ErrDuplicateReference), errors.Is(err, ErrNotPending):
		zap.L().Info("confirmation already processed", fields...)
		return Ignore(ReasonAlreadyProcessed), nil
	case err != nil:
		zap.L().Error("failed to reconcile payment", append(fields, zap.Error(err))...)
		return Result{}, err
	}

	zap.L().Info("payment reconciled", append(fields,
		zap.String("outcome", string(res.Outcome)),
		zap.String("reason", res.Reason),
		zap.String("request_id", res.RequestID),
	)...)
	return res, nil
}

func (s *Service) settle(ctx context.Context, u *uow.UnitOfWork, req *TopUpRequest, c Confirmation) (Result, error) {
	if req.Status != TopUpPending {
		return Ignore(ReasonAlreadyProcessed), nil
	}

	if c.Failed {
		if err := s.reject(ctx, u, req, ReasonPaymentFailed, c.Payload); err != nil {
			return Result{}, err
		}
		return Result{Outcome: Rejected, Reason: ReasonPaymentFailed, RequestID: req.RequestID}, nil
	}

	if !senderMatches(req.Sender, c.Payer) {
		return Ignore(ReasonSenderMismatch), nil
	}

	pkg, err := s.findPackage(ctx, u.Tx(), req.PackageID)
	if err != nil {
		return Result{}, err
	}
	if !amountCovers(pkg, c) {
		return Ignore(ReasonAmountMismatch), nil
	}

	if err := s.complete(ctx, u, req, pkg, c.Amount, c.Payload); err != nil {
		return Result{}, err
	}
	return Result{Outcome: Credited, RequestID: req.RequestID}, nil
}

// unsolicited credits a confirmation that arrived before any request was
// declared. The request row is created here so the transaction id stays
// unique across both paths.
func (s *Service) unsolicited(ctx context.Context, u *uow.UnitOfWork, userID, packageID string, c Confirmation) (Result, error) {
	if c.Failed {
		return Ignore(ReasonNoMatch), nil
	}

	pkg, err := s.findPackage(ctx, u.Tx(), &packageID)
	if err != nil {
		return Result{}, err
	}
	if !amountCovers(pkg, c) {
		return Ignore(ReasonAmountMismatch), nil
	}

	code, err := s.seq.NextTopUpCode(ctx)
	if err != nil {
		zap.L().Warn("top-up code unavailable for unsolicited payment", zap.String("transaction_id", c.TransactionID), zap.Error(err))
	}

	req := &TopUpRequest{
		RequestID:     s.node.Generate().String(),
		Code:          code,
		UserID:        userID,
		Channel:       c.Source,
		Sender:        c.Payer,
		TransactionID: c.TransactionID,
		Amount:        c.Amount,
		Status:        TopUpPending,
	}
	if pkg != nil {
		req.PackageID = &pkg.PackageID
	}
	if err := s.topup.WithTrx(u.Tx()).Create(ctx, req); err != nil {
		return Result{}, err
	}

	if err := s.complete(ctx, u, req, pkg, c.Amount, c.Payload); err != nil {
		return Result{}, err
	}
	return Result{Outcome: Credited, RequestID: req.RequestID}, nil
}

// amountCovers reports whether c pays for pkg. Without a package any positive
// amount is creditable to the fallback currency.
func amountCovers(pkg *Package, c Confirmation) bool {
	if pkg == nil {
		return c.Amount.IsPositive()
	}
	return !c.Amount.LessThan(pkg.Price)
}

// senderMatches compares a declared sender with the payer of a confirmation.
// Phone numbers match on their digits, ignoring a country prefix.
func senderMatches(declared, payer string) bool {
	declared, payer = strings.TrimSpace(declared), strings.TrimSpace(payer)
	if declared == "" || payer == "" {
		return true
	}

	a, b := digits(declared), digits(payer)
	if len(a) >= 6 && len(b) >= 6 {
		return strings.HasSuffix(a, b) || strings.HasSuffix(b, a)
	}
	return strings.EqualFold(declared, payer)
}

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
