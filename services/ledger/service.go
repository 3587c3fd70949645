package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"linkboost-controlplane/pkg/db/option"
	"linkboost-controlplane/pkg/db/pagination"
	"linkboost-controlplane/pkg/db/uow"
	"linkboost-controlplane/pkg/errutil"
	"linkboost-controlplane/pkg/repository"
	"linkboost-controlplane/services/notification"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInsufficientFunds  = errutil.UnprocessableEntity("insufficient funds", nil)
	ErrWalletNotFound     = errutil.NotFound("wallet not found", nil)
	ErrDuplicateReference = errutil.Conflict("ledger reference already applied", nil)
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	sink notification.Sink
	now  func() time.Time

	wallet repository.Repository[Wallet]
	ledger repository.Repository[LedgerEntry]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
	Sink notification.Sink
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		sink: p.Sink,
		now:  time.Now,

		wallet: repository.ProvideStore[Wallet](p.DB),
		ledger: repository.ProvideStore[LedgerEntry](p.DB),
	}
}

func logFields(ctx context.Context, fields ...zap.Field) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return fields
	}
	return append(fields,
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

// Apply is the only writer of wallet balances. Every non-zero delta, its
// ledger entry and the optional notification are written inside u, so either
// all of them commit or none do. Decrements never overdraw: the update is
// guarded by the current balance and fails with ErrInsufficientFunds.
// reference makes the movement idempotent per currency.
func (s *Service) Apply(ctx context.Context, u *uow.UnitOfWork, userID string, deltas Deltas, note *notification.Notification, reference string) error {
	if userID == "" {
		return errutil.ValidationFailed("ledger delta requires a user", nil)
	}
	if reference == "" {
		return errutil.ValidationFailed("ledger delta requires a reference", nil)
	}

	ordered := deltas.sortedCurrencies()
	for _, c := range ordered {
		if !c.Valid() {
			return errutil.ValidationFailed(fmt.Sprintf("unknown currency %q", c), nil)
		}
		if c.Integral() && !deltas[c].Equal(deltas[c].Truncate(0)) {
			return errutil.ValidationFailed(fmt.Sprintf("%s only moves in whole units", c), nil)
		}
	}
	if len(ordered) == 0 {
		return nil
	}

	tx := u.Tx().WithContext(ctx)
	fields := logFields(ctx, zap.String("user_id", userID), zap.String("reference_id", reference))

	hasCredit := false
	updates := map[string]any{"updated_at": s.now()}
	q := tx.Model(&Wallet{}).Where("user_id = ?", userID)
	for _, c := range ordered {
		v := deltas[c]
		col := c.column()
		if v.IsPositive() {
			hasCredit = true
			updates[col] = gorm.Expr(col+" + ?", c.bind(v))
			continue
		}
		abs := c.bind(v.Neg())
		updates[col] = gorm.Expr(col+" - ?", abs)
		q = q.Where(col+" >= ?", abs)
	}

	if hasCredit {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&Wallet{UserID: userID}).Error; err != nil {
			zap.L().Error("failed to open wallet", append(fields, zap.Error(err))...)
			return fmt.Errorf("open wallet: %w", err)
		}
	}

	res := q.Updates(updates)
	if res.Error != nil {
		zap.L().Error("failed to apply ledger delta", append(fields, zap.Error(res.Error))...)
		return fmt.Errorf("apply ledger delta: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		count, err := s.wallet.WithTrx(tx).Count(ctx, &Wallet{UserID: userID})
		if err != nil {
			return fmt.Errorf("lookup wallet: %w", err)
		}
		if count == 0 {
			return ErrWalletNotFound
		}
		return ErrInsufficientFunds
	}

	// The wallet update above holds the row lock, so appends to one chain
	// are serialised.
	head, err := s.lastEntry(ctx, tx, userID)
	if err != nil {
		return err
	}
	previous, sequence := head.Hash, head.Sequence

	description := reference
	if note != nil && note.Message != "" {
		description = note.Message
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	for _, c := range ordered {
		sequence++
		entry := &LedgerEntry{
			ID:           s.node.Generate().String(),
			UserID:       userID,
			Sequence:     sequence,
			Currency:     c,
			Amount:       deltas[c],
			ReferenceID:  reference,
			Description:  description,
			PreviousHash: previous,
			CreatedAt:    now,
		}
		entry.Hash = entry.GenerateHash()

		if err := s.ledger.WithTrx(tx).Create(ctx, entry); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				zap.L().Warn("ledger reference already applied", append(fields, zap.String("currency", string(c)))...)
				return ErrDuplicateReference
			}
			zap.L().Error("failed to append ledger entry", append(fields, zap.Error(err))...)
			return fmt.Errorf("append ledger entry: %w", err)
		}
		previous = entry.Hash
	}

	if note != nil {
		if err := s.sink.Insert(ctx, tx, userID, note); err != nil {
			return err
		}
	}

	return nil
}

// lastEntry returns the head of the user's chain, or a genesis entry with
// sequence 0 when the chain is empty.
func (s *Service) lastEntry(ctx context.Context, tx *gorm.DB, userID string) (*LedgerEntry, error) {
	var last LedgerEntry
	err := tx.Where("user_id = ?", userID).
		Order("sequence DESC").
		Take(&last).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &LedgerEntry{Hash: GenesisHash}, nil
	case err != nil:
		return nil, fmt.Errorf("read ledger head: %w", err)
	default:
		return &last, nil
	}
}

// Credit applies a single positive delta in its own unit of work.
func (s *Service) Credit(ctx context.Context, userID string, c Currency, amount decimal.Decimal, note *notification.Notification, reference string) error {
	if !amount.IsPositive() {
		return errutil.ValidationFailed("credit amount must be positive", nil)
	}
	return uow.Run(ctx, s.db, func(u *uow.UnitOfWork) error {
		return s.Apply(ctx, u, userID, Deltas{c: amount}, note, reference)
	})
}

// Debit applies a single negative delta in its own unit of work.
func (s *Service) Debit(ctx context.Context, userID string, c Currency, amount decimal.Decimal, note *notification.Notification, reference string) error {
	if !amount.IsPositive() {
		return errutil.ValidationFailed("debit amount must be positive", nil)
	}
	return uow.Run(ctx, s.db, func(u *uow.UnitOfWork) error {
		return s.Apply(ctx, u, userID, Deltas{c: amount.Neg()}, note, reference)
	})
}

// GetWallet returns the user's balances; a user that never received
// anything has an all-zero wallet.
func (s *Service) GetWallet(ctx context.Context, userID string) (*Wallet, error) {
	w, err := s.wallet.FindOne(ctx, &Wallet{UserID: userID})
	if err != nil {
		zap.L().Error("failed to query wallet", logFields(ctx, zap.String("user_id", userID), zap.Error(err))...)
		return nil, err
	}
	if w == nil {
		return &Wallet{UserID: userID}, nil
	}
	return w, nil
}

// ListEntries pages through a user's entries, newest first.
func (s *Service) ListEntries(ctx context.Context, userID string, page pagination.Pagination) ([]*LedgerEntry, *pagination.PageInfo, error) {
	limit := page.Normalize()

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "entry_id",
			OrderBy: "desc",
			Allow:   map[string]bool{"entry_id": true},
		}),
		option.WithLimit(limit + 1),
	}
	if page.Cursor != "" {
		c, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "entry_id", Operator: option.LT, Value: c.ID}))
	}

	entries, err := s.ledger.Find(ctx, &LedgerEntry{UserID: userID}, opts...)
	if err != nil {
		zap.L().Error("failed to query list entries", logFields(ctx, zap.String("user_id", userID), zap.Error(err))...)
		return nil, nil, err
	}

	info := pagination.BuildCursorPageInfo(entries, int32(limit), func(e *LedgerEntry) string {
		cursor, _ := pagination.EncodeCursor(pagination.Cursor{ID: e.ID})
		return cursor
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, info, nil
}

// VerifyChain recomputes every hash of the user's chain in append order.
func (s *Service) VerifyChain(ctx context.Context, userID string) (bool, error) {
	entries, err := s.ledger.Find(ctx, &LedgerEntry{UserID: userID}, func(db *gorm.DB) *gorm.DB {
		return db.Order("sequence ASC")
	})
	if err != nil {
		zap.L().Error("failed to query Find entries", logFields(ctx, zap.String("user_id", userID), zap.Error(err))...)
		return false, err
	}

	lastHash := GenesisHash
	for i, entry := range entries {
		if entry.Sequence != int64(i+1) || entry.PreviousHash != lastHash || entry.Hash != entry.GenerateHash() {
			zap.L().Warn("ledger chain broken", logFields(ctx, zap.String("user_id", userID), zap.String("entry_id", entry.ID))...)
			return false, nil
		}
		lastHash = entry.Hash
	}

	return true, nil
}
