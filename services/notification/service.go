package notification

import (
	"context"
	"fmt"

	"linkboost-controlplane/pkg/db/option"
	"linkboost-controlplane/pkg/db/pagination"
	"linkboost-controlplane/pkg/errutil"
	"linkboost-controlplane/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Sink is the append-only insert every component writes through.
type Sink interface {
	Insert(ctx context.Context, tx *gorm.DB, userID string, n *Notification) error
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	notification repository.Repository[Notification]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		notification: repository.ProvideStore[Notification](p.DB),
	}
}

// Insert appends n for userID. A nil tx writes outside of any unit of work.
func (s *Service) Insert(ctx context.Context, tx *gorm.DB, userID string, n *Notification) error {
	if n == nil {
		return nil
	}
	if userID == "" {
		return errutil.ValidationFailed("notification requires a user", nil)
	}

	row := *n
	row.ID = s.node.Generate().String()
	row.UserID = userID

	if err := s.notification.WithTrx(tx).Create(ctx, &row); err != nil {
		zap.L().Error("failed to insert notification", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// List returns the newest notifications of a user, paged by cursor.
func (s *Service) List(ctx context.Context, userID string, page pagination.Pagination) ([]*Notification, *pagination.PageInfo, error) {
	limit := page.Normalize()

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "notification_id",
			OrderBy: "desc",
			Allow:   map[string]bool{"notification_id": true},
		}),
		option.WithLimit(limit + 1),
	}
	if page.Cursor != "" {
		c, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "notification_id", Operator: option.LT, Value: c.ID}))
	}

	rows, err := s.notification.Find(ctx, &Notification{UserID: userID}, opts...)
	if err != nil {
		zap.L().Error("failed to list notifications", zap.String("user_id", userID), zap.Error(err))
		return nil, nil, err
	}

	info := pagination.BuildCursorPageInfo(rows, int32(limit), func(n *Notification) string {
		cursor, _ := pagination.EncodeCursor(pagination.Cursor{ID: n.ID})
		return cursor
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, info, nil
}
