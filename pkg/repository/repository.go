package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"linkboost-controlplane/pkg/db/option"

	"gorm.io/gorm"
)

// Repository is the generic gorm-backed store every service embeds.
// FindOne returns (nil, nil) when nothing matches.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	Update(ctx context.Context, resourceID string, resource any) error
	BatchCreate(ctx context.Context, resources []*T) error
	BatchUpdate(ctx context.Context, resources []*T) error
	Count(ctx context.Context, query *T) (int64, error)
}

type store[T any] struct {
	db *gorm.DB

	pkOnce *sync.Once
	pk     *string
}

func ProvideStore[T any](db *gorm.DB) Repository[T] {
	var pk string
	return &store[T]{db: db, pkOnce: &sync.Once{}, pk: &pk}
}

func (s *store[T]) WithTrx(tx *gorm.DB) Repository[T] {
	if tx == nil {
		return s
	}
	return &store[T]{db: tx, pkOnce: s.pkOnce, pk: s.pk}
}

func (s *store[T]) apply(ctx context.Context, opts []option.QueryOption) *gorm.DB {
	q := s.db.WithContext(ctx).Model(new(T))
	for _, opt := range opts {
		q = opt(q)
	}
	return q
}

func (s *store[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	var out []*T
	q := s.apply(ctx, opts)
	if query != nil {
		q = q.Where(query)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *store[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	var out T
	q := s.apply(ctx, opts)
	if query != nil {
		q = q.Where(query)
	}
	if err := q.Take(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func (s *store[T]) Create(ctx context.Context, resource *T) error {
	return s.db.WithContext(ctx).Create(resource).Error
}

func (s *store[T]) primaryKey() (string, error) {
	var err error
	s.pkOnce.Do(func() {
		stmt := &gorm.Statement{DB: s.db}
		if err = stmt.Parse(new(T)); err != nil {
			return
		}
		if stmt.Schema.PrioritizedPrimaryField == nil {
			err = fmt.Errorf("model %s has no primary key", stmt.Schema.Name)
			return
		}
		*s.pk = stmt.Schema.PrioritizedPrimaryField.DBName
	})
	if err != nil {
		return "", err
	}
	if *s.pk == "" {
		return "", fmt.Errorf("primary key not resolved")
	}
	return *s.pk, nil
}

// Update applies a partial update to the row identified by its primary key.
// resource may be a struct pointer or a (pointer to a) map of columns.
func (s *store[T]) Update(ctx context.Context, resourceID string, resource any) error {
	pk, err := s.primaryKey()
	if err != nil {
		return err
	}

	if m, ok := resource.(*map[string]any); ok {
		resource = *m
	}

	res := s.db.WithContext(ctx).Model(new(T)).
		Where(fmt.Sprintf("%s = ?", pk), resourceID).
		Updates(resource)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *store[T]) BatchCreate(ctx context.Context, resources []*T) error {
	if len(resources) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(resources, 100).Error
}

func (s *store[T]) BatchUpdate(ctx context.Context, resources []*T) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range resources {
			if err := tx.Save(r).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *store[T]) Count(ctx context.Context, query *T) (int64, error) {
	var n int64
	q := s.db.WithContext(ctx).Model(new(T))
	if query != nil {
		q = q.Where(query)
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
