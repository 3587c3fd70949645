// Package uow provides an explicit unit of work over a gorm transaction.
//
// Callers acquire a UnitOfWork, run every read and guarded write against
// Tx(), then Commit. Rollback is always safe to defer.
package uow

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

type UnitOfWork struct {
	tx       *gorm.DB
	finished bool
}

func Begin(ctx context.Context, db *gorm.DB) (*UnitOfWork, error) {
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin unit of work: %w", tx.Error)
	}
	return &UnitOfWork{tx: tx}, nil
}

func (u *UnitOfWork) Tx() *gorm.DB {
	return u.tx
}

func (u *UnitOfWork) Commit() error {
	if u.finished {
		return fmt.Errorf("unit of work already finished")
	}
	u.finished = true
	if err := u.tx.Commit().Error; err != nil {
		return fmt.Errorf("commit unit of work: %w", err)
	}
	return nil
}

// Rollback discards the work. It is a no-op after Commit.
func (u *UnitOfWork) Rollback() {
	if u.finished {
		return
	}
	u.finished = true
	u.tx.Rollback()
}

// Run executes fn inside a fresh unit of work, committing when fn returns nil.
func Run(ctx context.Context, db *gorm.DB, fn func(u *UnitOfWork) error) error {
	u, err := Begin(ctx, db)
	if err != nil {
		return err
	}
	defer u.Rollback()

	if err := fn(u); err != nil {
		return err
	}
	return u.Commit()
}
