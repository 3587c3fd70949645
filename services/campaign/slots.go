package campaign

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// ReserveSlots adds n to the slot reservation counter inside tx.
func ReserveSlots(ctx context.Context, tx *gorm.DB, campaignID string, n int64) error {
	if n <= 0 {
		return nil
	}
	res := tx.WithContext(ctx).Model(&Campaign{}).
		Where("campaign_id = ?", campaignID).
		Update("completed_visits", gorm.Expr("completed_visits + ?", n))
	if res.Error != nil {
		return fmt.Errorf("reserve slots: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrCampaignNotFound
	}
	return nil
}

// ReleaseSlot gives one reserved slot back. The counter never goes below zero.
func ReleaseSlot(ctx context.Context, tx *gorm.DB, campaignID string) error {
	res := tx.WithContext(ctx).Model(&Campaign{}).
		Where("campaign_id = ? AND completed_visits > 0", campaignID).
		Update("completed_visits", gorm.Expr("completed_visits - 1"))
	if res.Error != nil {
		return fmt.Errorf("release slot: %w", res.Error)
	}
	return nil
}
