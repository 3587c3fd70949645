package campaign

import (
	"time"
)

type CampaignStatus string

const (
	CampaignStatusActive  CampaignStatus = "ACTIVE"
	CampaignStatusBlocked CampaignStatus = "BLOCKED"
)

func (s CampaignStatus) Valid() bool {
	return s == CampaignStatusActive || s == CampaignStatusBlocked
}

// Campaign is a promoted link with a visit quota. CompletedVisits counts
// reserved slots: approvals and rejections still inside their dispute window.
type Campaign struct {
	CampaignID      string         `gorm:"column:campaign_id;primaryKey;type:varchar(32)" json:"campaign_id"`
	OwnerID         string         `gorm:"column:owner_id;index;type:varchar(64);not null" json:"owner_id"`
	Code            string         `gorm:"column:code;uniqueIndex;type:varchar(32)" json:"code"`
	URL             string         `gorm:"column:url;type:text;not null" json:"url"`
	TargetVisits    int64          `gorm:"column:target_visits;not null" json:"target_visits"`
	CompletedVisits int64          `gorm:"column:completed_visits;not null;default:0" json:"completed_visits"`
	Status          CampaignStatus `gorm:"column:status;type:varchar(16);not null;default:'ACTIVE'" json:"status"`
	CreatedAt       time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Campaign) TableName() string { return "campaigns" }

func (c *Campaign) IsActive() bool {
	return c.Status == CampaignStatusActive
}

// RemainingSlots is the quota left once pending submissions are counted.
func (c *Campaign) RemainingSlots(pending int64) int64 {
	left := c.TargetVisits - c.CompletedVisits - pending
	if left < 0 {
		return 0
	}
	return left
}
