package setting

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	KeyRewardCoin            = "reward_coin"
	KeyRewardDiamond         = "reward_diamond"
	KeyRewardCurrency        = "reward_currency"
	KeyProofCount            = "proof_count"
	KeyVisitTimerSeconds     = "visit_timer_seconds"
	KeyAutoApproveMinutes    = "auto_approve_minutes"
	KeyDefaultCommissionRate = "default_commission_rate"
	KeyCampaignCostPerVisit  = "campaign_cost_per_visit"
)

// Setting is one operator-tunable override of a config default.
type Setting struct {
	Key       string    `gorm:"column:setting_key;primaryKey;type:varchar(64)" json:"key"`
	Value     string    `gorm:"column:value;type:varchar(255);not null" json:"value"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Setting) TableName() string { return "settings" }

// RewardBundle is paid to a visitor on every approval path.
type RewardBundle struct {
	Coin     int64           `json:"coin"`
	Diamond  int64           `json:"diamond"`
	Currency decimal.Decimal `json:"currency"`
}

// Snapshot is the configuration a single transition applies. It is read once
// per call and passed down explicitly.
type Snapshot struct {
	Reward                RewardBundle    `json:"reward"`
	ProofCount            int             `json:"proof_count"`
	VisitTimer            time.Duration   `json:"visit_timer"`
	AutoApproveTimeout    time.Duration   `json:"auto_approve_timeout"`
	DefaultCommissionRate decimal.Decimal `json:"default_commission_rate"`
	CampaignCostPerVisit  int64           `json:"campaign_cost_per_visit"`
}
