package guild

import (
	"time"

	"linkboost-controlplane/services/ledger"

	"github.com/shopspring/decimal"
)

// Guild pays its leader a percentage of every package top-up its members make.
type Guild struct {
	GuildID            string          `gorm:"column:guild_id;primaryKey;type:varchar(32)" json:"guild_id"`
	Name               string          `gorm:"column:name;type:varchar(100);not null" json:"name"`
	Slug               string          `gorm:"column:slug;uniqueIndex;type:varchar(120);not null" json:"slug"`
	LeaderID           string          `gorm:"column:leader_id;index;type:varchar(64);not null" json:"leader_id"`
	CommissionRate     decimal.Decimal `gorm:"column:commission_rate;type:decimal(5,2);not null;default:0" json:"commission_rate"`
	TotalEarnings      decimal.Decimal `gorm:"column:total_earnings;type:decimal(20,8);not null;default:0" json:"total_earnings"`
	CommissionCurrency ledger.Currency `gorm:"column:commission_currency;type:varchar(16);not null;default:'diamond'" json:"commission_currency"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Guild) TableName() string { return "guilds" }

// GuildMember links a user to at most one guild.
type GuildMember struct {
	GuildID  string    `gorm:"column:guild_id;index;type:varchar(32);not null" json:"guild_id"`
	UserID   string    `gorm:"column:user_id;primaryKey;type:varchar(64)" json:"user_id"`
	JoinedAt time.Time `gorm:"column:joined_at;autoCreateTime" json:"joined_at"`
}

func (GuildMember) TableName() string { return "guild_members" }

// Commission describes one cascade. Paid is what reached the leader's wallet.
type Commission struct {
	GuildID  string          `json:"guild_id"`
	LeaderID string          `json:"leader_id"`
	Currency ledger.Currency `json:"currency"`
	Earned   decimal.Decimal `json:"earned"`
	Paid     decimal.Decimal `json:"paid"`
}
