package notification

import "time"

type Type string

const (
	TypeCredit  Type = "credit"
	TypeDebit   Type = "debit"
	TypeAlert   Type = "alert"
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
)

// Notification is an append-only, user-addressed message. Nothing in the
// core reads it back except the listing endpoint.
type Notification struct {
	ID        string    `gorm:"column:notification_id;primaryKey;type:varchar(32)" json:"notification_id"`
	UserID    string    `gorm:"column:user_id;index;type:varchar(64);not null" json:"user_id"`
	Type      Type      `gorm:"column:type;type:varchar(16);not null" json:"type"`
	Title     string    `gorm:"column:title;type:varchar(255)" json:"title"`
	Message   string    `gorm:"column:message;type:text" json:"message"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }

func New(t Type, title, message string) *Notification {
	return &Notification{Type: t, Title: title, Message: message}
}
