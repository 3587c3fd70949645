package payment

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Package is a purchasable diamond bundle.
type Package struct {
	PackageID string          `gorm:"column:package_id;primaryKey;type:varchar(32)" json:"package_id"`
	Name      string          `gorm:"column:name;type:varchar(100);not null" json:"name"`
	Diamonds  int64           `gorm:"column:diamonds;not null" json:"diamonds"`
	Price     decimal.Decimal `gorm:"column:price;type:decimal(20,2);not null" json:"price"`
	Active    bool            `gorm:"column:active;not null;default:true" json:"active"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Package) TableName() string { return "packages" }

type TopUpStatus string

const (
	TopUpPending   TopUpStatus = "PENDING"
	TopUpCompleted TopUpStatus = "COMPLETED"
	TopUpRejected  TopUpStatus = "REJECTED"
)

// TopUpRequest is a declared payment. TransactionID is the normalised
// external id and the idempotency key of every credit.
type TopUpRequest struct {
	RequestID      string          `gorm:"column:request_id;primaryKey;type:varchar(32)" json:"request_id"`
	Code           string          `gorm:"column:code;type:varchar(32);index" json:"code"`
	UserID         string          `gorm:"column:user_id;index;type:varchar(64);not null" json:"user_id"`
	PackageID      *string         `gorm:"column:package_id;type:varchar(32)" json:"package_id,omitempty"`
	Channel        string          `gorm:"column:channel;type:varchar(32)" json:"channel"`
	Sender         string          `gorm:"column:sender;type:varchar(64)" json:"sender"`
	TransactionID  string          `gorm:"column:transaction_id;uniqueIndex;type:varchar(128);not null" json:"transaction_id"`
	Amount         decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null;default:0" json:"amount"`
	Status         TopUpStatus     `gorm:"column:status;type:varchar(16);index;not null;default:'PENDING'" json:"status"`
	RejectReason   string          `gorm:"column:reject_reason;type:text" json:"reject_reason,omitempty"`
	GatewayPayload datatypes.JSON  `gorm:"column:gateway_payload" json:"-"`
	ProcessedAt    *time.Time      `gorm:"column:processed_at" json:"processed_at,omitempty"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (TopUpRequest) TableName() string { return "topup_requests" }

type Outcome string

const (
	Credited Outcome = "credited"
	Ignored  Outcome = "ignored"
	Rejected Outcome = "rejected"
)

// Result is the terminal answer to one confirmation.
type Result struct {
	Outcome   Outcome `json:"result"`
	Reason    string  `json:"reason,omitempty"`
	RequestID string  `json:"request_id,omitempty"`
}

const (
	ReasonAlreadyProcessed = "already processed"
	ReasonNoMatch          = "no matching request"
	ReasonAmountMismatch   = "amount mismatch"
	ReasonSenderMismatch   = "sender mismatch"
	ReasonPaymentFailed    = "payment failed"
	ReasonNotFinal         = "status not final"
	ReasonUnparseable      = "no transaction id"
)

func Ignore(reason string) Result { return Result{Outcome: Ignored, Reason: reason} }

// Confirmation is one inbound payment notice, whatever channel it came from.
type Confirmation struct {
	Source        string
	TransactionID string
	OrderID       string
	Payer         string
	Amount        decimal.Decimal
	Currency      string
	Failed        bool
	Payload       []byte
}
