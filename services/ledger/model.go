package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"linkboost-controlplane/pkg/errutil"

	"github.com/shopspring/decimal"
)

// Currency selects one balance column of a Wallet.
type Currency string

const (
	Coin          Currency = "coin"
	Diamond       Currency = "diamond"
	Balance       Currency = "balance"
	LegacyBalance Currency = "legacy_balance"
	Score         Currency = "score"
)

var currencies = map[Currency]bool{
	Coin:          true,
	Diamond:       true,
	Balance:       false,
	LegacyBalance: false,
	Score:         true,
}

// ParseCurrency resolves a raw selector once at the boundary.
func ParseCurrency(raw string) (Currency, error) {
	c := Currency(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := currencies[c]; !ok {
		return "", errutil.ValidationFailed(fmt.Sprintf("unknown currency %q", raw), nil)
	}
	return c, nil
}

func (c Currency) Valid() bool {
	_, ok := currencies[c]
	return ok
}

// Integral reports whether the column only holds whole units.
func (c Currency) Integral() bool {
	return currencies[c]
}

func (c Currency) column() string {
	return string(c)
}

// bind converts v to the driver value matching the column type.
func (c Currency) bind(v decimal.Decimal) any {
	if c.Integral() {
		return v.IntPart()
	}
	return v
}

// Deltas maps a currency to a signed relative change.
type Deltas map[Currency]decimal.Decimal

func (d Deltas) sortedCurrencies() []Currency {
	out := make([]Currency, 0, len(d))
	for c, v := range d {
		if !v.IsZero() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsZero reports whether applying d would move nothing.
func (d Deltas) IsZero() bool {
	return len(d.sortedCurrencies()) == 0
}

// Wallet is the per-user ledger account. Columns only ever move by relative
// updates issued from this package.
type Wallet struct {
	UserID        string          `gorm:"column:user_id;primaryKey;type:varchar(64)" json:"user_id"`
	Coin          int64           `gorm:"column:coin;not null;default:0" json:"coin"`
	Diamond       int64           `gorm:"column:diamond;not null;default:0" json:"diamond"`
	Balance       decimal.Decimal `gorm:"column:balance;type:decimal(20,8);not null;default:0" json:"balance"`
	LegacyBalance decimal.Decimal `gorm:"column:legacy_balance;type:decimal(20,8);not null;default:0" json:"legacy_balance"`
	Score         int64           `gorm:"column:score;not null;default:0" json:"score"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string { return "wallets" }

// Amount returns the wallet's holding of c.
func (w *Wallet) Amount(c Currency) decimal.Decimal {
	switch c {
	case Coin:
		return decimal.NewFromInt(w.Coin)
	case Diamond:
		return decimal.NewFromInt(w.Diamond)
	case Balance:
		return w.Balance
	case LegacyBalance:
		return w.LegacyBalance
	case Score:
		return decimal.NewFromInt(w.Score)
	default:
		return decimal.Zero
	}
}

const GenesisHash = "GENESIS"

// LedgerEntry is the append-only audit row of one currency movement.
// (reference_id, currency) is unique, so a reference can move each currency once.
// Sequence numbers a user's chain from 1 without gaps and defines its order.
type LedgerEntry struct {
	ID           string          `gorm:"column:entry_id;primaryKey;type:varchar(32)" json:"entry_id"`
	UserID       string          `gorm:"column:user_id;index;type:varchar(64);not null;uniqueIndex:idx_ledger_user_sequence,priority:1" json:"user_id"`
	Sequence     int64           `gorm:"column:sequence;not null;uniqueIndex:idx_ledger_user_sequence,priority:2" json:"sequence"`
	Currency     Currency        `gorm:"column:currency;type:varchar(16);not null;uniqueIndex:idx_ledger_reference_currency,priority:2" json:"currency"`
	Amount       decimal.Decimal `gorm:"column:amount;type:decimal(20,8);not null" json:"amount"`
	ReferenceID  string          `gorm:"column:reference_id;type:varchar(128);not null;uniqueIndex:idx_ledger_reference_currency,priority:1" json:"reference_id"`
	Description  string          `gorm:"column:description;type:text" json:"description"`
	PreviousHash string          `gorm:"column:previous_hash;type:varchar(64)" json:"previous_hash"`
	Hash         string          `gorm:"column:hash;type:varchar(64)" json:"hash"`
	CreatedAt    time.Time       `gorm:"column:created_at" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (m *LedgerEntry) HashFields() map[string]string {
	return map[string]string{
		"entry_id":      m.ID,
		"user_id":       m.UserID,
		"sequence":      strconv.FormatInt(m.Sequence, 10),
		"currency":      string(m.Currency),
		"amount":        m.Amount.String(),
		"reference_id":  m.ReferenceID,
		"description":   m.Description,
		"created_at":    m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash": m.PreviousHash,
	}
}

func (m *LedgerEntry) GenerateHash() string {
	fields := m.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}
