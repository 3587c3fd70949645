package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	SignatureHeader = "X-Signature"
	SMSTokenHeader  = "X-Gateway-Token"

	SourceWebhook = "webhook"
	SourceSMS     = "sms"
)

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature header against body. An empty
// secret never verifies.
func VerifySignature(secret, body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if len(secret) == 0 || signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// VerifyToken compares the SMS gateway's shared token in constant time.
func VerifyToken(expected, got string) bool {
	if expected == "" || got == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(got)))
}

type WebhookPayload struct {
	TransactionID string          `json:"transaction_id"`
	OrderID       string          `json:"order_id"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Payer         string          `json:"payer"`
}

var (
	paidStatuses   = map[string]bool{"paid": true, "success": true, "successful": true, "completed": true, "confirmed": true}
	failedStatuses = map[string]bool{"failed": true, "declined": true, "cancelled": true, "canceled": true, "expired": true}
)

// Confirmation maps the payload onto a Confirmation. ok is false for
// statuses that are neither final success nor final failure.
func (p WebhookPayload) Confirmation(raw []byte) (c Confirmation, ok bool) {
	status := strings.ToLower(strings.TrimSpace(p.Status))
	if !paidStatuses[status] && !failedStatuses[status] {
		return Confirmation{}, false
	}
	return Confirmation{
		Source:        SourceWebhook,
		TransactionID: p.TransactionID,
		OrderID:       p.OrderID,
		Payer:         p.Payer,
		Amount:        p.Amount,
		Currency:      strings.ToUpper(strings.TrimSpace(p.Currency)),
		Failed:        failedStatuses[status],
		Payload:       raw,
	}, true
}

type SMSPayload struct {
	Sender        string          `json:"sender"`
	Message       string          `json:"message"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	TransactionID string          `json:"transaction_id"`
}

// smsPatterns are tried in order; the first match wins. The wallet
// providers differ only in the casing of their labels.
var smsPatterns = []struct {
	channel string
	re      *regexp.Regexp
}{
	{"bkash", regexp.MustCompile(`\bTrxID\s+([A-Za-z0-9]+)`)},
	{"nagad", regexp.MustCompile(`\bTxnID:\s*([A-Za-z0-9]+)`)},
	{"rocket", regexp.MustCompile(`\bTxnId:\s*([A-Za-z0-9]+)`)},
	// The label must be followed by a separator so words like "refunded" never match.
	{"generic", regexp.MustCompile(`(?i)\bref(?:erence)?\.?(?:\s*(?:no|id)\.?)?(?:\s*[:#]\s*|\s+)([A-Za-z0-9]{4,})`)},
}

// ExtractTransactionID finds the wallet transaction id in a free-text SMS.
func ExtractTransactionID(message string) (channel, id string, ok bool) {
	for _, p := range smsPatterns {
		if m := p.re.FindStringSubmatch(message); len(m) == 2 {
			return p.channel, m[1], true
		}
	}
	return "", "", false
}

// Confirmation maps the payload onto a Confirmation. ok is false when no
// transaction id was given or found in the message.
func (p SMSPayload) Confirmation(raw []byte) (c Confirmation, ok bool) {
	txID := strings.TrimSpace(p.TransactionID)
	if txID == "" {
		if _, txID, ok = ExtractTransactionID(p.Message); !ok {
			return Confirmation{}, false
		}
	}
	return Confirmation{
		Source:        SourceSMS,
		TransactionID: txID,
		Payer:         strings.TrimSpace(p.Sender),
		Amount:        p.Amount,
		Currency:      strings.ToUpper(strings.TrimSpace(p.Currency)),
		Payload:       raw,
	}, true
}
