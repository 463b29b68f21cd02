package payments

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Signer produces and verifies PayHere request signatures. The gateway
// signs with a nested MD5: the merchant secret is hashed first, uppercased,
// concatenated into the field string and the whole thing hashed and
// uppercased again.
type Signer struct {
	MerchantID string
	Secret     string
	Currency   string
}

func md5Upper(s string) string {
	sum := md5.Sum([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// FormatAmount renders an amount the way PayHere expects it in hash input
// and form fields: two decimal places, no grouping.
func FormatAmount(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}

// CheckoutHash computes the hash field sent with a checkout form.
func (s Signer) CheckoutHash(orderID string, amount float64) string {
	return md5Upper(s.MerchantID + orderID + FormatAmount(amount) + s.Currency + md5Upper(s.Secret))
}

// Notification carries the fields PayHere posts to the notify endpoint.
// Amount, currency and status code are kept as the raw strings from the
// form body because the signature covers them verbatim.
type Notification struct {
	MerchantID string
	OrderID    string
	PaymentID  string
	Amount     string
	Currency   string
	StatusCode string
	Signature  string
}

// VerifyNotification recomputes the server callback signature and compares
// it case-insensitively against the one received.
func (s Signer) VerifyNotification(n Notification) bool {
	local := md5Upper(s.MerchantID + n.OrderID + n.Amount + n.Currency + n.StatusCode + md5Upper(s.Secret))
	return strings.EqualFold(local, n.Signature)
}

// PayHere status codes posted to the notify endpoint.
const (
	StatusCodeSuccess = "2"
	StatusCodePending = "0"
)

// NewOrderID mints a merchant order reference: a fixed prefix, the current
// epoch milliseconds and a short random suffix.
func NewOrderID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("LIB%d%s", now.UnixMilli(), suffix)
}
