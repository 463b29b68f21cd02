package payments

import "time"

// PaymentStatus enumerates gateway payment states.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusCompleted PaymentStatus = "completed"
	StatusFailed    PaymentStatus = "failed"
	StatusCancelled PaymentStatus = "cancelled"
	StatusExpired   PaymentStatus = "expired"
	StatusRefunded  PaymentStatus = "refunded"
)

// PaymentMethod records how money arrived.
type PaymentMethod string

const (
	MethodPayHere PaymentMethod = "payhere"
	MethodDirect  PaymentMethod = "direct"
)

// Payment is one attempt to settle a fine through the payment gateway or
// at the desk. OrderID is the merchant reference shared with the gateway
// and is unique per attempt.
type Payment struct {
	ID          int64         `json:"id" db:"id"`
	OrderID     string        `json:"order_id" db:"order_id"`
	FineID      int64         `json:"fine_id" db:"fine_id"`
	UserID      int64         `json:"user_id" db:"user_id"`
	Amount      float64       `json:"amount" db:"amount"`
	Currency    string        `json:"currency" db:"currency"`
	Status      PaymentStatus `json:"status" db:"status"`
	Method      PaymentMethod `json:"method" db:"method"`
	GatewayRef  string        `json:"gateway_ref,omitempty" db:"gateway_ref"`
	StatusCode  string        `json:"status_code,omitempty" db:"status_code"`
	CompletedAt *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}
