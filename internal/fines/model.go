package fines

import "time"

// FineType enumerates why a fine was raised.
type FineType string

const (
	TypeOverdue FineType = "overdue"
	TypeDamaged FineType = "damaged"
	TypeLost    FineType = "lost"
	TypeCustom  FineType = "custom"
)

// FineStatus enumerates payment states of a fine.
type FineStatus string

const (
	StatusPending FineStatus = "pending"
	StatusPartial FineStatus = "partial"
	StatusPaid    FineStatus = "paid"
	StatusWaived  FineStatus = "waived"
)

// Settled reports whether the fine no longer blocks circulation.
func (s FineStatus) Settled() bool {
	return s == StatusPaid || s == StatusWaived
}

// Fine is a monetary obligation attached to a user, usually born from a
// loan going wrong.
type Fine struct {
	ID         int64      `json:"id" db:"id"`
	UserID     int64      `json:"user_id" db:"user_id"`
	LoanID     *int64     `json:"loan_id,omitempty" db:"loan_id"`
	Type       FineType   `json:"type" db:"type"`
	Status     FineStatus `json:"status" db:"status"`
	Amount     float64    `json:"amount" db:"amount"`
	PaidAmount float64    `json:"paid_amount" db:"paid_amount"`
	Reason     string     `json:"reason" db:"reason"`
	CreatedBy  *int64     `json:"created_by,omitempty" db:"created_by"`
	WaivedBy   *int64     `json:"waived_by,omitempty" db:"waived_by"`
	SettledAt  *time.Time `json:"settled_at,omitempty" db:"settled_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// Remaining returns the outstanding balance, never negative. Overpayments
// are recorded in PaidAmount but do not produce a credit.
func (f Fine) Remaining() float64 {
	if rem := f.Amount - f.PaidAmount; rem > 0 {
		return rem
	}
	return 0
}
