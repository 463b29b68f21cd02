package loans

import "time"

// LoanStatus enumerates the lifecycle states of a loan.
type LoanStatus string

const (
	StatusActive   LoanStatus = "active"
	StatusRenewed  LoanStatus = "renewed"
	StatusOverdue  LoanStatus = "overdue"
	StatusReturned LoanStatus = "returned"
	StatusLost     LoanStatus = "lost"
)

// Open reports whether the copy is still out with the borrower.
func (s LoanStatus) Open() bool {
	return s == StatusActive || s == StatusRenewed || s == StatusOverdue
}

// Loan records one checkout of a copy to a user.
type Loan struct {
	ID           int64      `json:"id" db:"id"`
	CopyID       int64      `json:"copy_id" db:"copy_id"`
	BookID       int64      `json:"book_id" db:"book_id"`
	UserID       int64      `json:"user_id" db:"user_id"`
	Status       LoanStatus `json:"status" db:"status"`
	IssuedAt     time.Time  `json:"issued_at" db:"issued_at"`
	DueAt        time.Time  `json:"due_at" db:"due_at"`
	ReturnedAt   *time.Time `json:"returned_at,omitempty" db:"returned_at"`
	RenewalCount int        `json:"renewal_count" db:"renewal_count"`
	MaxRenewals  int        `json:"max_renewals" db:"max_renewals"`
	FineSettled  bool       `json:"fine_settled" db:"fine_settled"`
	IssuedBy     *int64     `json:"issued_by,omitempty" db:"issued_by"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// OverdueDays returns the number of whole days the loan is past due at the
// given instant. Returning exactly on the due date counts as zero.
func (l Loan) OverdueDays(at time.Time) int {
	if !at.After(l.DueAt) {
		return 0
	}
	return int(at.Sub(l.DueAt).Hours() / 24)
}
