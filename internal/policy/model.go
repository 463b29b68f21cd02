package policy

import "time"

// Status enumerates policy lifecycle states.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Policy is the set of lending and fine parameters governing circulation.
// At most one policy is active at a time.
type Policy struct {
	ID                  int64     `json:"id" db:"id"`
	Name                string    `json:"name" db:"name"`
	Description         string    `json:"description" db:"description"`
	Status              Status    `json:"status" db:"status"`
	MaxBooksPerUser     int       `json:"max_books_per_user" db:"max_books_per_user"`
	BorrowingPeriodDays int       `json:"borrowing_period_days" db:"borrowing_period_days"`
	RenewalLimit        int       `json:"renewal_limit" db:"renewal_limit"`
	GracePeriodDays     int       `json:"grace_period_days" db:"grace_period_days"`
	FinePerDayOverdue   float64   `json:"fine_per_day_overdue" db:"fine_per_day_overdue"`
	MaxFineAmount       float64   `json:"max_fine_amount" db:"max_fine_amount"`
	DamagedFinePct      float64   `json:"damaged_fine_pct" db:"damaged_fine_pct"`
	LostFinePct         float64   `json:"lost_fine_pct" db:"lost_fine_pct"`
	MaxRequestsPerUser  int       `json:"max_requests_per_user" db:"max_requests_per_user"`
	RequestExpiryDays   int       `json:"request_expiry_days" db:"request_expiry_days"`
	AllowRenewal        bool      `json:"allow_renewal" db:"allow_renewal"`
	AllowRequests       bool      `json:"allow_requests" db:"allow_requests"`
	CreatedBy           *int64    `json:"created_by,omitempty" db:"created_by"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultPolicyName identifies the lazily materialised bootstrap policy.
const DefaultPolicyName = "Default Library Policy"

// DefaultPolicy returns the bootstrap policy used when no policy has ever
// been activated. The constants mirror the documented system defaults.
func DefaultPolicy() Policy {
	return Policy{
		Name:                DefaultPolicyName,
		Description:         "Default system library policy with standard borrowing rules",
		Status:              StatusActive,
		MaxBooksPerUser:     5,
		BorrowingPeriodDays: 14,
		RenewalLimit:        2,
		GracePeriodDays:     3,
		FinePerDayOverdue:   1.0,
		MaxFineAmount:       50.0,
		DamagedFinePct:      50.0,
		LostFinePct:         100.0,
		MaxRequestsPerUser:  3,
		RequestExpiryDays:   7,
		AllowRenewal:        true,
		AllowRequests:       true,
	}
}
