package notify

import "time"

// DeliveryStatus enumerates notification delivery states.
type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "pending"
	StatusSent    DeliveryStatus = "sent"
	StatusFailed  DeliveryStatus = "failed"
)

// MaxAttempts caps redelivery of a failed notification.
const MaxAttempts = 5

// Notification is one stored outbound message to a user.
type Notification struct {
	ID        int64          `json:"id" db:"id"`
	UserID    int64          `json:"user_id" db:"user_id"`
	Kind      string         `json:"kind" db:"kind"`
	Subject   string         `json:"subject" db:"subject"`
	Body      string         `json:"body" db:"body"`
	Meta      map[string]any `json:"meta,omitempty" db:"meta"`
	Status    DeliveryStatus `json:"status" db:"status"`
	Attempts  int            `json:"attempts" db:"attempts"`
	SentAt    *time.Time     `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}
