package holds

import "time"

// HoldStatus enumerates the lifecycle states of a hold request.
type HoldStatus string

const (
	// StatusPending means the user is queued and waiting.
	StatusPending HoldStatus = "pending"
	// StatusReady means a returned copy is parked for this user.
	StatusReady HoldStatus = "ready"
	// StatusFulfilled means the held copy was issued to the user.
	StatusFulfilled HoldStatus = "fulfilled"
	StatusCancelled HoldStatus = "cancelled"
	StatusExpired   HoldStatus = "expired"
)

// Active reports whether the hold still occupies a queue slot.
func (s HoldStatus) Active() bool {
	return s == StatusPending || s == StatusReady
}

// Hold is a user's place in the waiting queue of a title.
// Positions within one title's active holds are always dense: 1..N.
type Hold struct {
	ID         int64      `json:"id" db:"id"`
	BookID     int64      `json:"book_id" db:"book_id"`
	UserID     int64      `json:"user_id" db:"user_id"`
	Status     HoldStatus `json:"status" db:"status"`
	Position   int        `json:"position" db:"position"`
	ExpiresAt  time.Time  `json:"expires_at" db:"expires_at"`
	NotifiedAt *time.Time `json:"notified_at,omitempty" db:"notified_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}
