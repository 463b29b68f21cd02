package shared

import (
	"context"
	"time"
)

// EventKind enumerates the circulation happenings worth telling users about.
type EventKind string

const (
	EventLoanIssued    EventKind = "loan.issued"
	EventLoanReturned  EventKind = "loan.returned"
	EventLoanRenewed   EventKind = "loan.renewed"
	EventLoanOverdue   EventKind = "loan.overdue"
	EventLoanDueSoon   EventKind = "loan.due_soon"
	EventHoldReady     EventKind = "hold.ready"
	EventHoldExpired   EventKind = "hold.expired"
	EventFineCreated   EventKind = "fine.created"
	EventFineReminder  EventKind = "fine.reminder"
	EventPaymentResult EventKind = "payment.result"
)

// EventSink receives events after the producing operation has committed.
type EventSink interface {
	Dispatch(ctx context.Context, events ...Event)
}

// Event is an outbound notification produced by a circulation operation.
// Services collect events during the unit of work and hand them to the
// dispatcher only after the work has committed, so a rolled back operation
// never notifies anyone.
type Event struct {
	Kind       EventKind      `json:"kind"`
	UserID     int64          `json:"user_id"`
	Subject    string         `json:"subject"`
	Body       string         `json:"body"`
	Meta       map[string]any `json:"meta,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
