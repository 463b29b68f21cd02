package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Activity represents a record stored in activities.
type Activity struct {
	ActorID int64
	Action  string
	Message string
	BookID  *int64
	LoanID  *int64
	FineID  *int64
	At      time.Time
}

// ActivityLogger appends records into activities. Writes are best-effort:
// circulation operations log a failure and carry on.
type ActivityLogger struct {
	pool *pgxpool.Pool
}

// NewActivityLogger returns a new ActivityLogger.
func NewActivityLogger(pool *pgxpool.Pool) *ActivityLogger {
	return &ActivityLogger{pool: pool}
}

// Record persists the activity entry.
func (l *ActivityLogger) Record(ctx context.Context, activity Activity) error {
	if l == nil {
		return errors.New("activity logger not initialised")
	}
	if activity.Action == "" {
		return errors.New("activity requires an action")
	}
	meta, err := json.Marshal(map[string]any{
		"book_id": activity.BookID,
		"loan_id": activity.LoanID,
		"fine_id": activity.FineID,
	})
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO activities (actor_id, action, message, meta, occurred_at) VALUES ($1, $2, $3, $4, COALESCE(NULLIF($5, '0001-01-01 00:00:00'::timestamptz), NOW()))`,
		activity.ActorID, activity.Action, activity.Message, meta, activity.At)
	return err
}
