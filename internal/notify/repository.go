package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openshelf/openshelf/internal/shared"
)

// Repository provides PostgreSQL backed persistence for notifications.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const notificationColumns = `id, user_id, kind, subject, body, meta, status, attempts, sent_at, created_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	var meta []byte
	var sentAt pgtype.Timestamptz
	err := row.Scan(
		&n.ID, &n.UserID, &n.Kind, &n.Subject, &n.Body, &meta,
		&n.Status, &n.Attempts, &sentAt, &n.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: notification", shared.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &n.Meta); err != nil {
			return nil, err
		}
	}
	if sentAt.Valid {
		n.SentAt = &sentAt.Time
	}
	return &n, nil
}

// Get returns the notification with the given id.
func (r *Repository) Get(ctx context.Context, id int64) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	return scanNotification(r.pool.QueryRow(ctx, query, id))
}

// ListByUser returns a user's notifications, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID int64, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// ListRetryable returns failed notifications still under the attempt cap.
func (r *Repository) ListRetryable(ctx context.Context) ([]Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
		WHERE status = 'failed' AND attempts < $1
		ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, MaxAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// Insert persists a new pending notification.
func (r *Repository) Insert(ctx context.Context, n Notification) (*Notification, error) {
	meta, err := json.Marshal(n.Meta)
	if err != nil {
		return nil, err
	}
	query := `
		INSERT INTO notifications (user_id, kind, subject, body, meta, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, NOW())
		RETURNING id, created_at`

	err = r.pool.QueryRow(ctx, query,
		n.UserID, n.Kind, n.Subject, n.Body, meta, StatusPending,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	n.Status = StatusPending
	return &n, nil
}

// MarkSent records a successful delivery.
func (r *Repository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET status = 'sent', attempts = attempts + 1, sent_at = $2 WHERE id = $1`,
		id, at,
	)
	return err
}

// MarkFailed records a failed delivery attempt.
func (r *Repository) MarkFailed(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET status = 'failed', attempts = attempts + 1 WHERE id = $1`,
		id,
	)
	return err
}
