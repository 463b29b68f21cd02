package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openshelf/openshelf/internal/shared"
)

// Repository provides PostgreSQL backed persistence for payments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const paymentColumns = `id, order_id, fine_id, user_id, amount, currency, status, method,
	gateway_ref, status_code, completed_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var completedAt pgtype.Timestamptz
	err := row.Scan(
		&p.ID, &p.OrderID, &p.FineID, &p.UserID, &p.Amount, &p.Currency, &p.Status,
		&p.Method, &p.GatewayRef, &p.StatusCode, &completedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: payment", shared.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	return &p, nil
}

// Get returns the payment with the given id.
func (r *Repository) Get(ctx context.Context, id int64) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.pool.QueryRow(ctx, query, id))
}

// GetByOrderID returns the payment carrying the given merchant reference.
func (r *Repository) GetByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1`
	return scanPayment(r.pool.QueryRow(ctx, query, orderID))
}

// ListByUser returns a user's payments, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID int64) ([]Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE user_id = $1 ORDER BY created_at DESC`
	return r.collect(ctx, query, userID)
}

// ListPendingOlderThan returns pending payments created before the cutoff.
func (r *Repository) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE status = 'pending' AND created_at < $1 ORDER BY created_at ASC`
	return r.collect(ctx, query, cutoff)
}

func (r *Repository) collect(ctx context.Context, query string, args ...any) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Insert persists a new payment attempt.
func (r *Repository) Insert(ctx context.Context, p Payment) (*Payment, error) {
	query := `
		INSERT INTO payments (order_id, fine_id, user_id, amount, currency, status, method, gateway_ref, status_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		p.OrderID, p.FineID, p.UserID, p.Amount, p.Currency, p.Status, p.Method, p.GatewayRef, p.StatusCode,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Complete moves a payment to completed only if it has not been completed
// before. The conditional update is what makes duplicate gateway callbacks
// credit the fine exactly once: the second delivery affects zero rows.
func (r *Repository) Complete(ctx context.Context, orderID, gatewayRef, statusCode string, at time.Time) (bool, error) {
	result, err := r.pool.Exec(ctx,
		`UPDATE payments SET status = 'completed', gateway_ref = $2, status_code = $3, completed_at = $4, updated_at = NOW()
		 WHERE order_id = $1 AND status != 'completed'`,
		orderID, gatewayRef, statusCode, at,
	)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// SetStatus records a non-completed gateway outcome. Completed payments
// are never downgraded by late or replayed callbacks.
func (r *Repository) SetStatus(ctx context.Context, orderID string, status PaymentStatus, statusCode string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE payments SET status = $2, status_code = $3, updated_at = NOW()
		 WHERE order_id = $1 AND status NOT IN ('completed', 'refunded')`,
		orderID, status, statusCode,
	)
	return err
}

// MarkRefunded moves a completed payment to refunded.
func (r *Repository) MarkRefunded(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE payments SET status = 'refunded', updated_at = NOW() WHERE id = $1 AND status = 'completed'`,
		id,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: payment %d is not completed", shared.ErrConflict, id)
	}
	return nil
}
