package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/openshelf/openshelf/internal/platform/db"
	"github.com/openshelf/openshelf/internal/shared"
)

// Repository provides PostgreSQL backed persistence for policies.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const policyColumns = `id, name, description, status, max_books_per_user, borrowing_period_days,
	renewal_limit, grace_period_days, fine_per_day_overdue, max_fine_amount,
	damaged_fine_pct, lost_fine_pct, max_requests_per_user, request_expiry_days,
	allow_renewal, allow_requests, created_by, created_at, updated_at`

func scanPolicy(row pgx.Row) (*Policy, error) {
	var p Policy
	var createdBy pgtype.Int8
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Status, &p.MaxBooksPerUser, &p.BorrowingPeriodDays,
		&p.RenewalLimit, &p.GracePeriodDays, &p.FinePerDayOverdue, &p.MaxFineAmount,
		&p.DamagedFinePct, &p.LostFinePct, &p.MaxRequestsPerUser, &p.RequestExpiryDays,
		&p.AllowRenewal, &p.AllowRequests, &createdBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: policy", shared.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if createdBy.Valid {
		p.CreatedBy = &createdBy.Int64
	}
	return &p, nil
}

// FindActive returns the active policy, or ErrNotFound when none is active.
func (r *Repository) FindActive(ctx context.Context) (*Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM library_policies WHERE status = 'active' LIMIT 1`
	return scanPolicy(r.pool.QueryRow(ctx, query))
}

// FindByName returns the policy with the given name.
func (r *Repository) FindByName(ctx context.Context, name string) (*Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM library_policies WHERE name = $1 LIMIT 1`
	return scanPolicy(r.pool.QueryRow(ctx, query, name))
}

// Get returns the policy with the given id.
func (r *Repository) Get(ctx context.Context, id int64) (*Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM library_policies WHERE id = $1`
	return scanPolicy(r.pool.QueryRow(ctx, query, id))
}

// List returns all policies, newest first.
func (r *Repository) List(ctx context.Context) ([]Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM library_policies ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}

// Insert persists a new policy.
func (r *Repository) Insert(ctx context.Context, p Policy) (*Policy, error) {
	query := `
		INSERT INTO library_policies (
			name, description, status, max_books_per_user, borrowing_period_days,
			renewal_limit, grace_period_days, fine_per_day_overdue, max_fine_amount,
			damaged_fine_pct, lost_fine_pct, max_requests_per_user, request_expiry_days,
			allow_renewal, allow_requests, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), NOW())
		RETURNING id, created_at, updated_at`

	var createdBy pgtype.Int8
	if p.CreatedBy != nil {
		createdBy = pgtype.Int8{Int64: *p.CreatedBy, Valid: true}
	}

	err := r.pool.QueryRow(ctx, query,
		p.Name, p.Description, p.Status, p.MaxBooksPerUser, p.BorrowingPeriodDays,
		p.RenewalLimit, p.GracePeriodDays, p.FinePerDayOverdue, p.MaxFineAmount,
		p.DamagedFinePct, p.LostFinePct, p.MaxRequestsPerUser, p.RequestExpiryDays,
		p.AllowRenewal, p.AllowRequests, createdBy,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Update persists the mutable fields of an existing policy.
func (r *Repository) Update(ctx context.Context, p Policy) error {
	query := `
		UPDATE library_policies SET
			name = $2, description = $3, max_books_per_user = $4, borrowing_period_days = $5,
			renewal_limit = $6, grace_period_days = $7, fine_per_day_overdue = $8,
			max_fine_amount = $9, damaged_fine_pct = $10, lost_fine_pct = $11,
			max_requests_per_user = $12, request_expiry_days = $13,
			allow_renewal = $14, allow_requests = $15, updated_at = NOW()
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query,
		p.ID, p.Name, p.Description, p.MaxBooksPerUser, p.BorrowingPeriodDays,
		p.RenewalLimit, p.GracePeriodDays, p.FinePerDayOverdue, p.MaxFineAmount,
		p.DamagedFinePct, p.LostFinePct, p.MaxRequestsPerUser, p.RequestExpiryDays,
		p.AllowRenewal, p.AllowRequests,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: policy %d", shared.ErrNotFound, p.ID)
	}
	return nil
}

// Activate deactivates the prior active policy and activates the given one
// inside a single transaction so there is never a window with zero or two
// active policies.
func (r *Repository) Activate(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE library_policies SET status = 'inactive', updated_at = NOW() WHERE status = 'active'`); err != nil {
			return err
		}
		result, err := tx.Exec(ctx, `UPDATE library_policies SET status = 'active', updated_at = NOW() WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return fmt.Errorf("%w: policy %d", shared.ErrNotFound, id)
		}
		return nil
	})
}

// Delete removes a policy.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM library_policies WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: policy %d", shared.ErrNotFound, id)
	}
	return nil
}
