package fines

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openshelf/openshelf/internal/shared"
)

// Repository provides PostgreSQL backed persistence for fines.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const fineColumns = `id, user_id, loan_id, type, status, amount, paid_amount, reason, created_by, waived_by, settled_at, created_at, updated_at`

func scanFine(row pgx.Row) (*Fine, error) {
	var f Fine
	var loanID, createdBy, waivedBy pgtype.Int8
	var settledAt pgtype.Timestamptz
	err := row.Scan(
		&f.ID, &f.UserID, &loanID, &f.Type, &f.Status, &f.Amount, &f.PaidAmount,
		&f.Reason, &createdBy, &waivedBy, &settledAt, &f.CreatedAt, &f.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: fine", shared.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if loanID.Valid {
		f.LoanID = &loanID.Int64
	}
	if createdBy.Valid {
		f.CreatedBy = &createdBy.Int64
	}
	if waivedBy.Valid {
		f.WaivedBy = &waivedBy.Int64
	}
	if settledAt.Valid {
		f.SettledAt = &settledAt.Time
	}
	return &f, nil
}

// Get returns the fine with the given id.
func (r *Repository) Get(ctx context.Context, id int64) (*Fine, error) {
	query := `SELECT ` + fineColumns + ` FROM fines WHERE id = $1`
	return scanFine(r.pool.QueryRow(ctx, query, id))
}

// ListByUser returns all fines of a user, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID int64) ([]Fine, error) {
	query := `SELECT ` + fineColumns + ` FROM fines WHERE user_id = $1 ORDER BY created_at DESC`
	return r.collect(ctx, query, userID)
}

// ListUnpaid returns every fine still carrying a balance, oldest first.
func (r *Repository) ListUnpaid(ctx context.Context) ([]Fine, error) {
	query := `SELECT ` + fineColumns + ` FROM fines WHERE status IN ('pending', 'partial') ORDER BY created_at ASC`
	return r.collect(ctx, query)
}

// FindOpenByLoanAndType returns the unsettled fine of a given type attached
// to a loan. Used to keep accruing fines idempotent per loan.
func (r *Repository) FindOpenByLoanAndType(ctx context.Context, loanID int64, t FineType) (*Fine, error) {
	query := `SELECT ` + fineColumns + ` FROM fines
		WHERE loan_id = $1 AND type = $2 AND status IN ('pending', 'partial')
		LIMIT 1`
	return scanFine(r.pool.QueryRow(ctx, query, loanID, t))
}

// CountUnpaidByUser returns how many fines still block the user.
func (r *Repository) CountUnpaidByUser(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM fines WHERE user_id = $1 AND status IN ('pending', 'partial')`,
		userID,
	).Scan(&n)
	return n, err
}

func (r *Repository) collect(ctx context.Context, query string, args ...any) ([]Fine, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Fine
	for rows.Next() {
		f, err := scanFine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// Insert persists a new fine.
func (r *Repository) Insert(ctx context.Context, f Fine) (*Fine, error) {
	query := `
		INSERT INTO fines (user_id, loan_id, type, status, amount, paid_amount, reason, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id, created_at, updated_at`

	var loanID, createdBy pgtype.Int8
	if f.LoanID != nil {
		loanID = pgtype.Int8{Int64: *f.LoanID, Valid: true}
	}
	if f.CreatedBy != nil {
		createdBy = pgtype.Int8{Int64: *f.CreatedBy, Valid: true}
	}

	err := r.pool.QueryRow(ctx, query,
		f.UserID, loanID, f.Type, f.Status, f.Amount, f.PaidAmount, f.Reason, createdBy,
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// UpdateAmount adjusts the amount of an accruing fine.
func (r *Repository) UpdateAmount(ctx context.Context, id int64, amount float64) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE fines SET amount = $2, updated_at = NOW() WHERE id = $1 AND status IN ('pending', 'partial')`,
		id, amount,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: fine %d is settled", shared.ErrConflict, id)
	}
	return nil
}

// ApplyPayment records a payment against an unsettled fine and moves the
// status accordingly, all in one statement so concurrent payments cannot
// lose credits.
func (r *Repository) ApplyPayment(ctx context.Context, id int64, amount float64) (*Fine, error) {
	query := `
		UPDATE fines SET
			paid_amount = paid_amount + $2,
			status = CASE WHEN paid_amount + $2 >= amount THEN 'paid' ELSE 'partial' END,
			settled_at = CASE WHEN paid_amount + $2 >= amount THEN NOW() ELSE settled_at END,
			updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'partial')
		RETURNING ` + fineColumns

	f, err := scanFine(r.pool.QueryRow(ctx, query, id, amount))
	if errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("%w: fine %d is already settled", shared.ErrBusiness, id)
	}
	return f, err
}

// RevertPayment backs a previously credited amount out of a fine, used
// when an online payment is refunded. The status is recomputed from the
// resulting balance.
func (r *Repository) RevertPayment(ctx context.Context, id int64, amount float64) (*Fine, error) {
	query := `
		UPDATE fines SET
			paid_amount = GREATEST(paid_amount - $2, 0),
			status = CASE
				WHEN GREATEST(paid_amount - $2, 0) >= amount THEN 'paid'
				WHEN GREATEST(paid_amount - $2, 0) > 0 THEN 'partial'
				ELSE 'pending'
			END,
			settled_at = CASE WHEN GREATEST(paid_amount - $2, 0) >= amount THEN settled_at ELSE NULL END,
			updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'partial', 'paid')
		RETURNING ` + fineColumns

	f, err := scanFine(r.pool.QueryRow(ctx, query, id, amount))
	if errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("%w: fine %d cannot be reverted", shared.ErrConflict, id)
	}
	return f, err
}

// Waive forgives an unsettled fine, recording who forgave it and why.
func (r *Repository) Waive(ctx context.Context, id, actorID int64, reason string) (*Fine, error) {
	query := `
		UPDATE fines SET
			status = 'waived',
			waived_by = $2,
			reason = reason || ' - WAIVED: ' || $3,
			settled_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'partial')
		RETURNING ` + fineColumns

	f, err := scanFine(r.pool.QueryRow(ctx, query, id, actorID, reason))
	if errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("%w: fine %d is already settled", shared.ErrBusiness, id)
	}
	return f, err
}
