package loans

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

// Repository provides PostgreSQL backed persistence for loans. It also
// serves as the loan mirror for the fine ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const loanColumns = `id, copy_id, book_id, user_id, status, issued_at, due_at, returned_at,
	renewal_count, max_renewals, fine_settled, issued_by, created_at, updated_at`

func scanLoan(row pgx.Row) (*Loan, error) {
	var l Loan
	var returnedAt pgtype.Timestamptz
	var issuedBy pgtype.Int8
	err := row.Scan(
		&l.ID, &l.CopyID, &l.BookID, &l.UserID, &l.Status, &l.IssuedAt, &l.DueAt,
		&returnedAt, &l.RenewalCount, &l.MaxRenewals, &l.FineSettled, &issuedBy, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: loan", shared.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if returnedAt.Valid {
		l.ReturnedAt = &returnedAt.Time
	}
	if issuedBy.Valid {
		l.IssuedBy = &issuedBy.Int64
	}
	return &l, nil
}

// Get returns the loan with the given id.
func (r *Repository) Get(ctx context.Context, id int64) (*Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1`
	return scanLoan(r.pool.QueryRow(ctx, query, id))
}

// ListByUser returns a user's loans, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID int64) ([]Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE user_id = $1 ORDER BY issued_at DESC`
	return r.collect(ctx, query, userID)
}

// ListOpenByUser returns the loans a user currently has out.
func (r *Repository) ListOpenByUser(ctx context.Context, userID int64) ([]Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans
		WHERE user_id = $1 AND status IN ('active', 'renewed', 'overdue')
		ORDER BY due_at ASC`
	return r.collect(ctx, query, userID)
}

// CountOpenByUser returns how many copies a user currently has out.
func (r *Repository) CountOpenByUser(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM loans WHERE user_id = $1 AND status IN ('active', 'renewed', 'overdue')`,
		userID,
	).Scan(&n)
	return n, err
}

// FindOpenByCopy returns the open loan holding a copy, if any.
func (r *Repository) FindOpenByCopy(ctx context.Context, copyID int64) (*Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans
		WHERE copy_id = $1 AND status IN ('active', 'renewed', 'overdue')
		LIMIT 1`
	l, err := scanLoan(r.pool.QueryRow(ctx, query, copyID))
	if errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("%w: no open loan for copy %d", shared.ErrNotFound, copyID)
	}
	return l, err
}

// ListPastDue returns open loans whose due date has passed.
func (r *Repository) ListPastDue(ctx context.Context, asOf time.Time) ([]Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans
		WHERE status IN ('active', 'renewed', 'overdue') AND due_at < $1
		ORDER BY due_at ASC`
	return r.collect(ctx, query, asOf)
}

// ListDueBetween returns open loans falling due inside the window. Used by
// the due-soon reminder sweep.
func (r *Repository) ListDueBetween(ctx context.Context, from, to time.Time) ([]Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans
		WHERE status IN ('active', 'renewed') AND due_at >= $1 AND due_at < $2
		ORDER BY due_at ASC`
	return r.collect(ctx, query, from, to)
}

func (r *Repository) collect(ctx context.Context, query string, args ...any) ([]Loan, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// Insert persists a new loan.
func (r *Repository) Insert(ctx context.Context, l Loan) (*Loan, error) {
	query := `
		INSERT INTO loans (copy_id, book_id, user_id, status, issued_at, due_at, renewal_count, max_renewals, fine_settled, issued_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING id, created_at, updated_at`

	var issuedBy pgtype.Int8
	if l.IssuedBy != nil {
		issuedBy = pgtype.Int8{Int64: *l.IssuedBy, Valid: true}
	}

	err := r.pool.QueryRow(ctx, query,
		l.CopyID, l.BookID, l.UserID, l.Status, l.IssuedAt, l.DueAt,
		l.RenewalCount, l.MaxRenewals, l.FineSettled, issuedBy,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Close moves an open loan to a terminal status and stamps the return time.
func (r *Repository) Close(ctx context.Context, id int64, to LoanStatus, returnedAt time.Time) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE loans SET status = $2, returned_at = $3, updated_at = NOW()
		 WHERE id = $1 AND status IN ('active', 'renewed', 'overdue')`,
		id, to, returnedAt,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: loan %d is not open", shared.ErrConflict, id)
	}
	return nil
}

// Renew extends an open loan's due date and bumps the renewal counter.
func (r *Repository) Renew(ctx context.Context, id int64, newDue time.Time) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE loans SET status = 'renewed', due_at = $2, renewal_count = renewal_count + 1, updated_at = NOW()
		 WHERE id = $1 AND status IN ('active', 'renewed')`,
		id, newDue,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: loan %d is not renewable", shared.ErrConflict, id)
	}
	return nil
}

// MarkOverdue flags an open loan as overdue.
func (r *Repository) MarkOverdue(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE loans SET status = 'overdue', updated_at = NOW()
		 WHERE id = $1 AND status IN ('active', 'renewed')`,
		id,
	)
	return err
}

// MarkFineSettled records that the fine born from this loan has been
// settled. Implements the fine ledger's loan mirror.
func (r *Repository) MarkFineSettled(ctx context.Context, loanID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE loans SET fine_settled = TRUE, updated_at = NOW() WHERE id = $1`,
		loanID,
	)
	return err
}
