package copies

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openshelf/openshelf/internal/shared"
)

// Repository provides PostgreSQL backed persistence for copies.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const copyColumns = `id, book_id, barcode, status, location, condition, is_reference_only, acquired_at, created_at, updated_at`

// lendableClause filters out copies that never circulate regardless of status.
const lendableClause = `is_reference_only = FALSE AND LOWER(condition) <> 'damaged'`

func scanCopy(row pgx.Row) (*Copy, error) {
	var c Copy
	err := row.Scan(
		&c.ID, &c.BookID, &c.Barcode, &c.Status, &c.Location, &c.Condition,
		&c.IsReferenceOnly, &c.AcquiredAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: copy", shared.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Get returns the copy with the given id.
func (r *Repository) Get(ctx context.Context, id int64) (*Copy, error) {
	query := `SELECT ` + copyColumns + ` FROM book_copies WHERE id = $1`
	return scanCopy(r.pool.QueryRow(ctx, query, id))
}

// GetByBarcode returns the copy carrying the given barcode.
func (r *Repository) GetByBarcode(ctx context.Context, barcode string) (*Copy, error) {
	query := `SELECT ` + copyColumns + ` FROM book_copies WHERE barcode = $1`
	return scanCopy(r.pool.QueryRow(ctx, query, barcode))
}

// ListByBook returns every copy of a title, oldest acquisition first.
func (r *Repository) ListByBook(ctx context.Context, bookID int64) ([]Copy, error) {
	query := `SELECT ` + copyColumns + ` FROM book_copies WHERE book_id = $1 ORDER BY acquired_at ASC, id ASC`
	return r.collect(ctx, query, bookID)
}

// ListAvailableByBook returns the loanable copies of a title. Reference-only
// and damaged copies are excluded even when their status reads available.
func (r *Repository) ListAvailableByBook(ctx context.Context, bookID int64) ([]Copy, error) {
	query := `SELECT ` + copyColumns + ` FROM book_copies
		WHERE book_id = $1 AND status = 'available' AND ` + lendableClause + `
		ORDER BY acquired_at ASC, id ASC`
	return r.collect(ctx, query, bookID)
}

// CountAvailableByBook returns how many copies of a title can be issued
// right now.
func (r *Repository) CountAvailableByBook(ctx context.Context, bookID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM book_copies WHERE book_id = $1 AND status = 'available' AND `+lendableClause,
		bookID,
	).Scan(&n)
	return n, err
}

// CountByBookAndStatus returns how many copies of a title sit in a status.
func (r *Repository) CountByBookAndStatus(ctx context.Context, bookID int64, status CopyStatus) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM book_copies WHERE book_id = $1 AND status = $2`,
		bookID, status,
	).Scan(&n)
	return n, err
}

func (r *Repository) collect(ctx context.Context, query string, args ...any) ([]Copy, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Copy
	for rows.Next() {
		c, err := scanCopy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Insert persists a new copy. A duplicate barcode surfaces as ErrConflict.
func (r *Repository) Insert(ctx context.Context, c Copy) (*Copy, error) {
	query := `
		INSERT INTO book_copies (book_id, barcode, status, location, condition, is_reference_only, acquired_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		c.BookID, c.Barcode, c.Status, c.Location, c.Condition, c.IsReferenceOnly, c.AcquiredAt,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("%w: barcode %q already registered", shared.ErrConflict, c.Barcode)
		}
		return nil, err
	}
	return &c, nil
}

// Update persists the mutable descriptive fields of a copy.
func (r *Repository) Update(ctx context.Context, c Copy) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE book_copies SET location = $2, condition = $3, updated_at = NOW() WHERE id = $1`,
		c.ID, c.Location, c.Condition,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: copy %d", shared.ErrNotFound, c.ID)
	}
	return nil
}

// SetCondition records the physical condition grade of a copy.
func (r *Repository) SetCondition(ctx context.Context, id int64, condition string) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE book_copies SET condition = $2, updated_at = NOW() WHERE id = $1`,
		id, condition,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: copy %d", shared.ErrNotFound, id)
	}
	return nil
}

// SetStatus moves a copy to the given status unconditionally.
func (r *Repository) SetStatus(ctx context.Context, id int64, status CopyStatus) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE book_copies SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: copy %d", shared.ErrNotFound, id)
	}
	return nil
}

// TransitionStatus moves a copy from one status to another only if it still
// holds the expected status. Zero rows means somebody else won the race.
func (r *Repository) TransitionStatus(ctx context.Context, id int64, from, to CopyStatus) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE book_copies SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, from, to,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: copy %d is not %s", shared.ErrConflict, id, from)
	}
	return nil
}

// Delete removes a copy from the registry.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM book_copies WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: copy %d", shared.ErrNotFound, id)
	}
	return nil
}
