package holds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openshelf/openshelf/internal/platform/db"
	"github.com/openshelf/openshelf/internal/shared"
)

// Repository provides PostgreSQL backed persistence for holds.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const holdColumns = `id, book_id, user_id, status, position, expires_at, notified_at, created_at, updated_at`

func scanHold(row pgx.Row) (*Hold, error) {
	var h Hold
	var notifiedAt pgtype.Timestamptz
	err := row.Scan(
		&h.ID, &h.BookID, &h.UserID, &h.Status, &h.Position,
		&h.ExpiresAt, &notifiedAt, &h.CreatedAt, &h.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: hold", shared.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if notifiedAt.Valid {
		h.NotifiedAt = &notifiedAt.Time
	}
	return &h, nil
}

// Get returns the hold with the given id.
func (r *Repository) Get(ctx context.Context, id int64) (*Hold, error) {
	query := `SELECT ` + holdColumns + ` FROM hold_requests WHERE id = $1`
	return scanHold(r.pool.QueryRow(ctx, query, id))
}

// ListActiveByBook returns the active queue of a title in position order.
func (r *Repository) ListActiveByBook(ctx context.Context, bookID int64) ([]Hold, error) {
	query := `SELECT ` + holdColumns + ` FROM hold_requests
		WHERE book_id = $1 AND status IN ('pending', 'ready')
		ORDER BY position ASC`
	return r.collect(ctx, query, bookID)
}

// ListByUser returns all holds placed by a user, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID int64) ([]Hold, error) {
	query := `SELECT ` + holdColumns + ` FROM hold_requests WHERE user_id = $1 ORDER BY created_at DESC`
	return r.collect(ctx, query, userID)
}

// FindActiveByBookAndUser returns the user's active hold on a title, if any.
func (r *Repository) FindActiveByBookAndUser(ctx context.Context, bookID, userID int64) (*Hold, error) {
	query := `SELECT ` + holdColumns + ` FROM hold_requests
		WHERE book_id = $1 AND user_id = $2 AND status IN ('pending', 'ready')
		LIMIT 1`
	return scanHold(r.pool.QueryRow(ctx, query, bookID, userID))
}

// CountActiveByUser returns how many active holds a user currently has.
func (r *Repository) CountActiveByUser(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM hold_requests WHERE user_id = $1 AND status IN ('pending', 'ready')`,
		userID,
	).Scan(&n)
	return n, err
}

// PeekNext returns the head of a title's queue, or ErrNotFound when the
// queue is empty.
func (r *Repository) PeekNext(ctx context.Context, bookID int64) (*Hold, error) {
	query := `SELECT ` + holdColumns + ` FROM hold_requests
		WHERE book_id = $1 AND status = 'pending'
		ORDER BY position ASC LIMIT 1`
	return scanHold(r.pool.QueryRow(ctx, query, bookID))
}

// ListExpired returns active holds whose expiry has passed.
func (r *Repository) ListExpired(ctx context.Context, asOf time.Time) ([]Hold, error) {
	query := `SELECT ` + holdColumns + ` FROM hold_requests
		WHERE status IN ('pending', 'ready') AND expires_at < $1
		ORDER BY book_id ASC, position ASC`
	return r.collect(ctx, query, asOf)
}

func (r *Repository) collect(ctx context.Context, query string, args ...any) ([]Hold, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

// Insert appends a hold at the tail of its title's queue. The position is
// computed and the row written inside one transaction so concurrent
// requests cannot claim the same slot.
func (r *Repository) Insert(ctx context.Context, h Hold) (*Hold, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) + 1 FROM hold_requests WHERE book_id = $1 AND status IN ('pending', 'ready')`,
			h.BookID,
		).Scan(&h.Position); err != nil {
			return err
		}
		return tx.QueryRow(ctx,
			`INSERT INTO hold_requests (book_id, user_id, status, position, expires_at, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
			 RETURNING id, created_at, updated_at`,
			h.BookID, h.UserID, h.Status, h.Position, h.ExpiresAt,
		).Scan(&h.ID, &h.CreatedAt, &h.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// CloseAndRenumber moves a hold to a terminal status and recomputes the
// positions of the remaining active holds on the same title to a dense
// 1..N sequence, all in one transaction.
func (r *Repository) CloseAndRenumber(ctx context.Context, id int64, to HoldStatus) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var bookID int64
		err := tx.QueryRow(ctx,
			`UPDATE hold_requests SET status = $2, position = 0, updated_at = NOW()
			 WHERE id = $1 AND status IN ('pending', 'ready')
			 RETURNING book_id`,
			id, to,
		).Scan(&bookID)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: hold %d is not active", shared.ErrConflict, id)
		}
		if err != nil {
			return err
		}
		return renumberQueue(ctx, tx, bookID)
	})
}

// MarkReady flags the queue head as ready for pickup and stamps the
// notification time.
func (r *Repository) MarkReady(ctx context.Context, id int64, notifiedAt time.Time) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE hold_requests SET status = 'ready', notified_at = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		id, notifiedAt,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: hold %d is not pending", shared.ErrConflict, id)
	}
	return nil
}

// renumberQueue recomputes positions for a title's active holds. A full
// recompute is simpler than shifting and makes the dense 1..N invariant
// self-healing.
func renumberQueue(ctx context.Context, tx pgx.Tx, bookID int64) error {
	rows, err := tx.Query(ctx,
		`SELECT id FROM hold_requests
		 WHERE book_id = $1 AND status IN ('pending', 'ready')
		 ORDER BY position ASC, created_at ASC, id ASC`,
		bookID,
	)
	if err != nil {
		return err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for i, id := range ids {
		if _, err := tx.Exec(ctx,
			`UPDATE hold_requests SET position = $2, updated_at = NOW() WHERE id = $1`,
			id, i+1,
		); err != nil {
			return err
		}
	}
	return nil
}
