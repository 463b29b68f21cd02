package holds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openshelf/openshelf/internal/policy"
	"github.com/openshelf/openshelf/internal/shared"
)

// RepositoryPort defines data access methods for holds.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (*Hold, error)
	ListActiveByBook(ctx context.Context, bookID int64) ([]Hold, error)
	ListByUser(ctx context.Context, userID int64) ([]Hold, error)
	FindActiveByBookAndUser(ctx context.Context, bookID, userID int64) (*Hold, error)
	CountActiveByUser(ctx context.Context, userID int64) (int, error)
	PeekNext(ctx context.Context, bookID int64) (*Hold, error)
	ListExpired(ctx context.Context, asOf time.Time) ([]Hold, error)
	Insert(ctx context.Context, h Hold) (*Hold, error)
	CloseAndRenumber(ctx context.Context, id int64, to HoldStatus) error
	MarkReady(ctx context.Context, id int64, notifiedAt time.Time) error
}

// PolicyProvider supplies the active circulation policy.
type PolicyProvider interface {
	Active(ctx context.Context) (*policy.Policy, error)
}

// Service manages the per-title waiting queues.
type Service struct {
	repo     RepositoryPort
	policies PolicyProvider
	now      func() time.Time
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, policies PolicyProvider) *Service {
	return &Service{repo: repo, policies: policies, now: time.Now}
}

// Request places a user at the tail of a title's queue.
func (s *Service) Request(ctx context.Context, bookID, userID int64) (*Hold, error) {
	if bookID <= 0 || userID <= 0 {
		return nil, fmt.Errorf("%w: book and user required", shared.ErrValidation)
	}

	pol, err := s.policies.Active(ctx)
	if err != nil {
		return nil, err
	}
	if !pol.AllowRequests {
		return nil, fmt.Errorf("%w: hold requests are disabled by policy", shared.ErrBusiness)
	}

	if existing, err := s.repo.FindActiveByBookAndUser(ctx, bookID, userID); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: active hold already exists for this book", shared.ErrConflict)
	} else if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	active, err := s.repo.CountActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active >= pol.MaxRequestsPerUser {
		return nil, fmt.Errorf("%w: maximum number of requests reached (%d)", shared.ErrBusiness, pol.MaxRequestsPerUser)
	}

	return s.repo.Insert(ctx, Hold{
		BookID:    bookID,
		UserID:    userID,
		Status:    StatusPending,
		ExpiresAt: s.now().AddDate(0, 0, pol.RequestExpiryDays),
	})
}

// Cancel withdraws a hold. Members may only cancel their own holds; staff
// may cancel any.
func (s *Service) Cancel(ctx context.Context, id int64, actor shared.Actor) error {
	h, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !actor.IsStaff() && h.UserID != actor.ID {
		return fmt.Errorf("%w: hold belongs to another user", shared.ErrForbidden)
	}
	if !h.Status.Active() {
		return fmt.Errorf("%w: hold %d is not active", shared.ErrConflict, id)
	}
	return s.repo.CloseAndRenumber(ctx, id, StatusCancelled)
}

// Fulfill closes a hold because its copy was issued to the holder.
func (s *Service) Fulfill(ctx context.Context, id int64) error {
	return s.repo.CloseAndRenumber(ctx, id, StatusFulfilled)
}

// MarkReady flags the queue head as having a copy parked for pickup.
func (s *Service) MarkReady(ctx context.Context, id int64) error {
	return s.repo.MarkReady(ctx, id, s.now())
}

// PeekNext returns the next pending hold for a title, or nil when the
// queue is empty.
func (s *Service) PeekNext(ctx context.Context, bookID int64) (*Hold, error) {
	h, err := s.repo.PeekNext(ctx, bookID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

// FindActiveForUser returns the user's active hold on a title, or nil.
func (s *Service) FindActiveForUser(ctx context.Context, bookID, userID int64) (*Hold, error) {
	h, err := s.repo.FindActiveByBookAndUser(ctx, bookID, userID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Queue returns a title's active queue in position order.
func (s *Service) Queue(ctx context.Context, bookID int64) ([]Hold, error) {
	return s.repo.ListActiveByBook(ctx, bookID)
}

// ListByUser returns all holds a user has placed.
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]Hold, error) {
	return s.repo.ListByUser(ctx, userID)
}

// ExpireStale closes every active hold whose expiry has passed and returns
// one expiry event per closed hold. The sweep is run by the scheduler.
func (s *Service) ExpireStale(ctx context.Context) ([]shared.Event, error) {
	stale, err := s.repo.ListExpired(ctx, s.now())
	if err != nil {
		return nil, err
	}

	var events []shared.Event
	for _, h := range stale {
		if err := s.repo.CloseAndRenumber(ctx, h.ID, StatusExpired); err != nil {
			// Raced with a cancel or fulfil; the slot is gone either way.
			if errors.Is(err, shared.ErrConflict) {
				continue
			}
			return events, err
		}
		events = append(events, shared.Event{
			Kind:       shared.EventHoldExpired,
			UserID:     h.UserID,
			Subject:    "Hold request expired",
			Body:       fmt.Sprintf("Your hold request for book #%d expired on %s.", h.BookID, h.ExpiresAt.Format("2 Jan 2006")),
			Meta:       map[string]any{"book_id": h.BookID, "hold_id": h.ID},
			OccurredAt: s.now(),
		})
	}
	return events, nil
}
