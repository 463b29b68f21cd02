package copies

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openshelf/openshelf/internal/shared"
)

// RepositoryPort defines data access methods for copies.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (*Copy, error)
	GetByBarcode(ctx context.Context, barcode string) (*Copy, error)
	ListByBook(ctx context.Context, bookID int64) ([]Copy, error)
	ListAvailableByBook(ctx context.Context, bookID int64) ([]Copy, error)
	CountByBookAndStatus(ctx context.Context, bookID int64, status CopyStatus) (int, error)
	CountAvailableByBook(ctx context.Context, bookID int64) (int, error)
	Insert(ctx context.Context, c Copy) (*Copy, error)
	Update(ctx context.Context, c Copy) error
	SetCondition(ctx context.Context, id int64, condition string) error
	SetStatus(ctx context.Context, id int64, status CopyStatus) error
	TransitionStatus(ctx context.Context, id int64, from, to CopyStatus) error
	Delete(ctx context.Context, id int64) error
}

// Service tracks the physical inventory and owns every status transition
// a copy can make.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Register adds a new physical copy to the registry.
func (s *Service) Register(ctx context.Context, c Copy) (*Copy, error) {
	c.Barcode = strings.TrimSpace(c.Barcode)
	if c.Barcode == "" {
		return nil, fmt.Errorf("%w: barcode required", shared.ErrValidation)
	}
	if c.BookID <= 0 {
		return nil, fmt.Errorf("%w: book id required", shared.ErrValidation)
	}
	if c.Status == "" {
		c.Status = StatusAvailable
	}
	if c.AcquiredAt.IsZero() {
		c.AcquiredAt = s.now()
	}
	return s.repo.Insert(ctx, c)
}

// Update changes the descriptive fields of a copy. Status moves through the
// dedicated transition methods, never through Update.
func (s *Service) Update(ctx context.Context, id int64, location, condition string) (*Copy, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	existing.Location = location
	existing.Condition = condition
	if err := s.repo.Update(ctx, *existing); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Get returns a copy by id.
func (s *Service) Get(ctx context.Context, id int64) (*Copy, error) {
	return s.repo.Get(ctx, id)
}

// GetByBarcode returns a copy by barcode.
func (s *Service) GetByBarcode(ctx context.Context, barcode string) (*Copy, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, fmt.Errorf("%w: barcode required", shared.ErrValidation)
	}
	return s.repo.GetByBarcode(ctx, barcode)
}

// ListByBook returns all copies of a title.
func (s *Service) ListByBook(ctx context.Context, bookID int64) ([]Copy, error) {
	return s.repo.ListByBook(ctx, bookID)
}

// ListAvailable returns the loanable copies of a title.
func (s *Service) ListAvailable(ctx context.Context, bookID int64) ([]Copy, error) {
	return s.repo.ListAvailableByBook(ctx, bookID)
}

// AvailableCount returns how many copies of a title are loanable right now.
func (s *Service) AvailableCount(ctx context.Context, bookID int64) (int, error) {
	return s.repo.CountAvailableByBook(ctx, bookID)
}

// IsAvailableForLoan reports whether the copy can be issued right now.
// Reference-only and damaged copies never qualify.
func (s *Service) IsAvailableForLoan(ctx context.Context, id int64) (bool, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return c.AvailableForLoan(), nil
}

// RecordCondition updates the condition grade observed at the desk.
func (s *Service) RecordCondition(ctx context.Context, id int64, condition string) error {
	condition = strings.ToLower(strings.TrimSpace(condition))
	if condition == "" {
		return fmt.Errorf("%w: condition required", shared.ErrValidation)
	}
	return s.repo.SetCondition(ctx, id, condition)
}

// MarkCheckedOut claims an available copy for a loan. The conditional
// transition makes concurrent issues of the same copy lose with ErrConflict
// rather than double-lend.
func (s *Service) MarkCheckedOut(ctx context.Context, id int64) error {
	return s.repo.TransitionStatus(ctx, id, StatusAvailable, StatusCheckedOut)
}

// MarkCheckedOutFromHold claims a copy parked for pickup. Callers are
// responsible for checking the claimant is the head of the queue.
func (s *Service) MarkCheckedOutFromHold(ctx context.Context, id int64) error {
	return s.repo.TransitionStatus(ctx, id, StatusOnHold, StatusCheckedOut)
}

// MarkAvailable returns a copy to circulation.
func (s *Service) MarkAvailable(ctx context.Context, id int64) error {
	return s.repo.SetStatus(ctx, id, StatusAvailable)
}

// MarkOnHold parks a returned copy for the next borrower in the queue.
func (s *Service) MarkOnHold(ctx context.Context, id int64) error {
	return s.repo.SetStatus(ctx, id, StatusOnHold)
}

// MarkDamaged flags a copy as damaged and out of circulation.
func (s *Service) MarkDamaged(ctx context.Context, id int64) error {
	return s.repo.SetStatus(ctx, id, StatusDamaged)
}

// MarkLost flags a copy as lost.
func (s *Service) MarkLost(ctx context.Context, id int64) error {
	return s.repo.SetStatus(ctx, id, StatusLost)
}

// Withdraw permanently retires a copy. Checked out copies must come back
// before they can be withdrawn.
func (s *Service) Withdraw(ctx context.Context, id int64) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == StatusCheckedOut {
		return fmt.Errorf("%w: copy %d is checked out", shared.ErrBusiness, id)
	}
	return s.repo.SetStatus(ctx, id, StatusWithdrawn)
}

// Delete removes a copy record entirely.
func (s *Service) Delete(ctx context.Context, id int64) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == StatusCheckedOut {
		return fmt.Errorf("%w: copy %d is checked out", shared.ErrBusiness, id)
	}
	return s.repo.Delete(ctx, id)
}
