package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/openshelf/openshelf/internal/shared"
)

// RepositoryPort defines data access methods for policies.
type RepositoryPort interface {
	FindActive(ctx context.Context) (*Policy, error)
	FindByName(ctx context.Context, name string) (*Policy, error)
	Get(ctx context.Context, id int64) (*Policy, error)
	List(ctx context.Context) ([]Policy, error)
	Insert(ctx context.Context, p Policy) (*Policy, error)
	Update(ctx context.Context, p Policy) error
	Activate(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

// Service supplies the single active configuration used by every
// circulation calculation.
type Service struct {
	repo RepositoryPort
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Active returns the active policy. If no policy has ever been activated,
// the hard-coded default is materialised and persisted. This is deliberate
// bootstrap behaviour, not silent data loss.
func (s *Service) Active(ctx context.Context) (*Policy, error) {
	p, err := s.repo.FindActive(ctx)
	if err == nil {
		return p, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	if existing, err := s.repo.FindByName(ctx, DefaultPolicyName); err == nil {
		return existing, nil
	} else if !isNotFound(err) {
		return nil, err
	}

	return s.repo.Insert(ctx, DefaultPolicy())
}

// Create persists a new draft policy.
func (s *Service) Create(ctx context.Context, p Policy, createdBy int64) (*Policy, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("%w: policy name required", shared.ErrValidation)
	}
	p.Status = StatusDraft
	p.CreatedBy = &createdBy
	return s.repo.Insert(ctx, p)
}

// Update replaces the parameter fields of an existing policy.
func (s *Service) Update(ctx context.Context, id int64, updated Policy) (*Policy, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updated.ID = existing.ID
	updated.Status = existing.Status
	updated.CreatedBy = existing.CreatedBy
	if err := s.repo.Update(ctx, updated); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Activate promotes a policy to active, atomically retiring the prior
// active policy.
func (s *Service) Activate(ctx context.Context, id int64) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	return s.repo.Activate(ctx, id)
}

// Delete removes a policy; the active policy cannot be deleted.
func (s *Service) Delete(ctx context.Context, id int64) error {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Status == StatusActive {
		return fmt.Errorf("%w: cannot delete active policy", shared.ErrBusiness)
	}
	return s.repo.Delete(ctx, id)
}

// Get returns a policy by id.
func (s *Service) Get(ctx context.Context, id int64) (*Policy, error) {
	return s.repo.Get(ctx, id)
}

// List returns all policies.
func (s *Service) List(ctx context.Context) ([]Policy, error) {
	return s.repo.List(ctx)
}

func isNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}
