package policy

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openshelf/openshelf/internal/shared"
)

type memoryPolicyRepo struct {
	policies map[int64]*Policy
	nextID   int64
}

func newMemoryPolicyRepo() *memoryPolicyRepo {
	return &memoryPolicyRepo{policies: make(map[int64]*Policy)}
}

func (r *memoryPolicyRepo) FindActive(ctx context.Context) (*Policy, error) {
	for _, p := range r.policies {
		if p.Status == StatusActive {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: policy", shared.ErrNotFound)
}

func (r *memoryPolicyRepo) FindByName(ctx context.Context, name string) (*Policy, error) {
	for _, p := range r.policies {
		if p.Name == name {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: policy", shared.ErrNotFound)
}

func (r *memoryPolicyRepo) Get(ctx context.Context, id int64) (*Policy, error) {
	p, ok := r.policies[id]
	if !ok {
		return nil, fmt.Errorf("%w: policy %d", shared.ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (r *memoryPolicyRepo) List(ctx context.Context) ([]Policy, error) {
	var out []Policy
	for _, p := range r.policies {
		out = append(out, *p)
	}
	return out, nil
}

func (r *memoryPolicyRepo) Insert(ctx context.Context, p Policy) (*Policy, error) {
	r.nextID++
	p.ID = r.nextID
	r.policies[p.ID] = &p
	cp := p
	return &cp, nil
}

func (r *memoryPolicyRepo) Update(ctx context.Context, p Policy) error {
	existing, ok := r.policies[p.ID]
	if !ok {
		return fmt.Errorf("%w: policy %d", shared.ErrNotFound, p.ID)
	}
	p.Status = existing.Status
	r.policies[p.ID] = &p
	return nil
}

func (r *memoryPolicyRepo) Activate(ctx context.Context, id int64) error {
	if _, ok := r.policies[id]; !ok {
		return fmt.Errorf("%w: policy %d", shared.ErrNotFound, id)
	}
	for _, p := range r.policies {
		if p.Status == StatusActive {
			p.Status = StatusInactive
		}
	}
	r.policies[id].Status = StatusActive
	return nil
}

func (r *memoryPolicyRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.policies[id]; !ok {
		return fmt.Errorf("%w: policy %d", shared.ErrNotFound, id)
	}
	delete(r.policies, id)
	return nil
}

func TestActiveBootstrapsDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryPolicyRepo()
	svc := NewService(repo)

	p, err := svc.Active(ctx)
	require.NoError(t, err)
	require.Equal(t, DefaultPolicyName, p.Name)
	require.Equal(t, StatusActive, p.Status)
	require.Equal(t, 5, p.MaxBooksPerUser)
	require.Equal(t, 14, p.BorrowingPeriodDays)
	require.Equal(t, 3, p.GracePeriodDays)
	require.Equal(t, 1.0, p.FinePerDayOverdue)
	require.Equal(t, 50.0, p.MaxFineAmount)
	require.Len(t, repo.policies, 1)
}

func TestActiveReturnsExistingActive(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryPolicyRepo()
	svc := NewService(repo)

	created, err := repo.Insert(ctx, Policy{Name: "Winter Rules", Status: StatusActive, MaxBooksPerUser: 3})
	require.NoError(t, err)

	p, err := svc.Active(ctx)
	require.NoError(t, err)
	require.Equal(t, created.ID, p.ID)
	require.Equal(t, "Winter Rules", p.Name)
	require.Len(t, repo.policies, 1)
}

func TestActiveReusesDefaultByName(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryPolicyRepo()
	svc := NewService(repo)

	// The default exists but was deactivated; Active must not create a
	// duplicate row.
	_, err := repo.Insert(ctx, Policy{Name: DefaultPolicyName, Status: StatusInactive})
	require.NoError(t, err)

	p, err := svc.Active(ctx)
	require.NoError(t, err)
	require.Equal(t, DefaultPolicyName, p.Name)
	require.Len(t, repo.policies, 1)
}

func TestCreateRequiresName(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryPolicyRepo())

	_, err := svc.Create(ctx, Policy{}, 1)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateStartsAsDraft(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryPolicyRepo())

	p, err := svc.Create(ctx, Policy{Name: "Summer Rules", Status: StatusActive}, 7)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, p.Status)
	require.NotNil(t, p.CreatedBy)
	require.Equal(t, int64(7), *p.CreatedBy)
}

func TestUpdatePreservesStatusAndCreator(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryPolicyRepo()
	svc := NewService(repo)

	creator := int64(3)
	created, err := repo.Insert(ctx, Policy{Name: "Old", Status: StatusActive, CreatedBy: &creator})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, created.ID, Policy{Name: "New", Status: StatusDraft, MaxBooksPerUser: 9})
	require.NoError(t, err)
	require.Equal(t, "New", updated.Name)
	require.Equal(t, StatusActive, updated.Status)
	require.Equal(t, &creator, updated.CreatedBy)
	require.Equal(t, 9, updated.MaxBooksPerUser)
}

func TestActivateSwapsActivePolicy(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryPolicyRepo()
	svc := NewService(repo)

	first, err := repo.Insert(ctx, Policy{Name: "First", Status: StatusActive})
	require.NoError(t, err)
	second, err := repo.Insert(ctx, Policy{Name: "Second", Status: StatusDraft})
	require.NoError(t, err)

	require.NoError(t, svc.Activate(ctx, second.ID))
	require.Equal(t, StatusInactive, repo.policies[first.ID].Status)
	require.Equal(t, StatusActive, repo.policies[second.ID].Status)
}

func TestDeleteRejectsActivePolicy(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryPolicyRepo()
	svc := NewService(repo)

	created, err := repo.Insert(ctx, Policy{Name: "Active", Status: StatusActive})
	require.NoError(t, err)

	err = svc.Delete(ctx, created.ID)
	require.ErrorIs(t, err, shared.ErrBusiness)
	require.Len(t, repo.policies, 1)
}

func TestDeleteRemovesDraftPolicy(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryPolicyRepo()
	svc := NewService(repo)

	created, err := repo.Insert(ctx, Policy{Name: "Draft", Status: StatusDraft})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, created.ID))
	require.Empty(t, repo.policies)
}
