package holds

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openshelf/openshelf/internal/policy"
	"github.com/openshelf/openshelf/internal/shared"
)

type memoryHoldRepo struct {
	holds  map[int64]*Hold
	nextID int64
}

func newMemoryHoldRepo() *memoryHoldRepo {
	return &memoryHoldRepo{holds: make(map[int64]*Hold)}
}

func (r *memoryHoldRepo) Get(ctx context.Context, id int64) (*Hold, error) {
	h, ok := r.holds[id]
	if !ok {
		return nil, fmt.Errorf("%w: hold %d", shared.ErrNotFound, id)
	}
	cp := *h
	return &cp, nil
}

func (r *memoryHoldRepo) activeByBook(bookID int64) []*Hold {
	var out []*Hold
	for _, h := range r.holds {
		if h.BookID == bookID && h.Status.Active() {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (r *memoryHoldRepo) ListActiveByBook(ctx context.Context, bookID int64) ([]Hold, error) {
	var out []Hold
	for _, h := range r.activeByBook(bookID) {
		out = append(out, *h)
	}
	return out, nil
}

func (r *memoryHoldRepo) ListByUser(ctx context.Context, userID int64) ([]Hold, error) {
	var out []Hold
	for _, h := range r.holds {
		if h.UserID == userID {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (r *memoryHoldRepo) FindActiveByBookAndUser(ctx context.Context, bookID, userID int64) (*Hold, error) {
	for _, h := range r.holds {
		if h.BookID == bookID && h.UserID == userID && h.Status.Active() {
			cp := *h
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: hold", shared.ErrNotFound)
}

func (r *memoryHoldRepo) CountActiveByUser(ctx context.Context, userID int64) (int, error) {
	n := 0
	for _, h := range r.holds {
		if h.UserID == userID && h.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (r *memoryHoldRepo) PeekNext(ctx context.Context, bookID int64) (*Hold, error) {
	for _, h := range r.activeByBook(bookID) {
		if h.Status == StatusPending {
			cp := *h
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: hold", shared.ErrNotFound)
}

func (r *memoryHoldRepo) ListExpired(ctx context.Context, asOf time.Time) ([]Hold, error) {
	var out []Hold
	for _, h := range r.holds {
		if h.Status.Active() && h.ExpiresAt.Before(asOf) {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (r *memoryHoldRepo) Insert(ctx context.Context, h Hold) (*Hold, error) {
	r.nextID++
	h.ID = r.nextID
	h.Position = len(r.activeByBook(h.BookID)) + 1
	h.CreatedAt = time.Now()
	r.holds[h.ID] = &h
	cp := h
	return &cp, nil
}

func (r *memoryHoldRepo) CloseAndRenumber(ctx context.Context, id int64, to HoldStatus) error {
	h, ok := r.holds[id]
	if !ok || !h.Status.Active() {
		return fmt.Errorf("%w: hold %d is not active", shared.ErrConflict, id)
	}
	bookID := h.BookID
	h.Status = to
	h.Position = 0
	for i, remaining := range r.activeByBook(bookID) {
		remaining.Position = i + 1
	}
	return nil
}

func (r *memoryHoldRepo) MarkReady(ctx context.Context, id int64, notifiedAt time.Time) error {
	h, ok := r.holds[id]
	if !ok || h.Status != StatusPending {
		return fmt.Errorf("%w: hold %d is not pending", shared.ErrConflict, id)
	}
	h.Status = StatusReady
	h.NotifiedAt = &notifiedAt
	return nil
}

type staticPolicies struct {
	policy policy.Policy
}

func (p staticPolicies) Active(ctx context.Context) (*policy.Policy, error) {
	cp := p.policy
	return &cp, nil
}

func newTestService(repo *memoryHoldRepo) *Service {
	return NewService(repo, staticPolicies{policy: policy.DefaultPolicy()})
}

func positions(t *testing.T, repo *memoryHoldRepo, bookID int64) []int {
	t.Helper()
	var out []int
	for _, h := range repo.activeByBook(bookID) {
		out = append(out, h.Position)
	}
	return out
}

func TestRequestAssignsDensePositions(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryHoldRepo()
	svc := newTestService(repo)

	first, err := svc.Request(ctx, 100, 1)
	require.NoError(t, err)
	require.Equal(t, 1, first.Position)

	second, err := svc.Request(ctx, 100, 2)
	require.NoError(t, err)
	require.Equal(t, 2, second.Position)

	third, err := svc.Request(ctx, 100, 3)
	require.NoError(t, err)
	require.Equal(t, 3, third.Position)

	// A different title has its own queue.
	other, err := svc.Request(ctx, 200, 4)
	require.NoError(t, err)
	require.Equal(t, 1, other.Position)
}

func TestRequestSetsExpiryFromPolicy(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryHoldRepo()
	svc := newTestService(repo)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	h, err := svc.Request(ctx, 100, 1)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC), h.ExpiresAt)
}

func TestRequestRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemoryHoldRepo())

	_, err := svc.Request(ctx, 100, 1)
	require.NoError(t, err)

	_, err = svc.Request(ctx, 100, 1)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestRequestEnforcesPerUserLimit(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemoryHoldRepo())

	// Default policy allows three active requests per user.
	for bookID := int64(1); bookID <= 3; bookID++ {
		_, err := svc.Request(ctx, bookID, 1)
		require.NoError(t, err)
	}

	_, err := svc.Request(ctx, 4, 1)
	require.ErrorIs(t, err, shared.ErrBusiness)
	require.Contains(t, err.Error(), "maximum number of requests reached (3)")
}

func TestRequestDisabledByPolicy(t *testing.T) {
	ctx := context.Background()
	pol := policy.DefaultPolicy()
	pol.AllowRequests = false
	svc := NewService(newMemoryHoldRepo(), staticPolicies{policy: pol})

	_, err := svc.Request(ctx, 100, 1)
	require.ErrorIs(t, err, shared.ErrBusiness)
}

func TestCancelRenumbersQueue(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryHoldRepo()
	svc := newTestService(repo)

	_, err := svc.Request(ctx, 100, 1)
	require.NoError(t, err)
	second, err := svc.Request(ctx, 100, 2)
	require.NoError(t, err)
	_, err = svc.Request(ctx, 100, 3)
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, second.ID, shared.Actor{ID: 2, Role: shared.RoleMember}))
	require.Equal(t, []int{1, 2}, positions(t, repo, 100))
	require.Equal(t, StatusCancelled, repo.holds[second.ID].Status)
}

func TestCancelOwnerOnly(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryHoldRepo()
	svc := newTestService(repo)

	h, err := svc.Request(ctx, 100, 1)
	require.NoError(t, err)

	err = svc.Cancel(ctx, h.ID, shared.Actor{ID: 99, Role: shared.RoleMember})
	require.ErrorIs(t, err, shared.ErrForbidden)

	// Staff may cancel anyone's hold.
	require.NoError(t, svc.Cancel(ctx, h.ID, shared.Actor{ID: 50, Role: shared.RoleLibrarian}))
}

func TestFulfillRenumbersQueue(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryHoldRepo()
	svc := newTestService(repo)

	head, err := svc.Request(ctx, 100, 1)
	require.NoError(t, err)
	_, err = svc.Request(ctx, 100, 2)
	require.NoError(t, err)

	require.NoError(t, svc.Fulfill(ctx, head.ID))
	require.Equal(t, []int{1}, positions(t, repo, 100))
	require.Equal(t, StatusFulfilled, repo.holds[head.ID].Status)
}

func TestPeekNextEmptyQueue(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemoryHoldRepo())

	h, err := svc.PeekNext(ctx, 100)
	require.NoError(t, err)
	require.Nil(t, h)
}

func TestPeekNextReturnsHead(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemoryHoldRepo())

	head, err := svc.Request(ctx, 100, 1)
	require.NoError(t, err)
	_, err = svc.Request(ctx, 100, 2)
	require.NoError(t, err)

	next, err := svc.PeekNext(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, head.ID, next.ID)
}

func TestExpireStaleClosesAndNotifies(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryHoldRepo()
	svc := newTestService(repo)

	now := time.Date(2026, 3, 10, 0, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return now.AddDate(0, 0, -10) }
	stale, err := svc.Request(ctx, 100, 1)
	require.NoError(t, err)

	svc.now = func() time.Time { return now }
	fresh, err := svc.Request(ctx, 100, 2)
	require.NoError(t, err)

	events, err := svc.ExpireStale(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, shared.EventHoldExpired, events[0].Kind)
	require.Equal(t, int64(1), events[0].UserID)

	require.Equal(t, StatusExpired, repo.holds[stale.ID].Status)
	require.Equal(t, StatusPending, repo.holds[fresh.ID].Status)
	require.Equal(t, []int{1}, positions(t, repo, 100))
}
