package fines

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openshelf/openshelf/internal/policy"
	"github.com/openshelf/openshelf/internal/shared"
)

type memoryFineRepo struct {
	fines  map[int64]*Fine
	nextID int64
}

func newMemoryFineRepo() *memoryFineRepo {
	return &memoryFineRepo{fines: make(map[int64]*Fine)}
}

func (r *memoryFineRepo) Get(ctx context.Context, id int64) (*Fine, error) {
	f, ok := r.fines[id]
	if !ok {
		return nil, fmt.Errorf("%w: fine %d", shared.ErrNotFound, id)
	}
	cp := *f
	return &cp, nil
}

func (r *memoryFineRepo) ListByUser(ctx context.Context, userID int64) ([]Fine, error) {
	var out []Fine
	for _, f := range r.fines {
		if f.UserID == userID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (r *memoryFineRepo) ListUnpaid(ctx context.Context) ([]Fine, error) {
	var out []Fine
	for _, f := range r.fines {
		if f.Status == StatusPending || f.Status == StatusPartial {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (r *memoryFineRepo) FindOpenByLoanAndType(ctx context.Context, loanID int64, t FineType) (*Fine, error) {
	for _, f := range r.fines {
		if f.LoanID != nil && *f.LoanID == loanID && f.Type == t && !f.Status.Settled() {
			cp := *f
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: fine", shared.ErrNotFound)
}

func (r *memoryFineRepo) CountUnpaidByUser(ctx context.Context, userID int64) (int, error) {
	n := 0
	for _, f := range r.fines {
		if f.UserID == userID && (f.Status == StatusPending || f.Status == StatusPartial) {
			n++
		}
	}
	return n, nil
}

func (r *memoryFineRepo) Insert(ctx context.Context, f Fine) (*Fine, error) {
	r.nextID++
	f.ID = r.nextID
	f.CreatedAt = time.Now()
	r.fines[f.ID] = &f
	cp := f
	return &cp, nil
}

func (r *memoryFineRepo) UpdateAmount(ctx context.Context, id int64, amount float64) error {
	f, ok := r.fines[id]
	if !ok || f.Status.Settled() {
		return fmt.Errorf("%w: fine %d is settled", shared.ErrConflict, id)
	}
	f.Amount = amount
	return nil
}

func (r *memoryFineRepo) ApplyPayment(ctx context.Context, id int64, amount float64) (*Fine, error) {
	f, ok := r.fines[id]
	if !ok || f.Status.Settled() {
		return nil, fmt.Errorf("%w: fine %d is already settled", shared.ErrBusiness, id)
	}
	f.PaidAmount += amount
	if f.PaidAmount >= f.Amount {
		f.Status = StatusPaid
		now := time.Now()
		f.SettledAt = &now
	} else {
		f.Status = StatusPartial
	}
	cp := *f
	return &cp, nil
}

func (r *memoryFineRepo) RevertPayment(ctx context.Context, id int64, amount float64) (*Fine, error) {
	f, ok := r.fines[id]
	if !ok || f.Status == StatusWaived {
		return nil, fmt.Errorf("%w: fine %d cannot be reverted", shared.ErrConflict, id)
	}
	f.PaidAmount -= amount
	if f.PaidAmount < 0 {
		f.PaidAmount = 0
	}
	switch {
	case f.PaidAmount >= f.Amount:
		f.Status = StatusPaid
	case f.PaidAmount > 0:
		f.Status = StatusPartial
		f.SettledAt = nil
	default:
		f.Status = StatusPending
		f.SettledAt = nil
	}
	cp := *f
	return &cp, nil
}

func (r *memoryFineRepo) Waive(ctx context.Context, id, actorID int64, reason string) (*Fine, error) {
	f, ok := r.fines[id]
	if !ok || f.Status.Settled() {
		return nil, fmt.Errorf("%w: fine %d is already settled", shared.ErrBusiness, id)
	}
	f.Status = StatusWaived
	f.WaivedBy = &actorID
	f.Reason = f.Reason + " - WAIVED: " + reason
	now := time.Now()
	f.SettledAt = &now
	cp := *f
	return &cp, nil
}

type staticPolicies struct {
	policy policy.Policy
}

func (p staticPolicies) Active(ctx context.Context) (*policy.Policy, error) {
	cp := p.policy
	return &cp, nil
}

type recordingMirror struct {
	settled []int64
}

func (m *recordingMirror) MarkFineSettled(ctx context.Context, loanID int64) error {
	m.settled = append(m.settled, loanID)
	return nil
}

func testPolicy() policy.Policy {
	p := policy.DefaultPolicy()
	p.FinePerDayOverdue = 2.0
	return p
}

func newTestService(repo *memoryFineRepo, mirror *recordingMirror) *Service {
	return NewService(repo, staticPolicies{policy: testPolicy()}, mirror, 50.0)
}

func TestOverdueAmountGracePeriod(t *testing.T) {
	pol := testPolicy()

	// Three grace days at rate 2: five days overdue fines two days.
	require.Equal(t, 4.0, OverdueAmount(5, &pol))
	require.Equal(t, 0.0, OverdueAmount(3, &pol))
	require.Equal(t, 0.0, OverdueAmount(0, &pol))
	require.Equal(t, 2.0, OverdueAmount(4, &pol))
}

func TestOverdueAmountCapped(t *testing.T) {
	pol := testPolicy()

	// 100 fineable days at rate 2 would be 200; the cap is 50.
	require.Equal(t, pol.MaxFineAmount, OverdueAmount(103, &pol))
}

func TestAccrueOverdueSkipsInsideGrace(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryFineRepo()
	svc := newTestService(repo, &recordingMirror{})

	f, events, err := svc.AccrueOverdue(ctx, 10, 1, 2)
	require.NoError(t, err)
	require.Nil(t, f)
	require.Empty(t, events)
	require.Empty(t, repo.fines)
}

func TestAccrueOverdueCreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryFineRepo()
	svc := newTestService(repo, &recordingMirror{})

	first, events, err := svc.AccrueOverdue(ctx, 10, 1, 5)
	require.NoError(t, err)
	require.Equal(t, 4.0, first.Amount)
	require.Equal(t, StatusPending, first.Status)
	require.Len(t, events, 1)
	require.Equal(t, shared.EventFineCreated, events[0].Kind)

	// Two more days pass: the same fine grows, no new row and no new
	// notification.
	second, events, err := svc.AccrueOverdue(ctx, 10, 1, 7)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 8.0, second.Amount)
	require.Empty(t, events)
	require.Len(t, repo.fines, 1)
}

func TestAssessDamagedUsesPolicyPercentage(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryFineRepo()
	svc := newTestService(repo, &recordingMirror{})

	f, events, err := svc.AssessDamaged(ctx, 10, 1)
	require.NoError(t, err)
	require.Equal(t, 25.0, f.Amount) // 50% of the 50.0 standard price
	require.Equal(t, TypeDamaged, f.Type)
	require.Len(t, events, 1)

	// A second assessment for the same loan is a no-op.
	again, events, err := svc.AssessDamaged(ctx, 10, 1)
	require.NoError(t, err)
	require.Equal(t, f.ID, again.ID)
	require.Empty(t, events)
	require.Len(t, repo.fines, 1)
}

func TestAssessLostChargesFullPrice(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryFineRepo()
	svc := newTestService(repo, &recordingMirror{})

	f, _, err := svc.AssessLost(ctx, 10, 1)
	require.NoError(t, err)
	require.Equal(t, 50.0, f.Amount) // 100% of the standard price
	require.Equal(t, TypeLost, f.Type)
}

func TestCreateCustomValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemoryFineRepo(), &recordingMirror{})

	_, _, err := svc.CreateCustom(ctx, 1, 0, "reason", 2)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = svc.CreateCustom(ctx, 1, 10, "", 2)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPayPartialThenFull(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryFineRepo()
	mirror := &recordingMirror{}
	svc := newTestService(repo, mirror)

	created, _, err := svc.AccrueOverdue(ctx, 10, 1, 8) // 5 fineable days * 2.0
	require.NoError(t, err)
	require.Equal(t, 10.0, created.Amount)

	f, err := svc.Pay(ctx, created.ID, 4)
	require.NoError(t, err)
	require.Equal(t, StatusPartial, f.Status)
	require.Equal(t, 6.0, f.Remaining())
	require.Empty(t, mirror.settled)

	f, err = svc.Pay(ctx, created.ID, 6)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, f.Status)
	require.Equal(t, 0.0, f.Remaining())
	require.Equal(t, []int64{10}, mirror.settled)
}

func TestPayOverpaymentRecordedWithoutCredit(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryFineRepo()
	svc := newTestService(repo, &recordingMirror{})

	created, _, err := svc.AccrueOverdue(ctx, 10, 1, 8)
	require.NoError(t, err)

	f, err := svc.Pay(ctx, created.ID, 25)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, f.Status)
	require.Equal(t, 25.0, f.PaidAmount)
	require.Equal(t, 0.0, f.Remaining())
}

func TestPayRejectsSettledFine(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryFineRepo()
	svc := newTestService(repo, &recordingMirror{})

	created, _, err := svc.AccrueOverdue(ctx, 10, 1, 8)
	require.NoError(t, err)
	_, err = svc.Pay(ctx, created.ID, 10)
	require.NoError(t, err)

	// Paying a settled fine is a business error, not a race.
	_, err = svc.Pay(ctx, created.ID, 1)
	require.ErrorIs(t, err, shared.ErrBusiness)
}

func TestPayRejectsNonPositiveAmount(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemoryFineRepo(), &recordingMirror{})

	_, err := svc.Pay(ctx, 1, 0)
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Pay(ctx, 1, -5)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestWaiveMirrorsLoan(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryFineRepo()
	mirror := &recordingMirror{}
	svc := newTestService(repo, mirror)

	created, _, err := svc.AssessLost(ctx, 10, 1)
	require.NoError(t, err)

	f, err := svc.Waive(ctx, created.ID, 50, "copy found on reshelving cart")
	require.NoError(t, err)
	require.Equal(t, StatusWaived, f.Status)
	require.Equal(t, []int64{10}, mirror.settled)
}

func TestWaiveRecordsActorAndReason(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryFineRepo()
	svc := newTestService(repo, &recordingMirror{})

	created, _, err := svc.AccrueOverdue(ctx, 10, 1, 8)
	require.NoError(t, err)

	_, err = svc.Waive(ctx, created.ID, 50, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	f, err := svc.Waive(ctx, created.ID, 50, "first offence")
	require.NoError(t, err)
	require.NotNil(t, f.WaivedBy)
	require.Equal(t, int64(50), *f.WaivedBy)
	require.Contains(t, f.Reason, " - WAIVED: first offence")

	// Already waived: settled fines stay settled.
	_, err = svc.Waive(ctx, created.ID, 50, "again")
	require.ErrorIs(t, err, shared.ErrBusiness)
}

func TestRevertReopensFine(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryFineRepo()
	svc := newTestService(repo, &recordingMirror{})

	created, _, err := svc.AccrueOverdue(ctx, 10, 1, 8)
	require.NoError(t, err)
	_, err = svc.Pay(ctx, created.ID, 10)
	require.NoError(t, err)

	f, err := svc.Revert(ctx, created.ID, 10)
	require.NoError(t, err)
	require.Equal(t, StatusPending, f.Status)
	require.Equal(t, 10.0, f.Remaining())
}

func TestHasUnpaid(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryFineRepo()
	svc := newTestService(repo, &recordingMirror{})

	blocked, err := svc.HasUnpaid(ctx, 1)
	require.NoError(t, err)
	require.False(t, blocked)

	created, _, err := svc.AccrueOverdue(ctx, 10, 1, 8)
	require.NoError(t, err)

	blocked, err = svc.HasUnpaid(ctx, 1)
	require.NoError(t, err)
	require.True(t, blocked)

	_, err = svc.Pay(ctx, created.ID, 10)
	require.NoError(t, err)

	blocked, err = svc.HasUnpaid(ctx, 1)
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestOutstandingSumsUnsettledBalances(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryFineRepo()
	svc := newTestService(repo, &recordingMirror{})

	overdue, _, err := svc.AccrueOverdue(ctx, 10, 1, 8) // 10.00
	require.NoError(t, err)
	_, _, err = svc.AssessLost(ctx, 11, 1) // 50.00
	require.NoError(t, err)

	_, err = svc.Pay(ctx, overdue.ID, 4)
	require.NoError(t, err)

	total, err := svc.Outstanding(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 56.0, total)

	// Other users owe nothing.
	total, err = svc.Outstanding(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 0.0, total)
}

func TestRemindersCoverUnsettledFines(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryFineRepo()
	svc := newTestService(repo, &recordingMirror{})

	_, _, err := svc.AccrueOverdue(ctx, 10, 1, 8)
	require.NoError(t, err)
	lost, _, err := svc.AssessLost(ctx, 11, 2)
	require.NoError(t, err)
	_, err = svc.Pay(ctx, lost.ID, 50)
	require.NoError(t, err)

	events, err := svc.Reminders(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, shared.EventFineReminder, events[0].Kind)
	require.Equal(t, int64(1), events[0].UserID)
}
