package payments

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/openshelf/internal/fines"
	"github.com/openshelf/openshelf/internal/shared"
)

type memoryPaymentRepo struct {
	payments map[int64]*Payment
	nextID   int64
}

func newMemoryPaymentRepo() *memoryPaymentRepo {
	return &memoryPaymentRepo{payments: make(map[int64]*Payment)}
}

func (r *memoryPaymentRepo) Get(ctx context.Context, id int64) (*Payment, error) {
	p, ok := r.payments[id]
	if !ok {
		return nil, fmt.Errorf("%w: payment %d", shared.ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (r *memoryPaymentRepo) byOrder(orderID string) (*Payment, bool) {
	for _, p := range r.payments {
		if p.OrderID == orderID {
			return p, true
		}
	}
	return nil, false
}

func (r *memoryPaymentRepo) GetByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	p, ok := r.byOrder(orderID)
	if !ok {
		return nil, fmt.Errorf("%w: payment %s", shared.ErrNotFound, orderID)
	}
	cp := *p
	return &cp, nil
}

func (r *memoryPaymentRepo) ListByUser(ctx context.Context, userID int64) ([]Payment, error) {
	var out []Payment
	for _, p := range r.payments {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memoryPaymentRepo) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]Payment, error) {
	var out []Payment
	for _, p := range r.payments {
		if p.Status == StatusPending && p.CreatedAt.Before(cutoff) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memoryPaymentRepo) Insert(ctx context.Context, p Payment) (*Payment, error) {
	r.nextID++
	p.ID = r.nextID
	r.payments[p.ID] = &p
	cp := p
	return &cp, nil
}

func (r *memoryPaymentRepo) Complete(ctx context.Context, orderID, gatewayRef, statusCode string, at time.Time) (bool, error) {
	p, ok := r.byOrder(orderID)
	if !ok {
		return false, fmt.Errorf("%w: payment %s", shared.ErrNotFound, orderID)
	}
	if p.Status == StatusCompleted {
		return false, nil
	}
	p.Status = StatusCompleted
	p.GatewayRef = gatewayRef
	p.StatusCode = statusCode
	p.CompletedAt = &at
	return true, nil
}

func (r *memoryPaymentRepo) SetStatus(ctx context.Context, orderID string, status PaymentStatus, statusCode string) error {
	p, ok := r.byOrder(orderID)
	if !ok {
		return fmt.Errorf("%w: payment %s", shared.ErrNotFound, orderID)
	}
	if p.Status == StatusCompleted || p.Status == StatusRefunded {
		return fmt.Errorf("%w: payment %s is finalised", shared.ErrConflict, orderID)
	}
	p.Status = status
	p.StatusCode = statusCode
	return nil
}

func (r *memoryPaymentRepo) MarkRefunded(ctx context.Context, id int64) error {
	p, ok := r.payments[id]
	if !ok {
		return fmt.Errorf("%w: payment %d", shared.ErrNotFound, id)
	}
	if p.Status != StatusCompleted {
		return fmt.Errorf("%w: payment %d is not completed", shared.ErrConflict, id)
	}
	p.Status = StatusRefunded
	return nil
}

type recordingLedger struct {
	fines    map[int64]*fines.Fine
	paid     []float64
	reverted []float64
}

func newRecordingLedger() *recordingLedger {
	return &recordingLedger{fines: make(map[int64]*fines.Fine)}
}

func (l *recordingLedger) Get(ctx context.Context, id int64) (*fines.Fine, error) {
	f, ok := l.fines[id]
	if !ok {
		return nil, fmt.Errorf("%w: fine %d", shared.ErrNotFound, id)
	}
	cp := *f
	return &cp, nil
}

func (l *recordingLedger) Pay(ctx context.Context, fineID int64, amount float64) (*fines.Fine, error) {
	f, ok := l.fines[fineID]
	if !ok {
		return nil, fmt.Errorf("%w: fine %d", shared.ErrNotFound, fineID)
	}
	f.PaidAmount += amount
	if f.PaidAmount >= f.Amount {
		f.Status = fines.StatusPaid
	} else {
		f.Status = fines.StatusPartial
	}
	l.paid = append(l.paid, amount)
	cp := *f
	return &cp, nil
}

func (l *recordingLedger) Revert(ctx context.Context, fineID int64, amount float64) (*fines.Fine, error) {
	f, ok := l.fines[fineID]
	if !ok {
		return nil, fmt.Errorf("%w: fine %d", shared.ErrNotFound, fineID)
	}
	f.PaidAmount -= amount
	if f.PaidAmount < 0 {
		f.PaidAmount = 0
	}
	if f.PaidAmount == 0 {
		f.Status = fines.StatusPending
	} else {
		f.Status = fines.StatusPartial
	}
	l.reverted = append(l.reverted, amount)
	cp := *f
	return &cp, nil
}

type paymentFixture struct {
	repo   *memoryPaymentRepo
	ledger *recordingLedger
	svc    *Service
	now    time.Time
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &paymentFixture{
		repo:   newMemoryPaymentRepo(),
		ledger: newRecordingLedger(),
		now:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(logger, f.repo, f.ledger, rdb, Options{
		Signer:    testSigner(),
		ReturnURL: "https://library.example/payments/return",
		CancelURL: "https://library.example/payments/cancel",
		NotifyURL: "https://library.example/api/payments/notify",
		Timeout:   2 * time.Hour,
	})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *paymentFixture) addFine(id, userID int64, amount float64) {
	f.ledger.fines[id] = &fines.Fine{
		ID:     id,
		UserID: userID,
		Type:   fines.TypeOverdue,
		Status: fines.StatusPending,
		Amount: amount,
	}
}

func (f *paymentFixture) successNotification(p *Payment) Notification {
	return notificationFor(f.svc.opts.Signer, p.OrderID, FormatAmount(p.Amount), StatusCodeSuccess)
}

func TestInitiateBuildsSignedCheckout(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.addFine(1, 7, 150.50)

	session, err := f.svc.Initiate(ctx, 1, shared.Actor{ID: 7, Role: shared.RoleMember})
	require.NoError(t, err)
	require.Equal(t, StatusPending, session.Payment.Status)
	require.Equal(t, 150.50, session.Payment.Amount)
	require.Equal(t, "LKR", session.Payment.Currency)

	fields := session.Fields
	require.Equal(t, "1211149", fields["merchant_id"])
	require.Equal(t, "150.50", fields["amount"])
	require.Equal(t, session.Payment.OrderID, fields["order_id"])
	require.Equal(t, testSigner().CheckoutHash(session.Payment.OrderID, 150.50), fields["hash"])
	require.Equal(t, "https://library.example/api/payments/notify", fields["notify_url"])
}

func TestInitiateChargesRemainingBalance(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.addFine(1, 7, 20)
	f.ledger.fines[1].PaidAmount = 12.5
	f.ledger.fines[1].Status = fines.StatusPartial

	session, err := f.svc.Initiate(ctx, 1, shared.Actor{ID: 7, Role: shared.RoleMember})
	require.NoError(t, err)
	require.Equal(t, 7.5, session.Payment.Amount)
}

func TestInitiateOwnerOnly(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.addFine(1, 7, 10)

	_, err := f.svc.Initiate(ctx, 1, shared.Actor{ID: 8, Role: shared.RoleMember})
	require.ErrorIs(t, err, shared.ErrForbidden)

	// Staff may open a checkout for any member's fine.
	_, err = f.svc.Initiate(ctx, 1, shared.Actor{ID: 50, Role: shared.RoleLibrarian})
	require.NoError(t, err)
}

func TestInitiateRejectsSettledFine(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.addFine(1, 7, 10)
	f.ledger.fines[1].Status = fines.StatusWaived

	_, err := f.svc.Initiate(ctx, 1, shared.Actor{ID: 7, Role: shared.RoleMember})
	require.ErrorIs(t, err, shared.ErrBusiness)
}

func TestNotificationSuccessCreditsFineOnce(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.addFine(1, 7, 150.50)

	session, err := f.svc.Initiate(ctx, 1, shared.Actor{ID: 7, Role: shared.RoleMember})
	require.NoError(t, err)

	n := f.successNotification(session.Payment)
	events, err := f.svc.HandleNotification(ctx, n)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, shared.EventPaymentResult, events[0].Kind)
	require.Equal(t, int64(7), events[0].UserID)

	completed, err := f.repo.GetByOrderID(ctx, session.Payment.OrderID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
	require.Equal(t, "320025471", completed.GatewayRef)

	require.Equal(t, []float64{150.50}, f.ledger.paid)
	require.Equal(t, fines.StatusPaid, f.ledger.fines[1].Status)

	// The gateway redelivers on timeout; a replay must not double-credit.
	events, err = f.svc.HandleNotification(ctx, n)
	require.NoError(t, err)
	require.Empty(t, events)
	require.Equal(t, []float64{150.50}, f.ledger.paid)
}

func TestNotificationInvalidSignature(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.addFine(1, 7, 10)

	session, err := f.svc.Initiate(ctx, 1, shared.Actor{ID: 7, Role: shared.RoleMember})
	require.NoError(t, err)

	n := f.successNotification(session.Payment)
	n.Signature = "0000000000000000000000000000000"

	_, err = f.svc.HandleNotification(ctx, n)
	require.ErrorIs(t, err, shared.ErrValidation)

	failed, err := f.repo.GetByOrderID(ctx, session.Payment.OrderID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, failed.Status)
	require.Empty(t, f.ledger.paid)
}

func TestNotificationPendingCode(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.addFine(1, 7, 10)

	session, err := f.svc.Initiate(ctx, 1, shared.Actor{ID: 7, Role: shared.RoleMember})
	require.NoError(t, err)

	n := notificationFor(f.svc.opts.Signer, session.Payment.OrderID, FormatAmount(10), StatusCodePending)
	events, err := f.svc.HandleNotification(ctx, n)
	require.NoError(t, err)
	require.Empty(t, events)

	p, err := f.repo.GetByOrderID(ctx, session.Payment.OrderID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, p.Status)
	require.Empty(t, f.ledger.paid)
}

func TestNotificationFailureCode(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.addFine(1, 7, 10)

	session, err := f.svc.Initiate(ctx, 1, shared.Actor{ID: 7, Role: shared.RoleMember})
	require.NoError(t, err)

	n := notificationFor(f.svc.opts.Signer, session.Payment.OrderID, FormatAmount(10), "-2")
	events, err := f.svc.HandleNotification(ctx, n)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "Payment failed", events[0].Subject)

	p, err := f.repo.GetByOrderID(ctx, session.Payment.OrderID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, p.Status)
	require.Empty(t, f.ledger.paid)
}

func TestCancelPendingOnly(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.addFine(1, 7, 10)

	session, err := f.svc.Initiate(ctx, 1, shared.Actor{ID: 7, Role: shared.RoleMember})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, session.Payment.OrderID, shared.Actor{ID: 8, Role: shared.RoleMember})
	require.ErrorIs(t, err, shared.ErrForbidden)

	cancelled, err := f.svc.Cancel(ctx, session.Payment.OrderID, shared.Actor{ID: 7, Role: shared.RoleMember})
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	_, err = f.svc.Cancel(ctx, session.Payment.OrderID, shared.Actor{ID: 7, Role: shared.RoleMember})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestRefundRevertsLedger(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.addFine(1, 7, 150.50)

	session, err := f.svc.Initiate(ctx, 1, shared.Actor{ID: 7, Role: shared.RoleMember})
	require.NoError(t, err)
	_, err = f.svc.HandleNotification(ctx, f.successNotification(session.Payment))
	require.NoError(t, err)

	refunded, err := f.svc.Refund(ctx, session.Payment.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, refunded.Status)
	require.Equal(t, []float64{150.50}, f.ledger.reverted)
	require.Equal(t, fines.StatusPending, f.ledger.fines[1].Status)
	require.Equal(t, 0.0, f.ledger.fines[1].PaidAmount)

	// Refunding twice is rejected.
	_, err = f.svc.Refund(ctx, session.Payment.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestExpirePending(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.addFine(1, 7, 10)
	f.addFine(2, 8, 10)

	stale, err := f.svc.Initiate(ctx, 1, shared.Actor{ID: 7, Role: shared.RoleMember})
	require.NoError(t, err)
	f.repo.payments[stale.Payment.ID].CreatedAt = f.now.Add(-3 * time.Hour)

	fresh, err := f.svc.Initiate(ctx, 2, shared.Actor{ID: 8, Role: shared.RoleMember})
	require.NoError(t, err)
	f.repo.payments[fresh.Payment.ID].CreatedAt = f.now.Add(-time.Hour)

	expired, err := f.svc.ExpirePending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, expired)
	require.Equal(t, StatusExpired, f.repo.payments[stale.Payment.ID].Status)
	require.Equal(t, StatusPending, f.repo.payments[fresh.Payment.ID].Status)
}
