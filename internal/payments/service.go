package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openshelf/openshelf/internal/fines"
	"github.com/openshelf/openshelf/internal/shared"
)

// RepositoryPort defines data access methods for payments.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (*Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (*Payment, error)
	ListByUser(ctx context.Context, userID int64) ([]Payment, error)
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]Payment, error)
	Insert(ctx context.Context, p Payment) (*Payment, error)
	Complete(ctx context.Context, orderID, gatewayRef, statusCode string, at time.Time) (bool, error)
	SetStatus(ctx context.Context, orderID string, status PaymentStatus, statusCode string) error
	MarkRefunded(ctx context.Context, id int64) error
}

// FineLedger is the slice of the fine service the reconciler needs.
type FineLedger interface {
	Get(ctx context.Context, id int64) (*fines.Fine, error)
	Pay(ctx context.Context, fineID int64, amount float64) (*fines.Fine, error)
	Revert(ctx context.Context, fineID int64, amount float64) (*fines.Fine, error)
}

// Options configures the reconciler from application config.
type Options struct {
	Signer    Signer
	ReturnURL string
	CancelURL string
	NotifyURL string
	Timeout   time.Duration
}

// Service reconciles gateway payments against the fine ledger.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
	ledger FineLedger
	rdb    *redis.Client
	opts   Options
	now    func() time.Time
}

// NewService builds a Service instance.
func NewService(logger *slog.Logger, repo RepositoryPort, ledger FineLedger, rdb *redis.Client, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Hour
	}
	return &Service{logger: logger, repo: repo, ledger: ledger, rdb: rdb, opts: opts, now: time.Now}
}

// CheckoutSession is everything a client needs to post the hosted
// checkout form to the gateway.
type CheckoutSession struct {
	Payment *Payment          `json:"payment"`
	Fields  map[string]string `json:"fields"`
}

// Initiate opens a gateway payment for the outstanding balance of a fine
// and returns the signed checkout fields.
func (s *Service) Initiate(ctx context.Context, fineID int64, actor shared.Actor) (*CheckoutSession, error) {
	f, err := s.ledger.Get(ctx, fineID)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() && f.UserID != actor.ID {
		return nil, fmt.Errorf("%w: fine belongs to another user", shared.ErrForbidden)
	}
	if f.Status.Settled() {
		return nil, fmt.Errorf("%w: fine %d is already settled", shared.ErrBusiness, fineID)
	}

	amount := f.Remaining()
	if amount <= 0 {
		return nil, fmt.Errorf("%w: fine %d has no outstanding balance", shared.ErrBusiness, fineID)
	}

	p, err := s.repo.Insert(ctx, Payment{
		OrderID:  NewOrderID(s.now()),
		FineID:   f.ID,
		UserID:   f.UserID,
		Amount:   amount,
		Currency: s.opts.Signer.Currency,
		Status:   StatusPending,
		Method:   MethodPayHere,
	})
	if err != nil {
		return nil, err
	}

	return &CheckoutSession{Payment: p, Fields: s.checkoutFields(p)}, nil
}

func (s *Service) checkoutFields(p *Payment) map[string]string {
	return map[string]string{
		"merchant_id": s.opts.Signer.MerchantID,
		"return_url":  s.opts.ReturnURL,
		"cancel_url":  s.opts.CancelURL,
		"notify_url":  s.opts.NotifyURL,
		"order_id":    p.OrderID,
		"items":       fmt.Sprintf("Library fine #%d", p.FineID),
		"currency":    p.Currency,
		"amount":      FormatAmount(p.Amount),
		"hash":        s.opts.Signer.CheckoutHash(p.OrderID, p.Amount),
	}
}

// HandleNotification processes a server-to-server gateway callback. The
// order of defences: signature, payment lookup, per-fine lock, then a
// conditional completion so a replayed success credits the fine once.
// Errors are returned for logging; the HTTP layer answers 200 regardless,
// as the gateway retries on anything else.
func (s *Service) HandleNotification(ctx context.Context, n Notification) ([]shared.Event, error) {
	if !s.opts.Signer.VerifyNotification(n) {
		if err := s.repo.SetStatus(ctx, n.OrderID, StatusFailed, n.StatusCode); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: invalid gateway signature for order %s", shared.ErrValidation, n.OrderID)
	}

	p, err := s.repo.GetByOrderID(ctx, n.OrderID)
	if err != nil {
		return nil, err
	}

	switch n.StatusCode {
	case StatusCodeSuccess:
		return s.completePayment(ctx, p, n)
	case StatusCodePending:
		return nil, s.repo.SetStatus(ctx, n.OrderID, StatusPending, n.StatusCode)
	default:
		if err := s.repo.SetStatus(ctx, n.OrderID, StatusFailed, n.StatusCode); err != nil {
			return nil, err
		}
		return s.resultEvents(p, false), nil
	}
}

func (s *Service) completePayment(ctx context.Context, p *Payment, n Notification) ([]shared.Event, error) {
	// Serialise concurrent callbacks touching the same fine.
	lockKey := shared.FineLockKey(p.FineID)
	locked, err := s.rdb.SetNX(ctx, lockKey, "1", 30*time.Second).Result()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("%w: fine %d is being reconciled", shared.ErrConflict, p.FineID)
	}
	defer func() {
		if err := s.rdb.Del(context.WithoutCancel(ctx), lockKey).Err(); err != nil {
			s.logger.Warn("release fine lock", slog.Any("error", err))
		}
	}()

	applied, err := s.repo.Complete(ctx, p.OrderID, n.PaymentID, n.StatusCode, s.now())
	if err != nil {
		return nil, err
	}
	if !applied {
		// Duplicate delivery; the fine was already credited.
		return nil, nil
	}

	if _, err := s.ledger.Pay(ctx, p.FineID, p.Amount); err != nil {
		return nil, err
	}
	return s.resultEvents(p, true), nil
}

func (s *Service) resultEvents(p *Payment, success bool) []shared.Event {
	subject := "Payment failed"
	body := fmt.Sprintf("Your payment %s for fine #%d was not completed.", p.OrderID, p.FineID)
	if success {
		subject = "Payment received"
		body = fmt.Sprintf("Your payment %s of %s %s has been applied to fine #%d.", p.OrderID, p.Currency, FormatAmount(p.Amount), p.FineID)
	}
	return []shared.Event{{
		Kind:       shared.EventPaymentResult,
		UserID:     p.UserID,
		Subject:    subject,
		Body:       body,
		Meta:       map[string]any{"fine_id": p.FineID, "order_id": p.OrderID},
		OccurredAt: s.now(),
	}}
}

// Cancel marks a pending payment as abandoned by the payer.
func (s *Service) Cancel(ctx context.Context, orderID string, actor shared.Actor) (*Payment, error) {
	p, err := s.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() && p.UserID != actor.ID {
		return nil, fmt.Errorf("%w: payment belongs to another user", shared.ErrForbidden)
	}
	if p.Status != StatusPending {
		return nil, fmt.Errorf("%w: payment %s is not pending", shared.ErrConflict, orderID)
	}
	if err := s.repo.SetStatus(ctx, orderID, StatusCancelled, ""); err != nil {
		return nil, err
	}
	return s.repo.GetByOrderID(ctx, orderID)
}

// Refund backs a completed payment out of the fine ledger.
func (s *Service) Refund(ctx context.Context, paymentID int64) (*Payment, error) {
	p, err := s.repo.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.MarkRefunded(ctx, paymentID); err != nil {
		return nil, err
	}
	if _, err := s.ledger.Revert(ctx, p.FineID, p.Amount); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, paymentID)
}

// Get returns a payment by id.
func (s *Service) Get(ctx context.Context, id int64) (*Payment, error) {
	return s.repo.Get(ctx, id)
}

// ListByUser returns a user's payments.
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]Payment, error) {
	return s.repo.ListByUser(ctx, userID)
}

// ExpirePending abandons payments that sat pending past the timeout.
// Run periodically by the scheduler.
func (s *Service) ExpirePending(ctx context.Context) (int, error) {
	stale, err := s.repo.ListPendingOlderThan(ctx, s.now().Add(-s.opts.Timeout))
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, p := range stale {
		if err := s.repo.SetStatus(ctx, p.OrderID, StatusExpired, ""); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}
