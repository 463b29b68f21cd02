package fines

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/openshelf/openshelf/internal/policy"
	"github.com/openshelf/openshelf/internal/shared"
)

// RepositoryPort defines data access methods for fines.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (*Fine, error)
	ListByUser(ctx context.Context, userID int64) ([]Fine, error)
	ListUnpaid(ctx context.Context) ([]Fine, error)
	FindOpenByLoanAndType(ctx context.Context, loanID int64, t FineType) (*Fine, error)
	CountUnpaidByUser(ctx context.Context, userID int64) (int, error)
	Insert(ctx context.Context, f Fine) (*Fine, error)
	UpdateAmount(ctx context.Context, id int64, amount float64) error
	ApplyPayment(ctx context.Context, id int64, amount float64) (*Fine, error)
	RevertPayment(ctx context.Context, id int64, amount float64) (*Fine, error)
	Waive(ctx context.Context, id, actorID int64, reason string) (*Fine, error)
}

// PolicyProvider supplies the active circulation policy.
type PolicyProvider interface {
	Active(ctx context.Context) (*policy.Policy, error)
}

// LoanMirror lets the fine ledger reflect settlement back onto the loan
// a fine was born from, without importing the loan package.
type LoanMirror interface {
	MarkFineSettled(ctx context.Context, loanID int64) error
}

// Service is the fine ledger: it computes, accrues and settles fines.
type Service struct {
	repo      RepositoryPort
	policies  PolicyProvider
	loans     LoanMirror
	bookPrice float64
	now       func() time.Time
	printer   *message.Printer
}

// NewService builds a Service instance. bookPrice is the standard
// replacement price used for damaged and lost assessments.
func NewService(repo RepositoryPort, policies PolicyProvider, loans LoanMirror, bookPrice float64) *Service {
	return &Service{
		repo:      repo,
		policies:  policies,
		loans:     loans,
		bookPrice: bookPrice,
		now:       time.Now,
		printer:   message.NewPrinter(language.English),
	}
}

// OverdueAmount computes the fine for a number of overdue days under the
// given policy. Days inside the grace period are free; the result is
// capped at the policy maximum.
func OverdueAmount(overdueDays int, pol *policy.Policy) float64 {
	fineable := overdueDays - pol.GracePeriodDays
	if fineable <= 0 {
		return 0
	}
	amount := float64(fineable) * pol.FinePerDayOverdue
	return math.Min(amount, pol.MaxFineAmount)
}

// AccrueOverdue creates or updates the overdue fine for a loan. One open
// overdue fine exists per loan at a time; repeated sweeps raise its amount
// as days pass instead of stacking new fines. Returns nil when the overdue
// days fall entirely inside the grace period.
func (s *Service) AccrueOverdue(ctx context.Context, loanID, userID int64, overdueDays int) (*Fine, []shared.Event, error) {
	pol, err := s.policies.Active(ctx)
	if err != nil {
		return nil, nil, err
	}
	amount := OverdueAmount(overdueDays, pol)
	if amount <= 0 {
		return nil, nil, nil
	}

	existing, err := s.repo.FindOpenByLoanAndType(ctx, loanID, TypeOverdue)
	if err == nil {
		if existing.Amount != amount {
			if err := s.repo.UpdateAmount(ctx, existing.ID, amount); err != nil {
				return nil, nil, err
			}
			existing.Amount = amount
		}
		return existing, nil, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, nil, err
	}

	created, err := s.repo.Insert(ctx, Fine{
		UserID: userID,
		LoanID: &loanID,
		Type:   TypeOverdue,
		Status: StatusPending,
		Amount: amount,
		Reason: fmt.Sprintf("Overdue by %d days", overdueDays),
	})
	if err != nil {
		return nil, nil, err
	}
	return created, []shared.Event{s.createdEvent(created)}, nil
}

// AssessDamaged raises the damaged-copy fine for a loan. Idempotent per
// loan: a second assessment returns the existing fine.
func (s *Service) AssessDamaged(ctx context.Context, loanID, userID int64) (*Fine, []shared.Event, error) {
	return s.assessReplacement(ctx, loanID, userID, TypeDamaged)
}

// AssessLost raises the lost-copy fine for a loan. Idempotent per loan.
func (s *Service) AssessLost(ctx context.Context, loanID, userID int64) (*Fine, []shared.Event, error) {
	return s.assessReplacement(ctx, loanID, userID, TypeLost)
}

func (s *Service) assessReplacement(ctx context.Context, loanID, userID int64, t FineType) (*Fine, []shared.Event, error) {
	existing, err := s.repo.FindOpenByLoanAndType(ctx, loanID, t)
	if err == nil {
		return existing, nil, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, nil, err
	}

	pol, err := s.policies.Active(ctx)
	if err != nil {
		return nil, nil, err
	}

	pct := pol.DamagedFinePct
	reason := "Copy returned damaged"
	if t == TypeLost {
		pct = pol.LostFinePct
		reason = "Copy reported lost"
	}

	created, err := s.repo.Insert(ctx, Fine{
		UserID: userID,
		LoanID: &loanID,
		Type:   t,
		Status: StatusPending,
		Amount: s.bookPrice * pct / 100,
		Reason: reason,
	})
	if err != nil {
		return nil, nil, err
	}
	return created, []shared.Event{s.createdEvent(created)}, nil
}

// CreateCustom raises a manual fine entered at the desk.
func (s *Service) CreateCustom(ctx context.Context, userID int64, amount float64, reason string, createdBy int64) (*Fine, []shared.Event, error) {
	if amount <= 0 {
		return nil, nil, fmt.Errorf("%w: fine amount must be positive", shared.ErrValidation)
	}
	if reason == "" {
		return nil, nil, fmt.Errorf("%w: reason required", shared.ErrValidation)
	}

	created, err := s.repo.Insert(ctx, Fine{
		UserID:    userID,
		Type:      TypeCustom,
		Status:    StatusPending,
		Amount:    amount,
		Reason:    reason,
		CreatedBy: &createdBy,
	})
	if err != nil {
		return nil, nil, err
	}
	return created, []shared.Event{s.createdEvent(created)}, nil
}

// Pay credits a payment against a fine. Partial payments are allowed and
// overpayments are recorded as received without producing a credit
// balance. Fully settled loan fines are mirrored back onto the loan.
func (s *Service) Pay(ctx context.Context, fineID int64, amount float64) (*Fine, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: payment amount must be positive", shared.ErrValidation)
	}

	f, err := s.repo.ApplyPayment(ctx, fineID, amount)
	if err != nil {
		return nil, err
	}

	if f.Status == StatusPaid && f.LoanID != nil && s.loans != nil {
		if err := s.loans.MarkFineSettled(ctx, *f.LoanID); err != nil {
			return f, err
		}
	}
	return f, nil
}

// Revert backs a refunded payment out of a fine.
func (s *Service) Revert(ctx context.Context, fineID int64, amount float64) (*Fine, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: revert amount must be positive", shared.ErrValidation)
	}
	return s.repo.RevertPayment(ctx, fineID, amount)
}

// Waive forgives the outstanding balance of a fine. The waiving staff
// member and their reason are kept on the record.
func (s *Service) Waive(ctx context.Context, fineID, actorID int64, reason string) (*Fine, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: reason required", shared.ErrValidation)
	}
	f, err := s.repo.Waive(ctx, fineID, actorID, reason)
	if err != nil {
		return nil, err
	}
	if f.LoanID != nil && s.loans != nil {
		if err := s.loans.MarkFineSettled(ctx, *f.LoanID); err != nil {
			return f, err
		}
	}
	return f, nil
}

// HasUnpaid reports whether the user has any fine still carrying a balance.
func (s *Service) HasUnpaid(ctx context.Context, userID int64) (bool, error) {
	n, err := s.repo.CountUnpaidByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Get returns a fine by id.
func (s *Service) Get(ctx context.Context, id int64) (*Fine, error) {
	return s.repo.Get(ctx, id)
}

// ListByUser returns a user's fines.
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]Fine, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Outstanding returns the total a user still owes across unsettled fines.
func (s *Service) Outstanding(ctx context.Context, userID int64) (float64, error) {
	list, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, f := range list {
		if !f.Status.Settled() {
			total += f.Remaining()
		}
	}
	return total, nil
}

// Reminders produces one reminder event per unsettled fine. Run daily by
// the scheduler.
func (s *Service) Reminders(ctx context.Context) ([]shared.Event, error) {
	unpaid, err := s.repo.ListUnpaid(ctx)
	if err != nil {
		return nil, err
	}

	events := make([]shared.Event, 0, len(unpaid))
	for _, f := range unpaid {
		events = append(events, shared.Event{
			Kind:       shared.EventFineReminder,
			UserID:     f.UserID,
			Subject:    "Outstanding library fine",
			Body:       s.printer.Sprintf("You have an outstanding fine of %.2f (%s). Please settle it to keep borrowing.", f.Remaining(), f.Reason),
			Meta:       map[string]any{"fine_id": f.ID},
			OccurredAt: s.now(),
		})
	}
	return events, nil
}

func (s *Service) createdEvent(f *Fine) shared.Event {
	return shared.Event{
		Kind:       shared.EventFineCreated,
		UserID:     f.UserID,
		Subject:    "Library fine issued",
		Body:       s.printer.Sprintf("A fine of %.2f has been added to your account: %s.", f.Amount, f.Reason),
		Meta:       map[string]any{"fine_id": f.ID},
		OccurredAt: s.now(),
	}
}
