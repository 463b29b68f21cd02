package loans

import (
	"context"
	"fmt"
	"time"

	"github.com/openshelf/openshelf/internal/copies"
	"github.com/openshelf/openshelf/internal/fines"
	"github.com/openshelf/openshelf/internal/holds"
	"github.com/openshelf/openshelf/internal/policy"
	"github.com/openshelf/openshelf/internal/shared"
)

// RepositoryPort defines data access methods for loans.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (*Loan, error)
	ListByUser(ctx context.Context, userID int64) ([]Loan, error)
	ListOpenByUser(ctx context.Context, userID int64) ([]Loan, error)
	CountOpenByUser(ctx context.Context, userID int64) (int, error)
	FindOpenByCopy(ctx context.Context, copyID int64) (*Loan, error)
	ListPastDue(ctx context.Context, asOf time.Time) ([]Loan, error)
	ListDueBetween(ctx context.Context, from, to time.Time) ([]Loan, error)
	Insert(ctx context.Context, l Loan) (*Loan, error)
	Close(ctx context.Context, id int64, to LoanStatus, returnedAt time.Time) error
	Renew(ctx context.Context, id int64, newDue time.Time) error
	MarkOverdue(ctx context.Context, id int64) error
}

// CopyRegistry is the slice of the copy service the ledger needs.
type CopyRegistry interface {
	Get(ctx context.Context, id int64) (*copies.Copy, error)
	MarkCheckedOut(ctx context.Context, id int64) error
	MarkCheckedOutFromHold(ctx context.Context, id int64) error
	MarkAvailable(ctx context.Context, id int64) error
	MarkOnHold(ctx context.Context, id int64) error
	MarkDamaged(ctx context.Context, id int64) error
	MarkLost(ctx context.Context, id int64) error
	RecordCondition(ctx context.Context, id int64, condition string) error
}

// HoldQueue is the slice of the hold service the ledger needs.
type HoldQueue interface {
	FindActiveForUser(ctx context.Context, bookID, userID int64) (*holds.Hold, error)
	Fulfill(ctx context.Context, id int64) error
	PeekNext(ctx context.Context, bookID int64) (*holds.Hold, error)
	MarkReady(ctx context.Context, id int64) error
}

// FineLedger is the slice of the fine service the ledger needs.
type FineLedger interface {
	HasUnpaid(ctx context.Context, userID int64) (bool, error)
	AccrueOverdue(ctx context.Context, loanID, userID int64, overdueDays int) (*fines.Fine, []shared.Event, error)
	AssessDamaged(ctx context.Context, loanID, userID int64) (*fines.Fine, []shared.Event, error)
	AssessLost(ctx context.Context, loanID, userID int64) (*fines.Fine, []shared.Event, error)
}

// PolicyProvider supplies the active circulation policy.
type PolicyProvider interface {
	Active(ctx context.Context) (*policy.Policy, error)
}

// ReturnCondition describes the state a copy comes back in.
type ReturnCondition string

const (
	ConditionGood    ReturnCondition = "good"
	ConditionFair    ReturnCondition = "fair"
	ConditionPoor    ReturnCondition = "poor"
	ConditionDamaged ReturnCondition = "damaged"
)

// Damaging reports whether a return in this condition takes the copy out
// of circulation and charges the borrower. Poor copies are treated the
// same as damaged ones.
func (c ReturnCondition) Damaging() bool {
	return c == ConditionDamaged || c == ConditionPoor
}

// Service is the loan ledger. Issue, return, renew and the overdue sweeps
// all live here; it orchestrates the copy registry, hold queue and fine
// ledger around each movement.
type Service struct {
	repo     RepositoryPort
	registry CopyRegistry
	queue    HoldQueue
	ledger   FineLedger
	policies PolicyProvider
	now      func() time.Time
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, registry CopyRegistry, queue HoldQueue, ledger FineLedger, policies PolicyProvider) *Service {
	return &Service{
		repo:     repo,
		registry: registry,
		queue:    queue,
		ledger:   ledger,
		policies: policies,
		now:      time.Now,
	}
}

// Issue checks a copy out to a user. Preconditions run in a fixed order:
// borrowing limit, copy availability, unpaid fines. The copy is claimed
// with a conditional status transition so two desks issuing the same copy
// cannot both succeed.
func (s *Service) Issue(ctx context.Context, copyID, userID int64, issuedBy int64) (*Loan, []shared.Event, error) {
	pol, err := s.policies.Active(ctx)
	if err != nil {
		return nil, nil, err
	}

	open, err := s.repo.CountOpenByUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if open >= pol.MaxBooksPerUser {
		return nil, nil, fmt.Errorf("%w: maximum books borrowed (%d)", shared.ErrBusiness, pol.MaxBooksPerUser)
	}

	c, err := s.registry.Get(ctx, copyID)
	if err != nil {
		return nil, nil, err
	}
	if c.IsReferenceOnly {
		return nil, nil, fmt.Errorf("%w: copy %d is for in-library use only", shared.ErrBusiness, copyID)
	}
	if !c.Lendable() {
		return nil, nil, fmt.Errorf("%w: copy %d is damaged and cannot be issued", shared.ErrBusiness, copyID)
	}
	if !c.Status.Loanable() {
		// A copy on hold may still be issued, but only to the head of
		// the queue it is parked for.
		if c.Status != copies.StatusOnHold {
			return nil, nil, fmt.Errorf("%w: copy %d is not available", shared.ErrConflict, copyID)
		}
		head, err := s.queue.PeekNext(ctx, c.BookID)
		if err != nil {
			return nil, nil, err
		}
		if head == nil || head.UserID != userID {
			ready, err := s.readyHoldFor(ctx, c.BookID, userID)
			if err != nil {
				return nil, nil, err
			}
			if ready == nil {
				return nil, nil, fmt.Errorf("%w: copy %d is held for another user", shared.ErrConflict, copyID)
			}
		}
	}

	blocked, err := s.ledger.HasUnpaid(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if blocked {
		return nil, nil, fmt.Errorf("%w: user has unpaid fines", shared.ErrBusiness)
	}

	if c.Status == copies.StatusOnHold {
		if err := s.registry.MarkCheckedOutFromHold(ctx, copyID); err != nil {
			return nil, nil, err
		}
	} else if err := s.registry.MarkCheckedOut(ctx, copyID); err != nil {
		return nil, nil, err
	}

	issuedAt := s.now()
	loan, err := s.repo.Insert(ctx, Loan{
		CopyID:      copyID,
		BookID:      c.BookID,
		UserID:      userID,
		Status:      StatusActive,
		IssuedAt:    issuedAt,
		DueAt:       issuedAt.AddDate(0, 0, pol.BorrowingPeriodDays),
		MaxRenewals: pol.RenewalLimit,
		IssuedBy:    &issuedBy,
	})
	if err != nil {
		// Release the claim so the copy is not stranded.
		_ = s.registry.MarkAvailable(ctx, copyID)
		return nil, nil, err
	}

	// An active hold by this user on this title is satisfied by the issue.
	if hold, err := s.queue.FindActiveForUser(ctx, c.BookID, userID); err == nil && hold != nil {
		if err := s.queue.Fulfill(ctx, hold.ID); err != nil {
			return loan, nil, err
		}
	} else if err != nil {
		return loan, nil, err
	}

	events := []shared.Event{{
		Kind:       shared.EventLoanIssued,
		UserID:     userID,
		Subject:    "Book issued",
		Body:       fmt.Sprintf("A copy has been issued to you. It is due back on %s.", loan.DueAt.Format("2 Jan 2006")),
		Meta:       map[string]any{"loan_id": loan.ID, "book_id": loan.BookID},
		OccurredAt: issuedAt,
	}}
	return loan, events, nil
}

func (s *Service) readyHoldFor(ctx context.Context, bookID, userID int64) (*holds.Hold, error) {
	h, err := s.queue.FindActiveForUser(ctx, bookID, userID)
	if err != nil {
		return nil, err
	}
	if h == nil || h.Status != holds.StatusReady {
		return nil, nil
	}
	return h, nil
}

// ReturnCopy records the return of a copy, keyed by the copy handed over
// at the desk. Overdue loans settle their final fine amount here; damaged
// and poor returns raise a replacement fine; otherwise the copy either
// parks for the next hold or goes straight back on the shelf. The observed
// condition is recorded on the copy either way.
func (s *Service) ReturnCopy(ctx context.Context, copyID int64, condition ReturnCondition) (*Loan, []shared.Event, error) {
	loan, err := s.repo.FindOpenByCopy(ctx, copyID)
	if err != nil {
		return nil, nil, err
	}
	loanID := loan.ID

	returnedAt := s.now()
	var events []shared.Event

	if overdue := loan.OverdueDays(returnedAt); overdue > 0 {
		_, evs, err := s.ledger.AccrueOverdue(ctx, loan.ID, loan.UserID, overdue)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, evs...)
	}

	if err := s.repo.Close(ctx, loanID, StatusReturned, returnedAt); err != nil {
		return nil, nil, err
	}

	if condition != "" {
		if err := s.registry.RecordCondition(ctx, loan.CopyID, string(condition)); err != nil {
			return nil, events, err
		}
	}

	if condition.Damaging() {
		if err := s.registry.MarkDamaged(ctx, loan.CopyID); err != nil {
			return nil, events, err
		}
		_, evs, err := s.ledger.AssessDamaged(ctx, loan.ID, loan.UserID)
		if err != nil {
			return nil, events, err
		}
		events = append(events, evs...)
	} else {
		head, err := s.queue.PeekNext(ctx, loan.BookID)
		if err != nil {
			return nil, events, err
		}
		if head != nil {
			if err := s.registry.MarkOnHold(ctx, loan.CopyID); err != nil {
				return nil, events, err
			}
			if err := s.queue.MarkReady(ctx, head.ID); err != nil {
				return nil, events, err
			}
			events = append(events, shared.Event{
				Kind:       shared.EventHoldReady,
				UserID:     head.UserID,
				Subject:    "Reserved book ready for pickup",
				Body:       fmt.Sprintf("A copy of the book you reserved is ready for pickup until %s.", head.ExpiresAt.Format("2 Jan 2006")),
				Meta:       map[string]any{"book_id": loan.BookID, "hold_id": head.ID},
				OccurredAt: returnedAt,
			})
		} else if err := s.registry.MarkAvailable(ctx, loan.CopyID); err != nil {
			return nil, events, err
		}
	}

	return s.reload(ctx, loanID, events)
}

// Renew extends a loan by one borrowing period from its current due date.
func (s *Service) Renew(ctx context.Context, loanID int64, actor shared.Actor) (*Loan, []shared.Event, error) {
	pol, err := s.policies.Active(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !pol.AllowRenewal {
		return nil, nil, fmt.Errorf("%w: renewals are disabled by policy", shared.ErrBusiness)
	}

	loan, err := s.repo.Get(ctx, loanID)
	if err != nil {
		return nil, nil, err
	}
	if !actor.IsStaff() && loan.UserID != actor.ID {
		return nil, nil, fmt.Errorf("%w: loan belongs to another user", shared.ErrForbidden)
	}
	if !loan.Status.Open() {
		return nil, nil, fmt.Errorf("%w: loan %d is not open", shared.ErrConflict, loanID)
	}
	if loan.Status == StatusOverdue {
		return nil, nil, fmt.Errorf("%w: overdue loans cannot be renewed", shared.ErrBusiness)
	}
	if loan.RenewalCount >= loan.MaxRenewals {
		return nil, nil, fmt.Errorf("%w: renewal limit reached (%d)", shared.ErrBusiness, loan.MaxRenewals)
	}

	head, err := s.queue.PeekNext(ctx, loan.BookID)
	if err != nil {
		return nil, nil, err
	}
	if head != nil {
		return nil, nil, fmt.Errorf("%w: book is requested by another user", shared.ErrConflict)
	}

	blocked, err := s.ledger.HasUnpaid(ctx, loan.UserID)
	if err != nil {
		return nil, nil, err
	}
	if blocked {
		return nil, nil, fmt.Errorf("%w: user has unpaid fines", shared.ErrBusiness)
	}

	newDue := loan.DueAt.AddDate(0, 0, pol.BorrowingPeriodDays)
	if err := s.repo.Renew(ctx, loanID, newDue); err != nil {
		return nil, nil, err
	}

	events := []shared.Event{{
		Kind:       shared.EventLoanRenewed,
		UserID:     loan.UserID,
		Subject:    "Loan renewed",
		Body:       fmt.Sprintf("Your loan has been renewed. The new due date is %s.", newDue.Format("2 Jan 2006")),
		Meta:       map[string]any{"loan_id": loan.ID, "book_id": loan.BookID},
		OccurredAt: s.now(),
	}}
	return s.reload(ctx, loanID, events)
}

// MarkLost closes a loan as lost and raises the replacement fine.
func (s *Service) MarkLost(ctx context.Context, loanID int64) (*Loan, []shared.Event, error) {
	loan, err := s.repo.Get(ctx, loanID)
	if err != nil {
		return nil, nil, err
	}
	if !loan.Status.Open() {
		return nil, nil, fmt.Errorf("%w: loan %d is not open", shared.ErrConflict, loanID)
	}

	if err := s.repo.Close(ctx, loanID, StatusLost, s.now()); err != nil {
		return nil, nil, err
	}
	if err := s.registry.MarkLost(ctx, loan.CopyID); err != nil {
		return nil, nil, err
	}
	_, events, err := s.ledger.AssessLost(ctx, loan.ID, loan.UserID)
	if err != nil {
		return nil, nil, err
	}
	return s.reload(ctx, loanID, events)
}

// SweepOverdue flags every open loan past its due date and accrues the
// overdue fine. A loan newly crossing into fineable territory produces a
// notification; loans already flagged only have their fine amount grow.
func (s *Service) SweepOverdue(ctx context.Context) ([]shared.Event, error) {
	pastDue, err := s.repo.ListPastDue(ctx, s.now())
	if err != nil {
		return nil, err
	}

	var events []shared.Event
	for _, loan := range pastDue {
		if loan.Status != StatusOverdue {
			if err := s.repo.MarkOverdue(ctx, loan.ID); err != nil {
				return events, err
			}
			events = append(events, shared.Event{
				Kind:       shared.EventLoanOverdue,
				UserID:     loan.UserID,
				Subject:    "Book overdue",
				Body:       fmt.Sprintf("Your loan was due on %s. Please return it as soon as possible.", loan.DueAt.Format("2 Jan 2006")),
				Meta:       map[string]any{"loan_id": loan.ID, "book_id": loan.BookID},
				OccurredAt: s.now(),
			})
		}

		_, evs, err := s.ledger.AccrueOverdue(ctx, loan.ID, loan.UserID, loan.OverdueDays(s.now()))
		if err != nil {
			return events, err
		}
		events = append(events, evs...)
	}
	return events, nil
}

// DueReminders produces a due-soon notice for every open loan falling due
// tomorrow. The window is a day wide so the daily run announces each loan
// exactly once.
func (s *Service) DueReminders(ctx context.Context) ([]shared.Event, error) {
	from := s.now().Add(24 * time.Hour)
	dueSoon, err := s.repo.ListDueBetween(ctx, from, from.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}

	events := make([]shared.Event, 0, len(dueSoon))
	for _, loan := range dueSoon {
		events = append(events, shared.Event{
			Kind:       shared.EventLoanDueSoon,
			UserID:     loan.UserID,
			Subject:    "Book due soon",
			Body:       fmt.Sprintf("Your loan is due back on %s.", loan.DueAt.Format("2 Jan 2006")),
			Meta:       map[string]any{"loan_id": loan.ID, "book_id": loan.BookID},
			OccurredAt: s.now(),
		})
	}
	return events, nil
}

// Get returns a loan by id.
func (s *Service) Get(ctx context.Context, id int64) (*Loan, error) {
	return s.repo.Get(ctx, id)
}

// ListByUser returns a user's loan history.
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]Loan, error) {
	return s.repo.ListByUser(ctx, userID)
}

// ListOpenByUser returns the loans a user currently has out.
func (s *Service) ListOpenByUser(ctx context.Context, userID int64) ([]Loan, error) {
	return s.repo.ListOpenByUser(ctx, userID)
}

// ListOverdue returns every open loan past its due date.
func (s *Service) ListOverdue(ctx context.Context) ([]Loan, error) {
	return s.repo.ListPastDue(ctx, s.now())
}

func (s *Service) reload(ctx context.Context, id int64, events []shared.Event) (*Loan, []shared.Event, error) {
	loan, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, events, err
	}
	return loan, events, nil
}
