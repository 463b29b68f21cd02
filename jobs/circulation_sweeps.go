package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openshelf/openshelf/internal/shared"
)

// OverdueSweeper is the slice of the loan service the sweep jobs need.
type OverdueSweeper interface {
	SweepOverdue(ctx context.Context) ([]shared.Event, error)
	DueReminders(ctx context.Context) ([]shared.Event, error)
}

// HoldExpirer is the slice of the hold service the sweep jobs need.
type HoldExpirer interface {
	ExpireStale(ctx context.Context) ([]shared.Event, error)
}

// FineReminder is the slice of the fine service the sweep jobs need.
type FineReminder interface {
	Reminders(ctx context.Context) ([]shared.Event, error)
}

// PaymentCleaner is the slice of the payment service the sweep jobs need.
type PaymentCleaner interface {
	ExpirePending(ctx context.Context) (int, error)
}

// NotifyRetrier re-queues failed notification deliveries.
type NotifyRetrier interface {
	RetryFailed(ctx context.Context) (int, error)
}

// CirculationSweeps bundles the periodic maintenance jobs of the
// circulation engine.
type CirculationSweeps struct {
	Loans    OverdueSweeper
	Holds    HoldExpirer
	Fines    FineReminder
	Payments PaymentCleaner
	Notify   NotifyRetrier
	Events   shared.EventSink
	Logger   *slog.Logger
}

// HandleOverdueSweep flags overdue loans and accrues their fines.
func (s *CirculationSweeps) HandleOverdueSweep(ctx context.Context, _ *asynq.Task) error {
	if s == nil || s.Loans == nil {
		return errors.New("overdue sweep: handler not configured")
	}
	start := time.Now()
	events, err := s.Loans.SweepOverdue(ctx)
	s.dispatch(ctx, events)
	if err != nil {
		s.logger().Error("overdue sweep failed", slog.Any("error", err))
		return err
	}
	s.logger().Info("overdue sweep completed",
		slog.Int("notices", len(events)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// HandleDueReminders notifies borrowers about loans due within a day.
func (s *CirculationSweeps) HandleDueReminders(ctx context.Context, _ *asynq.Task) error {
	if s == nil || s.Loans == nil {
		return errors.New("due reminders: handler not configured")
	}
	events, err := s.Loans.DueReminders(ctx)
	if err != nil {
		s.logger().Error("due reminders failed", slog.Any("error", err))
		return err
	}
	s.dispatch(ctx, events)
	s.logger().Info("due reminders sent", slog.Int("count", len(events)))
	return nil
}

// HandleHoldExpiry closes hold requests past their expiry date.
func (s *CirculationSweeps) HandleHoldExpiry(ctx context.Context, _ *asynq.Task) error {
	if s == nil || s.Holds == nil {
		return errors.New("hold expiry: handler not configured")
	}
	events, err := s.Holds.ExpireStale(ctx)
	s.dispatch(ctx, events)
	if err != nil {
		s.logger().Error("hold expiry failed", slog.Any("error", err))
		return err
	}
	s.logger().Info("hold expiry completed", slog.Int("expired", len(events)))
	return nil
}

// HandleFineReminders nudges users carrying unpaid fines.
func (s *CirculationSweeps) HandleFineReminders(ctx context.Context, _ *asynq.Task) error {
	if s == nil || s.Fines == nil {
		return errors.New("fine reminders: handler not configured")
	}
	events, err := s.Fines.Reminders(ctx)
	if err != nil {
		s.logger().Error("fine reminders failed", slog.Any("error", err))
		return err
	}
	s.dispatch(ctx, events)
	s.logger().Info("fine reminders sent", slog.Int("count", len(events)))
	return nil
}

// HandlePaymentCleanup abandons gateway payments stuck in pending.
func (s *CirculationSweeps) HandlePaymentCleanup(ctx context.Context, _ *asynq.Task) error {
	if s == nil || s.Payments == nil {
		return errors.New("payment cleanup: handler not configured")
	}
	expired, err := s.Payments.ExpirePending(ctx)
	if err != nil {
		s.logger().Error("payment cleanup failed", slog.Any("error", err))
		return err
	}
	s.logger().Info("payment cleanup completed", slog.Int("expired", expired))
	return nil
}

// HandleNotifyRetry re-queues failed notification deliveries.
func (s *CirculationSweeps) HandleNotifyRetry(ctx context.Context, _ *asynq.Task) error {
	if s == nil || s.Notify == nil {
		return errors.New("notify retry: handler not configured")
	}
	requeued, err := s.Notify.RetryFailed(ctx)
	if err != nil {
		s.logger().Error("notify retry failed", slog.Any("error", err))
		return err
	}
	s.logger().Info("notify retry completed", slog.Int("requeued", requeued))
	return nil
}

func (s *CirculationSweeps) dispatch(ctx context.Context, events []shared.Event) {
	if s.Events == nil || len(events) == 0 {
		return
	}
	s.Events.Dispatch(ctx, events...)
}

func (s *CirculationSweeps) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
