// Package notify stores outbound user notifications and delivers them
// through the background queue.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openshelf/openshelf/internal/shared"
)

// TaskTypeDeliver is the queue task type for delivering one stored
// notification.
const TaskTypeDeliver = "notify:deliver"

// DeliverPayload identifies the notification a delivery task should send.
type DeliverPayload struct {
	NotificationID int64 `json:"notification_id"`
}

// NewDeliverTask constructs an Asynq task for a stored notification.
func NewDeliverTask(notificationID int64) (*asynq.Task, error) {
	data, err := json.Marshal(DeliverPayload{NotificationID: notificationID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDeliver, data), nil
}

// Sender performs the actual delivery of one notification.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// LogSender writes notifications to the application log. It stands in for
// a mail or push integration in development and tests.
type LogSender struct {
	Logger *slog.Logger
}

// Send implements Sender.
func (s LogSender) Send(_ context.Context, n Notification) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		slog.Int64("user_id", n.UserID),
		slog.String("kind", n.Kind),
		slog.String("subject", n.Subject),
		slog.String("body", n.Body),
	)
	return nil
}

// RepositoryPort defines data access methods for notifications.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (*Notification, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]Notification, error)
	ListRetryable(ctx context.Context) ([]Notification, error)
	Insert(ctx context.Context, n Notification) (*Notification, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64) error
}

// Enqueuer submits delivery tasks to the queue.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher persists circulation events as notifications and queues their
// delivery. It implements shared.EventSink; services hand it events only
// after their own work has committed, so nothing gets announced that did
// not happen.
type Dispatcher struct {
	logger *slog.Logger
	repo   RepositoryPort
	queue  Enqueuer
	sender Sender
	now    func() time.Time
}

// NewDispatcher builds a Dispatcher instance. queue may be nil, in which
// case notifications are stored but only picked up by the retry sweep.
func NewDispatcher(logger *slog.Logger, repo RepositoryPort, queue Enqueuer, sender Sender) *Dispatcher {
	if sender == nil {
		sender = LogSender{Logger: logger}
	}
	return &Dispatcher{logger: logger, repo: repo, queue: queue, sender: sender, now: time.Now}
}

// Dispatch stores each event and enqueues its delivery. Dispatch is
// best-effort: a storage or queue failure is logged, never propagated back
// into the operation that produced the event.
func (d *Dispatcher) Dispatch(ctx context.Context, events ...shared.Event) {
	for _, ev := range events {
		n, err := d.repo.Insert(ctx, Notification{
			UserID:  ev.UserID,
			Kind:    string(ev.Kind),
			Subject: ev.Subject,
			Body:    ev.Body,
			Meta:    ev.Meta,
		})
		if err != nil {
			d.logger.Error("store notification",
				slog.String("kind", string(ev.Kind)),
				slog.Any("error", err))
			continue
		}
		d.enqueue(ctx, n.ID)
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, notificationID int64) {
	if d.queue == nil {
		return
	}
	task, err := NewDeliverTask(notificationID)
	if err != nil {
		d.logger.Error("build delivery task", slog.Any("error", err))
		return
	}
	if _, err := d.queue.EnqueueContext(ctx, task); err != nil {
		d.logger.Error("enqueue delivery task",
			slog.Int64("notification_id", notificationID),
			slog.Any("error", err))
	}
}

// HandleDeliverTask processes one queued delivery.
func (d *Dispatcher) HandleDeliverTask(ctx context.Context, t *asynq.Task) error {
	var payload DeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	return d.Deliver(ctx, payload.NotificationID)
}

// Deliver sends a stored notification and records the outcome.
func (d *Dispatcher) Deliver(ctx context.Context, id int64) error {
	n, err := d.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return asynq.SkipRetry
		}
		return err
	}
	if n.Status == StatusSent {
		return nil
	}

	if err := d.sender.Send(ctx, *n); err != nil {
		if markErr := d.repo.MarkFailed(ctx, id); markErr != nil {
			d.logger.Error("mark notification failed", slog.Any("error", markErr))
		}
		return err
	}
	return d.repo.MarkSent(ctx, id, d.now())
}

// RetryFailed re-queues failed notifications still under the attempt cap.
// Run periodically by the scheduler.
func (d *Dispatcher) RetryFailed(ctx context.Context) (int, error) {
	failed, err := d.repo.ListRetryable(ctx)
	if err != nil {
		return 0, err
	}
	for _, n := range failed {
		d.enqueue(ctx, n.ID)
	}
	return len(failed), nil
}

// ListByUser returns a user's recent notifications.
func (d *Dispatcher) ListByUser(ctx context.Context, userID int64, limit int) ([]Notification, error) {
	return d.repo.ListByUser(ctx, userID, limit)
}
