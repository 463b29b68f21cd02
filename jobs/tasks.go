// Package jobs wires the background queue: the periodic circulation
// sweeps and the Asynq server/scheduler hosting them.
package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskOverdueSweep flags overdue loans and accrues their fines.
	TaskOverdueSweep = "loans:overdue_sweep"
	// TaskDueReminders notifies borrowers about loans due within a day.
	TaskDueReminders = "loans:due_reminders"
	// TaskHoldExpiry closes hold requests past their expiry.
	TaskHoldExpiry = "holds:expire"
	// TaskFineReminders nudges users carrying unpaid fines.
	TaskFineReminders = "fines:reminders"
	// TaskPaymentCleanup abandons gateway payments stuck in pending.
	TaskPaymentCleanup = "payments:cleanup"
	// TaskNotifyRetry re-queues failed notification deliveries.
	TaskNotifyRetry = "notify:retry"
)

// Cron expressions for the periodic sweeps. The scheduler runs in UTC.
const (
	CronOverdueSweep   = "0 * * * *"
	CronDueReminders   = "0 9 * * *"
	CronHoldExpiry     = "30 0 * * *"
	CronFineReminders  = "0 10 * * *"
	CronPaymentCleanup = "0 */6 * * *"
	CronNotifyRetry    = "*/30 * * * *"
)

// NewSweepTask constructs a payloadless periodic task.
func NewSweepTask(taskType string) *asynq.Task {
	return asynq.NewTask(taskType, nil)
}
