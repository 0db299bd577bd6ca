package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/content-comb/app/scheduling"
)

type DueProcessor interface {
	ProcessDue(ctx context.Context, now time.Time) (scheduling.TickReport, error)
}

// PostDueTask is the posting tick. It is never retried: the queue keeps its
// own per-item retry bookkeeping and the next tick picks up what is left.
type PostDueTask struct {
	Task
	queue DueProcessor
	now   func() time.Time
}

func NewPostDueTask(trigger string, queue DueProcessor) *PostDueTask {
	task := NewTask(TaskTypePostDue, trigger)
	task.MaxRetries = 0

	return &PostDueTask{
		Task:  task,
		queue: queue,
		now:   time.Now,
	}
}

func (t *PostDueTask) Execute(ctx context.Context) error {
	report, err := t.queue.ProcessDue(ctx, t.now())
	if err != nil {
		return fmt.Errorf("posting tick failed after %d posted: %w", report.Posted, err)
	}

	if report.Due > 0 {
		slog.Info("Posting tick processed", "trigger", t.Trigger, "due", report.Due, "posted", report.Posted, "failed", report.Failed)
	}
	return nil
}
