package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/content-comb/app/database"
)

type StaleContentDeleter interface {
	DeleteStale(ctx context.Context, statuses []database.ContentStatus, cutoff time.Time) (int64, error)
}

type StuckRecoverer interface {
	RecoverStuck(ctx context.Context, now time.Time, after time.Duration) (int, error)
}

type Pruner interface {
	Prune(ctx context.Context, now time.Time) int
}

type CleanupSettings struct {
	Retention  time.Duration // rejected and never-reviewed records older than this are removed
	StuckAfter time.Duration
}

// CleanupTask removes stale records, requeues items interrupted while
// posting and drops expired rate-limit windows.
type CleanupTask struct {
	Task
	content  StaleContentDeleter
	queue    StuckRecoverer
	limiter  Pruner
	settings CleanupSettings
	now      func() time.Time
}

func NewCleanupTask(trigger string, content StaleContentDeleter, queue StuckRecoverer, limiter Pruner, settings CleanupSettings) *CleanupTask {
	if settings.Retention <= 0 {
		settings.Retention = 30 * 24 * time.Hour
	}
	if settings.StuckAfter <= 0 {
		settings.StuckAfter = 15 * time.Minute
	}
	return &CleanupTask{
		Task:     NewTask(TaskTypeCleanup, trigger),
		content:  content,
		queue:    queue,
		limiter:  limiter,
		settings: settings,
		now:      time.Now,
	}
}

func (t *CleanupTask) Execute(ctx context.Context) error {
	now := t.now()

	recovered, err := t.queue.RecoverStuck(ctx, now, t.settings.StuckAfter)
	if err != nil {
		return fmt.Errorf("failed to recover stuck queue items: %w", err)
	}

	deleted, err := t.content.DeleteStale(ctx,
		[]database.ContentStatus{database.ContentRejected, database.ContentPending, database.ContentReady},
		now.Add(-t.settings.Retention))
	if err != nil {
		return fmt.Errorf("failed to delete stale content: %w", err)
	}

	pruned := t.limiter.Prune(ctx, now)

	slog.Info("Cleanup completed", "recovered", recovered, "deleted", deleted, "pruned_windows", pruned)
	return nil
}
