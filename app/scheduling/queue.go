package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/content-comb/app/content"
	"github.com/lysyi3m/content-comb/app/database"
	"github.com/lysyi3m/content-comb/app/publisher"
	"github.com/lysyi3m/content-comb/app/ratelimit"
)

const (
	DefaultMaxRetries = 3
	DefaultProvider   = publisher.ProviderFacebook

	// publishResource is the rate-limited resource of every provider.
	publishResource = "feed"
)

// ErrUnknownProvider is returned when scheduling for a provider that has no
// registered publisher.
var ErrUnknownProvider = errors.New("unknown provider")

// Store is the persistence the queue needs. Writes that touch both a queue
// item and its content record go through WithTx.
type Store interface {
	Content() database.ContentRepository
	Queue() database.QueueRepository
	WithTx(ctx context.Context, fn func(tx database.Tx) error) error
}

type Limiter interface {
	Check(ctx context.Context, key string, maxRequests int, window time.Duration) ratelimit.Result
}

type Limit struct {
	MaxRequests int
	Window      time.Duration
}

type Config struct {
	MaxRetries      int
	DefaultProvider string
	DefaultLimit    Limit
	Limits          map[string]Limit // per provider, overrides DefaultLimit
}

type Queue struct {
	store      Store
	publishers publisher.Registry
	limiter    Limiter
	cfg        Config
	now        func() time.Time
}

func NewQueue(store Store, publishers publisher.Registry, limiter Limiter, cfg Config) *Queue {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = DefaultProvider
	}
	if cfg.DefaultLimit.MaxRequests <= 0 || cfg.DefaultLimit.Window <= 0 {
		cfg.DefaultLimit = Limit{MaxRequests: 10, Window: time.Hour}
	}
	return &Queue{
		store:      store,
		publishers: publishers,
		limiter:    limiter,
		cfg:        cfg,
		now:        time.Now,
	}
}

// SetClock replaces the time source used for bookkeeping timestamps.
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}

func (q *Queue) limitFor(provider string) Limit {
	if l, ok := q.cfg.Limits[provider]; ok && l.MaxRequests > 0 && l.Window > 0 {
		return l
	}
	return q.cfg.DefaultLimit
}

// Schedule queues an approved content record for posting at the given time.
// The record moves to scheduled in the same transaction.
func (q *Queue) Schedule(ctx context.Context, contentID string, at time.Time, provider string) (*database.QueueItem, error) {
	if provider == "" {
		provider = q.cfg.DefaultProvider
	}
	if _, ok := q.publishers.Get(provider); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	now := q.now()
	item := &database.QueueItem{
		ID:            uuid.NewString(),
		ContentID:     contentID,
		Provider:      provider,
		ScheduledTime: at,
		Status:        database.QueueQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := q.store.WithTx(ctx, func(tx database.Tx) error {
		rec, err := tx.Content().Get(ctx, contentID)
		if err != nil {
			return err
		}

		active, err := tx.Queue().HasActive(ctx, contentID)
		if err != nil {
			return err
		}
		if active {
			return database.ErrAlreadyScheduled
		}

		if rec.Status != database.ContentApproved {
			return &content.TransitionError{Entity: "content", ID: contentID, From: string(rec.Status), To: string(database.ContentScheduled)}
		}

		if err := tx.Queue().Insert(ctx, item); err != nil {
			return err
		}

		scheduledAt := at
		return content.Transition(ctx, tx.Content(), database.ContentUpdate{
			ID: contentID, From: database.ContentApproved, To: database.ContentScheduled,
			At: now, ScheduledAt: &scheduledAt,
		})
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Content scheduled", "content_id", contentID, "item_id", item.ID, "provider", provider, "at", at)
	return item, nil
}

// Cancel stops a queue item. A record still waiting on it goes back to
// approved so it can be scheduled again.
func (q *Queue) Cancel(ctx context.Context, itemID string) (*database.QueueItem, error) {
	err := q.store.WithTx(ctx, func(tx database.Tx) error {
		item, err := tx.Queue().Get(ctx, itemID)
		if err != nil {
			return err
		}

		now := q.now()
		if err := move(ctx, tx.Queue(), database.QueueUpdate{ID: itemID, From: item.Status, To: database.QueueCancelled, At: now}); err != nil {
			return err
		}

		rec, err := tx.Content().Get(ctx, item.ContentID)
		if err != nil {
			return err
		}
		if rec.Status != database.ContentScheduled {
			return nil
		}
		return content.Transition(ctx, tx.Content(), database.ContentUpdate{
			ID: rec.ID, From: database.ContentScheduled, To: database.ContentApproved, At: now,
		})
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Queue item cancelled", "item_id", itemID)
	return q.store.Queue().Get(ctx, itemID)
}

func (q *Queue) Get(ctx context.Context, itemID string) (*database.QueueItem, error) {
	return q.store.Queue().Get(ctx, itemID)
}

func (q *Queue) List(ctx context.Context, filter database.QueueFilter) ([]database.QueueItem, error) {
	return q.store.Queue().List(ctx, filter)
}

// TickReport summarizes one ProcessDue run.
type TickReport struct {
	Due      int
	Posted   int
	Retried  int
	Failed   int
	Deferred int
	Skipped  int
}

// ProcessDue publishes every item due at now, earliest scheduled time first
// across all providers. Once a provider's rate limit is exhausted its
// remaining items are left for the next tick while other providers carry on.
// Persistence errors stop the run and are returned together with the work
// done so far.
func (q *Queue) ProcessDue(ctx context.Context, now time.Time) (TickReport, error) {
	var report TickReport

	due, err := q.store.Queue().ListDue(ctx, now)
	if err != nil {
		return report, fmt.Errorf("failed to list due items: %w", err)
	}
	report.Due = len(due)
	if len(due) == 0 {
		return report, nil
	}

	deferred := make(map[string]bool)
	for _, item := range due {
		if deferred[item.Provider] {
			report.Deferred++
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res, err := q.processItem(ctx, item)
		if err != nil {
			if errors.Is(err, database.ErrConcurrentUpdate) {
				slog.Warn("Queue item changed during processing, skipping", "item_id", item.ID, "error", err)
				report.Skipped++
				continue
			}
			return report, err
		}

		switch res {
		case outcomePosted:
			report.Posted++
		case outcomeRetried:
			report.Retried++
		case outcomeFailed:
			report.Failed++
		case outcomeDeferred:
			deferred[item.Provider] = true
			report.Deferred++
		}
	}

	slog.Info("Posting tick completed", "due", report.Due, "posted", report.Posted,
		"retried", report.Retried, "failed", report.Failed, "deferred", report.Deferred, "skipped", report.Skipped)
	return report, nil
}

type outcome int

const (
	outcomePosted outcome = iota
	outcomeRetried
	outcomeFailed
	outcomeDeferred
)

func (q *Queue) processItem(ctx context.Context, item database.QueueItem) (outcome, error) {
	if item.Status == database.QueueQueued {
		if err := move(ctx, q.store.Queue(), database.QueueUpdate{
			ID: item.ID, From: database.QueueQueued, To: database.QueueScheduled, At: q.now(),
		}); err != nil {
			return 0, err
		}
		item.Status = database.QueueScheduled
	}

	limit := q.limitFor(item.Provider)
	key := ratelimit.ProviderKey(item.Provider, publishResource)
	if res := q.limiter.Check(ctx, key, limit.MaxRequests, limit.Window); !res.Allowed {
		slog.Info("Provider rate limited, deferring", "provider", item.Provider, "retry_after", res.RetryAfter)
		return outcomeDeferred, nil
	}

	if err := move(ctx, q.store.Queue(), database.QueueUpdate{
		ID: item.ID, From: database.QueueScheduled, To: database.QueuePosting, At: q.now(),
	}); err != nil {
		return 0, err
	}

	result, publishErr := q.publish(ctx, item)
	if publishErr == nil {
		return outcomePosted, q.recordSuccess(ctx, item, result)
	}
	return q.recordFailure(ctx, item, publishErr)
}

func (q *Queue) publish(ctx context.Context, item database.QueueItem) (publisher.Result, error) {
	rec, err := q.store.Content().Get(ctx, item.ContentID)
	if err != nil {
		return publisher.Result{}, fmt.Errorf("failed to load content %s: %w", item.ContentID, err)
	}

	pub, ok := q.publishers.Get(item.Provider)
	if !ok {
		return publisher.Result{}, fmt.Errorf("no publisher for provider %q", item.Provider)
	}

	return pub.Publish(ctx, publisher.PostFor(rec))
}

func (q *Queue) recordSuccess(ctx context.Context, item database.QueueItem, result publisher.Result) error {
	now := q.now()
	err := q.store.WithTx(ctx, func(tx database.Tx) error {
		postID := result.ExternalPostID
		if err := move(ctx, tx.Queue(), database.QueueUpdate{
			ID: item.ID, From: database.QueuePosting, To: database.QueuePosted, At: now, ExternalPostID: &postID,
		}); err != nil {
			return err
		}
		return content.Transition(ctx, tx.Content(), database.ContentUpdate{
			ID: item.ContentID, From: database.ContentScheduled, To: database.ContentPosted, At: now, PostedAt: &now,
		})
	})
	if err != nil {
		// The post exists upstream even though the item was cancelled or
		// moved meanwhile, so keep its id in the log.
		slog.Error("Published post could not be recorded", "item_id", item.ID, "content_id", item.ContentID,
			"provider", item.Provider, "external_post_id", result.ExternalPostID, "error", err)
		return fmt.Errorf("failed to record post of item %s: %w", item.ID, err)
	}

	slog.Info("Content posted", "item_id", item.ID, "content_id", item.ContentID,
		"provider", item.Provider, "external_post_id", result.ExternalPostID, "replayed", result.Replayed)
	return nil
}

func (q *Queue) recordFailure(ctx context.Context, item database.QueueItem, publishErr error) (outcome, error) {
	now := q.now()
	retries := item.RetryCount + 1
	lastError := publishErr.Error()
	exhausted := retries >= q.cfg.MaxRetries

	err := q.store.WithTx(ctx, func(tx database.Tx) error {
		if err := move(ctx, tx.Queue(), database.QueueUpdate{
			ID: item.ID, From: database.QueuePosting, To: database.QueueFailed, At: now,
			RetryCount: &retries, LastError: &lastError,
		}); err != nil {
			return err
		}

		if !exhausted {
			return move(ctx, tx.Queue(), database.QueueUpdate{
				ID: item.ID, From: database.QueueFailed, To: database.QueueQueued, At: now,
			})
		}

		return content.Transition(ctx, tx.Content(), database.ContentUpdate{
			ID: item.ContentID, From: database.ContentScheduled, To: database.ContentFailed, At: now, LastError: &lastError,
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record failure of item %s: %w", item.ID, err)
	}

	if exhausted {
		slog.Error("Publishing failed, retries exhausted", "item_id", item.ID, "content_id", item.ContentID,
			"retries", retries, "error", publishErr)
		return outcomeFailed, nil
	}

	slog.Warn("Publishing failed, will retry", "item_id", item.ID, "content_id", item.ContentID,
		"retries", retries, "max_retries", q.cfg.MaxRetries, "error", publishErr)
	return outcomeRetried, nil
}

// RecoverStuck treats items left in posting for longer than after as failed
// attempts, so an interrupted tick does not strand them. The idempotency key
// prevents a duplicate post when the interrupted attempt did go through.
func (q *Queue) RecoverStuck(ctx context.Context, now time.Time, after time.Duration) (int, error) {
	posting, err := q.store.Queue().List(ctx, database.QueueFilter{Status: database.QueuePosting})
	if err != nil {
		return 0, fmt.Errorf("failed to list posting items: %w", err)
	}

	recovered := 0
	for _, item := range posting {
		if now.Sub(item.UpdatedAt) < after {
			continue
		}
		_, err := q.recordFailure(ctx, item, errors.New("interrupted while posting"))
		if err != nil {
			if errors.Is(err, database.ErrConcurrentUpdate) {
				continue
			}
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}
