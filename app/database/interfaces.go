package database

import (
	"context"
	"time"
)

type ContentRepository interface {
	// Insert stores a new record. It returns false without error when a
	// record with the same natural key already exists.
	Insert(ctx context.Context, record *ContentRecord) (bool, error)
	Get(ctx context.Context, id string) (*ContentRecord, error)
	List(ctx context.Context, filter ContentFilter) ([]ContentRecord, error)
	CountByStatus(ctx context.Context) (map[ContentStatus]int, error)

	// UpdateStatus applies update only while the record is still in
	// update.From, otherwise it returns ErrConcurrentUpdate.
	UpdateStatus(ctx context.Context, update ContentUpdate) error

	// DeleteStale removes records in one of statuses last updated before
	// cutoff that were never scheduled.
	DeleteStale(ctx context.Context, statuses []ContentStatus, cutoff time.Time) (int64, error)
}

type QueueRepository interface {
	Insert(ctx context.Context, item *QueueItem) error
	Get(ctx context.Context, id string) (*QueueItem, error)
	List(ctx context.Context, filter QueueFilter) ([]QueueItem, error)
	CountByStatus(ctx context.Context) (map[QueueStatus]int, error)

	// ListDue returns queued and scheduled items due at now, earliest first.
	ListDue(ctx context.Context, now time.Time) ([]QueueItem, error)
	HasActive(ctx context.Context, contentID string) (bool, error)

	// Update applies update only while the item is still in update.From,
	// otherwise it returns ErrConcurrentUpdate.
	Update(ctx context.Context, update QueueUpdate) error
}

// Tx exposes repositories bound to one transaction.
type Tx interface {
	Content() ContentRepository
	Queue() QueueRepository
}
