package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// QueueRepo handles database operations for scheduling queue items
type QueueRepo struct {
	q querier
}

const queueColumns = `id, content_id, provider, scheduled_time, status, external_post_id,
	retry_count, last_error, created_at, updated_at`

func (r *QueueRepo) Insert(ctx context.Context, item *QueueItem) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO queue_items (
			id, content_id, provider, scheduled_time, status, external_post_id,
			retry_count, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.ContentID, item.Provider, toMillis(item.ScheduledTime), string(item.Status),
		item.ExternalPostID, item.RetryCount, item.LastError, toMillis(item.CreatedAt), toMillis(item.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyScheduled
		}
		return fmt.Errorf("failed to insert queue item: %w", err)
	}
	return nil
}

func (r *QueueRepo) Get(ctx context.Context, id string) (*QueueItem, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return item, nil
}

func (r *QueueRepo) List(ctx context.Context, filter QueueFilter) ([]QueueItem, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.ContentID != "" {
		where = append(where, "content_id = ?")
		args = append(args, filter.ContentID)
	}

	query := `SELECT ` + queueColumns + ` FROM queue_items`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY scheduled_time ASC, created_at ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	return r.query(ctx, query, args...)
}

func (r *QueueRepo) ListDue(ctx context.Context, now time.Time) ([]QueueItem, error) {
	return r.query(ctx, `
		SELECT `+queueColumns+` FROM queue_items
		WHERE status IN (?, ?) AND scheduled_time <= ?
		ORDER BY scheduled_time ASC, created_at ASC, id ASC
	`, string(QueueQueued), string(QueueScheduled), toMillis(now))
}

func (r *QueueRepo) HasActive(ctx context.Context, contentID string) (bool, error) {
	var exists int
	err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM queue_items WHERE content_id = ? AND status IN (?, ?, ?)
		)
	`, contentID, string(QueueQueued), string(QueueScheduled), string(QueuePosting)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active queue items: %w", err)
	}
	return exists == 1, nil
}

func (r *QueueRepo) CountByStatus(ctx context.Context) (map[QueueStatus]int, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue items: %w", err)
	}
	defer rows.Close()

	counts := make(map[QueueStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[QueueStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *QueueRepo) Update(ctx context.Context, u QueueUpdate) error {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(u.To), toMillis(u.At)}

	if u.ExternalPostID != nil {
		sets = append(sets, "external_post_id = ?")
		args = append(args, *u.ExternalPostID)
	}
	if u.RetryCount != nil {
		sets = append(sets, "retry_count = ?")
		args = append(args, *u.RetryCount)
	}
	if u.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *u.LastError)
	}

	args = append(args, u.ID, string(u.From))
	res, err := r.q.ExecContext(ctx,
		`UPDATE queue_items SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update queue item: %w", err)
	}

	return checkConditional(res)
}

func (r *QueueRepo) query(ctx context.Context, query string, args ...any) ([]QueueItem, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer rows.Close()

	var items []QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanQueueItem(s scanner) (*QueueItem, error) {
	var (
		item                                QueueItem
		status                              string
		scheduledTime, createdAt, updatedAt int64
	)
	err := s.Scan(&item.ID, &item.ContentID, &item.Provider, &scheduledTime, &status,
		&item.ExternalPostID, &item.RetryCount, &item.LastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	item.Status = QueueStatus(status)
	item.ScheduledTime = fromMillis(scheduledTime)
	item.CreatedAt = fromMillis(createdAt)
	item.UpdatedAt = fromMillis(updatedAt)
	return &item, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
