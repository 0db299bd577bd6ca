package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lysyi3m/content-comb/app/metadata"
)

// ContentRepo handles database operations for content records
type ContentRepo struct {
	q querier
}

const contentColumns = `id, COALESCE(natural_key, ''), type, source_kind, source_name, title,
	description, url, media_url, author, quality_score, tags, metadata, status,
	last_error, source_created_at, created_at, updated_at, scheduled_at, posted_at`

func (r *ContentRepo) Insert(ctx context.Context, rec *ContentRecord) (bool, error) {
	tags, err := json.Marshal(nonNilTags(rec.Tags))
	if err != nil {
		return false, fmt.Errorf("failed to encode tags: %w", err)
	}
	meta, err := metadata.Marshal(rec.Metadata)
	if err != nil {
		return false, fmt.Errorf("failed to encode metadata: %w", err)
	}

	var naturalKey sql.NullString
	if rec.NaturalKey != "" {
		naturalKey = sql.NullString{String: rec.NaturalKey, Valid: true}
	}

	res, err := r.q.ExecContext(ctx, `
		INSERT INTO content_records (
			id, natural_key, type, source_kind, source_name, title, description,
			url, media_url, author, quality_score, tags, metadata, status,
			last_error, source_created_at, created_at, updated_at, scheduled_at, posted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, rec.ID, naturalKey, rec.Type, rec.SourceKind, rec.SourceName, rec.Title, rec.Description,
		rec.URL, rec.MediaURL, rec.Author, rec.QualityScore, string(tags), string(meta), string(rec.Status),
		rec.LastError, nullMillis(rec.SourceCreatedAt), toMillis(rec.CreatedAt), toMillis(rec.UpdatedAt),
		nullMillis(rec.ScheduledAt), nullMillis(rec.PostedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert content record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (r *ContentRepo) Get(ctx context.Context, id string) (*ContentRecord, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM content_records WHERE id = ?`, id)
	rec, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content record: %w", err)
	}
	return rec, nil
}

func (r *ContentRepo) List(ctx context.Context, filter ContentFilter) ([]ContentRecord, error) {
	query := `SELECT ` + contentColumns + ` FROM content_records`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.ByPostedAt {
		query += ` ORDER BY posted_at IS NULL, posted_at DESC, created_at DESC, id ASC`
	} else {
		query += ` ORDER BY created_at DESC, id ASC`
	}
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list content records: %w", err)
	}
	defer rows.Close()

	var records []ContentRecord
	for rows.Next() {
		rec, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (r *ContentRepo) CountByStatus(ctx context.Context) (map[ContentStatus]int, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT status, COUNT(*) FROM content_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count content records: %w", err)
	}
	defer rows.Close()

	counts := make(map[ContentStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[ContentStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *ContentRepo) UpdateStatus(ctx context.Context, u ContentUpdate) error {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(u.To), toMillis(u.At)}

	if u.ScheduledAt != nil {
		sets = append(sets, "scheduled_at = ?")
		args = append(args, toMillis(*u.ScheduledAt))
	}
	if u.PostedAt != nil {
		sets = append(sets, "posted_at = ?")
		args = append(args, toMillis(*u.PostedAt))
	}
	if u.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *u.LastError)
	}
	if u.Metadata != nil {
		meta, err := metadata.Marshal(u.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		sets = append(sets, "metadata = ?")
		args = append(args, string(meta))
	}

	args = append(args, u.ID, string(u.From))
	res, err := r.q.ExecContext(ctx,
		`UPDATE content_records SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update content record: %w", err)
	}

	return checkConditional(res)
}

func (r *ContentRepo) DeleteStale(ctx context.Context, statuses []ContentStatus, cutoff time.Time) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, 0, len(statuses)+1)
	for i, s := range statuses {
		placeholders[i] = "?"
		args = append(args, string(s))
	}
	args = append(args, toMillis(cutoff))

	res, err := r.q.ExecContext(ctx, `
		DELETE FROM content_records
		WHERE status IN (`+strings.Join(placeholders, ", ")+`)
			AND updated_at < ?
			AND NOT EXISTS (SELECT 1 FROM queue_items q WHERE q.content_id = content_records.id)
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale content: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContent(s scanner) (*ContentRecord, error) {
	var (
		rec                                  ContentRecord
		status, tags, meta                   string
		sourceCreated, scheduledAt, postedAt sql.NullInt64
		createdAt, updatedAt                 int64
	)
	err := s.Scan(&rec.ID, &rec.NaturalKey, &rec.Type, &rec.SourceKind, &rec.SourceName, &rec.Title,
		&rec.Description, &rec.URL, &rec.MediaURL, &rec.Author, &rec.QualityScore, &tags, &meta, &status,
		&rec.LastError, &sourceCreated, &createdAt, &updatedAt, &scheduledAt, &postedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	rec.Metadata, err = metadata.Unmarshal([]byte(meta))
	if err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	rec.Status = ContentStatus(status)
	rec.SourceCreatedAt = fromNullMillis(sourceCreated)
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	rec.ScheduledAt = fromNullMillis(scheduledAt)
	rec.PostedAt = fromNullMillis(postedAt)
	return &rec, nil
}

func checkConditional(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
