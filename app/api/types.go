package api

import (
	"context"
	"time"

	"github.com/lysyi3m/content-comb/app/content"
	"github.com/lysyi3m/content-comb/app/database"
	"github.com/lysyi3m/content-comb/app/discovery"
	"github.com/lysyi3m/content-comb/app/feed"
	"github.com/lysyi3m/content-comb/app/metadata"
	"github.com/lysyi3m/content-comb/app/ratelimit"
	"github.com/lysyi3m/content-comb/app/scheduling"
	"github.com/lysyi3m/content-comb/app/tasks"
)

type ContentService interface {
	List(ctx context.Context, filter database.ContentFilter) ([]database.ContentRecord, error)
	Approve(ctx context.Context, id string) (*database.ContentRecord, error)
	Reject(ctx context.Context, id string) (*database.ContentRecord, error)
	Retry(ctx context.Context, id string) (*database.ContentRecord, error)
	Ingest(ctx context.Context, items []discovery.Item, autoApprove float64) (content.IngestReport, error)
}

type QueueService interface {
	Schedule(ctx context.Context, contentID string, at time.Time, provider string) (*database.QueueItem, error)
	Cancel(ctx context.Context, itemID string) (*database.QueueItem, error)
	List(ctx context.Context, filter database.QueueFilter) ([]database.QueueItem, error)
}

type RateLimiter interface {
	Check(ctx context.Context, key string, maxRequests int, window time.Duration) ratelimit.Result
	Reset(ctx context.Context, key string) error
}

type StatsStore interface {
	Content() database.ContentRepository
	Queue() database.QueueRepository
	Ping(ctx context.Context) error
}

type SourceRegistry interface {
	tasks.SourceProvider
	Count() int
}

var (
	_ ContentService = (*content.Service)(nil)
	_ QueueService   = (*scheduling.Queue)(nil)
	_ RateLimiter    = (*ratelimit.Limiter)(nil)
	_ StatsStore     = (*database.Store)(nil)
)

type Handler struct {
	content    ContentService
	queue      QueueService
	limiter    RateLimiter
	store      StatsStore
	sources    SourceRegistry
	discoverer tasks.Discoverer
	scheduler  tasks.TaskSchedulerInterface
	settings   tasks.DiscoverSettings
	feed       *feed.Generator
}

type checkRequest struct {
	Key         string `json:"key" binding:"required"`
	MaxRequests int    `json:"maxRequests" binding:"required,min=1"`
	WindowMs    int64  `json:"windowMs" binding:"required,min=1"`
}

type checkResponse struct {
	Allowed    bool  `json:"allowed"`
	Remaining  int   `json:"remaining"`
	ResetTime  int64 `json:"resetTime"` // epoch ms
	RetryAfter int   `json:"retryAfter,omitempty"`
}

type resetRequest struct {
	Key string `json:"key" binding:"required"`
}

type scheduleRequest struct {
	At       time.Time `json:"at" binding:"required"`
	Provider string    `json:"provider"`
}

type discoverRequest struct {
	Sources  []string `json:"sources"`
	MaxItems int      `json:"max_items"`
	Persist  bool     `json:"persist"`
}

type contentResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Status       string         `json:"status"`
	Source       string         `json:"source"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	URL          string         `json:"url,omitempty"`
	MediaURL     string         `json:"media_url,omitempty"`
	Author       string         `json:"author,omitempty"`
	QualityScore float64        `json:"quality_score"`
	Tags         []string       `json:"tags,omitempty"`
	Metadata     metadata.Value `json:"metadata"`
	LastError    string         `json:"last_error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	ScheduledAt  *time.Time     `json:"scheduled_at,omitempty"`
	PostedAt     *time.Time     `json:"posted_at,omitempty"`
}

func newContentResponse(rec *database.ContentRecord) contentResponse {
	return contentResponse{
		ID:           rec.ID,
		Type:         rec.Type,
		Status:       string(rec.Status),
		Source:       rec.SourceName,
		Title:        rec.Title,
		Description:  rec.Description,
		URL:          rec.URL,
		MediaURL:     rec.MediaURL,
		Author:       rec.Author,
		QualityScore: rec.QualityScore,
		Tags:         rec.Tags,
		Metadata:     metadata.Of(rec.Metadata),
		LastError:    rec.LastError,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		ScheduledAt:  rec.ScheduledAt,
		PostedAt:     rec.PostedAt,
	}
}

type queueItemResponse struct {
	ID             string    `json:"id"`
	ContentID      string    `json:"content_id"`
	Provider       string    `json:"provider"`
	ScheduledTime  time.Time `json:"scheduled_time"`
	Status         string    `json:"status"`
	ExternalPostID string    `json:"external_post_id,omitempty"`
	RetryCount     int       `json:"retry_count"`
	LastError      string    `json:"last_error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func newQueueItemResponse(item *database.QueueItem) queueItemResponse {
	return queueItemResponse{
		ID:             item.ID,
		ContentID:      item.ContentID,
		Provider:       item.Provider,
		ScheduledTime:  item.ScheduledTime,
		Status:         string(item.Status),
		ExternalPostID: item.ExternalPostID,
		RetryCount:     item.RetryCount,
		LastError:      item.LastError,
		UpdatedAt:      item.UpdatedAt,
	}
}

type itemResponse struct {
	Title        string    `json:"title"`
	URL          string    `json:"url,omitempty"`
	Source       string    `json:"source"`
	ContentType  string    `json:"content_type"`
	MediaURLs    []string  `json:"media_urls,omitempty"`
	QualityScore float64   `json:"quality_score"`
	CreatedAt    time.Time `json:"created_at"`
}
