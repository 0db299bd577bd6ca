package database

import (
	"time"

	"github.com/lysyi3m/content-comb/app/metadata"
)

type ContentStatus string

const (
	ContentPending    ContentStatus = "pending"
	ContentGenerating ContentStatus = "generating"
	ContentReady      ContentStatus = "ready"
	ContentApproved   ContentStatus = "approved"
	ContentRejected   ContentStatus = "rejected"
	ContentScheduled  ContentStatus = "scheduled"
	ContentPosted     ContentStatus = "posted"
	ContentFailed     ContentStatus = "failed"
)

var ContentStatuses = []ContentStatus{
	ContentPending, ContentGenerating, ContentReady, ContentApproved,
	ContentRejected, ContentScheduled, ContentPosted, ContentFailed,
}

type QueueStatus string

const (
	QueueQueued    QueueStatus = "queued"
	QueueScheduled QueueStatus = "scheduled"
	QueuePosting   QueueStatus = "posting"
	QueuePosted    QueueStatus = "posted"
	QueueFailed    QueueStatus = "failed"
	QueueCancelled QueueStatus = "cancelled"
)

var QueueStatuses = []QueueStatus{
	QueueQueued, QueueScheduled, QueuePosting, QueuePosted, QueueFailed, QueueCancelled,
}

type ContentRecord struct {
	ID              string
	NaturalKey      string // source + native id; empty for generated content
	Type            string // image, video, text, link
	SourceKind      string
	SourceName      string
	Title           string
	Description     string
	URL             string
	MediaURL        string
	Author          string
	QualityScore    float64
	Tags            []string
	Metadata        metadata.Metadata
	Status          ContentStatus
	LastError       string
	SourceCreatedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ScheduledAt     *time.Time
	PostedAt        *time.Time
}

type QueueItem struct {
	ID             string
	ContentID      string
	Provider       string
	ScheduledTime  time.Time
	Status         QueueStatus
	ExternalPostID string // set only after a successful publish
	RetryCount     int
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ContentUpdate moves a record from one status to another. Optional fields
// are written only when set.
type ContentUpdate struct {
	ID          string
	From        ContentStatus
	To          ContentStatus
	At          time.Time
	ScheduledAt *time.Time
	PostedAt    *time.Time
	LastError   *string
	Metadata    metadata.Metadata
}

// QueueUpdate moves a queue item from one status to another. Optional fields
// are written only when set.
type QueueUpdate struct {
	ID             string
	From           QueueStatus
	To             QueueStatus
	At             time.Time
	ExternalPostID *string
	RetryCount     *int
	LastError      *string
}

type ContentFilter struct {
	Status ContentStatus // empty for any
	Limit  int
	Offset int
	// ByPostedAt lists the most recently posted records first instead of
	// the most recently created. Unposted records sort last.
	ByPostedAt bool
}

type QueueFilter struct {
	Status    QueueStatus // empty for any
	ContentID string
	Limit     int
}
