package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/content-comb/app/database"
	"github.com/lysyi3m/content-comb/app/discovery"
	"github.com/lysyi3m/content-comb/app/metadata"
	"github.com/lysyi3m/content-comb/app/metrics"
)

// Store is the persistence the service needs.
type Store interface {
	Content() database.ContentRepository
}

// Service owns the content record lifecycle outside of posting.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

type IngestReport struct {
	Inserted     int
	Duplicates   int
	AutoApproved int
}

// Ingest stores discovered items as content records. Items with media start
// ready, others pending generation. Items scoring at or above autoApprove are
// approved immediately; zero disables auto-approval. Items whose natural key
// is already stored are skipped.
func (s *Service) Ingest(ctx context.Context, items []discovery.Item, autoApprove float64) (IngestReport, error) {
	var report IngestReport

	for _, item := range items {
		rec := s.recordFromItem(item)
		if autoApprove > 0 && item.QualityScore >= autoApprove {
			rec.Status = database.ContentApproved
		}

		inserted, err := s.store.Content().Insert(ctx, rec)
		if err != nil {
			return report, fmt.Errorf("failed to store item %s: %w", item.NaturalKey(), err)
		}
		if !inserted {
			report.Duplicates++
			continue
		}

		report.Inserted++
		if rec.Status == database.ContentApproved {
			report.AutoApproved++
		}
	}

	metrics.DiscoveredItems.WithLabelValues("stored").Add(float64(report.Inserted))
	metrics.DiscoveredItems.WithLabelValues("already_stored").Add(float64(report.Duplicates))

	slog.Debug("Ingested discovered items", "inserted", report.Inserted, "duplicates", report.Duplicates, "auto_approved", report.AutoApproved)
	return report, nil
}

func (s *Service) recordFromItem(item discovery.Item) *database.ContentRecord {
	now := s.now()
	rec := &database.ContentRecord{
		ID:           uuid.NewString(),
		NaturalKey:   item.NaturalKey(),
		Type:         string(item.ContentType),
		SourceKind:   string(item.SourceKind),
		SourceName:   item.SourceName,
		Title:        item.Title,
		Description:  item.Description,
		URL:          item.URL,
		Author:       item.Author,
		QualityScore: item.QualityScore,
		Tags:         item.Tags,
		Metadata:     item.Metadata,
		Status:       database.ContentPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !item.CreatedAt.IsZero() {
		created := item.CreatedAt
		rec.SourceCreatedAt = &created
	}
	if item.HasMedia() {
		rec.MediaURL = item.MediaURLs[0]
		rec.Status = database.ContentReady
	}
	return rec
}

func (s *Service) Get(ctx context.Context, id string) (*database.ContentRecord, error) {
	return s.store.Content().Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter database.ContentFilter) ([]database.ContentRecord, error) {
	return s.store.Content().List(ctx, filter)
}

func (s *Service) Approve(ctx context.Context, id string) (*database.ContentRecord, error) {
	return s.transition(ctx, id, database.ContentApproved, nil)
}

func (s *Service) Reject(ctx context.Context, id string) (*database.ContentRecord, error) {
	return s.transition(ctx, id, database.ContentRejected, nil)
}

// Retry sends a failed record back to pending and clears its last error.
func (s *Service) Retry(ctx context.Context, id string) (*database.ContentRecord, error) {
	return s.transition(ctx, id, database.ContentPending, func(u *database.ContentUpdate) {
		empty := ""
		u.LastError = &empty
	})
}

// MarkGenerating hands a pending record to the generation collaborator.
func (s *Service) MarkGenerating(ctx context.Context, id string) (*database.ContentRecord, error) {
	return s.transition(ctx, id, database.ContentGenerating, nil)
}

// MarkReady stores the generation output and makes the record reviewable.
func (s *Service) MarkReady(ctx context.Context, id string, gen metadata.Generation) (*database.ContentRecord, error) {
	return s.transition(ctx, id, database.ContentReady, func(u *database.ContentUpdate) {
		u.Metadata = gen
	})
}

// MarkGenerationFailed records why generation did not produce a post.
func (s *Service) MarkGenerationFailed(ctx context.Context, id, reason string) (*database.ContentRecord, error) {
	return s.transition(ctx, id, database.ContentFailed, func(u *database.ContentUpdate) {
		u.LastError = &reason
	})
}

func (s *Service) transition(ctx context.Context, id string, to database.ContentStatus, apply func(*database.ContentUpdate)) (*database.ContentRecord, error) {
	rec, err := s.store.Content().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(id, rec.Status, to); err != nil {
		return nil, err
	}

	update := database.ContentUpdate{ID: id, From: rec.Status, To: to, At: s.now()}
	if apply != nil {
		apply(&update)
	}

	if err := s.store.Content().UpdateStatus(ctx, update); err != nil {
		if errors.Is(err, database.ErrConcurrentUpdate) {
			slog.Warn("Content changed during transition", "id", id, "from", rec.Status, "to", to)
		}
		return nil, err
	}

	slog.Info("Content status changed", "id", id, "from", rec.Status, "to", to)
	return s.store.Content().Get(ctx, id)
}

// Transition applies a status change inside an existing unit of work.
func Transition(ctx context.Context, repo database.ContentRepository, update database.ContentUpdate) error {
	if err := checkTransition(update.ID, update.From, update.To); err != nil {
		return err
	}
	return repo.UpdateStatus(ctx, update)
}
