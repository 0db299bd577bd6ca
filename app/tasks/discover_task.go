package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/content-comb/app/content"
	"github.com/lysyi3m/content-comb/app/discovery"
)

type Discoverer interface {
	Discover(ctx context.Context, maxItems int, sources []discovery.Source) ([]discovery.Item, discovery.Report, error)
}

type SourceProvider interface {
	Sources(names ...string) ([]discovery.Source, error)
}

type Ingester interface {
	Ingest(ctx context.Context, items []discovery.Item, autoApprove float64) (content.IngestReport, error)
}

type DiscoverSettings struct {
	MaxItems    int
	MinQuality  float64
	MaxAge      time.Duration
	AutoApprove float64
}

// DiscoverTask runs one discovery pass over every enabled source and stores
// what survives filtering.
type DiscoverTask struct {
	Task
	sources    SourceProvider
	discoverer Discoverer
	ingester   Ingester
	settings   DiscoverSettings
	now        func() time.Time
}

func NewDiscoverTask(trigger string, sources SourceProvider, discoverer Discoverer, ingester Ingester, settings DiscoverSettings) *DiscoverTask {
	return &DiscoverTask{
		Task:       NewTask(TaskTypeDiscover, trigger),
		sources:    sources,
		discoverer: discoverer,
		ingester:   ingester,
		settings:   settings,
		now:        time.Now,
	}
}

func (t *DiscoverTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	sources, err := t.sources.Sources()
	if err != nil {
		return fmt.Errorf("failed to load sources: %w", err)
	}
	if len(sources) == 0 {
		slog.Debug("No enabled sources, skipping discovery")
		return nil
	}

	items, report, err := t.discoverer.Discover(ctx, t.settings.MaxItems, sources)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	failed := report.Failed()
	for _, src := range failed {
		slog.Warn("Source failed during discovery", "source", src.Name, "error", src.Err)
	}
	if len(failed) == len(sources) {
		return fmt.Errorf("all %d sources failed", len(sources))
	}

	kept := discovery.FilterContent(items, t.settings.MinQuality, t.settings.MaxAge, t.now())

	ingested, err := t.ingester.Ingest(ctx, kept, t.settings.AutoApprove)
	if err != nil {
		return fmt.Errorf("failed to store discovered items: %w", err)
	}

	slog.Info("Discovery completed",
		"sources", len(sources),
		"failed_sources", len(failed),
		"fetched", report.Fetched,
		"duplicates", report.Duplicates,
		"irrelevant", report.Irrelevant,
		"ranked", len(items),
		"kept", len(kept),
		"stored", ingested.Inserted,
		"already_stored", ingested.Duplicates,
		"auto_approved", ingested.AutoApproved)

	return nil
}
