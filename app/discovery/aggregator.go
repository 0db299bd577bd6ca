package discovery

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/lysyi3m/content-comb/app/metrics"
)

const defaultSourceTimeout = 30 * time.Second

var ErrRateLimited = errors.New("source rate limited")

type RankWeights struct {
	Quality float64
	Recency float64
}

func DefaultRankWeights() RankWeights {
	return RankWeights{Quality: 0.7, Recency: 0.3}
}

type Config struct {
	CacheTTL time.Duration
	Rank     RankWeights
}

// Aggregator fetches all requested sources in parallel and merges their
// items into one ranked, deduplicated list. A failing source contributes
// nothing and never fails the run.
type Aggregator struct {
	scorer    *Scorer
	relevance *RelevanceFilter
	limiter   Limiter
	cache     SourceCache
	cacheTTL  time.Duration
	rank      RankWeights
	group     singleflight.Group
	now       func() time.Time
}

// NewAggregator wires the pipeline. limiter and cache may be nil.
func NewAggregator(scorer *Scorer, relevance *RelevanceFilter, limiter Limiter, cache SourceCache, cfg Config) *Aggregator {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Rank == (RankWeights{}) {
		cfg.Rank = DefaultRankWeights()
	}

	return &Aggregator{
		scorer:    scorer,
		relevance: relevance,
		limiter:   limiter,
		cache:     cache,
		cacheTTL:  cfg.CacheTTL,
		rank:      cfg.Rank,
		now:       time.Now,
	}
}

func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

func (a *Aggregator) Discover(ctx context.Context, maxItems int, sources []Source) ([]Item, Report, error) {
	var report Report

	if maxItems <= 0 {
		return nil, report, fmt.Errorf("max items must be positive, got %d", maxItems)
	}
	if len(sources) == 0 {
		return nil, report, nil
	}

	perSource := (maxItems + len(sources) - 1) / len(sources)

	results := make([][]RawItem, len(sources))
	report.Sources = make([]SourceReport, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			items, cached, err := a.fetchSource(ctx, src, perSource)
			report.Sources[i] = SourceReport{Name: src.Name, Items: len(items), Cached: cached, Err: err}

			if err != nil {
				outcome := "error"
				if errors.Is(err, ErrRateLimited) {
					outcome = "rate_limited"
				}
				metrics.SourceFetches.WithLabelValues(src.Name, outcome).Inc()
				slog.Warn("Source fetch failed, skipping", "source", src.Name, "kind", string(src.Kind), "error", err)
				return nil
			}

			if cached {
				metrics.SourceFetches.WithLabelValues(src.Name, "cached").Inc()
			} else {
				metrics.SourceFetches.WithLabelValues(src.Name, "ok").Inc()
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	now := a.now()
	candidates := make([]Item, 0)
	for i, src := range sources {
		report.Fetched += len(results[i])

		for _, raw := range results[i] {
			item, ok := toItem(src, raw)
			if !ok {
				report.Malformed++
				continue
			}

			if relevant, reason := a.relevance.Check(item, src.Filters); !relevant {
				slog.Debug("Item filtered", "source", src.Name, "title", item.Title, "reason", reason)
				report.Irrelevant++
				continue
			}

			item.QualityScore = a.scorer.Score(item, now)
			candidates = append(candidates, item)
		}
	}

	unique := Deduplicate(candidates)
	report.Duplicates = len(candidates) - len(unique)

	Rank(unique, now, a.rank)
	if len(unique) > maxItems {
		unique = unique[:maxItems]
	}
	report.Returned = len(unique)

	metrics.DiscoveredItems.WithLabelValues("fetched").Add(float64(report.Fetched))
	metrics.DiscoveredItems.WithLabelValues("returned").Add(float64(report.Returned))

	return unique, report, nil
}

func (a *Aggregator) fetchSource(ctx context.Context, src Source, limit int) ([]RawItem, bool, error) {
	key := CacheKey(src, limit)

	if a.cache != nil {
		items, ok, err := a.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("Discovery cache read failed", "source", src.Name, "error", err)
		} else if ok {
			return items, true, nil
		}
	}

	v, err, _ := a.group.Do(key, func() (any, error) {
		if a.limiter != nil && src.RateLimit.MaxRequests > 0 {
			res := a.limiter.Check(ctx, src.limiterKey(), src.RateLimit.MaxRequests, src.RateLimit.Window)
			if !res.Allowed {
				return nil, fmt.Errorf("%w: retry after %ds", ErrRateLimited, res.RetryAfter)
			}
		}

		timeout := cmp.Or(src.Timeout, defaultSourceTimeout)
		fetchCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		items, err := fetchBounded(fetchCtx, src.Fetcher, limit)
		if err != nil {
			return nil, err
		}

		if a.cache != nil {
			if err := a.cache.Set(ctx, key, items, a.cacheTTL); err != nil {
				slog.Warn("Discovery cache write failed", "source", src.Name, "error", err)
			}
		}
		return items, nil
	})
	if err != nil {
		return nil, false, err
	}

	return v.([]RawItem), false, nil
}

// fetchBounded returns when the fetcher does or when ctx ends, whichever
// comes first.
func fetchBounded(ctx context.Context, f Fetcher, limit int) ([]RawItem, error) {
	type result struct {
		items []RawItem
		err   error
	}

	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("source panicked: %v", r)}
			}
		}()
		items, err := f.FetchRecent(ctx, limit)
		ch <- result{items: items, err: err}
	}()

	select {
	case r := <-ch:
		return r.items, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("source timed out: %w", ctx.Err())
	}
}

func toItem(src Source, raw RawItem) (Item, bool) {
	title := strings.TrimSpace(raw.Title)
	if title == "" && strings.TrimSpace(raw.Description) == "" {
		return Item{}, false
	}
	if raw.NativeID == "" && raw.URL == "" {
		return Item{}, false
	}

	media := make([]string, 0, len(raw.MediaURLs))
	for _, m := range raw.MediaURLs {
		if m = strings.TrimSpace(m); m != "" {
			media = append(media, m)
		}
	}

	contentType := raw.ContentType
	if contentType == "" {
		switch {
		case len(media) > 0:
			contentType = ContentImage
		case raw.URL != "":
			contentType = ContentLink
		default:
			contentType = ContentText
		}
	}

	return Item{
		ID:              generateItemID(src.Kind, src.Name, raw.NativeID, raw.URL),
		NativeID:        raw.NativeID,
		Title:           title,
		Description:     strings.TrimSpace(raw.Description),
		URL:             raw.URL,
		MediaURLs:       media,
		SourceKind:      src.Kind,
		SourceName:      src.Name,
		SourceLabel:     raw.SourceLabel,
		Author:          raw.Author,
		RawScore:        raw.Score,
		EngagementCount: raw.Comments,
		CreatedAt:       raw.CreatedAt,
		ContentType:     contentType,
		Tags:            slices.Clone(raw.Tags),
		Metadata:        raw.Metadata.Metadata,
	}, true
}

// Deduplicate keeps the best-scored item for every natural key and every
// normalized URL.
func Deduplicate(items []Item) []Item {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b Item) int {
		if c := cmp.Compare(b.QualityScore, a.QualityScore); c != 0 {
			return c
		}
		return cmp.Compare(a.NaturalKey(), b.NaturalKey())
	})

	seenKeys := make(map[string]bool, len(sorted))
	seenURLs := make(map[string]bool, len(sorted))
	unique := make([]Item, 0, len(sorted))

	for _, item := range sorted {
		key := item.NaturalKey()
		link := NormalizeURL(item.URL)

		if seenKeys[key] || (link != "" && seenURLs[link]) {
			continue
		}

		seenKeys[key] = true
		if link != "" {
			seenURLs[link] = true
		}
		unique = append(unique, item)
	}

	return unique
}

// RankScore blends quality with freshness; items a day or older get no
// freshness credit.
func RankScore(item Item, now time.Time, w RankWeights) float64 {
	ageDays := item.AgeAt(now).Hours() / 24
	recency := 1 - math.Min(ageDays, 1)
	return w.Quality*item.QualityScore + w.Recency*recency
}

// Rank sorts items by RankScore descending, ties by natural key.
func Rank(items []Item, now time.Time, w RankWeights) {
	slices.SortStableFunc(items, func(a, b Item) int {
		if c := cmp.Compare(RankScore(b, now, w), RankScore(a, now, w)); c != 0 {
			return c
		}
		return cmp.Compare(a.NaturalKey(), b.NaturalKey())
	})
}

// FilterContent drops items below minQuality, older than maxAge, and text
// items without media. A zero maxAge disables the age check.
func FilterContent(items []Item, minQuality float64, maxAge time.Duration, now time.Time) []Item {
	kept := make([]Item, 0, len(items))
	for _, item := range items {
		if item.QualityScore < minQuality {
			continue
		}
		if maxAge > 0 && item.AgeAt(now) > maxAge {
			continue
		}
		if item.ContentType == ContentText && !item.HasMedia() {
			continue
		}
		kept = append(kept, item)
	}
	return kept
}
