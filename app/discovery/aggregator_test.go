package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lysyi3m/content-comb/app/metadata"
	"github.com/lysyi3m/content-comb/app/ratelimit"
)

func staticSource(name string, kind SourceKind, items []RawItem) Source {
	return Source{
		Name: name,
		Kind: kind,
		Fetcher: FetcherFunc(func(ctx context.Context, limit int) ([]RawItem, error) {
			return items, nil
		}),
	}
}

func failingSource(name string) Source {
	return Source{
		Name: name,
		Kind: SourceNews,
		Fetcher: FetcherFunc(func(ctx context.Context, limit int) ([]RawItem, error) {
			return nil, errors.New("503 service unavailable")
		}),
	}
}

func newsItem(id, link string, age time.Duration) RawItem {
	return RawItem{
		NativeID:    id,
		Title:       "Story " + id,
		URL:         link,
		MediaURLs:   []string{"https://img.example.com/" + id + ".jpg"},
		CreatedAt:   testNow.Add(-age),
		ContentType: ContentImage,
		SourceLabel: "Example Times",
		Metadata:    metadata.Of(metadata.News{SourceName: "Example Times"}),
	}
}

func newTestAggregator(limiter Limiter, cache SourceCache) *Aggregator {
	agg := NewAggregator(
		NewScorer(DefaultScoringWeights(), []string{"reuters"}),
		NewRelevanceFilter(nil, nil),
		limiter,
		cache,
		Config{},
	)
	agg.SetClock(func() time.Time { return testNow })
	return agg
}

func TestDiscover_EndToEndWithDuplicateAndStaleItem(t *testing.T) {
	var aItems []RawItem
	for i := 1; i <= 5; i++ {
		aItems = append(aItems, newsItem(fmt.Sprintf("a%d", i), fmt.Sprintf("https://a.example.com/%d", i), time.Duration(i)*time.Hour))
	}
	// Same article as b1, reached through a tracking link.
	aItems = append(aItems, newsItem("a6", "http://www.b.example.com/1/?utm_source=a", time.Hour))

	var bItems []RawItem
	for i := 1; i <= 4; i++ {
		bItems = append(bItems, newsItem(fmt.Sprintf("b%d", i), fmt.Sprintf("https://b.example.com/%d", i), time.Duration(i)*time.Hour))
	}
	bItems = append(bItems, newsItem("b5", "https://b.example.com/5", 10*24*time.Hour))

	agg := newTestAggregator(nil, nil)
	items, report, err := agg.Discover(context.Background(), 10, []Source{
		staticSource("A", SourceNews, aItems),
		staticSource("B", SourceNews, bItems),
	})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if len(items) != 10 {
		t.Fatalf("Expected 10 items after dedupe, got %d", len(items))
	}
	if report.Duplicates != 1 {
		t.Errorf("Expected 1 duplicate, got %d", report.Duplicates)
	}

	filtered := FilterContent(items, 0.3, 72*time.Hour, testNow)
	if len(filtered) != 9 {
		t.Errorf("Expected 9 items after filtering, got %d", len(filtered))
	}
}

func TestDiscover_NoDuplicateNaturalKeysOrURLs(t *testing.T) {
	items := []RawItem{
		newsItem("x1", "https://same.example.com/story", time.Hour),
		newsItem("x1", "https://other.example.com/story", time.Hour),
		newsItem("x2", "https://same.example.com/story#comments", 2*time.Hour),
		newsItem("x3", "https://fresh.example.com/story", 3*time.Hour),
	}

	agg := newTestAggregator(nil, nil)
	got, _, err := agg.Discover(context.Background(), 10, []Source{staticSource("S", SourceNews, items)})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	keys := map[string]bool{}
	urls := map[string]bool{}
	for _, item := range got {
		if keys[item.NaturalKey()] {
			t.Errorf("Duplicate natural key %s", item.NaturalKey())
		}
		link := NormalizeURL(item.URL)
		if urls[link] {
			t.Errorf("Duplicate URL %s", link)
		}
		keys[item.NaturalKey()] = true
		urls[link] = true
	}

	if len(got) != 2 {
		t.Errorf("Expected 2 unique items, got %d", len(got))
	}
}

func TestDiscover_PartialFailure(t *testing.T) {
	good1 := []RawItem{newsItem("g1", "https://g.example.com/1", time.Hour)}
	good2 := []RawItem{newsItem("h1", "https://h.example.com/1", time.Hour), newsItem("h2", "https://h.example.com/2", time.Hour)}

	agg := newTestAggregator(nil, nil)
	items, report, err := agg.Discover(context.Background(), 10, []Source{
		staticSource("good1", SourceNews, good1),
		failingSource("broken"),
		staticSource("good2", SourceNews, good2),
	})
	if err != nil {
		t.Fatalf("Discover must not fail when one source fails: %v", err)
	}

	if len(items) != 3 {
		t.Errorf("Expected 3 items from healthy sources, got %d", len(items))
	}

	failed := report.Failed()
	if len(failed) != 1 || failed[0].Name != "broken" {
		t.Errorf("Expected broken source to be reported, got %+v", failed)
	}
}

func TestDiscover_SourceTimeout(t *testing.T) {
	slow := Source{
		Name:    "slow",
		Kind:    SourceWeb,
		Timeout: 20 * time.Millisecond,
		Fetcher: FetcherFunc(func(ctx context.Context, limit int) ([]RawItem, error) {
			time.Sleep(time.Second)
			return []RawItem{newsItem("late", "https://late.example.com", 0)}, nil
		}),
	}
	fast := staticSource("fast", SourceNews, []RawItem{newsItem("f1", "https://fast.example.com/1", time.Hour)})

	agg := newTestAggregator(nil, nil)

	start := time.Now()
	items, report, err := agg.Discover(context.Background(), 4, []Source{slow, fast})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Discover waited for the slow source: %v", elapsed)
	}

	if len(items) != 1 || items[0].NativeID != "f1" {
		t.Errorf("Expected only the fast source item, got %+v", items)
	}
	if !errors.Is(report.Sources[0].Err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded for slow source, got %v", report.Sources[0].Err)
	}
}

func TestDiscover_SortedAndTruncated(t *testing.T) {
	var raw []RawItem
	for i := 0; i < 8; i++ {
		raw = append(raw, newsItem(fmt.Sprintf("n%d", i), fmt.Sprintf("https://n.example.com/%d", i), time.Duration(i*5)*time.Hour))
	}

	agg := newTestAggregator(nil, nil)
	items, _, err := agg.Discover(context.Background(), 5, []Source{staticSource("N", SourceNews, raw)})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if len(items) != 5 {
		t.Fatalf("Expected 5 items, got %d", len(items))
	}

	w := DefaultRankWeights()
	for i := 1; i < len(items); i++ {
		if RankScore(items[i-1], testNow, w) < RankScore(items[i], testNow, w) {
			t.Errorf("Items not sorted by rank at %d", i)
		}
	}
	if items[0].NativeID != "n0" {
		t.Errorf("Expected freshest item first, got %s", items[0].NativeID)
	}
}

func TestDiscover_DeterministicTies(t *testing.T) {
	raw := []RawItem{
		newsItem("z", "https://t.example.com/z", time.Hour),
		newsItem("a", "https://t.example.com/a", time.Hour),
		newsItem("m", "https://t.example.com/m", time.Hour),
	}

	agg := newTestAggregator(nil, nil)
	items, _, _ := agg.Discover(context.Background(), 3, []Source{staticSource("T", SourceNews, raw)})

	want := []string{"a", "m", "z"}
	for i, id := range want {
		if items[i].NativeID != id {
			t.Errorf("Position %d: expected %s, got %s", i, id, items[i].NativeID)
		}
	}
}

func TestDiscover_DropsMalformedAndIrrelevant(t *testing.T) {
	raw := []RawItem{
		{NativeID: "no-title"},
		{Title: "No id or link"},
		newsItem("ok", "https://ok.example.com", time.Hour),
		{NativeID: "off-topic", Title: "Gardening weekly", URL: "https://garden.example.com"},
	}
	raw[2].Title = "Golang 1.23 released"

	agg := NewAggregator(NewScorer(DefaultScoringWeights(), nil), NewRelevanceFilter([]string{"golang"}, nil), nil, nil, Config{})
	agg.SetClock(func() time.Time { return testNow })

	items, report, err := agg.Discover(context.Background(), 10, []Source{staticSource("S", SourceNews, raw)})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if len(items) != 1 || items[0].NativeID != "ok" {
		t.Errorf("Expected only the relevant item, got %+v", items)
	}
	if report.Malformed != 2 {
		t.Errorf("Expected 2 malformed items, got %d", report.Malformed)
	}
	if report.Irrelevant != 1 {
		t.Errorf("Expected 1 irrelevant item, got %d", report.Irrelevant)
	}
}

func TestDiscover_PerSourceLimitHint(t *testing.T) {
	var seen atomic.Int32
	src := Source{
		Name: "hint",
		Kind: SourceNews,
		Fetcher: FetcherFunc(func(ctx context.Context, limit int) ([]RawItem, error) {
			seen.Store(int32(limit))
			return nil, nil
		}),
	}

	agg := newTestAggregator(nil, nil)
	agg.Discover(context.Background(), 10, []Source{src, staticSource("other", SourceNews, nil), staticSource("third", SourceNews, nil)})

	if got := seen.Load(); got != 4 {
		t.Errorf("Expected per-source limit ceil(10/3)=4, got %d", got)
	}
}

func TestDiscover_RateLimitedSourceContributesNothing(t *testing.T) {
	var calls atomic.Int32
	src := Source{
		Name:      "quota",
		Kind:      SourceNews,
		RateLimit: RateLimit{MaxRequests: 1, Window: time.Hour},
		Fetcher: FetcherFunc(func(ctx context.Context, limit int) ([]RawItem, error) {
			calls.Add(1)
			return []RawItem{newsItem("q1", "https://q.example.com/1", time.Hour)}, nil
		}),
	}

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore())
	agg := newTestAggregator(limiter, nil)

	first, _, _ := agg.Discover(context.Background(), 5, []Source{src})
	if len(first) != 1 {
		t.Fatalf("Expected 1 item on first run, got %d", len(first))
	}

	second, report, _ := agg.Discover(context.Background(), 5, []Source{src})
	if len(second) != 0 {
		t.Errorf("Expected no items once quota is used, got %d", len(second))
	}
	if !errors.Is(report.Sources[0].Err, ErrRateLimited) {
		t.Errorf("Expected ErrRateLimited, got %v", report.Sources[0].Err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected fetcher to be called once, got %d", calls.Load())
	}
}

func TestDiscover_CacheShortCircuitsFetch(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	var calls atomic.Int32
	src := Source{
		Name: "cached",
		Kind: SourceReddit,
		Fetcher: FetcherFunc(func(ctx context.Context, limit int) ([]RawItem, error) {
			calls.Add(1)
			return []RawItem{{
				NativeID:  "t3_abc",
				Title:     "Gopher art",
				URL:       "https://reddit.com/r/golang/abc",
				MediaURLs: []string{"https://i.redd.it/abc.png"},
				Score:     420,
				CreatedAt: testNow.Add(-time.Hour),
				Metadata:  metadata.Of(metadata.Reddit{Subreddit: "golang", Score: 420}),
			}}, nil
		}),
	}

	agg := newTestAggregator(nil, NewRedisCache(client))

	for run := 0; run < 3; run++ {
		items, report, err := agg.Discover(context.Background(), 5, []Source{src})
		if err != nil {
			t.Fatalf("Discover failed: %v", err)
		}
		if len(items) != 1 {
			t.Fatalf("Run %d: expected 1 item, got %d", run, len(items))
		}
		if run > 0 && !report.Sources[0].Cached {
			t.Errorf("Run %d should be served from cache", run)
		}
		if _, ok := items[0].Metadata.(metadata.Reddit); !ok {
			t.Errorf("Run %d: metadata lost through cache: %T", run, items[0].Metadata)
		}
	}

	if calls.Load() != 1 {
		t.Errorf("Expected a single fetch, got %d", calls.Load())
	}
	if ttl := mr.TTL(CacheKey(src, 5)); ttl != DefaultCacheTTL {
		t.Errorf("Expected cache TTL %v, got %v", DefaultCacheTTL, ttl)
	}
}

func TestDiscover_InvalidMaxItems(t *testing.T) {
	agg := newTestAggregator(nil, nil)
	if _, _, err := agg.Discover(context.Background(), 0, nil); err == nil {
		t.Error("Expected error for zero maxItems")
	}
}

func TestFilterContent(t *testing.T) {
	items := []Item{
		{NativeID: "keep", QualityScore: 0.8, ContentType: ContentImage, MediaURLs: []string{"m"}, CreatedAt: testNow.Add(-time.Hour)},
		{NativeID: "low", QualityScore: 0.1, ContentType: ContentImage, MediaURLs: []string{"m"}, CreatedAt: testNow},
		{NativeID: "old", QualityScore: 0.9, ContentType: ContentLink, CreatedAt: testNow.Add(-100 * time.Hour)},
		{NativeID: "bare-text", QualityScore: 0.9, ContentType: ContentText, CreatedAt: testNow},
		{NativeID: "text-with-media", QualityScore: 0.9, ContentType: ContentText, MediaURLs: []string{"m"}, CreatedAt: testNow},
	}

	got := FilterContent(items, 0.5, 72*time.Hour, testNow)

	want := []string{"keep", "text-with-media"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d items, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].NativeID != id {
			t.Errorf("Position %d: expected %s, got %s", i, id, got[i].NativeID)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://example.com/a/", "https://example.com/a"},
		{"HTTP://WWW.Example.com/a?utm_source=x&id=1#top", "https://example.com/a?id=1"},
		{"https://example.com:443/a", "https://example.com/a"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeURL(tt.in); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
