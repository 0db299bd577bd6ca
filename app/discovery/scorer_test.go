package discovery

import (
	"math"
	"testing"
	"time"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScorer_Reddit(t *testing.T) {
	scorer := NewScorer(DefaultScoringWeights(), nil)

	tests := []struct {
		name string
		item Item
		want float64
	}{
		{
			name: "caps engagement and adds media and full recency",
			item: Item{SourceKind: SourceReddit, RawScore: 5000, EngagementCount: 500, MediaURLs: []string{"https://i.redd.it/a.jpg"}, CreatedAt: testNow},
			want: 1.0,
		},
		{
			name: "partial engagement, twelve hours old",
			item: Item{SourceKind: SourceReddit, RawScore: 200, EngagementCount: 10, CreatedAt: testNow.Add(-12 * time.Hour)},
			want: 0.2 + 0.1 + 0.05,
		},
		{
			name: "old item gets no recency bonus",
			item: Item{SourceKind: SourceReddit, RawScore: 100, EngagementCount: 0, CreatedAt: testNow.Add(-30 * time.Hour)},
			want: 0.1,
		},
		{
			name: "zero signals brand new",
			item: Item{SourceKind: SourceReddit, CreatedAt: testNow},
			want: 0.1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scorer.Score(tt.item, testNow)
			if !almostEqual(got, tt.want) {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScorer_News(t *testing.T) {
	scorer := NewScorer(DefaultScoringWeights(), []string{"Reuters", "bbc"})

	tests := []struct {
		name string
		item Item
		want float64
	}{
		{
			name: "base only",
			item: Item{SourceKind: SourceNews, SourceLabel: "Some Blog", CreatedAt: testNow.Add(-72 * time.Hour)},
			want: 0.5,
		},
		{
			name: "image and reputable substring, case-insensitive",
			item: Item{SourceKind: SourceNews, SourceLabel: "BBC News", MediaURLs: []string{"https://img/x.jpg"}, CreatedAt: testNow.Add(-72 * time.Hour)},
			want: 0.9,
		},
		{
			name: "half of the recency window",
			item: Item{SourceKind: SourceNews, SourceLabel: "reuters.com", CreatedAt: testNow.Add(-24 * time.Hour)},
			want: 0.5 + 0.2 + 0.05,
		},
		{
			name: "everything clamps to one",
			item: Item{SourceKind: SourceNews, SourceLabel: "Reuters", MediaURLs: []string{"https://img/x.jpg"}, CreatedAt: testNow},
			want: 1.0,
		},
		{
			name: "feed items use the editorial formula",
			item: Item{SourceKind: SourceFeed, CreatedAt: testNow.Add(-96 * time.Hour)},
			want: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scorer.Score(tt.item, testNow)
			if !almostEqual(got, tt.want) {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScorer_AlwaysInRange(t *testing.T) {
	scorer := NewScorer(DefaultScoringWeights(), []string{"reuters"})

	scores := []int{-1_000_000, -1, 0, 1, 999, 1_000_000}
	ages := []time.Duration{-time.Hour, 0, time.Hour, 47 * time.Hour, 1000 * time.Hour}
	kinds := []SourceKind{SourceReddit, SourceNews, SourceFeed, SourceWeb}

	for _, kind := range kinds {
		for _, s := range scores {
			for _, c := range scores {
				for _, age := range ages {
					item := Item{
						SourceKind:      kind,
						RawScore:        s,
						EngagementCount: c,
						SourceLabel:     "Reuters",
						MediaURLs:       []string{"m"},
						CreatedAt:       testNow.Add(-age),
					}
					got := scorer.Score(item, testNow)
					if got < 0 || got > 1 {
						t.Fatalf("Score out of range for kind=%s score=%d comments=%d age=%v: %v", kind, s, c, age, got)
					}
				}
			}
		}
	}
}

func TestScorer_ConfigurableWeights(t *testing.T) {
	weights := DefaultScoringWeights()
	weights.NewsBase = 0.3

	scorer := NewScorer(weights, nil)
	got := scorer.Score(Item{SourceKind: SourceNews, CreatedAt: testNow.Add(-100 * time.Hour)}, testNow)
	if !almostEqual(got, 0.3) {
		t.Errorf("Expected configured base 0.3, got %v", got)
	}
}

func TestRelevanceFilter(t *testing.T) {
	filter := NewRelevanceFilter([]string{"Golang", "kubernetes"}, []string{"sponsored"})

	tests := []struct {
		name string
		item Item
		want bool
	}{
		{"positive in title", Item{Title: "New GOLANG release"}, true},
		{"positive in description", Item{Title: "Weekly", Description: "all about Kubernetes"}, true},
		{"no positive keyword", Item{Title: "Cooking tips"}, false},
		{"negative wins", Item{Title: "Golang course", Description: "SPONSORED content"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := filter.Relevant(tt.item); got != tt.want {
				t.Errorf("Relevant() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRelevanceFilter_EmptyPositiveList(t *testing.T) {
	filter := NewRelevanceFilter(nil, []string{"spam"})

	if !filter.Relevant(Item{Title: "Anything goes"}) {
		t.Error("With no positive keywords every item should be relevant")
	}
	if filter.Relevant(Item{Title: "Spam offer"}) {
		t.Error("Negative keywords still apply")
	}
}

func TestRelevanceFilter_FieldFilters(t *testing.T) {
	filter := NewRelevanceFilter(nil, nil)

	filters := []FieldFilter{
		{Field: "tags", Includes: []string{"pics", "aww"}},
		{Field: "author", Excludes: []string{"bot"}},
	}

	ok, _ := filter.Check(Item{Title: "Cat", Tags: []string{"aww"}, Author: "alice"}, filters)
	if !ok {
		t.Error("Item with included tag should pass")
	}

	ok, reason := filter.Check(Item{Title: "Cat", Tags: []string{"news"}}, filters)
	if ok || reason == "" {
		t.Error("Item without included tag should be rejected with a reason")
	}

	ok, reason = filter.Check(Item{Title: "Cat", Tags: []string{"pics"}, Author: "AutoModBot"}, filters)
	if ok {
		t.Error("Item with excluded author should be rejected")
	}
	if reason != "Excluded by author filter: contains 'bot'" {
		t.Errorf("Unexpected reason: %s", reason)
	}
}
