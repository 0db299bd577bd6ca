package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/lysyi3m/content-comb/app/discovery"
	"github.com/lysyi3m/content-comb/app/metadata"
)

const defaultRedditURL = "https://www.reddit.com"

type RedditFetcher struct {
	httpFetcher
	baseURL   string
	subreddit string
	sort      string
}

type redditListing struct {
	Data struct {
		Children []json.RawMessage `json:"children"`
	} `json:"data"`
}

type redditChild struct {
	Kind string     `json:"kind"`
	Data redditPost `json:"data"`
}

type redditPost struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Author      string  `json:"author"`
	Subreddit   string  `json:"subreddit"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	PostHint    string  `json:"post_hint"`
	IsVideo     bool    `json:"is_video"`
	IsSelf      bool    `json:"is_self"`
	Over18      bool    `json:"over_18"`
	Flair       string  `json:"link_flair_text"`
	Media       *struct {
		RedditVideo *struct {
			FallbackURL string `json:"fallback_url"`
		} `json:"reddit_video"`
	} `json:"media"`
	Preview *struct {
		Images []struct {
			Source struct {
				URL string `json:"url"`
			} `json:"source"`
		} `json:"images"`
	} `json:"preview"`
}

func NewRedditFetcher(cfg *Config, f httpFetcher) *RedditFetcher {
	baseURL := strings.TrimRight(cfg.URL, "/")
	if baseURL == "" {
		baseURL = defaultRedditURL
	}
	return &RedditFetcher{
		httpFetcher: f,
		baseURL:     baseURL,
		subreddit:   strings.TrimPrefix(cfg.Subreddit, "r/"),
		sort:        cfg.Settings.Sort,
	}
}

func (r *RedditFetcher) FetchRecent(ctx context.Context, limit int) ([]discovery.RawItem, error) {
	endpoint := fmt.Sprintf("%s/r/%s/%s.json?limit=%d&raw_json=1", r.baseURL, url.PathEscape(r.subreddit), r.sort, limit)

	data, err := r.get(ctx, endpoint, map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, err
	}

	var listing redditListing
	if err := json.Unmarshal(data, &listing); err != nil {
		return nil, fmt.Errorf("failed to decode listing: %w", err)
	}

	items := make([]discovery.RawItem, 0, len(listing.Data.Children))
	for _, raw := range listing.Data.Children {
		var child redditChild
		if err := json.Unmarshal(raw, &child); err != nil {
			slog.Debug("Dropping malformed reddit post", "subreddit", r.subreddit, "error", err)
			continue
		}
		if child.Data.ID == "" || child.Data.Title == "" || child.Data.Over18 {
			continue
		}
		items = append(items, r.toRawItem(child.Data))
	}

	return items, nil
}

func (r *RedditFetcher) toRawItem(p redditPost) discovery.RawItem {
	item := discovery.RawItem{
		NativeID:    p.ID,
		Title:       html.UnescapeString(p.Title),
		Description: p.Selftext,
		URL:         r.baseURL + p.Permalink,
		Author:      p.Author,
		Score:       p.Score,
		Comments:    p.NumComments,
		CreatedAt:   time.Unix(int64(math.Floor(p.CreatedUTC)), 0).UTC(),
		SourceLabel: "r/" + p.Subreddit,
		Metadata: metadata.Of(metadata.Reddit{
			Subreddit: p.Subreddit,
			Permalink: p.Permalink,
			Flair:     p.Flair,
			Score:     p.Score,
			Comments:  p.NumComments,
			PostHint:  p.PostHint,
		}),
	}

	if p.Subreddit != "" {
		item.Tags = append(item.Tags, strings.ToLower(p.Subreddit))
	}
	if p.Flair != "" {
		item.Tags = append(item.Tags, strings.ToLower(p.Flair))
	}

	switch {
	case p.IsVideo && p.Media != nil && p.Media.RedditVideo != nil:
		item.ContentType = discovery.ContentVideo
		item.MediaURLs = []string{p.Media.RedditVideo.FallbackURL}
	case p.PostHint == "image":
		item.ContentType = discovery.ContentImage
		item.MediaURLs = []string{p.URL}
	case p.IsSelf:
		item.ContentType = discovery.ContentText
	default:
		item.ContentType = discovery.ContentLink
		if p.Preview != nil && len(p.Preview.Images) > 0 {
			item.MediaURLs = []string{p.Preview.Images[0].Source.URL}
		}
	}

	return item
}
