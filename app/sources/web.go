package sources

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/lysyi3m/content-comb/app/discovery"
	"github.com/lysyi3m/content-comb/app/metadata"
)

// WebFetcher extracts an article from each configured page.
type WebFetcher struct {
	httpFetcher
	pages []string
	now   func() time.Time
}

func NewWebFetcher(cfg *Config, f httpFetcher) *WebFetcher {
	return &WebFetcher{
		httpFetcher: f,
		pages:       cfg.Pages,
		now:         time.Now,
	}
}

func (w *WebFetcher) FetchRecent(ctx context.Context, limit int) ([]discovery.RawItem, error) {
	pages := w.pages
	if limit > 0 && len(pages) > limit {
		pages = pages[:limit]
	}

	var (
		items    []discovery.RawItem
		firstErr error
	)
	for _, page := range pages {
		item, err := w.extract(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Debug("Failed to extract page", "url", page, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		items = append(items, item)
	}

	if len(items) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return items, nil
}

func (w *WebFetcher) extract(ctx context.Context, page string) (discovery.RawItem, error) {
	pageURL, err := url.Parse(page)
	if err != nil {
		return discovery.RawItem{}, fmt.Errorf("invalid page URL: %w", err)
	}

	data, err := w.get(ctx, page, map[string]string{"Accept": "text/html"})
	if err != nil {
		return discovery.RawItem{}, err
	}
	if len(data) == 0 {
		return discovery.RawItem{}, fmt.Errorf("HTML data is empty")
	}

	article, err := readability.FromReader(bytes.NewReader(data), pageURL)
	if err != nil {
		return discovery.RawItem{}, fmt.Errorf("failed to extract content: %w", err)
	}
	if article.Title == "" {
		return discovery.RawItem{}, fmt.Errorf("no title extracted from %s", page)
	}

	slog.Debug("Content extracted successfully", "url", page, "title", article.Title, "content_length", article.Length)

	item := discovery.RawItem{
		NativeID:    page,
		Title:       article.Title,
		Description: article.Excerpt,
		URL:         page,
		Author:      article.Byline,
		CreatedAt:   w.now(),
		ContentType: discovery.ContentText,
		SourceLabel: article.SiteName,
		Metadata: metadata.Of(metadata.Web{
			SiteName: article.SiteName,
			Byline:   article.Byline,
			Length:   article.Length,
		}),
	}
	if article.PublishedTime != nil {
		item.CreatedAt = *article.PublishedTime
	}
	if article.Image != "" {
		item.ContentType = discovery.ContentImage
		item.MediaURLs = []string{article.Image}
	}

	return item, nil
}
