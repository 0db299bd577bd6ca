package sources

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/lysyi3m/content-comb/app/discovery"
	"github.com/lysyi3m/content-comb/app/metadata"
)

// FeedFetcher reads RSS and Atom feeds.
type FeedFetcher struct {
	httpFetcher
	url          string
	gofeedParser *gofeed.Parser
	now          func() time.Time
}

func NewFeedFetcher(cfg *Config, f httpFetcher) *FeedFetcher {
	return &FeedFetcher{
		httpFetcher:  f,
		url:          cfg.URL,
		gofeedParser: gofeed.NewParser(),
		now:          time.Now,
	}
}

func (p *FeedFetcher) FetchRecent(ctx context.Context, limit int) ([]discovery.RawItem, error) {
	data, err := p.get(ctx, p.url, nil)
	if err != nil {
		return nil, err
	}

	feed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	items := make([]discovery.RawItem, 0, len(feed.Items))
	for _, item := range feed.Items {
		if limit > 0 && len(items) >= limit {
			break
		}
		if item == nil || (item.Title == "" && item.Link == "") {
			continue
		}
		items = append(items, p.normalizeItem(feed.Title, item))
	}

	return items, nil
}

func (p *FeedFetcher) normalizeItem(feedTitle string, item *gofeed.Item) discovery.RawItem {
	normalized := discovery.RawItem{
		NativeID:    cmp.Or(item.GUID, item.Link),
		Title:       strings.TrimSpace(item.Title),
		Description: strings.TrimSpace(cmp.Or(item.Description, item.Content)),
		URL:         item.Link,
		Author:      extractAuthor(item),
		Tags:        item.Categories,
		SourceLabel: feedTitle,
		ContentType: discovery.ContentLink,
	}

	switch {
	case item.PublishedParsed != nil:
		normalized.CreatedAt = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		normalized.CreatedAt = *item.UpdatedParsed
	default:
		// Undated entries count as first seen now.
		normalized.CreatedAt = p.now()
	}

	meta := metadata.Feed{
		FeedTitle:  feedTitle,
		GUID:       item.GUID,
		Categories: item.Categories,
	}

	// RSS 2.0 allows only one enclosure per item.
	if len(item.Enclosures) > 0 && item.Enclosures[0] != nil {
		enclosure := item.Enclosures[0]
		meta.EnclosureType = enclosure.Type
		switch {
		case strings.HasPrefix(enclosure.Type, "image/"):
			normalized.ContentType = discovery.ContentImage
			normalized.MediaURLs = []string{enclosure.URL}
		case strings.HasPrefix(enclosure.Type, "video/"):
			normalized.ContentType = discovery.ContentVideo
			normalized.MediaURLs = []string{enclosure.URL}
		}
	}

	if len(normalized.MediaURLs) == 0 && item.Image != nil && item.Image.URL != "" {
		normalized.ContentType = discovery.ContentImage
		normalized.MediaURLs = []string{item.Image.URL}
	}

	normalized.Metadata = metadata.Of(meta)
	return normalized
}

func extractAuthor(item *gofeed.Item) string {
	for _, author := range item.Authors {
		if author != nil {
			if name := formatAuthor(author.Name, author.Email); name != "" {
				return name
			}
		}
	}
	if item.Author != nil {
		return formatAuthor(item.Author.Name, item.Author.Email)
	}
	return ""
}

func formatAuthor(name, email string) string {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if name != "" && email != "" {
		return fmt.Sprintf("%s (%s)", email, name)
	}
	return cmp.Or(name, email)
}
