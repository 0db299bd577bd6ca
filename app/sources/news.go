package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/lysyi3m/content-comb/app/discovery"
	"github.com/lysyi3m/content-comb/app/metadata"
)

// NewsFetcher reads NewsAPI-style article listings.
type NewsFetcher struct {
	httpFetcher
	endpoint string
	query    string
	apiKey   string
}

type newsResponse struct {
	Status   string            `json:"status"`
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Articles []json.RawMessage `json:"articles"`
}

type newsArticle struct {
	Source struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"source"`
	Author      string    `json:"author"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	URLToImage  string    `json:"urlToImage"`
	PublishedAt time.Time `json:"publishedAt"`
}

func NewNewsFetcher(cfg *Config, f httpFetcher) *NewsFetcher {
	return &NewsFetcher{
		httpFetcher: f,
		endpoint:    cfg.URL,
		query:       cfg.Query,
		apiKey:      cfg.APIKey,
	}
}

func (n *NewsFetcher) FetchRecent(ctx context.Context, limit int) ([]discovery.RawItem, error) {
	u, err := url.Parse(n.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid news endpoint: %w", err)
	}

	q := u.Query()
	if n.query != "" {
		q.Set("q", n.query)
	}
	q.Set("pageSize", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	headers := map[string]string{"Accept": "application/json"}
	if n.apiKey != "" {
		headers["X-Api-Key"] = n.apiKey
	}

	data, err := n.get(ctx, u.String(), headers)
	if err != nil {
		return nil, err
	}

	var resp newsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode news response: %w", err)
	}
	if resp.Status == "error" {
		return nil, fmt.Errorf("news API error %s: %s", resp.Code, resp.Message)
	}

	items := make([]discovery.RawItem, 0, len(resp.Articles))
	for _, raw := range resp.Articles {
		var article newsArticle
		if err := json.Unmarshal(raw, &article); err != nil {
			slog.Debug("Dropping malformed news article", "error", err)
			continue
		}
		if article.URL == "" || article.Title == "" || article.Title == "[Removed]" {
			continue
		}

		item := discovery.RawItem{
			NativeID:    article.URL,
			Title:       article.Title,
			Description: article.Description,
			URL:         article.URL,
			Author:      article.Author,
			CreatedAt:   article.PublishedAt,
			ContentType: discovery.ContentLink,
			SourceLabel: article.Source.Name,
			Metadata: metadata.Of(metadata.News{
				SourceID:   article.Source.ID,
				SourceName: article.Source.Name,
				Author:     article.Author,
			}),
		}
		if article.URLToImage != "" {
			item.ContentType = discovery.ContentImage
			item.MediaURLs = []string{article.URLToImage}
		}

		items = append(items, item)
	}

	return items, nil
}
