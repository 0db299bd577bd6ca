package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lysyi3m/content-comb/app/metadata"
	"github.com/lysyi3m/content-comb/app/ratelimit"
)

type SourceKind string

const (
	SourceReddit SourceKind = "reddit"
	SourceFeed   SourceKind = "feed"
	SourceNews   SourceKind = "news"
	SourceWeb    SourceKind = "web"
)

func (k SourceKind) Valid() bool {
	switch k {
	case SourceReddit, SourceFeed, SourceNews, SourceWeb:
		return true
	}
	return false
}

type ContentType string

const (
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
	ContentText  ContentType = "text"
	ContentLink  ContentType = "link"
)

// RawItem is what a source returns before scoring.
type RawItem struct {
	NativeID    string         `json:"nativeId"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	URL         string         `json:"url,omitempty"`
	MediaURLs   []string       `json:"mediaUrls,omitempty"`
	Author      string         `json:"author,omitempty"`
	Score       int            `json:"score,omitempty"`
	Comments    int            `json:"comments,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	ContentType ContentType    `json:"contentType"`
	Tags        []string       `json:"tags,omitempty"`
	SourceLabel string         `json:"sourceLabel,omitempty"` // publisher name, used for reputation
	Metadata    metadata.Value `json:"metadata"`
}

// Item is a scored candidate produced by one discovery run.
type Item struct {
	ID              string
	NativeID        string
	Title           string
	Description     string
	URL             string
	MediaURLs       []string
	SourceKind      SourceKind
	SourceName      string
	SourceLabel     string
	Author          string
	RawScore        int
	EngagementCount int
	CreatedAt       time.Time
	ContentType     ContentType
	QualityScore    float64
	Tags            []string
	Metadata        metadata.Metadata
}

func (i Item) HasMedia() bool {
	return len(i.MediaURLs) > 0 && i.MediaURLs[0] != ""
}

// NaturalKey identifies an item by origin: source plus native id, falling
// back to the normalized URL.
func (i Item) NaturalKey() string {
	if i.NativeID != "" {
		return i.SourceName + ":" + i.NativeID
	}
	return "url:" + NormalizeURL(i.URL)
}

func (i Item) AgeAt(now time.Time) time.Duration {
	if i.CreatedAt.IsZero() {
		return 0
	}
	age := now.Sub(i.CreatedAt)
	if age < 0 {
		return 0
	}
	return age
}

// Fetcher is implemented by source adapters.
type Fetcher interface {
	FetchRecent(ctx context.Context, limit int) ([]RawItem, error)
}

type FetcherFunc func(ctx context.Context, limit int) ([]RawItem, error)

func (f FetcherFunc) FetchRecent(ctx context.Context, limit int) ([]RawItem, error) {
	return f(ctx, limit)
}

type RateLimit struct {
	MaxRequests int
	Window      time.Duration
}

type FieldFilter struct {
	Field    string
	Includes []string
	Excludes []string
}

// Source is one configured source taking part in a discovery run.
type Source struct {
	Name      string
	Kind      SourceKind
	Fetcher   Fetcher
	Timeout   time.Duration
	RateLimit RateLimit
	Filters   []FieldFilter
}

func (s Source) limiterKey() string {
	return ratelimit.ProviderKey(string(s.Kind), s.Name)
}

// Limiter is the subset of the rate limiter used by discovery.
type Limiter interface {
	Check(ctx context.Context, key string, maxRequests int, window time.Duration) ratelimit.Result
}

type SourceReport struct {
	Name   string
	Items  int
	Cached bool
	Err    error
}

type Report struct {
	Sources    []SourceReport
	Fetched    int
	Irrelevant int
	Duplicates int
	Malformed  int
	Returned   int
}

func (r Report) Failed() []SourceReport {
	var failed []SourceReport
	for _, s := range r.Sources {
		if s.Err != nil {
			failed = append(failed, s)
		}
	}
	return failed
}

// NormalizeURL lowercases scheme and host, drops fragments, default ports,
// trailing slashes and common tracking parameters.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "http" {
		u.Scheme = "https"
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		host = host + ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.User = nil

	q := u.Query()
	for key := range q {
		if strings.HasPrefix(key, "utm_") || key == "fbclid" || key == "gclid" {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	u.Path = strings.TrimRight(u.Path, "/")

	return u.String()
}

func generateItemID(kind SourceKind, sourceName, nativeID, link string) string {
	ref := nativeID
	if ref == "" {
		ref = NormalizeURL(link)
	}
	content := fmt.Sprintf("%s|%s|%s", kind, sourceName, ref)

	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}
