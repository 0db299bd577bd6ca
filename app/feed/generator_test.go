package feed

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/content-comb/app/database"
)

func TestGenerateRSS(t *testing.T) {
	generator := NewGenerator("1.2.3")

	postedAt := time.Date(2023, 7, 3, 10, 0, 0, 0, time.UTC)
	createdAt := time.Date(2023, 7, 1, 12, 0, 0, 0, time.UTC)

	records := []database.ContentRecord{
		{
			ID:          "c-1",
			Title:       "Go 1.21 released",
			URL:         "https://go.dev/blog/go1.21",
			Description: "New builtins & more",
			MediaURL:    "https://cdn.example.com/gopher.jpg?w=800",
			Author:      "gopher",
			Tags:        []string{"golang", "release"},
			SourceName:  "golang",
			CreatedAt:   createdAt,
			PostedAt:    &postedAt,
		},
		{
			ID:        "c-2",
			Title:     "Second post",
			CreatedAt: createdAt,
		},
	}

	channel := Channel{
		Title:    "Test Feed",
		Link:     "https://comb.example.com",
		SelfLink: "https://comb.example.com/feed",
	}

	rss, err := generator.Run(channel, records)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	expected := []string{
		`<?xml version="1.0" encoding="UTF-8"?>`,
		`<rss version="2.0"`,
		`xmlns:atom="http://www.w3.org/2005/Atom"`,
		"<title>Test Feed</title>",
		"<link>https://comb.example.com</link>",
		"<description>Recently published content</description>",
		`<atom:link href="https://comb.example.com/feed" rel="self" type="application/rss+xml" />`,
		"<lastBuildDate>Mon, 03 Jul 2023 10:00:00 +0000</lastBuildDate>",
		"<generator>Content-Comb/1.2.3</generator>",
		`<guid isPermaLink="false">c-1</guid>`,
		"<title>Go 1.21 released</title>",
		"<link>https://go.dev/blog/go1.21</link>",
		"<description>New builtins &amp; more</description>",
		"<pubDate>Mon, 03 Jul 2023 10:00:00 +0000</pubDate>",
		"<author>gopher</author>",
		"<category>golang</category>",
		"<category>release</category>",
		"<source>golang</source>",
		`<enclosure url="https://cdn.example.com/gopher.jpg?w=800" length="0" type="image/jpeg" />`,
		`<guid isPermaLink="false">c-2</guid>`,
		"<description>No description available</description>",
		"<pubDate>Sat, 01 Jul 2023 12:00:00 +0000</pubDate>",
		"</channel>",
		"</rss>",
	}
	for _, want := range expected {
		if !strings.Contains(rss, want) {
			t.Errorf("RSS should contain %q", want)
		}
	}
}

func TestGenerateWithoutRecords(t *testing.T) {
	generator := NewGenerator("dev")
	generator.now = func() time.Time { return time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC) }

	rss, err := generator.Run(Channel{}, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !strings.Contains(rss, "<title>Content Comb</title>") {
		t.Error("RSS should fall back to the default title")
	}
	if strings.Contains(rss, "<item>") {
		t.Error("RSS should not contain items")
	}
	if strings.Contains(rss, "atom:link") {
		t.Error("RSS should not contain a self link when none is given")
	}
}

func TestGeneratedRSSIsWellFormed(t *testing.T) {
	generator := NewGenerator("dev")

	records := []database.ContentRecord{
		{ID: "c-<1>", Title: `Quotes "and" <tags>`, URL: "https://example.com/?a=1&b=2", CreatedAt: time.Now()},
	}

	rss, err := generator.Run(Channel{Title: "A & B"}, records)
	if err != nil {
		t.Fatal(err)
	}

	decoder := xml.NewDecoder(strings.NewReader(rss))
	for {
		_, err := decoder.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			t.Fatalf("Generated RSS is not well-formed: %v", err)
		}
	}
}

func TestMediaType(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/a.png", "image/png"},
		{"https://example.com/a.JPG?x=1", "image/jpeg"},
		{"https://example.com/clip", "application/octet-stream"},
	}

	for _, tt := range tests {
		if got := mediaType(tt.url); got != tt.want {
			t.Errorf("mediaType(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
