package sources

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".yml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestConfigCacheLoadValidConfig(t *testing.T) {
	tempDir := t.TempDir()

	writeConfig(t, tempDir, "golang", `
kind: reddit
subreddit: golang

settings:
  enabled: true
  timeout: 15
  sort: new

rate_limit:
  max_requests: 30
  window: 60

filters:
  - field: "title"
    excludes:
      - "hiring"
`)

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	if configCache.GetConfigCount() != 1 {
		t.Errorf("Expected 1 config, got %d", configCache.GetConfigCount())
	}

	cfg, err := configCache.GetConfig("golang")
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Name != "golang" {
		t.Errorf("Expected name 'golang', got '%s'", cfg.Name)
	}
	if cfg.Kind != "reddit" || cfg.Subreddit != "golang" {
		t.Errorf("Unexpected kind/subreddit: %s/%s", cfg.Kind, cfg.Subreddit)
	}
	if cfg.Settings.Timeout != 15 {
		t.Errorf("Expected timeout 15, got %d", cfg.Settings.Timeout)
	}
	if cfg.Settings.Sort != "new" {
		t.Errorf("Expected sort 'new', got '%s'", cfg.Settings.Sort)
	}
	if cfg.RateLimit.MaxRequests != 30 {
		t.Errorf("Expected max requests 30, got %d", cfg.RateLimit.MaxRequests)
	}
	if len(cfg.Filters) != 1 {
		t.Errorf("Expected 1 filter, got %d", len(cfg.Filters))
	}
}

func TestConfigCacheDefaults(t *testing.T) {
	tempDir := t.TempDir()

	writeConfig(t, tempDir, "blog", `
kind: feed
url: "https://go.dev/blog/feed.atom"
`)

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	cfg, err := configCache.GetConfig("blog")
	if err != nil {
		t.Fatal(err)
	}

	if !cfg.Settings.Enabled {
		t.Error("Sources should be enabled unless disabled explicitly")
	}
	if cfg.Settings.Timeout != 30 {
		t.Errorf("Expected default timeout 30, got %d", cfg.Settings.Timeout)
	}
	if cfg.RateLimit.MaxRequests != 60 || cfg.RateLimit.Window != 60 {
		t.Errorf("Unexpected default rate limit: %+v", cfg.RateLimit)
	}
}

func TestConfigCacheInvalidConfigs(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown kind",
			content: "kind: mastodon\nurl: https://example.com",
			wantErr: "unknown source kind",
		},
		{
			name:    "reddit without subreddit",
			content: "kind: reddit",
			wantErr: "subreddit is required",
		},
		{
			name:    "news without url",
			content: "kind: news\nquery: golang",
			wantErr: "url is required",
		},
		{
			name:    "web without pages",
			content: "kind: web",
			wantErr: "at least one page",
		},
		{
			name:    "negative timeout",
			content: "kind: feed\nurl: https://example.com/rss\nsettings:\n  timeout: -1",
			wantErr: "timeout must be non-negative",
		},
		{
			name:    "bad filter field",
			content: "kind: feed\nurl: https://example.com/rss\nfilters:\n  - field: body\n    includes: [go]",
			wantErr: "invalid filter field",
		},
		{
			name:    "empty filter",
			content: "kind: feed\nurl: https://example.com/rss\nfilters:\n  - field: title",
			wantErr: "at least one include or exclude",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := t.TempDir()
			writeConfig(t, tempDir, "broken", tt.content)

			err := NewConfigCache(tempDir).Run()
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigCacheMissingDir(t *testing.T) {
	configCache := NewConfigCache(filepath.Join(t.TempDir(), "missing"))
	if err := configCache.Run(); err != nil {
		t.Errorf("Missing directory should not be an error: %v", err)
	}
	if configCache.GetConfigCount() != 0 {
		t.Errorf("Expected no configs, got %d", configCache.GetConfigCount())
	}
}

func TestConfigCacheEnabledConfigsSorted(t *testing.T) {
	tempDir := t.TempDir()
	writeConfig(t, tempDir, "zeta", "kind: feed\nurl: https://z.example.com/rss")
	writeConfig(t, tempDir, "alpha", "kind: feed\nurl: https://a.example.com/rss")
	writeConfig(t, tempDir, "off", "kind: feed\nurl: https://o.example.com/rss\nsettings:\n  enabled: false")

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	enabled := configCache.GetEnabledConfigs()
	if len(enabled) != 2 {
		t.Fatalf("Expected 2 enabled configs, got %d", len(enabled))
	}
	if enabled[0].Name != "alpha" || enabled[1].Name != "zeta" {
		t.Errorf("Expected alpha, zeta; got %s, %s", enabled[0].Name, enabled[1].Name)
	}
}
