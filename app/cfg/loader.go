package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DBPath   string `long:"db-path" env:"DB_PATH" default:"./data/content-comb.db" description:"SQLite database file"`
	RedisURL string `long:"redis-url" env:"REDIS_URL" description:"Redis URL for shared rate limits and caches (optional, in-memory when empty)"`

	// Application configuration
	SourcesDir   string `long:"sources-dir" env:"SOURCES_DIR" default:"./sources" description:"Directory containing source configuration files"`
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	WorkerCount  int    `long:"worker-count" env:"WORKER_COUNT" default:"3" description:"Number of background task workers"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional, API disabled when empty)"`

	// Task schedules
	DiscoverSchedule string `long:"discover-schedule" env:"DISCOVER_SCHEDULE" default:"@every 6h" description:"Cron schedule for discovery runs"`
	PostSchedule     string `long:"post-schedule" env:"POST_SCHEDULE" default:"0 9,13,18 * * *" description:"Cron schedule for publishing due queue items"`
	CleanupSchedule  string `long:"cleanup-schedule" env:"CLEANUP_SCHEDULE" default:"@daily" description:"Cron schedule for stale content cleanup"`

	// Discovery configuration
	MaxItems         int           `long:"max-items" env:"MAX_ITEMS" default:"50" description:"Maximum items kept per discovery run"`
	MinQuality       float64       `long:"min-quality" env:"MIN_QUALITY" default:"0.3" description:"Minimum quality score for discovered items"`
	MaxAge           time.Duration `long:"max-age" env:"MAX_AGE" default:"72h" description:"Maximum age of discovered items"`
	AutoApprove      float64       `long:"auto-approve" env:"AUTO_APPROVE" default:"0" description:"Quality score at which ingested items are approved automatically (0 disables)"`
	PositiveKeywords []string      `long:"positive-keyword" env:"POSITIVE_KEYWORDS" env-delim:"," description:"Keywords an item must match to be relevant"`
	NegativeKeywords []string      `long:"negative-keyword" env:"NEGATIVE_KEYWORDS" env-delim:"," description:"Keywords that make an item irrelevant"`
	ReputableSources []string      `long:"reputable-source" env:"REPUTABLE_SOURCES" env-delim:"," description:"News sources that earn a quality bonus"`
	CacheTTL         time.Duration `long:"cache-ttl" env:"CACHE_TTL" default:"15m" description:"How long fetched source results are cached"`

	// Publishing configuration
	MaxRetries          int           `long:"max-retries" env:"MAX_RETRIES" default:"3" description:"Publish attempts before a queue item is marked failed"`
	FacebookPageID      string        `long:"facebook-page-id" env:"FACEBOOK_PAGE_ID" description:"Facebook page to publish to"`
	FacebookToken       string        `long:"facebook-token" env:"FACEBOOK_ACCESS_TOKEN" description:"Facebook page access token"`
	GraphURL            string        `long:"graph-url" env:"FACEBOOK_GRAPH_URL" default:"https://graph.facebook.com/v19.0" description:"Facebook Graph API base URL"`
	PostRateLimit       int           `long:"post-rate-limit" env:"POST_RATE_LIMIT" default:"10" description:"Posts allowed per provider per window"`
	PostRateWindow      time.Duration `long:"post-rate-window" env:"POST_RATE_WINDOW" default:"1h" description:"Window for the per-provider post limit"`
	RateLimitFailClosed bool          `long:"rate-limit-fail-closed" env:"RATE_LIMIT_FAIL_CLOSED" description:"Deny requests when the rate limit store is unavailable"`

	// Maintenance configuration
	Retention  time.Duration `long:"retention" env:"RETENTION" default:"720h" description:"Age after which unused content records are deleted"`
	StuckAfter time.Duration `long:"stuck-after" env:"STUCK_AFTER" default:"15m" description:"Age after which queue items left in posting are retried"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Content Comb/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for schedules and timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	return load(nil)
}

func load(args []string) (*Cfg, error) {
	// Values already in the environment win over .env entries.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:              raw.DBPath,
		RedisURL:            raw.RedisURL,
		SourcesDir:          raw.SourcesDir,
		Port:                raw.Port,
		WorkerCount:         raw.WorkerCount,
		APIAccessKey:        raw.APIAccessKey,
		DiscoverSchedule:    raw.DiscoverSchedule,
		PostSchedule:        raw.PostSchedule,
		CleanupSchedule:     raw.CleanupSchedule,
		MaxItems:            raw.MaxItems,
		MinQuality:          raw.MinQuality,
		MaxAge:              raw.MaxAge,
		AutoApprove:         raw.AutoApprove,
		PositiveKeywords:    raw.PositiveKeywords,
		NegativeKeywords:    raw.NegativeKeywords,
		ReputableSources:    raw.ReputableSources,
		CacheTTL:            raw.CacheTTL,
		MaxRetries:          raw.MaxRetries,
		FacebookPageID:      raw.FacebookPageID,
		FacebookToken:       raw.FacebookToken,
		GraphURL:            raw.GraphURL,
		PostRateLimit:       raw.PostRateLimit,
		PostRateWindow:      raw.PostRateWindow,
		RateLimitFailClosed: raw.RateLimitFailClosed,
		Retention:           raw.Retention,
		StuckAfter:          raw.StuckAfter,
		UserAgent:           raw.UserAgent,
		Timezone:            raw.Timezone,
		Debug:               raw.Debug,
		Version:             GetVersion(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func (c *Cfg) validate() error {
	if c.WorkerCount <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", c.WorkerCount)
	}
	if c.MaxItems <= 0 {
		return fmt.Errorf("max items must be positive, got %d", c.MaxItems)
	}
	if c.MinQuality < 0 || c.MinQuality > 1 {
		return fmt.Errorf("min quality must be within [0, 1], got %g", c.MinQuality)
	}
	if c.AutoApprove < 0 || c.AutoApprove > 1 {
		return fmt.Errorf("auto approve threshold must be within [0, 1], got %g", c.AutoApprove)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive, got %d", c.MaxRetries)
	}
	if c.PostRateLimit <= 0 || c.PostRateWindow <= 0 {
		return fmt.Errorf("post rate limit and window must be positive")
	}
	return nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
