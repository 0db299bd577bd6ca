package cfg

import "time"

type Cfg struct {
	// Storage configuration
	DBPath   string
	RedisURL string

	// Application configuration
	SourcesDir   string
	Port         string
	WorkerCount  int
	APIAccessKey string

	// Task schedules (cron expressions)
	DiscoverSchedule string
	PostSchedule     string
	CleanupSchedule  string

	// Discovery configuration
	MaxItems         int
	MinQuality       float64
	MaxAge           time.Duration
	AutoApprove      float64
	PositiveKeywords []string
	NegativeKeywords []string
	ReputableSources []string
	CacheTTL         time.Duration

	// Publishing configuration
	MaxRetries          int
	FacebookPageID      string
	FacebookToken       string
	GraphURL            string
	PostRateLimit       int
	PostRateWindow      time.Duration
	RateLimitFailClosed bool

	// Maintenance configuration
	Retention  time.Duration
	StuckAfter time.Duration

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}

// RedisEnabled reports whether shared state should live in Redis instead of
// process memory.
func (c *Cfg) RedisEnabled() bool {
	return c.RedisURL != ""
}

// FacebookEnabled reports whether the Facebook publisher has credentials.
func (c *Cfg) FacebookEnabled() bool {
	return c.FacebookPageID != "" && c.FacebookToken != ""
}
