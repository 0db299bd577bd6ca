package sources

// Config describes one discovery source. It is read from <name>.yml in the
// sources directory.
type Config struct {
	Name      string          // Derived from filename (without .yml extension)
	Kind      string          `yaml:"kind"`
	URL       string          `yaml:"url"`       // feed URL, news endpoint or API base URL
	Subreddit string          `yaml:"subreddit"` // reddit only
	Query     string          `yaml:"query"`     // news only
	APIKey    string          `yaml:"api_key"`   // news only
	Pages     []string        `yaml:"pages"`     // web only
	Settings  ConfigSettings  `yaml:"settings"`
	RateLimit ConfigRateLimit `yaml:"rate_limit"`
	Filters   []ConfigFilter  `yaml:"filters"`
}

type ConfigSettings struct {
	Enabled bool   `yaml:"enabled"`
	Timeout int    `yaml:"timeout"` // seconds
	Sort    string `yaml:"sort"`    // reddit listing: hot, new, top, rising
}

type ConfigRateLimit struct {
	MaxRequests int `yaml:"max_requests"`
	Window      int `yaml:"window"` // seconds
}

type ConfigFilter struct {
	Field    string   `yaml:"field"`
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}
