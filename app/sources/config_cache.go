package sources

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lysyi3m/content-comb/app/discovery"
)

type ConfigCache struct {
	sourcesDir string
	cache      map[string]*Config
	mu         sync.RWMutex
}

func NewConfigCache(sourcesDir string) *ConfigCache {
	return &ConfigCache{
		sourcesDir: sourcesDir,
		cache:      make(map[string]*Config),
	}
}

func (cc *ConfigCache) Run() error {
	if _, err := os.Stat(cc.sourcesDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(cc.sourcesDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".yml")

		config, err := cc.LoadConfig(name)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Source configuration loaded", "source", name, "kind", config.Kind, "enabled", config.Settings.Enabled)
	}

	return nil
}

func (cc *ConfigCache) LoadConfig(name string) (*Config, error) {
	configFile := filepath.Join(cc.sourcesDir, name+".yml")
	sourceConfig, err := cc.parseConfig(configFile)
	if err != nil {
		return nil, err
	}

	sourceConfig.Name = name

	if err := validateConfig(sourceConfig); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cache[sourceConfig.Name] = sourceConfig

	return sourceConfig, nil
}

func (cc *ConfigCache) GetConfig(name string) (*Config, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	sourceConfig, ok := cc.cache[name]
	if !ok {
		return nil, fmt.Errorf("source config with name '%s' not found", name)
	}
	return sourceConfig, nil
}

// GetEnabledConfigs returns enabled configs sorted by name.
func (cc *ConfigCache) GetEnabledConfigs() []*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	enabled := make([]*Config, 0, len(cc.cache))
	for _, v := range cc.cache {
		if v.Settings.Enabled {
			enabled = append(enabled, v)
		}
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].Name < enabled[j].Name })
	return enabled
}

func (cc *ConfigCache) GetConfigCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.cache)
}

func (cc *ConfigCache) parseConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	sourceConfig := Config{
		Settings: ConfigSettings{Enabled: true},
	}
	if err := yaml.Unmarshal(data, &sourceConfig); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if sourceConfig.Settings.Timeout == 0 {
		sourceConfig.Settings.Timeout = 30
	}
	if sourceConfig.Settings.Sort == "" {
		sourceConfig.Settings.Sort = "hot"
	}
	if sourceConfig.RateLimit.MaxRequests == 0 {
		sourceConfig.RateLimit.MaxRequests = 60
	}
	if sourceConfig.RateLimit.Window == 0 {
		sourceConfig.RateLimit.Window = 60
	}

	return &sourceConfig, nil
}

func validateConfig(sourceConfig *Config) error {
	if sourceConfig == nil {
		return fmt.Errorf("sourceConfig is nil")
	}

	if sourceConfig.Name == "" {
		return fmt.Errorf("source name is required")
	}

	kind := discovery.SourceKind(sourceConfig.Kind)
	if !kind.Valid() {
		return fmt.Errorf("unknown source kind: %q", sourceConfig.Kind)
	}

	switch kind {
	case discovery.SourceReddit:
		if sourceConfig.Subreddit == "" {
			return fmt.Errorf("subreddit is required for reddit sources")
		}
	case discovery.SourceFeed, discovery.SourceNews:
		if sourceConfig.URL == "" {
			return fmt.Errorf("url is required for %s sources", kind)
		}
	case discovery.SourceWeb:
		if len(sourceConfig.Pages) == 0 {
			return fmt.Errorf("at least one page is required for web sources")
		}
	}

	nonNegativeFields := map[string]int{
		"timeout":                 sourceConfig.Settings.Timeout,
		"rate limit max requests": sourceConfig.RateLimit.MaxRequests,
		"rate limit window":       sourceConfig.RateLimit.Window,
	}

	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	for i, filter := range sourceConfig.Filters {
		if !discovery.FilterFields[filter.Field] {
			return fmt.Errorf("invalid filter field at index %d: %s", i, filter.Field)
		}
		if len(filter.Includes) == 0 && len(filter.Excludes) == 0 {
			return fmt.Errorf("filter at index %d must have at least one include or exclude rule", i)
		}
	}

	return nil
}
