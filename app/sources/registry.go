package sources

import (
	"fmt"
	"net/http"
	"time"

	"github.com/lysyi3m/content-comb/app/discovery"
)

// Registry turns loaded source configs into discovery sources.
type Registry struct {
	configCache *ConfigCache
	fetcher     httpFetcher
}

func NewRegistry(configCache *ConfigCache, httpClient *http.Client, userAgent string) *Registry {
	return &Registry{
		configCache: configCache,
		fetcher:     httpFetcher{client: httpClient, userAgent: userAgent},
	}
}

// Sources returns the named sources, or every enabled source when names is
// empty. Disabled sources are skipped even when named.
func (r *Registry) Sources(names ...string) ([]discovery.Source, error) {
	var configs []*Config
	if len(names) == 0 {
		configs = r.configCache.GetEnabledConfigs()
	} else {
		for _, name := range names {
			cfg, err := r.configCache.GetConfig(name)
			if err != nil {
				return nil, err
			}
			if cfg.Settings.Enabled {
				configs = append(configs, cfg)
			}
		}
	}

	out := make([]discovery.Source, 0, len(configs))
	for _, cfg := range configs {
		src, err := r.build(cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

func (r *Registry) build(cfg *Config) (discovery.Source, error) {
	kind := discovery.SourceKind(cfg.Kind)

	var fetcher discovery.Fetcher
	switch kind {
	case discovery.SourceReddit:
		fetcher = NewRedditFetcher(cfg, r.fetcher)
	case discovery.SourceFeed:
		fetcher = NewFeedFetcher(cfg, r.fetcher)
	case discovery.SourceNews:
		fetcher = NewNewsFetcher(cfg, r.fetcher)
	case discovery.SourceWeb:
		fetcher = NewWebFetcher(cfg, r.fetcher)
	default:
		return discovery.Source{}, fmt.Errorf("unknown source kind %q for %s", cfg.Kind, cfg.Name)
	}

	filters := make([]discovery.FieldFilter, 0, len(cfg.Filters))
	for _, f := range cfg.Filters {
		filters = append(filters, discovery.FieldFilter{Field: f.Field, Includes: f.Includes, Excludes: f.Excludes})
	}

	return discovery.Source{
		Name:    cfg.Name,
		Kind:    kind,
		Fetcher: fetcher,
		Timeout: time.Duration(cfg.Settings.Timeout) * time.Second,
		RateLimit: discovery.RateLimit{
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      time.Duration(cfg.RateLimit.Window) * time.Second,
		},
		Filters: filters,
	}, nil
}

func (r *Registry) Count() int {
	return r.configCache.GetConfigCount()
}
