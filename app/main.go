package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lysyi3m/content-comb/app/api"
	"github.com/lysyi3m/content-comb/app/cfg"
	"github.com/lysyi3m/content-comb/app/content"
	"github.com/lysyi3m/content-comb/app/database"
	"github.com/lysyi3m/content-comb/app/discovery"
	"github.com/lysyi3m/content-comb/app/publisher"
	"github.com/lysyi3m/content-comb/app/ratelimit"
	"github.com/lysyi3m/content-comb/app/scheduling"
	"github.com/lysyi3m/content-comb/app/sources"
	"github.com/lysyi3m/content-comb/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}

	setupLogger(appCfg.Debug)

	slog.Info("Starting Content Comb server", "version", appCfg.Version)

	db, version, err := database.OpenAndMigrate(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version)

	store := database.NewStore(db)

	rdb := connectRedis(appCfg)
	if rdb != nil {
		defer rdb.Close()
	}

	var (
		windows  ratelimit.WindowStore = ratelimit.NewMemoryStore()
		cache    discovery.SourceCache = discovery.NewMemoryCache()
		postKeys publisher.IdempotencyStore
	)
	if rdb != nil {
		windows = ratelimit.NewRedisStore(rdb)
		cache = discovery.NewRedisCache(rdb)
		postKeys = publisher.NewRedisIdempotencyStore(rdb)
	} else {
		postKeys = publisher.NewMemoryIdempotencyStore()
	}

	limiter := ratelimit.NewLimiter(windows, ratelimit.WithFailClosed(appCfg.RateLimitFailClosed))

	configCache := sources.NewConfigCache(appCfg.SourcesDir)
	if err := configCache.Run(); err != nil {
		slog.Error("Failed to load source configurations", "dir", appCfg.SourcesDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Source configurations loaded", "dir", appCfg.SourcesDir, "count", configCache.GetConfigCount())

	httpClient := &http.Client{Timeout: 60 * time.Second}
	registry := sources.NewRegistry(configCache, httpClient, appCfg.UserAgent)

	aggregator := discovery.NewAggregator(
		discovery.NewScorer(discovery.DefaultScoringWeights(), appCfg.ReputableSources),
		discovery.NewRelevanceFilter(appCfg.PositiveKeywords, appCfg.NegativeKeywords),
		limiter,
		cache,
		discovery.Config{CacheTTL: appCfg.CacheTTL},
	)

	contentService := content.NewService(store)

	publishers := publisher.Registry{}
	if appCfg.FacebookEnabled() {
		publishers[publisher.ProviderFacebook] = publisher.NewFacebookPublisher(publisher.FacebookConfig{
			PageID:      appCfg.FacebookPageID,
			AccessToken: appCfg.FacebookToken,
			GraphURL:    appCfg.GraphURL,
			HTTPClient:  httpClient,
		}, postKeys)
		slog.Info("Facebook publisher enabled", "page_id", appCfg.FacebookPageID)
	} else {
		slog.Warn("Facebook publisher disabled (FACEBOOK_PAGE_ID or FACEBOOK_ACCESS_TOKEN not set)")
	}

	queue := scheduling.NewQueue(store, publishers, limiter, scheduling.Config{
		MaxRetries:      appCfg.MaxRetries,
		DefaultProvider: publisher.ProviderFacebook,
		DefaultLimit: scheduling.Limit{
			MaxRequests: appCfg.PostRateLimit,
			Window:      appCfg.PostRateWindow,
		},
	})

	discoverSettings := tasks.DiscoverSettings{
		MaxItems:    appCfg.MaxItems,
		MinQuality:  appCfg.MinQuality,
		MaxAge:      appCfg.MaxAge,
		AutoApprove: appCfg.AutoApprove,
	}
	cleanupSettings := tasks.CleanupSettings{
		Retention:  appCfg.Retention,
		StuckAfter: appCfg.StuckAfter,
	}

	scheduler := tasks.NewScheduler(tasks.Config{
		WorkerCount: appCfg.WorkerCount,
		Location:    time.Local,
	})

	registrations := []struct {
		taskType tasks.TaskType
		spec     string
		build    tasks.Builder
	}{
		{tasks.TaskTypeDiscover, appCfg.DiscoverSchedule, func(trigger string) tasks.TaskInterface {
			return tasks.NewDiscoverTask(trigger, registry, aggregator, contentService, discoverSettings)
		}},
		{tasks.TaskTypePostDue, appCfg.PostSchedule, func(trigger string) tasks.TaskInterface {
			return tasks.NewPostDueTask(trigger, queue)
		}},
		{tasks.TaskTypeCleanup, appCfg.CleanupSchedule, func(trigger string) tasks.TaskInterface {
			return tasks.NewCleanupTask(trigger, store.Content(), queue, limiter, cleanupSettings)
		}},
	}
	for _, r := range registrations {
		if err := scheduler.Register(r.taskType, r.spec, r.build); err != nil {
			slog.Error("Failed to register task", "type", r.taskType, "schedule", r.spec, "error", err)
			os.Exit(1)
		}
	}

	scheduler.Start()

	apiHandler := api.NewHandler(contentService, queue, limiter, store, registry, aggregator, scheduler, discoverSettings)
	server := api.NewServer(apiHandler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("HTTP server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	scheduler.Stop()

	slog.Info("Content Comb shutdown complete")
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if debug {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// connectRedis returns nil when Redis is not configured or unreachable;
// callers then keep rate limits, caches and idempotency keys in memory.
func connectRedis(appCfg *cfg.Cfg) *redis.Client {
	if !appCfg.RedisEnabled() {
		slog.Info("Redis not configured, using in-memory stores")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := database.OpenRedis(ctx, appCfg.RedisURL)
	if err != nil {
		slog.Warn("Redis unavailable, using in-memory stores", "error", err)
		return nil
	}
	slog.Info("Connected to Redis")
	return client
}
