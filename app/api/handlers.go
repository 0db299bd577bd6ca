package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/content-comb/app/cfg"
	"github.com/lysyi3m/content-comb/app/content"
	"github.com/lysyi3m/content-comb/app/database"
	"github.com/lysyi3m/content-comb/app/discovery"
	"github.com/lysyi3m/content-comb/app/feed"
	"github.com/lysyi3m/content-comb/app/scheduling"
	"github.com/lysyi3m/content-comb/app/tasks"
)

const maxListLimit = 200

func NewHandler(contentService ContentService, queue QueueService, limiter RateLimiter, store StatsStore,
	sources SourceRegistry, discoverer tasks.Discoverer, scheduler tasks.TaskSchedulerInterface,
	settings tasks.DiscoverSettings) *Handler {
	return &Handler{
		content:    contentService,
		queue:      queue,
		limiter:    limiter,
		store:      store,
		sources:    sources,
		discoverer: discoverer,
		scheduler:  scheduler,
		settings:   settings,
		feed:       feed.NewGenerator(cfg.GetVersion()),
	}
}

// writeError maps domain errors to status codes. Unexpected errors are
// logged and reported as 500.
func writeError(c *gin.Context, operation string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, database.ErrNotFound), errors.Is(err, tasks.ErrUnknownTask):
		status = http.StatusNotFound
	case errors.Is(err, content.ErrInvalidTransition),
		errors.Is(err, database.ErrAlreadyScheduled),
		errors.Is(err, database.ErrConcurrentUpdate),
		errors.Is(err, tasks.ErrTaskInFlight):
		status = http.StatusConflict
	case errors.Is(err, scheduling.ErrUnknownProvider):
		status = http.StatusBadRequest
	case errors.Is(err, tasks.ErrQueueFull):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "operation", operation, "error", err)
		c.JSON(status, gin.H{"error": "Internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"database":  "ok",
		"sources":   h.sources.Count(),
	}

	if err := h.store.Ping(c.Request.Context()); err != nil {
		slog.Error("Database ping failed", "error", err)
		health["database"] = "unavailable"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	contentCounts, err := h.store.Content().CountByStatus(ctx)
	if err != nil {
		writeError(c, "count_content", err)
		return
	}
	queueCounts, err := h.store.Queue().CountByStatus(ctx)
	if err != nil {
		writeError(c, "count_queue", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"content": contentCounts,
		"queue":   queueCounts,
		"sources": h.sources.Count(),
	})
}

const feedSize = 50

// GetFeed serves the most recently posted content as RSS.
func (h *Handler) GetFeed(c *gin.Context) {
	records, err := h.content.List(c.Request.Context(), database.ContentFilter{
		Status:     database.ContentPosted,
		Limit:      feedSize,
		ByPostedAt: true,
	})
	if err != nil {
		writeError(c, "list_posted", err)
		return
	}

	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	base := scheme + "://" + c.Request.Host

	rss, err := h.feed.Run(feed.Channel{
		Title:    "Content Comb",
		Link:     base,
		SelfLink: base + "/feed",
	}, records)
	if err != nil {
		writeError(c, "generate_feed", err)
		return
	}

	c.Header("Content-Type", "application/rss+xml; charset=utf-8")
	c.Header("Cache-Control", "public, max-age=300")
	c.String(http.StatusOK, rss)
}

func (h *Handler) APICheckRateLimit(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res := h.limiter.Check(c.Request.Context(), req.Key, req.MaxRequests, time.Duration(req.WindowMs)*time.Millisecond)

	status := http.StatusOK
	if !res.Allowed {
		c.Header("Retry-After", strconv.Itoa(res.RetryAfter))
		status = http.StatusTooManyRequests
	}
	c.JSON(status, checkResponse{
		Allowed:    res.Allowed,
		Remaining:  res.Remaining,
		ResetTime:  res.ResetAt.UnixMilli(),
		RetryAfter: res.RetryAfter,
	})
}

func (h *Handler) APIResetRateLimit(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.limiter.Reset(c.Request.Context(), req.Key); err != nil {
		writeError(c, "reset_rate_limit", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "key": req.Key})
}

func listLimit(c *gin.Context) (int, int, bool) {
	limit, offset := 50, 0
	var err error
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			return 0, 0, false
		}
	}
	if v := c.Query("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, false
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, offset, true
}

func (h *Handler) APIListContent(c *gin.Context) {
	limit, offset, ok := listLimit(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit or offset"})
		return
	}

	status := database.ContentStatus(c.Query("status"))
	if status != "" && !validContentStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown status"})
		return
	}

	records, err := h.content.List(c.Request.Context(), database.ContentFilter{Status: status, Limit: limit, Offset: offset})
	if err != nil {
		writeError(c, "list_content", err)
		return
	}

	out := make([]contentResponse, 0, len(records))
	for i := range records {
		out = append(out, newContentResponse(&records[i]))
	}
	c.JSON(http.StatusOK, gin.H{"content": out, "total": len(out)})
}

func validContentStatus(status database.ContentStatus) bool {
	for _, s := range database.ContentStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (h *Handler) APIApproveContent(c *gin.Context) {
	rec, err := h.content.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "approve_content", err)
		return
	}
	c.JSON(http.StatusOK, newContentResponse(rec))
}

func (h *Handler) APIRejectContent(c *gin.Context) {
	rec, err := h.content.Reject(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "reject_content", err)
		return
	}
	c.JSON(http.StatusOK, newContentResponse(rec))
}

func (h *Handler) APIRetryContent(c *gin.Context) {
	rec, err := h.content.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "retry_content", err)
		return
	}
	c.JSON(http.StatusOK, newContentResponse(rec))
}

func (h *Handler) APIScheduleContent(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := h.queue.Schedule(c.Request.Context(), c.Param("id"), req.At, req.Provider)
	if err != nil {
		writeError(c, "schedule_content", err)
		return
	}
	c.JSON(http.StatusCreated, newQueueItemResponse(item))
}

func (h *Handler) APIListQueue(c *gin.Context) {
	limit, _, ok := listLimit(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}

	filter := database.QueueFilter{
		Status:    database.QueueStatus(c.Query("status")),
		ContentID: c.Query("content_id"),
		Limit:     limit,
	}
	items, err := h.queue.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, "list_queue", err)
		return
	}

	out := make([]queueItemResponse, 0, len(items))
	for i := range items {
		out = append(out, newQueueItemResponse(&items[i]))
	}
	c.JSON(http.StatusOK, gin.H{"items": out, "total": len(out)})
}

func (h *Handler) APICancelQueueItem(c *gin.Context) {
	item, err := h.queue.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "cancel_queue_item", err)
		return
	}
	c.JSON(http.StatusOK, newQueueItemResponse(item))
}

var tickKinds = map[string]tasks.TaskType{
	"discover": tasks.TaskTypeDiscover,
	"post":     tasks.TaskTypePostDue,
	"cleanup":  tasks.TaskTypeCleanup,
}

func (h *Handler) APITriggerTick(c *gin.Context) {
	kind := c.Param("kind")
	taskType, ok := tickKinds[kind]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown tick kind"})
		return
	}

	id, err := h.scheduler.Trigger(taskType)
	if err != nil {
		writeError(c, "trigger_tick", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"task": gin.H{
			"id":   id,
			"type": taskType,
		},
	})
}

// APIDiscover runs discovery synchronously and returns what would be kept.
// With persist set the kept items are also stored.
func (h *Handler) APIDiscover(c *gin.Context) {
	var req discoverRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.MaxItems <= 0 {
		req.MaxItems = h.settings.MaxItems
	}

	ctx := c.Request.Context()
	sources, err := h.sources.Sources(req.Sources...)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	items, report, err := h.discoverer.Discover(ctx, req.MaxItems, sources)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kept := discovery.FilterContent(items, h.settings.MinQuality, h.settings.MaxAge, time.Now())

	response := gin.H{
		"items":  itemsResponse(kept),
		"report": reportResponse(report),
	}

	if req.Persist {
		ingested, err := h.content.Ingest(ctx, kept, h.settings.AutoApprove)
		if err != nil {
			writeError(c, "ingest", err)
			return
		}
		response["stored"] = ingested.Inserted
		response["already_stored"] = ingested.Duplicates
	}

	c.JSON(http.StatusOK, response)
}

func itemsResponse(items []discovery.Item) []itemResponse {
	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, itemResponse{
			Title:        item.Title,
			URL:          item.URL,
			Source:       item.SourceName,
			ContentType:  string(item.ContentType),
			MediaURLs:    item.MediaURLs,
			QualityScore: item.QualityScore,
			CreatedAt:    item.CreatedAt,
		})
	}
	return out
}

func reportResponse(report discovery.Report) gin.H {
	sources := make([]gin.H, 0, len(report.Sources))
	for _, src := range report.Sources {
		entry := gin.H{"name": src.Name, "items": src.Items, "cached": src.Cached}
		if src.Err != nil {
			entry["error"] = src.Err.Error()
		}
		sources = append(sources, entry)
	}
	return gin.H{
		"sources":    sources,
		"fetched":    report.Fetched,
		"irrelevant": report.Irrelevant,
		"duplicates": report.Duplicates,
		"malformed":  report.Malformed,
		"returned":   report.Returned,
	}
}
