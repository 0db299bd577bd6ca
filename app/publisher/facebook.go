package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"github.com/lysyi3m/content-comb/app/metrics"
)

const (
	DefaultGraphURL  = "https://graph.facebook.com/v19.0"
	ProviderFacebook = "facebook"
)

// APIError is an error answer from the Graph API.
type APIError struct {
	StatusCode int
	Type       string
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph API error %d (%s %d): %s", e.StatusCode, e.Type, e.Code, e.Message)
}

type FacebookConfig struct {
	PageID         string
	AccessToken    string
	GraphURL       string
	HTTPClient     *http.Client
	IdempotencyTTL time.Duration

	// Breaker opens after FailureThreshold consecutive server-side failures
	// and half-opens after BreakerDelay.
	FailureThreshold uint
	BreakerDelay     time.Duration
}

// FacebookPublisher posts to a page feed, or to its photos when the post
// carries media.
type FacebookPublisher struct {
	cfg     FacebookConfig
	keys    IdempotencyStore
	breaker circuitbreaker.CircuitBreaker[Result]
}

func NewFacebookPublisher(cfg FacebookConfig, keys IdempotencyStore) *FacebookPublisher {
	if cfg.GraphURL == "" {
		cfg.GraphURL = DefaultGraphURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = DefaultIdempotencyTTL
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.BreakerDelay <= 0 {
		cfg.BreakerDelay = time.Minute
	}
	if keys == nil {
		keys = NewMemoryIdempotencyStore()
	}

	breaker := circuitbreaker.NewBuilder[Result]().
		WithFailureThreshold(cfg.FailureThreshold).
		WithDelay(cfg.BreakerDelay).
		WithSuccessThreshold(1).
		HandleIf(func(_ Result, err error) bool {
			if err == nil {
				return false
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
			}
			return true
		}).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			slog.Warn("Publisher circuit breaker state change", "provider", ProviderFacebook,
				"from", stateName(event.OldState), "to", stateName(event.NewState))
		}).
		Build()

	return &FacebookPublisher{cfg: cfg, keys: keys, breaker: breaker}
}

func (p *FacebookPublisher) Publish(ctx context.Context, post Post) (Result, error) {
	if p.cfg.PageID == "" || p.cfg.AccessToken == "" {
		return Result{}, ErrNotConfigured
	}

	if post.IdempotencyKey != "" {
		id, found, err := p.keys.Lookup(ctx, post.IdempotencyKey)
		if err != nil {
			slog.Warn("Idempotency lookup failed, posting anyway", "key", post.IdempotencyKey, "error", err)
		} else if found {
			slog.Info("Post already published", "key", post.IdempotencyKey, "external_post_id", id)
			metrics.PublishAttempts.WithLabelValues(ProviderFacebook, "replayed").Inc()
			return Result{ExternalPostID: id, Replayed: true}, nil
		}
	}

	result, err := failsafe.With(p.breaker).WithContext(ctx).Get(func() (Result, error) {
		return p.send(ctx, post)
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, circuitbreaker.ErrOpen) {
			outcome = "breaker_open"
		}
		metrics.PublishAttempts.WithLabelValues(ProviderFacebook, outcome).Inc()
		return Result{}, fmt.Errorf("facebook publish failed: %w", err)
	}
	metrics.PublishAttempts.WithLabelValues(ProviderFacebook, "posted").Inc()

	if post.IdempotencyKey != "" {
		if err := p.keys.Remember(ctx, post.IdempotencyKey, result.ExternalPostID, p.cfg.IdempotencyTTL); err != nil {
			slog.Warn("Failed to remember idempotency key", "key", post.IdempotencyKey, "error", err)
		}
	}

	return result, nil
}

type graphResponse struct {
	ID     string `json:"id"`
	PostID string `json:"post_id"`
	Error  *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (p *FacebookPublisher) send(ctx context.Context, post Post) (Result, error) {
	form := url.Values{}
	form.Set("access_token", p.cfg.AccessToken)

	edge := "feed"
	if post.MediaURL != "" {
		edge = "photos"
		form.Set("url", post.MediaURL)
		form.Set("caption", post.Message)
	} else {
		form.Set("message", post.Message)
		if post.Link != "" {
			form.Set("link", post.Link)
		}
	}

	endpoint := fmt.Sprintf("%s/%s/%s", strings.TrimRight(p.cfg.GraphURL, "/"), url.PathEscape(p.cfg.PageID), edge)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if post.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", post.IdempotencyKey)
	}

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to reach graph API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("failed to read graph API response: %w", err)
	}

	var out graphResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Result{}, &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("undecodable response: %v", err)}
	}

	if resp.StatusCode >= 300 || out.Error != nil {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
		if out.Error != nil {
			apiErr.Type = out.Error.Type
			apiErr.Code = out.Error.Code
			apiErr.Message = out.Error.Message
		}
		return Result{}, apiErr
	}

	id := out.PostID
	if id == "" {
		id = out.ID
	}
	if id == "" {
		return Result{}, &APIError{StatusCode: resp.StatusCode, Message: "response carried no post id"}
	}

	return Result{ExternalPostID: id}, nil
}

func stateName(state circuitbreaker.State) string {
	switch state {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}
