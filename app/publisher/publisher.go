package publisher

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when posting to a provider without credentials.
var ErrNotConfigured = errors.New("publisher not configured")

type Post struct {
	Message        string
	MediaURL       string
	Link           string
	IdempotencyKey string
}

type Result struct {
	ExternalPostID string
	// Replayed is set when the post was already published under the same key.
	Replayed bool
}

// Publisher posts content to one social provider.
type Publisher interface {
	Publish(ctx context.Context, post Post) (Result, error)
}

// Registry maps provider names to publishers.
type Registry map[string]Publisher

func (r Registry) Get(provider string) (Publisher, bool) {
	p, ok := r[provider]
	return p, ok
}
