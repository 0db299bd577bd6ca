package scheduling

import (
	"context"

	"github.com/lysyi3m/content-comb/app/content"
	"github.com/lysyi3m/content-comb/app/database"
)

// ErrInvalidTransition is shared with content records so callers can match
// either with one check.
var ErrInvalidTransition = content.ErrInvalidTransition

var transitions = map[database.QueueStatus][]database.QueueStatus{
	database.QueueQueued:    {database.QueueScheduled, database.QueueCancelled},
	database.QueueScheduled: {database.QueuePosting, database.QueueCancelled},
	database.QueuePosting:   {database.QueuePosted, database.QueueFailed, database.QueueCancelled},
	database.QueueFailed:    {database.QueueQueued, database.QueueCancelled},
}

func CanTransition(from, to database.QueueStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsActive reports whether an item in status still holds its content's
// schedule.
func IsActive(status database.QueueStatus) bool {
	switch status {
	case database.QueueQueued, database.QueueScheduled, database.QueuePosting:
		return true
	}
	return false
}

func move(ctx context.Context, repo database.QueueRepository, update database.QueueUpdate) error {
	if !CanTransition(update.From, update.To) {
		return &content.TransitionError{Entity: "queue item", ID: update.ID, From: string(update.From), To: string(update.To)}
	}
	return repo.Update(ctx, update)
}
