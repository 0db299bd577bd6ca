package content

import (
	"errors"
	"fmt"

	"github.com/lysyi3m/content-comb/app/database"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// TransitionError reports a status change that the state machine forbids.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

var transitions = map[database.ContentStatus][]database.ContentStatus{
	database.ContentPending:    {database.ContentGenerating, database.ContentReady, database.ContentApproved, database.ContentRejected},
	database.ContentGenerating: {database.ContentReady, database.ContentFailed},
	database.ContentReady:      {database.ContentApproved, database.ContentRejected},
	database.ContentApproved:   {database.ContentScheduled, database.ContentRejected},
	database.ContentScheduled:  {database.ContentPosted, database.ContentFailed, database.ContentApproved},
	database.ContentFailed:     {database.ContentPending},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to database.ContentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status database.ContentStatus) bool {
	return len(transitions[status]) == 0
}

func checkTransition(id string, from, to database.ContentStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{Entity: "content", ID: id, From: string(from), To: string(to)}
	}
	return nil
}
