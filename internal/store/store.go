// Package store defines the durability contract of the dispatch pipeline
// and provides SQLite and Postgres implementations of it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ziadkadry99/relaybot/internal/event"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEvent is returned by Commit when a dedup record for the
	// event already exists. The whole commit is rolled back.
	ErrDuplicateEvent = errors.New("event already processed")

	// ErrVersionConflict is returned by Commit when the conversation row
	// moved since the state was loaded. The whole commit is rolled back.
	ErrVersionConflict = errors.New("conversation version conflict")
)

// CommitSet is everything one successfully handled event persists. It is
// written atomically: either the new state, the dedup record, and every
// outbox entry become visible together, or none of them do.
type CommitSet struct {
	State  event.ConversationState
	Dedup  event.DedupRecord
	Outbox []event.OutboxEntry
}

// OutboxFilter controls which outbox entries are returned by OutboxList.
type OutboxFilter struct {
	ConversationID string
	Status         event.OutboxStatus
	Limit          int
	Offset         int
}

// Store is the durable backend for conversations, dedup records, and the
// outbox. Implementations must make Commit atomic and guard the
// conversation write with an optimistic version check: the stored version
// must equal the committed version minus one, otherwise ErrVersionConflict.
type Store interface {
	// GetConversation returns the current state for a conversation, or
	// ErrNotFound when no event for it has ever been committed.
	GetConversation(ctx context.Context, conversationID string) (event.ConversationState, error)

	// Commit atomically persists a CommitSet. ErrDuplicateEvent and
	// ErrVersionConflict both mean nothing was written.
	Commit(ctx context.Context, set CommitSet) error

	// HasDedup reports whether the event has already been processed.
	HasDedup(ctx context.Context, eventID string) (bool, error)

	// SweepDedup deletes dedup records older than cutoff and returns how
	// many were removed.
	SweepDedup(ctx context.Context, cutoff time.Time) (int64, error)

	// OutboxDue returns pending entries whose next attempt time has
	// passed, oldest first, without claiming them.
	OutboxDue(ctx context.Context, now time.Time, limit int) ([]event.OutboxEntry, error)

	// OutboxClaim selects due pending entries and, in the same
	// transaction, bumps their attempt count and pushes their next
	// attempt time out by lease. A concurrent claimer cannot pick up the
	// same entries until the lease expires.
	OutboxClaim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]event.OutboxEntry, error)

	// OutboxMarkSent finalizes a delivered entry.
	OutboxMarkSent(ctx context.Context, id string) error

	// OutboxReschedule keeps an entry pending and sets when it is next
	// due, recording the error that caused the retry.
	OutboxReschedule(ctx context.Context, id string, next time.Time, lastError string) error

	// OutboxMarkFailed parks an entry as failed. Failed entries are never
	// retried automatically but remain queryable and can be requeued.
	OutboxMarkFailed(ctx context.Context, id string, lastError string) error

	// OutboxRequeue resets a failed entry to pending with zero attempts,
	// due immediately. ErrNotFound if the entry is missing or not failed.
	OutboxRequeue(ctx context.Context, id string) error

	// OutboxList returns entries matching the filter, newest first.
	OutboxList(ctx context.Context, filter OutboxFilter) ([]event.OutboxEntry, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
}
