// Package dispatch runs inbound events through their conversation handler
// exactly once: dedup check, per-conversation lock, handler invocation,
// then one atomic commit of the new state, the dedup record, and any
// queued replies.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/relaybot/internal/event"
	"github.com/ziadkadry99/relaybot/internal/store"
)

var (
	// ErrEmptyEventID rejects events without an identity; without one the
	// delivery guarantees cannot hold.
	ErrEmptyEventID = errors.New("event id is empty")

	// ErrEmptyConversationID rejects events that name no conversation.
	ErrEmptyConversationID = errors.New("conversation id is empty")
)

// HandlerError reports that the handler itself failed. Nothing was
// committed; the platform is free to redeliver the event.
type HandlerError struct {
	EventID string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler failed for event %s: %v", e.EventID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// StorageError reports an infrastructure failure in the store. Nothing
// observable was committed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Status says what a dispatch did with an event.
type Status string

const (
	StatusProcessed Status = "processed"
	StatusDuplicate Status = "duplicate"
)

// Result reports the outcome of one dispatch.
type Result struct {
	Status       Status
	StateVersion int64
	Outbox       []event.OutboxEntry
}

// HandlerResult is what a handler returns: the conversation state to
// persist and any reply payloads to queue for delivery.
type HandlerResult struct {
	State   []byte
	Replies [][]byte
}

// Handler processes one event against the state it was given. Returning
// an error discards everything, including any state the handler mutated.
type Handler interface {
	Handle(ctx context.Context, ev event.Event, state []byte) (HandlerResult, error)
}

// Resolver picks the handler for an event and names it for logging and
// the journal. Implementations must always return a handler; unrecognized
// events get the fallback.
type Resolver interface {
	Resolve(ev event.Event) (Handler, string)
}

// Record is one journal line about a dispatched event.
type Record struct {
	ConversationID string
	EventID        string
	Command        string
	Outcome        string
	Detail         string
	Took           time.Duration
}

// RecordFunc receives dispatch outcomes, typically to write the journal.
type RecordFunc func(ctx context.Context, rec Record)

// Options configures a Dispatcher.
type Options struct {
	// HandlerTimeout bounds a single handler invocation. Zero means no
	// limit beyond the caller's context.
	HandlerTimeout time.Duration

	// OnRecord, when set, is called once per dispatch with the outcome.
	OnRecord RecordFunc

	// OnCommit, when set, is called after a commit that queued outbox
	// entries. The retry controller uses it to wake up early.
	OnCommit func()

	Logger *slog.Logger
}

// Dispatcher is the single-event ingestion pipeline.
type Dispatcher struct {
	store    store.Store
	resolver Resolver
	locks    *lockTable
	opts     Options
}

// New creates a Dispatcher over the given store and handler resolver.
func New(st store.Store, resolver Resolver, opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		store:    st,
		resolver: resolver,
		locks:    newLockTable(),
		opts:     opts,
	}
}

// Dispatch processes one event end to end. Duplicates return a benign
// Result with StatusDuplicate and no error. A HandlerError or
// StorageError means nothing was committed and the event may be
// redelivered safely.
func (d *Dispatcher) Dispatch(ctx context.Context, ev event.Event) (Result, error) {
	if ev.ID == "" {
		return Result{}, ErrEmptyEventID
	}
	if ev.ConversationID == "" {
		return Result{}, ErrEmptyConversationID
	}

	start := time.Now()

	// Fast path: the event was already fully processed.
	seen, err := d.store.HasDedup(ctx, ev.ID)
	if err != nil {
		return Result{}, &StorageError{Op: "dedup check", Err: err}
	}
	if seen {
		d.finish(ctx, ev, "", string(StatusDuplicate), "", start)
		return Result{Status: StatusDuplicate}, nil
	}

	if err := d.locks.acquire(ctx, ev.ConversationID); err != nil {
		return Result{}, fmt.Errorf("acquiring conversation lock: %w", err)
	}
	defer d.locks.release(ev.ConversationID)

	// Re-check under the lock: a concurrent delivery of this event may
	// have committed while we waited.
	seen, err = d.store.HasDedup(ctx, ev.ID)
	if err != nil {
		return Result{}, &StorageError{Op: "dedup check", Err: err}
	}
	if seen {
		d.finish(ctx, ev, "", string(StatusDuplicate), "", start)
		return Result{Status: StatusDuplicate}, nil
	}

	st, err := d.store.GetConversation(ctx, ev.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		st = event.ConversationState{ConversationID: ev.ConversationID}
	} else if err != nil {
		return Result{}, &StorageError{Op: "loading state", Err: err}
	}

	handler, name := d.resolver.Resolve(ev)
	if handler == nil {
		return Result{}, &HandlerError{EventID: ev.ID, Err: errors.New("resolver returned no handler")}
	}

	hctx := ctx
	if d.opts.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, d.opts.HandlerTimeout)
		defer cancel()
	}

	hr, err := handler.Handle(hctx, ev, st.Data)
	if err != nil {
		d.finish(ctx, ev, name, "handler_error", err.Error(), start)
		return Result{}, &HandlerError{EventID: ev.ID, Err: err}
	}

	now := time.Now()
	entries := make([]event.OutboxEntry, 0, len(hr.Replies))
	for _, payload := range hr.Replies {
		entries = append(entries, event.OutboxEntry{
			ID:             uuid.New().String(),
			ConversationID: ev.ConversationID,
			Payload:        payload,
			Status:         event.OutboxPending,
			NextAttemptAt:  now,
		})
	}

	set := store.CommitSet{
		State: event.ConversationState{
			ConversationID: ev.ConversationID,
			Version:        st.Version + 1,
			Data:           hr.State,
		},
		Dedup:  event.DedupRecord{EventID: ev.ID, ProcessedAt: now},
		Outbox: entries,
	}

	if err := d.store.Commit(ctx, set); err != nil {
		if errors.Is(err, store.ErrDuplicateEvent) {
			// Lost the commit race to another delivery of this event.
			// Their commit stands, ours was rolled back in full.
			d.finish(ctx, ev, name, string(StatusDuplicate), "", start)
			return Result{Status: StatusDuplicate}, nil
		}
		d.finish(ctx, ev, name, "storage_error", err.Error(), start)
		return Result{}, &StorageError{Op: "commit", Err: err}
	}

	d.finish(ctx, ev, name, string(StatusProcessed), "", start)
	if d.opts.OnCommit != nil && len(entries) > 0 {
		d.opts.OnCommit()
	}

	return Result{
		Status:       StatusProcessed,
		StateVersion: st.Version + 1,
		Outbox:       entries,
	}, nil
}

func (d *Dispatcher) finish(ctx context.Context, ev event.Event, command, outcome, detail string, start time.Time) {
	took := time.Since(start)

	d.opts.Logger.Debug("event dispatched",
		"event_id", ev.ID,
		"conversation_id", ev.ConversationID,
		"command", command,
		"outcome", outcome,
		"took", took,
	)

	if d.opts.OnRecord != nil {
		d.opts.OnRecord(ctx, Record{
			ConversationID: ev.ConversationID,
			EventID:        ev.ID,
			Command:        command,
			Outcome:        outcome,
			Detail:         detail,
			Took:           took,
		})
	}
}
