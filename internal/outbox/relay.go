// Package outbox drives delivery of committed replies. A relay polls the
// outbox for due entries, claims them, and hands them to a Sender,
// retrying transient failures with exponential backoff until they succeed
// or run out of attempts. Entries that exhaust their attempts, or whose
// failure is permanent, are parked as failed and stay visible for
// inspection and manual requeue.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/ziadkadry99/relaybot/internal/event"
	"github.com/ziadkadry99/relaybot/internal/store"
)

// Sender delivers one payload to the platform conversation it belongs to.
type Sender interface {
	Send(ctx context.Context, conversationID string, payload []byte) error
}

// PermanentError marks a send failure that will never succeed on retry,
// such as a platform rejecting the payload outright. The relay fails the
// entry immediately instead of rescheduling it.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err carries a PermanentError anywhere in
// its chain.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// Options tunes the relay loop. Zero values take the defaults below.
type Options struct {
	// PollInterval is how often the outbox is scanned for due entries.
	PollInterval time.Duration

	// BatchSize caps how many entries one cycle claims.
	BatchSize int

	// Lease is how long a claim keeps an entry away from other relays.
	Lease time.Duration

	// MaxAttempts is the total number of delivery tries before an entry
	// is parked as failed.
	MaxAttempts int

	// BaseBackoff is the delay after the first failed attempt; it doubles
	// per attempt up to MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// JitterMax spreads retries by adding a random delay in [0, JitterMax].
	JitterMax time.Duration

	// SendTimeout bounds a single Send call.
	SendTimeout time.Duration

	// LastErrorMaxLen truncates stored error messages.
	LastErrorMaxLen int

	// OnPark, when set, is told about every entry parked as failed.
	OnPark func(ctx context.Context, e event.OutboxEntry, lastErr string)

	Rand   *rand.Rand
	Logger *slog.Logger
}

func (o *Options) setDefaults() {
	if o.PollInterval == 0 {
		o.PollInterval = time.Second
	}
	if o.BatchSize == 0 {
		o.BatchSize = 50
	}
	if o.Lease == 0 {
		o.Lease = 60 * time.Second
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 10
	}
	if o.BaseBackoff == 0 {
		o.BaseBackoff = time.Second
	}
	if o.MaxBackoff == 0 {
		o.MaxBackoff = 5 * time.Minute
	}
	if o.JitterMax == 0 {
		o.JitterMax = time.Second
	}
	if o.SendTimeout == 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.LastErrorMaxLen == 0 {
		o.LastErrorMaxLen = 2048
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Relay owns outbox delivery for one process.
type Relay struct {
	store  store.Store
	sender Sender
	opts   Options
	wake   chan struct{}
}

// NewRelay creates a Relay over the given store and sender.
func NewRelay(st store.Store, sender Sender, opts Options) *Relay {
	opts.setDefaults()
	return &Relay{
		store:  st,
		sender: sender,
		opts:   opts,
		wake:   make(chan struct{}, 1),
	}
}

// Wake nudges the relay to scan immediately instead of waiting for the
// next tick. Safe to call from any goroutine; extra wakes coalesce.
// Correctness never depends on it: the poll loop picks everything up
// eventually.
func (r *Relay) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled. Cancellation is honored between
// cycles and between sends, never mid-send.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	r.opts.Logger.Info("outbox relay started",
		"poll_interval", r.opts.PollInterval,
		"batch_size", r.opts.BatchSize,
		"max_attempts", r.opts.MaxAttempts,
	)

	for {
		select {
		case <-ctx.Done():
			r.opts.Logger.Info("outbox relay stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-r.wake:
		}

		if err := r.processOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			r.opts.Logger.Warn("outbox cycle failed", "error", err)
		}
	}
}

func (r *Relay) processOnce(ctx context.Context) error {
	claimed, err := r.store.OutboxClaim(ctx, time.Now(), r.opts.Lease, r.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("claiming outbox entries: %w", err)
	}

	for _, e := range claimed {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.deliver(ctx, e)
	}
	return nil
}

func (r *Relay) deliver(ctx context.Context, e event.OutboxEntry) {
	sctx := ctx
	if r.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, r.opts.SendTimeout)
		defer cancel()
	}

	err := r.sender.Send(sctx, e.ConversationID, e.Payload)
	if err == nil {
		if err := r.store.OutboxMarkSent(ctx, e.ID); err != nil {
			// The send went out but the entry is still pending; it will
			// be sent again. Delivery is at-least-once.
			r.opts.Logger.Warn("outbox entry sent but not marked",
				"entry_id", e.ID, "error", err)
			return
		}
		r.opts.Logger.Debug("outbox entry delivered",
			"entry_id", e.ID,
			"conversation_id", e.ConversationID,
			"attempts", e.Attempts,
		)
		return
	}

	lastErr := truncateError(err, r.opts.LastErrorMaxLen)

	if IsPermanent(err) {
		r.park(ctx, e, lastErr)
		r.opts.Logger.Warn("outbox entry permanently failed",
			"entry_id", e.ID,
			"conversation_id", e.ConversationID,
			"attempts", e.Attempts,
			"error", lastErr,
		)
		return
	}

	if e.Attempts >= r.opts.MaxAttempts {
		r.park(ctx, e, lastErr)
		r.opts.Logger.Warn("outbox entry failed after max attempts",
			"entry_id", e.ID,
			"conversation_id", e.ConversationID,
			"attempts", e.Attempts,
			"error", lastErr,
		)
		return
	}

	next := time.Now().Add(backoff(e.Attempts, r.opts.BaseBackoff, r.opts.MaxBackoff) + jitter(r.opts.Rand, r.opts.JitterMax))
	if err := r.store.OutboxReschedule(ctx, e.ID, next, lastErr); err != nil {
		r.opts.Logger.Warn("rescheduling outbox entry", "entry_id", e.ID, "error", err)
		return
	}
	r.opts.Logger.Debug("outbox entry rescheduled",
		"entry_id", e.ID,
		"attempts", e.Attempts,
		"next_attempt_at", next,
		"error", lastErr,
	)
}

// park marks the entry failed. Parked entries stay in the outbox for
// inspection and manual requeue; OnPark fires only once the park is
// durable.
func (r *Relay) park(ctx context.Context, e event.OutboxEntry, lastErr string) {
	if err := r.store.OutboxMarkFailed(ctx, e.ID, lastErr); err != nil {
		r.opts.Logger.Warn("marking outbox entry failed", "entry_id", e.ID, "error", err)
		return
	}
	if r.opts.OnPark != nil {
		r.opts.OnPark(ctx, e, lastErr)
	}
}

func truncateError(err error, maxLen int) string {
	msg := err.Error()
	if maxLen > 0 && len(msg) > maxLen {
		return msg[:maxLen]
	}
	return msg
}
