package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ziadkadry99/relaybot/internal/dispatch"
)

// SocketOptions configures the socket source.
type SocketOptions struct {
	// Header is sent with the dial request, typically for authentication.
	Header http.Header

	// MinBackoff and MaxBackoff bound the reconnect delay.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// Filter restricts which conversations are admitted. Nil admits all.
	Filter *Filter

	// OnReject, when set, records events refused before dispatch.
	OnReject dispatch.RecordFunc

	Logger *slog.Logger
}

// Socket pulls platform events over a persistent websocket connection.
// It reconnects with exponential backoff when the connection drops and
// stops only when its context is cancelled.
type Socket struct {
	url  string
	opts SocketOptions
}

// NewSocket creates a socket source reading from the given URL.
func NewSocket(url string, opts SocketOptions) *Socket {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Socket{url: url, opts: opts}
}

// Run connects and feeds received events into the intake until ctx is
// cancelled. Connection drops trigger a reconnect; intake errors are
// terminal because retrying cannot help once the engine refuses events.
func (s *Socket) Run(ctx context.Context, intake Intake) error {
	backoff := s.opts.MinBackoff
	for {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, s.url, s.opts.Header)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if resp != nil {
				resp.Body.Close()
			}
			s.opts.Logger.Warn("socket dial failed",
				"url", s.url, "retry_in", backoff, "error", err)
			if err := sleepCtx(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.MaxBackoff)
			continue
		}
		backoff = s.opts.MinBackoff
		s.opts.Logger.Info("socket connected", "url", s.url)

		err = s.readLoop(ctx, conn, intake)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, dispatch.ErrStopped) {
			return err
		}

		s.opts.Logger.Warn("socket connection lost", "url", s.url, "error", err)
		if err := sleepCtx(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, s.opts.MaxBackoff)
	}
}

func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn, intake Intake) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		we, err := parseWireEvent(data)
		if err != nil {
			s.reject(ctx, "", "", "malformed frame")
			continue
		}

		// Keepalive and hello frames are not events.
		switch we.Type {
		case "", "event":
		default:
			continue
		}
		if we.Bot {
			continue
		}

		if err := we.validate(); err != nil {
			s.reject(ctx, we.ConversationID, we.EventID, err.Error())
			continue
		}
		if !s.opts.Filter.Admit(we.ConversationID) {
			s.reject(ctx, we.ConversationID, we.EventID, "conversation filtered")
			continue
		}

		if err := intake.Submit(ctx, we.toEvent(time.Now())); err != nil {
			return fmt.Errorf("submitting event: %w", err)
		}
	}
}

func (s *Socket) reject(ctx context.Context, conversationID, eventID, reason string) {
	s.opts.Logger.Warn("rejecting inbound event",
		"conversation_id", conversationID, "event_id", eventID, "reason", reason)
	if s.opts.OnReject != nil {
		s.opts.OnReject(ctx, dispatch.Record{
			ConversationID: conversationID,
			EventID:        eventID,
			Outcome:        "rejected",
			Detail:         reason,
		})
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		next = max
	}
	return next
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
