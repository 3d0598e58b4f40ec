package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ziadkadry99/relaybot/internal/event"
)

// ErrStopped is returned by Submit once the engine is draining.
var ErrStopped = errors.New("dispatch engine is stopped")

// Engine fans inbound events out to a bounded pool of dispatch workers.
// Submit provides backpressure through a fixed-size queue; Stop drains the
// queue and in-flight handlers within a deadline.
type Engine struct {
	dispatcher *Dispatcher
	workers    int
	queue      chan event.Event
	logger     *slog.Logger

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	intake  sync.RWMutex
	stopped bool
}

// NewEngine creates an Engine with the given worker count and queue size.
func NewEngine(d *Dispatcher, workers, queueSize int, logger *slog.Logger) *Engine {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Engine{
		dispatcher: d,
		workers:    workers,
		queue:      make(chan event.Event, queueSize),
		logger:     logger,
		runCtx:     runCtx,
		cancel:     cancel,
	}
}

// Start launches the worker pool. Workers run until Stop is called; they
// are not tied to any request context.
func (e *Engine) Start() {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	e.logger.Info("dispatch engine started", "workers", e.workers, "queue_size", cap(e.queue))
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for ev := range e.queue {
		if _, err := e.dispatcher.Dispatch(e.runCtx, ev); err != nil {
			e.logger.Error("dispatch failed",
				"event_id", ev.ID,
				"conversation_id", ev.ConversationID,
				"error", err,
			)
		}
	}
}

// Submit queues an event for dispatch. It blocks while the queue is full
// and returns ErrStopped once draining has begun.
func (e *Engine) Submit(ctx context.Context, ev event.Event) error {
	e.intake.RLock()
	defer e.intake.RUnlock()
	if e.stopped {
		return ErrStopped
	}
	select {
	case e.queue <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes intake, then waits for queued and in-flight events to
// finish. If the drain exceeds timeout, handler contexts are cancelled
// and Stop returns an error; committed work is unaffected either way.
func (e *Engine) Stop(timeout time.Duration) error {
	e.intake.Lock()
	if e.stopped {
		e.intake.Unlock()
		return nil
	}
	e.stopped = true
	e.intake.Unlock()

	close(e.queue)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		e.logger.Info("dispatch engine drained")
		return nil
	case <-time.After(timeout):
		e.cancel()
		return fmt.Errorf("dispatch engine drain timed out after %s", timeout)
	}
}
