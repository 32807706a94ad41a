package distributed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"

	"go.uber.org/zap"
)

// PresenceForwarder copies local presence transitions to external
// publishers off the caller's goroutine. Handle never blocks, so it is safe
// to subscribe directly to the presence tracker.
type PresenceForwarder struct {
	publishers []ports.PresencePublisher
	queue      chan domain.PresenceEvent
	timeout    time.Duration
	logger     *zap.SugaredLogger

	dropped atomic.Int64
	done    chan struct{}

	// mu guards the queue against Stop closing it mid-send.
	mu      sync.RWMutex
	stopped bool
}

func NewPresenceForwarder(buffer int, timeout time.Duration, logger *zap.SugaredLogger, publishers ...ports.PresencePublisher) *PresenceForwarder {
	if buffer <= 0 {
		buffer = 1024
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	f := &PresenceForwarder{
		publishers: publishers,
		queue:      make(chan domain.PresenceEvent, buffer),
		timeout:    timeout,
		logger:     logger,
		done:       make(chan struct{}),
	}
	go f.run()
	return f
}

// Handle enqueues ev. Events arriving after Stop are discarded.
func (f *PresenceForwarder) Handle(ev domain.PresenceEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.stopped {
		f.logger.Debugw("presence forwarder stopped, discarding event", "user_id", ev.UserID, "status", ev.Status)
		return
	}
	select {
	case f.queue <- ev:
	default:
		f.dropped.Add(1)
		f.logger.Warnw("presence forward queue full, dropping event", "user_id", ev.UserID, "status", ev.Status)
	}
}

func (f *PresenceForwarder) Dropped() int64 {
	return f.dropped.Load()
}

func (f *PresenceForwarder) run() {
	defer close(f.done)
	for ev := range f.queue {
		for _, p := range f.publishers {
			ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
			if err := p.PublishPresence(ctx, ev); err != nil {
				f.logger.Warnw("failed to forward presence", "user_id", ev.UserID, "status", ev.Status, "error", err)
			}
			cancel()
		}
	}
}

// Stop flushes queued events and waits for the worker. It is safe to call
// more than once.
func (f *PresenceForwarder) Stop() {
	f.mu.Lock()
	if !f.stopped {
		f.stopped = true
		close(f.queue)
	}
	f.mu.Unlock()
	<-f.done
}
