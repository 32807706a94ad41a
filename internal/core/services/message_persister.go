package services

import (
	"context"
	"time"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"
	"connectsphere/pkg/batch"

	"go.uber.org/zap"
)

const persistTimeout = 5 * time.Second

// MessagePersister hands persistent relay events to the external message
// store in batches. Failures are logged and counted, never returned to the
// sender.
type MessagePersister struct {
	store   ports.MessageStore
	batcher *batch.Batcher[*domain.RelayEvent]
	logger  *zap.SugaredLogger
	metrics ports.MetricsRecorder
}

func NewMessagePersister(store ports.MessageStore, batchSize int, interval time.Duration, logger *zap.SugaredLogger, metrics ports.MetricsRecorder) *MessagePersister {
	p := &MessagePersister{store: store, logger: logger, metrics: metrics}
	p.batcher = batch.NewBatcher[*domain.RelayEvent](batchSize, interval, p.flush,
		batch.WithErrorHandler[*domain.RelayEvent](p.onFlushError),
	)
	return p
}

// Persist enqueues ev and reports whether it was accepted.
func (p *MessagePersister) Persist(ev *domain.RelayEvent) bool {
	if p.batcher.Add(ev) {
		return true
	}
	p.metrics.PersistFailed(1)
	p.logger.Warnw("persist queue full, event not stored", "event_id", ev.ID, "kind", ev.Kind)
	return false
}

func (p *MessagePersister) flush(ctx context.Context, events []*domain.RelayEvent) error {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	return p.store.StoreEvents(ctx, events)
}

func (p *MessagePersister) onFlushError(err error, events []*domain.RelayEvent) {
	p.metrics.PersistFailed(len(events))
	p.logger.Errorw("failed to store relay events", "count", len(events), "error", err)
}

// Stop flushes what is queued.
func (p *MessagePersister) Stop() {
	p.batcher.Stop()
}
