package reliability

import (
	"context"
	"errors"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"
	"connectsphere/pkg/circuitbreaker"
	"connectsphere/pkg/retry"

	"go.uber.org/zap"
)

// MessageStoreWrapper retries StoreEvents behind a circuit breaker. While
// the breaker is open batches fail fast instead of piling up retries.
type MessageStoreWrapper struct {
	name           string
	store          ports.MessageStore
	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
	logger         *zap.SugaredLogger
}

var _ ports.MessageStore = (*MessageStoreWrapper)(nil)

func NewMessageStoreWrapper(
	name string,
	store ports.MessageStore,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *MessageStoreWrapper {
	retryConfig.Permanent = append(retryConfig.Permanent, circuitbreaker.ErrOpen, context.Canceled)

	w := &MessageStoreWrapper{
		name:           name,
		store:          store,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(name, cbConfig),
		logger:         logger,
	}
	w.circuitBreaker.OnStateChange(func(name string, from, to circuitbreaker.State) {
		logger.Warnw("message store circuit breaker state changed",
			"store", name,
			"from", from.String(),
			"to", to.String(),
		)
	})
	return w
}

func (w *MessageStoreWrapper) StoreEvents(ctx context.Context, events []*domain.RelayEvent) error {
	return retry.Do(ctx, w.retryConfig, func(ctx context.Context) error {
		return w.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
			return w.store.StoreEvents(ctx, events)
		})
	})
}

func (w *MessageStoreWrapper) State() circuitbreaker.State {
	return w.circuitBreaker.State()
}

// FanoutStore writes every batch to all stores and joins their errors. One
// failing sink does not stop the others.
type FanoutStore struct {
	stores []ports.MessageStore
}

var _ ports.MessageStore = (*FanoutStore)(nil)

func NewFanoutStore(stores ...ports.MessageStore) *FanoutStore {
	return &FanoutStore{stores: stores}
}

func (f *FanoutStore) StoreEvents(ctx context.Context, events []*domain.RelayEvent) error {
	var errs []error
	for _, s := range f.stores {
		if err := s.StoreEvents(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
