package reliability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"connectsphere/internal/core/domain"
	"connectsphere/pkg/circuitbreaker"
	"connectsphere/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errUnavailable = errors.New("store unavailable")

type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	stored   int
}

func (s *flakyStore) StoreEvents(_ context.Context, events []*domain.RelayEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errUnavailable
	}
	s.stored += len(events)
	return nil
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func batch(n int) []*domain.RelayEvent {
	events := make([]*domain.RelayEvent, n)
	for i := range events {
		events[i] = &domain.RelayEvent{ID: "evt", Kind: domain.EventMessage, SenderID: "alice", TargetID: "bob"}
	}
	return events
}

func TestMessageStoreWrapper_RetriesTransientFailures(t *testing.T) {
	store := &flakyStore{failures: 2}
	w := NewMessageStoreWrapper("mongo", store, fastRetry(), circuitbreaker.DefaultConfig(), zap.NewNop().Sugar())

	require.NoError(t, w.StoreEvents(context.Background(), batch(3)))
	assert.Equal(t, 3, store.calls)
	assert.Equal(t, 3, store.stored)
	assert.Equal(t, circuitbreaker.StateClosed, w.State())
}

func TestMessageStoreWrapper_OpenBreakerFailsFast(t *testing.T) {
	store := &flakyStore{failures: 100}
	cb := circuitbreaker.Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Hour, MaxRequestsHalfOpen: 1}
	w := NewMessageStoreWrapper("kafka", store, fastRetry(), cb, zap.NewNop().Sugar())

	err := w.StoreEvents(context.Background(), batch(1))
	require.Error(t, err)
	assert.Equal(t, circuitbreaker.StateOpen, w.State())

	calls := store.calls
	err = w.StoreEvents(context.Background(), batch(1))
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, calls, store.calls, "open breaker must not reach the store")
}

func TestFanoutStore(t *testing.T) {
	healthy := &flakyStore{}
	broken := &flakyStore{failures: 1}

	err := NewFanoutStore(broken, healthy).StoreEvents(context.Background(), batch(2))
	assert.ErrorIs(t, err, errUnavailable)
	assert.Equal(t, 2, healthy.stored)

	assert.NoError(t, NewFanoutStore(healthy).StoreEvents(context.Background(), batch(1)))
}
