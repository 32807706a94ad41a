package distributed

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"connectsphere/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.PresenceEvent
	gate   chan struct{}
	err    error
}

func (p *recordingPublisher) PublishPresence(_ context.Context, ev domain.PresenceEvent) error {
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) snapshot() []domain.PresenceEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.PresenceEvent(nil), p.events...)
}

func TestPresenceForwarder_ForwardsInOrderToAllPublishers(t *testing.T) {
	a := &recordingPublisher{}
	b := &recordingPublisher{err: errors.New("redis down")}
	f := NewPresenceForwarder(8, time.Second, zap.NewNop().Sugar(), a, b)

	f.Handle(domain.PresenceEvent{UserID: "alice", Status: domain.PresenceOnline})
	f.Handle(domain.PresenceEvent{UserID: "alice", Status: domain.PresenceOffline})
	f.Stop()

	for _, p := range []*recordingPublisher{a, b} {
		got := p.snapshot()
		require.Len(t, got, 2)
		assert.Equal(t, domain.PresenceOnline, got[0].Status)
		assert.Equal(t, domain.PresenceOffline, got[1].Status)
	}
	assert.Zero(t, f.Dropped())
}

func TestPresenceForwarder_FullQueueDrops(t *testing.T) {
	blocked := &recordingPublisher{gate: make(chan struct{})}
	f := NewPresenceForwarder(1, time.Second, zap.NewNop().Sugar(), blocked)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			f.Handle(domain.PresenceEvent{UserID: "bob", Status: domain.PresenceOnline})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Handle blocked on a full queue")
	}
	assert.GreaterOrEqual(t, f.Dropped(), int64(8))

	close(blocked.gate)
	f.Stop()
}

func TestPresenceForwarder_HandleAfterStop(t *testing.T) {
	pub := &recordingPublisher{}
	f := NewPresenceForwarder(4, time.Second, zap.NewNop().Sugar(), pub)
	f.Handle(domain.PresenceEvent{UserID: "alice", Status: domain.PresenceOnline})
	f.Stop()

	// A debounced offline timer can still fire during shutdown.
	assert.NotPanics(t, func() {
		f.Handle(domain.PresenceEvent{UserID: "alice", Status: domain.PresenceOffline})
	})
	assert.NotPanics(t, f.Stop)
	assert.Len(t, pub.snapshot(), 1)
	assert.Zero(t, f.Dropped())
}

func TestEventBus_DispatchSkipsOwnInstance(t *testing.T) {
	bus := NewEventBus(nil, "gw-1", "", zap.NewNop().Sugar())

	var got []*Event
	handler := func(ev *Event) error {
		got = append(got, ev)
		return nil
	}

	bus.dispatch(`{"type":"presence.changed","instance_id":"gw-1","user_id":"alice","status":"online"}`, handler)
	bus.dispatch(`not json`, handler)
	bus.dispatch(`{"type":"presence.changed","instance_id":"gw-2","user_id":"bob","status":"offline"}`, handler)

	require.Len(t, got, 1)
	assert.Equal(t, domain.UserID("bob"), got[0].UserID)
	assert.Equal(t, domain.PresenceOffline, got[0].Status)
}

func redisForTest(t *testing.T) *redis.Client {
	addr := os.Getenv("CONNECTSPHERE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CONNECTSPHERE_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestSharedPresenceRegistry_Redis(t *testing.T) {
	client := redisForTest(t)
	ctx := context.Background()
	logger := zap.NewNop().Sugar()

	gw1 := NewSharedPresenceRegistry(client, "test-gw-1", time.Minute, logger)
	gw2 := NewSharedPresenceRegistry(client, "test-gw-2", time.Minute, logger)
	t.Cleanup(func() {
		gw1.CleanupInstance(ctx, "test-gw-1")
		gw2.CleanupInstance(ctx, "test-gw-2")
	})

	require.NoError(t, gw1.PublishPresence(ctx, domain.PresenceEvent{UserID: "shared-alice", Status: domain.PresenceOnline}))
	rec, err := gw2.Lookup(ctx, "shared-alice")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "test-gw-1", rec.InstanceID)

	// gw2 takes over, so gw1 going offline must not erase it.
	require.NoError(t, gw2.PublishPresence(ctx, domain.PresenceEvent{UserID: "shared-alice", Status: domain.PresenceOnline}))
	require.NoError(t, gw1.PublishPresence(ctx, domain.PresenceEvent{UserID: "shared-alice", Status: domain.PresenceOffline}))
	rec, err = gw1.Lookup(ctx, "shared-alice")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "test-gw-2", rec.InstanceID)

	require.NoError(t, gw2.CleanupInstance(ctx, "test-gw-2"))
	rec, err = gw1.Lookup(ctx, "shared-alice")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
