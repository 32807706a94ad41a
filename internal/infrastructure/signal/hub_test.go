package signal

import (
	"fmt"
	"testing"
	"time"

	"connectsphere/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(kind string, seq int) []byte {
	return []byte(fmt.Sprintf(`{"kind":%q,"seq":%d}`, kind, seq))
}

func TestHub_PushUnknownConnection(t *testing.T) {
	hub := NewHub(4, testLogger())
	assert.False(t, hub.Push("conn_missing", frame("message", 1)))
}

func TestHub_DeliversInOrder(t *testing.T) {
	hub := NewHub(128, testLogger())
	tr := newFakeTransport()
	hub.Attach("conn_1", tr)
	defer hub.CloseAll()

	for i := 1; i <= 100; i++ {
		require.True(t, hub.Push("conn_1", frame("message", i)))
	}

	require.Eventually(t, func() bool { return len(tr.all()) == 100 }, time.Second, 5*time.Millisecond)
	for i, env := range tr.all() {
		assert.Equal(t, uint64(i+1), env.Seq)
	}
}

func TestHub_FullQueueDropsWithoutBlocking(t *testing.T) {
	hub := NewHub(2, testLogger())
	slow := newFakeTransport()
	slow.gate = make(chan struct{})
	hub.Attach("conn_slow", slow)

	fast := newFakeTransport()
	hub.Attach("conn_fast", fast)

	accepted := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			if hub.Push("conn_slow", frame("typing", i)) {
				accepted++
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("push blocked on a stalled connection")
	}
	assert.Less(t, accepted, 10)

	require.True(t, hub.Push("conn_fast", frame("message", 1)))
	fast.waitFor(t, "message")

	close(slow.gate)
	hub.CloseAll()
}

func TestHub_DetachStopsDelivery(t *testing.T) {
	hub := NewHub(4, testLogger())
	tr := newFakeTransport()
	hub.Attach("conn_1", tr)

	hub.Detach("conn_1")
	assert.False(t, hub.Push("conn_1", frame("message", 1)))
	assert.Equal(t, 0, hub.Len())
}

func TestHub_WriteErrorClosesTransport(t *testing.T) {
	hub := NewHub(4, testLogger())
	tr := newFakeTransport()
	tr.failing = true
	hub.Attach("conn_1", tr)

	require.True(t, hub.Push("conn_1", frame("message", 1)))
	assert.Eventually(t, tr.isClosed, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !hub.Push("conn_1", frame("message", 2)) }, time.Second, 5*time.Millisecond)
}

func TestHub_CloseAll(t *testing.T) {
	hub := NewHub(4, testLogger())
	transports := make([]*fakeTransport, 3)
	for i := range transports {
		transports[i] = newFakeTransport()
		hub.Attach(domain.ConnectionID(fmt.Sprintf("conn_%d", i)), transports[i])
	}

	hub.CloseAll()
	for _, tr := range transports {
		assert.True(t, tr.isClosed())
	}
}
