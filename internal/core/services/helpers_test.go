package services

import (
	"encoding/json"
	"sync"
	"testing"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePusher struct {
	mu     sync.Mutex
	frames map[domain.ConnectionID][]domain.Envelope
	full   map[domain.ConnectionID]bool
}

func newFakePusher() *fakePusher {
	return &fakePusher{
		frames: make(map[domain.ConnectionID][]domain.Envelope),
		full:   make(map[domain.ConnectionID]bool),
	}
}

func (f *fakePusher) Push(id domain.ConnectionID, frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.full[id] {
		return false
	}
	var env domain.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		panic(err)
	}
	f.frames[id] = append(f.frames[id], env)
	return true
}

func (f *fakePusher) setFull(id domain.ConnectionID) {
	f.mu.Lock()
	f.full[id] = true
	f.mu.Unlock()
}

func (f *fakePusher) framesFor(id domain.ConnectionID) []domain.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Envelope(nil), f.frames[id]...)
}

func (f *fakePusher) ofKind(id domain.ConnectionID, kind string) []domain.Envelope {
	var out []domain.Envelope
	for _, env := range f.framesFor(id) {
		if env.Kind == kind {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakePusher) reset() {
	f.mu.Lock()
	f.frames = make(map[domain.ConnectionID][]domain.Envelope)
	f.mu.Unlock()
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func connect(t *testing.T, reg ports.ConnectionRegistry, user domain.UserID) domain.ConnectionID {
	t.Helper()
	conn := reg.Register("127.0.0.1:0")
	require.NoError(t, reg.Bind(conn.ID, user))
	return conn.ID
}

// countingMetrics records the counters the tests assert on.
type countingMetrics struct {
	NopMetrics
	mu             sync.Mutex
	dropped        int
	signalsDropped int
	persistFailed  int
	transitions    map[domain.CallState]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{transitions: make(map[domain.CallState]int)}
}

func (m *countingMetrics) FrameDropped() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}

func (m *countingMetrics) SignalDropped() {
	m.mu.Lock()
	m.signalsDropped++
	m.mu.Unlock()
}

func (m *countingMetrics) PersistFailed(n int) {
	m.mu.Lock()
	m.persistFailed += n
	m.mu.Unlock()
}

func (m *countingMetrics) CallTransition(to domain.CallState, _ domain.EndReason) {
	m.mu.Lock()
	m.transitions[to]++
	m.mu.Unlock()
}

func (m *countingMetrics) get(fn func(*countingMetrics) int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m)
}
