package signal

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"connectsphere/internal/core/domain"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errTransportClosed = errors.New("transport closed")

type fakeTransport struct {
	mu      sync.Mutex
	frames  []domain.Envelope
	closed  bool
	failing bool
	// gate, when set, blocks Send until it is closed.
	gate chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) Send(frame []byte) error {
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || f.failing {
		return errTransportClosed
	}
	var env domain.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return err
	}
	f.frames = append(f.frames, env)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) all() []domain.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Envelope(nil), f.frames...)
}

func (f *fakeTransport) ofKind(kind string) []domain.Envelope {
	var out []domain.Envelope
	for _, env := range f.all() {
		if env.Kind == kind {
			out = append(out, env)
		}
	}
	return out
}

// waitFor returns the first frame of kind, failing the test if none shows
// up in time.
func (f *fakeTransport) waitFor(t *testing.T, kind string) domain.Envelope {
	t.Helper()

	var found domain.Envelope
	require.Eventually(t, func() bool {
		frames := f.ofKind(kind)
		if len(frames) == 0 {
			return false
		}
		found = frames[0]
		return true
	}, time.Second, 5*time.Millisecond, "no %q frame received", kind)
	return found
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
