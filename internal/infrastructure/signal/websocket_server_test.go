package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"connectsphere/internal/core/domain"
	apperrors "connectsphere/pkg/errors"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, mutate func(*ServerConfig)) (*WebSocketServer, *gatewayFixture, string) {
	t.Helper()

	f := newGatewayFixture(t)
	cfg := DefaultServerConfig()
	cfg.PingInterval = 50 * time.Millisecond
	cfg.PongTimeout = time.Second
	cfg.WriteWait = time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	srv := NewWebSocketServer(cfg, f.gw, testLogger())
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		ts.Close()
	})
	return srv, f, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil skips frames until one of kind arrives.
func readUntil(t *testing.T, conn *websocket.Conn, kind string) domain.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env domain.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.Kind == kind {
			return env
		}
	}
}

func TestWebSocketServer_JoinAndRelay(t *testing.T) {
	_, f, url := newTestServer(t, nil)

	alice := dial(t, url)
	bob := dial(t, url)

	require.NoError(t, alice.WriteJSON(map[string]string{"kind": "join", "userId": "alice"}))
	readUntil(t, alice, domain.KindJoined)
	require.NoError(t, bob.WriteJSON(map[string]string{"kind": "join", "userId": "bob"}))
	readUntil(t, bob, domain.KindJoined)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"kind":"typing","targetId":"bob","body":{"active":true}}`)))
	typing := readUntil(t, bob, "typing")
	assert.Equal(t, domain.UserID("alice"), typing.SenderID)
	assert.True(t, f.registry.IsOnline("bob"))
}

func TestWebSocketServer_ClientCloseUnbinds(t *testing.T) {
	_, f, url := newTestServer(t, nil)

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(map[string]string{"kind": "join", "userId": "alice"}))
	readUntil(t, conn, domain.KindJoined)
	require.True(t, f.registry.IsOnline("alice"))

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	conn.Close()

	assert.Eventually(t, func() bool { return !f.registry.IsOnline("alice") }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return f.registry.Stats().Connections == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketServer_RateLimit(t *testing.T) {
	_, _, url := newTestServer(t, func(cfg *ServerConfig) {
		cfg.MessagesPerSecond = 1
		cfg.Burst = 1
	})

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(map[string]string{"kind": "join", "userId": "alice"}))
	for i := 0; i < 3; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"typing","targetId":"bob","body":{"active":true}}`)))
	}

	errFrame := readUntil(t, conn, domain.KindError)
	assert.Equal(t, string(apperrors.ErrCodeRateLimit), errFrame.Code)
}

func TestWebSocketServer_OriginCheck(t *testing.T) {
	_, _, url := newTestServer(t, func(cfg *ServerConfig) {
		cfg.AllowedOrigins = []string{"https://app.example.com"}
	})

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://app.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestWebSocketServer_ShutdownClosesConnections(t *testing.T) {
	srv, f, url := newTestServer(t, nil)

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(map[string]string{"kind": "join", "userId": "alice"}))
	readUntil(t, conn, domain.KindJoined)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.False(t, f.registry.IsOnline("alice"))

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	}
}
