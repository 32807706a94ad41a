package signal

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ServerConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	AllowedOrigins []string

	// MessagesPerSecond <= 0 disables the per-connection limiter.
	MessagesPerSecond float64
	Burst             int
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteWait:         10 * time.Second,
		MaxMessageSize:    128 * 1024,
		MessagesPerSecond: 20,
		Burst:             40,
	}
}

// WebSocketServer owns the gorilla connections and feeds their frames to
// the gateway. One reader goroutine per connection; writes go through the
// hub's writer.
type WebSocketServer struct {
	cfg      ServerConfig
	gateway  ports.SignalingGateway
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	closing  bool
	shutdown chan struct{}
	wg       sync.WaitGroup
}

func NewWebSocketServer(cfg ServerConfig, gateway ports.SignalingGateway, logger *zap.SugaredLogger) *WebSocketServer {
	s := &WebSocketServer{
		cfg:      cfg,
		gateway:  gateway,
		logger:   logger,
		shutdown: make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	s.logger.Warnw("websocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
	return false
}

// wsTransport serializes data writes. Pings and close frames use
// WriteControl, which gorilla allows concurrently with other writes.
type wsTransport struct {
	conn      *websocket.Conn
	writeWait time.Duration
	mu        sync.Mutex
}

func (t *wsTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *wsTransport) ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeWait))
}

func (t *wsTransport) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.writeWait))
	return t.conn.Close()
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	t := &wsTransport{conn: conn, writeWait: s.cfg.WriteWait}
	id := s.gateway.OnConnect(t, r.RemoteAddr)
	defer s.gateway.OnDisconnect(id)

	s.serve(id, conn, t)
}

func (s *WebSocketServer) serve(id domain.ConnectionID, conn *websocket.Conn, t *wsTransport) {
	conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	var limiter *rate.Limiter
	if s.cfg.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan []byte, 16)
	errorChan := make(chan error, 1)

	go func() {
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				errorChan <- err
				return
			}
			if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
				continue
			}
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
			select {
			case messageChan <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case data := <-messageChan:
			if limiter != nil && !limiter.Allow() {
				s.logger.Debugw("inbound event rate limited", "connection_id", id)
				s.gateway.OnRateLimited(id)
				continue
			}
			s.gateway.OnMessage(ctx, id, data)

		case <-pingTicker.C:
			if err := t.ping(); err != nil {
				s.logger.Infow("error sending ping", "connection_id", id, "error", err)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading from connection", "connection_id", id, "error", err)
			}
			return

		case <-s.shutdown:
			_ = t.Close()
			return
		}
	}
}

// Shutdown stops accepting upgrades, closes every live connection and
// waits for their handlers to return.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closing {
		s.closing = true
		close(s.shutdown)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
