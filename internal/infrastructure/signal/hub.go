package signal

import (
	"sync"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"

	"go.uber.org/zap"
)

// Hub is the live handle map. Every attached connection gets a bounded
// send queue drained by its own writer goroutine, so Push never waits on
// the network.
type Hub struct {
	mu         sync.RWMutex
	clients    map[domain.ConnectionID]*client
	bufferSize int
	logger     *zap.SugaredLogger
	wg         sync.WaitGroup
}

type client struct {
	id        domain.ConnectionID
	transport ports.Transport
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) stop() {
	c.closeOnce.Do(func() { close(c.done) })
}

var _ ports.Pusher = (*Hub)(nil)

func NewHub(bufferSize int, logger *zap.SugaredLogger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		clients:    make(map[domain.ConnectionID]*client),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Attach starts the writer for id. Attaching an id twice replaces the old
// handle.
func (h *Hub) Attach(id domain.ConnectionID, t ports.Transport) {
	c := &client{
		id:        id,
		transport: t,
		send:      make(chan []byte, h.bufferSize),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	old := h.clients[id]
	h.clients[id] = c
	h.mu.Unlock()

	if old != nil {
		old.stop()
	}

	h.wg.Add(1)
	go h.writeLoop(c)
}

// Detach stops the writer. Frames still queued are discarded.
func (h *Hub) Detach(id domain.ConnectionID) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()

	if ok {
		c.stop()
	}
}

// Push enqueues frame without blocking. It reports false when the
// connection is unknown, closing, or its queue is full.
func (h *Hub) Push(id domain.ConnectionID, frame []byte) bool {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		h.logger.Debugw("send queue full, frame dropped", "connection_id", id)
		return false
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll closes every attached transport and waits for the writers to
// exit. The transport owners observe the close and disconnect.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.stop()
		if err := c.transport.Close(); err != nil {
			h.logger.Debugw("transport close failed", "connection_id", c.id, "error", err)
		}
	}
	h.wg.Wait()
}

func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()

	for {
		select {
		case frame := <-c.send:
			if err := c.transport.Send(frame); err != nil {
				h.logger.Infow("write failed, closing connection", "connection_id", c.id, "error", err)
				c.stop()
				_ = c.transport.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
