package ports

import (
	"context"

	"connectsphere/internal/core/domain"
)

// Transport is the duplex channel behind one connection.
type Transport interface {
	Send(frame []byte) error
	Close() error
}

// SignalingGateway is the only entry point for transport events.
type SignalingGateway interface {
	OnConnect(t Transport, remoteAddr string) domain.ConnectionID
	OnMessage(ctx context.Context, id domain.ConnectionID, raw []byte)
	OnDisconnect(id domain.ConnectionID)
	// OnRateLimited tells the connection an inbound frame was refused.
	OnRateLimited(id domain.ConnectionID)
}
