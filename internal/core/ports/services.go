package ports

import (
	"context"
	"encoding/json"
	"time"

	"connectsphere/internal/core/domain"
)

// Pusher physically delivers an encoded frame to a live connection. It must
// not block; false means the frame was dropped.
type Pusher interface {
	Push(id domain.ConnectionID, frame []byte) bool
}

type RegistryChangeType int

const (
	ConnectionBound RegistryChangeType = iota
	ConnectionUnbound
)

// RegistryChange is emitted after every bind/unbind. Remaining is the
// number of connections the user holds after the change.
type RegistryChange struct {
	Type         RegistryChangeType
	UserID       domain.UserID
	ConnectionID domain.ConnectionID
	Remaining    int
}

type RegistryStats struct {
	Connections      int
	BoundConnections int
	OnlineUsers      int
}

type ConnectionRegistry interface {
	Register(remoteAddr string) *domain.Connection
	Bind(id domain.ConnectionID, userID domain.UserID) error
	Unbind(id domain.ConnectionID) (*domain.Connection, error)
	Touch(id domain.ConnectionID)
	Get(id domain.ConnectionID) (*domain.Connection, bool)
	ConnectionsFor(userID domain.UserID) []domain.ConnectionID
	IsOnline(userID domain.UserID) bool
	OnlineUsers() []domain.UserID
	BoundConnections() []domain.ConnectionID
	Stats() RegistryStats
	Verify() error
	Subscribe(fn func(RegistryChange))
}

type PresenceTracker interface {
	Status(userID domain.UserID) domain.PresenceStatus
	// OnlineUsers lists users whose online state has been announced, so
	// it agrees with the presence events listeners have seen.
	OnlineUsers() []domain.UserID
	Subscribe(fn func(domain.PresenceEvent))
}

type RelayEngine interface {
	Deliver(ctx context.Context, event *domain.RelayEvent) (*domain.DeliveryResult, error)
}

type CallManager interface {
	Request(ctx context.Context, caller, callee domain.UserID, kind domain.CallKind) (domain.CallSession, error)
	Accept(ctx context.Context, id domain.CallSessionID, by domain.UserID) (domain.CallSession, error)
	Decline(ctx context.Context, id domain.CallSessionID, by domain.UserID) (domain.CallSession, error)
	Timeout(id domain.CallSessionID) error
	Signal(ctx context.Context, id domain.CallSessionID, from domain.UserID, payload json.RawMessage) error
	End(ctx context.Context, id domain.CallSessionID, by domain.UserID) (domain.CallSession, error)
	Get(id domain.CallSessionID) (domain.CallSession, bool)
	LiveSessionsFor(userID domain.UserID) []domain.CallSession
	OnUserOffline(userID domain.UserID)
}

// MetricsRecorder is implemented by the prometheus collector.
type MetricsRecorder interface {
	ConnectionOpened()
	ConnectionClosed()
	SetOnlineUsers(n int)
	RelayDelivered(kind domain.EventKind, connections int)
	RelayOffline(kind domain.EventKind)
	FrameDropped()
	EnvelopeRejected(kind string)
	CallTransition(to domain.CallState, reason domain.EndReason)
	CallDuration(d time.Duration)
	SignalDropped()
	PersistFailed(n int)
}
