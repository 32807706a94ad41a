package domain

import "time"

type ConnectionID string

// Connection is one live duplex channel. UserID stays empty until the
// client sends a join event.
type Connection struct {
	ID           ConnectionID
	UserID       UserID
	RemoteAddr   string
	CreatedAt    time.Time
	LastActivity time.Time
}

func (c *Connection) IsBound() bool {
	return c.UserID != ""
}

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

type PresenceEvent struct {
	UserID    UserID         `json:"userId"`
	Status    PresenceStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
}
