package domain

import (
	"encoding/json"
	"time"
)

type EventKind string

const (
	EventMessage      EventKind = "message"
	EventTyping       EventKind = "typing"
	EventReadReceipt  EventKind = "read-receipt"
	EventNotification EventKind = "notification"
	EventLike         EventKind = "like"
	EventComment      EventKind = "comment"
)

var relayKinds = map[EventKind]struct{}{
	EventMessage:      {},
	EventTyping:       {},
	EventReadReceipt:  {},
	EventNotification: {},
	EventLike:         {},
	EventComment:      {},
}

func (k EventKind) IsRelay() bool {
	_, ok := relayKinds[k]
	return ok
}

// IsPersistent reports whether events of this kind are handed to the
// durable message store.
func (k EventKind) IsPersistent() bool {
	switch k {
	case EventMessage, EventComment, EventLike:
		return true
	}
	return false
}

// RelayEvent is consumed once by the relay engine and never stored here.
// Exactly one of TargetID and GroupID is set.
type RelayEvent struct {
	ID        string           `json:"id"`
	Kind      EventKind        `json:"kind"`
	SenderID  UserID           `json:"senderId"`
	TargetID  UserID           `json:"targetId,omitempty"`
	GroupID   GroupID          `json:"groupId,omitempty"`
	Body      json.RawMessage  `json:"body"`
	Sender    *UserDisplayInfo `json:"sender,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

func (e *RelayEvent) IsGroup() bool {
	return e.GroupID != ""
}

// ConversationID names the thread an event belongs to: "group:<id>" for
// groups and "dm:<low>:<high>" for direct events.
func (e *RelayEvent) ConversationID() string {
	if e.IsGroup() {
		return "group:" + string(e.GroupID)
	}
	k := NewPairKey(e.SenderID, e.TargetID)
	return "dm:" + string(k.Low) + ":" + string(k.High)
}

type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryOffline   DeliveryStatus = "offline"
)

// DeliveryResult reports per-target outcome of a relay. Status is Offline
// only when no target connection (self-echo excluded) received the event.
type DeliveryResult struct {
	Status     DeliveryStatus
	Delivered  int
	Dropped    int
	Recipients []UserID
	OfflineIDs []UserID
}
