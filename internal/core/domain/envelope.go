package domain

import "encoding/json"

// Inbound envelope kinds that are not relay kinds.
const (
	KindJoin        = "join"
	KindCallRequest = "call:request"
	KindCallAccept  = "call:accept"
	KindCallDecline = "call:decline"
	KindCallSignal  = "call:signal"
	KindCallEnd     = "call:end"
)

// Outbound frame kinds.
const (
	KindJoined           = "joined"
	KindError            = "error"
	KindPresence         = "presence"
	KindPresenceSnapshot = "presence:snapshot"
	KindCallRequested    = "call:requested"
	KindCallIncoming     = "call:incoming"
	KindCallRinging      = "call:ringing"
	KindCallAccepted     = "call:accepted"
	KindCallEnded        = "call:ended"
	KindCallState        = "call:state"
)

func IsCallKind(kind string) bool {
	switch kind {
	case KindCallRequest, KindCallAccept, KindCallDecline, KindCallSignal, KindCallEnd:
		return true
	}
	return false
}

// Envelope is the JSON object exchanged over the transport in both
// directions. Which fields are required depends on Kind.
type Envelope struct {
	Kind string `json:"kind"`

	// relay events
	ID       string           `json:"id,omitempty"`
	SenderID UserID           `json:"senderId,omitempty"`
	TargetID UserID           `json:"targetId,omitempty"`
	GroupID  GroupID          `json:"groupId,omitempty"`
	Body     json.RawMessage  `json:"body,omitempty"`
	Sender   *UserDisplayInfo `json:"sender,omitempty"`

	// call signaling
	SessionID CallSessionID   `json:"sessionId,omitempty"`
	From      UserID          `json:"from,omitempty"`
	To        UserID          `json:"to,omitempty"`
	CallKind  CallKind        `json:"callKind,omitempty"`
	State     CallState       `json:"state,omitempty"`
	Reason    EndReason       `json:"reason,omitempty"`
	Seq       uint64          `json:"seq,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	// join, presence and errors
	UserID       UserID         `json:"userId,omitempty"`
	Token        string         `json:"token,omitempty"`
	ConnectionID ConnectionID   `json:"connectionId,omitempty"`
	Status       PresenceStatus `json:"status,omitempty"`
	Users        []UserID       `json:"users,omitempty"`
	Code         string         `json:"code,omitempty"`
	Message      string         `json:"message,omitempty"`
	Timestamp    int64          `json:"ts,omitempty"`
}
