package domain

import (
	"encoding/json"
	"time"
)

type CallSessionID string

type CallKind string

const (
	CallVoice CallKind = "voice"
	CallVideo CallKind = "video"
)

func (k CallKind) Valid() bool {
	return k == CallVoice || k == CallVideo
}

type CallState string

const (
	CallRinging CallState = "ringing"
	CallActive  CallState = "active"
	CallEnded   CallState = "ended"
)

type EndReason string

const (
	ReasonDeclined         EndReason = "declined"
	ReasonTimeout          EndReason = "timeout"
	ReasonHangup           EndReason = "hangup"
	ReasonCancelled        EndReason = "cancelled"
	ReasonPeerDisconnected EndReason = "peer-disconnected"
	ReasonReplaced         EndReason = "replaced"
	ReasonShutdown         EndReason = "shutdown"
)

type CallSession struct {
	ID            CallSessionID `json:"id"`
	CallerID      UserID        `json:"callerId"`
	CalleeID      UserID        `json:"calleeId"`
	Kind          CallKind      `json:"kind"`
	State         CallState     `json:"state"`
	CreatedAt     time.Time     `json:"createdAt"`
	AcceptedAt    *time.Time    `json:"acceptedAt,omitempty"`
	EndedAt       *time.Time    `json:"endedAt,omitempty"`
	EndReason     EndReason     `json:"endReason,omitempty"`
	EndedBy       UserID        `json:"endedBy,omitempty"`
	LastSignalSeq uint64        `json:"lastSignalSeq"`
}

func (s *CallSession) IsLive() bool {
	return s.State == CallRinging || s.State == CallActive
}

func (s *CallSession) IsParticipant(u UserID) bool {
	return u == s.CallerID || u == s.CalleeID
}

// Other returns the counterpart of u. The result is empty when u is not a
// participant.
func (s *CallSession) Other(u UserID) UserID {
	switch u {
	case s.CallerID:
		return s.CalleeID
	case s.CalleeID:
		return s.CallerID
	}
	return ""
}

// Snapshot returns a copy safe to hand out after the session lock is released.
func (s *CallSession) Snapshot() CallSession {
	cp := *s
	if s.AcceptedAt != nil {
		t := *s.AcceptedAt
		cp.AcceptedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	return cp
}

// Duration is zero until the call was accepted.
func (s *CallSession) Duration() time.Duration {
	if s.AcceptedAt == nil {
		return 0
	}
	end := time.Now()
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	return end.Sub(*s.AcceptedAt)
}

// PairKey identifies the unordered pair {a, b}.
type PairKey struct {
	Low, High UserID
}

func NewPairKey(a, b UserID) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey{Low: a, High: b}
}

// CallSignal is an opaque offer/answer/candidate payload relayed verbatim.
type CallSignal struct {
	SessionID CallSessionID   `json:"sessionId"`
	From      UserID          `json:"from"`
	Seq       uint64          `json:"seq"`
	Payload   json.RawMessage `json:"payload"`
}
