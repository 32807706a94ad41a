package services

import (
	"encoding/json"
	"time"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"
)

// notifier encodes a frame once and enqueues it on every live connection
// of the given users. It never blocks.
type notifier struct {
	registry ports.ConnectionRegistry
	pusher   ports.Pusher
	metrics  ports.MetricsRecorder
}

func encodeFrame(env *domain.Envelope) ([]byte, error) {
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}
	return json.Marshal(env)
}

func (n *notifier) pushFrame(userID domain.UserID, frame []byte) (delivered, dropped int) {
	for _, id := range n.registry.ConnectionsFor(userID) {
		if n.pusher.Push(id, frame) {
			delivered++
		} else {
			dropped++
			n.metrics.FrameDropped()
		}
	}
	return delivered, dropped
}

// toUsers sends env to every connection of each distinct user and returns
// how many connections accepted it.
func (n *notifier) toUsers(env *domain.Envelope, users ...domain.UserID) (int, error) {
	frame, err := encodeFrame(env)
	if err != nil {
		return 0, err
	}

	seen := make(map[domain.UserID]struct{}, len(users))
	total := 0
	for _, u := range users {
		if _, dup := seen[u]; dup || u == "" {
			continue
		}
		seen[u] = struct{}{}
		delivered, _ := n.pushFrame(u, frame)
		total += delivered
	}
	return total, nil
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) ConnectionOpened()                                 {}
func (NopMetrics) ConnectionClosed()                                 {}
func (NopMetrics) SetOnlineUsers(int)                                {}
func (NopMetrics) RelayDelivered(domain.EventKind, int)              {}
func (NopMetrics) RelayOffline(domain.EventKind)                     {}
func (NopMetrics) FrameDropped()                                     {}
func (NopMetrics) EnvelopeRejected(string)                           {}
func (NopMetrics) CallTransition(domain.CallState, domain.EndReason) {}
func (NopMetrics) CallDuration(time.Duration)                        {}
func (NopMetrics) SignalDropped()                                    {}
func (NopMetrics) PersistFailed(int)                                 {}
