package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"
	"connectsphere/pkg/utils"

	"go.uber.org/zap"
)

type CallConfig struct {
	RingTimeout    time.Duration
	EndedRetention time.Duration
	ReapInterval   time.Duration
	// ReplaceDuplicates ends a live session for the same pair instead of
	// rejecting the new request with ErrAlreadyInCall.
	ReplaceDuplicates bool
	EndOnDisconnect   bool
}

func DefaultCallConfig() CallConfig {
	return CallConfig{
		RingTimeout:     35 * time.Second,
		EndedRetention:  5 * time.Minute,
		ReapInterval:    30 * time.Second,
		EndOnDisconnect: true,
	}
}

type callEntry struct {
	mu      sync.Mutex
	session domain.CallSession
	timer   *time.Timer
}

// CallSessionManager owns every call session of this process.
//
// Lock order: user locks (lexicographic) -> callEntry.mu -> m.mu. Frames are
// enqueued while callEntry.mu is held, which keeps per-session ordering.
type CallSessionManager struct {
	cfg       CallConfig
	registry  ports.ConnectionRegistry
	notifier  *notifier
	metrics   ports.MetricsRecorder
	logger    *zap.SugaredLogger
	userLocks *keyedMutex

	mu       sync.Mutex
	sessions map[domain.CallSessionID]*callEntry
	pairs    map[domain.PairKey]domain.CallSessionID
	byUser   map[domain.UserID]map[domain.CallSessionID]struct{}
	ended    map[domain.CallSessionID]time.Time

	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ ports.CallManager = (*CallSessionManager)(nil)

func NewCallSessionManager(
	cfg CallConfig,
	registry ports.ConnectionRegistry,
	pusher ports.Pusher,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *CallSessionManager {
	return &CallSessionManager{
		cfg:       cfg,
		registry:  registry,
		notifier:  &notifier{registry: registry, pusher: pusher, metrics: metrics},
		metrics:   metrics,
		logger:    logger,
		userLocks: newKeyedMutex(),
		sessions:  make(map[domain.CallSessionID]*callEntry),
		pairs:     make(map[domain.PairKey]domain.CallSessionID),
		byUser:    make(map[domain.UserID]map[domain.CallSessionID]struct{}),
		ended:     make(map[domain.CallSessionID]time.Time),
		now:       time.Now,
		stop:      make(chan struct{}),
	}
}

// Start runs the reaper for ended sessions until Stop is called.
func (m *CallSessionManager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.ReapInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := m.reapEnded(m.now()); n > 0 {
					m.logger.Debugw("reaped ended call sessions", "count", n)
				}
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop ends every live session with reason shutdown and stops the reaper.
func (m *CallSessionManager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()

	m.mu.Lock()
	entries := make([]*callEntry, 0, len(m.pairs))
	for _, id := range m.pairs {
		entries = append(entries, m.sessions[id])
	}
	m.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		if e.session.IsLive() {
			m.endLocked(e, domain.ReasonShutdown, "")
		}
		e.mu.Unlock()
	}
}

func (m *CallSessionManager) Request(ctx context.Context, caller, callee domain.UserID, kind domain.CallKind) (domain.CallSession, error) {
	switch {
	case caller == "" || callee == "":
		return domain.CallSession{}, fmt.Errorf("%w: caller and callee are required", domain.ErrValidation)
	case caller == callee:
		return domain.CallSession{}, fmt.Errorf("%w: cannot call yourself", domain.ErrValidation)
	case !kind.Valid():
		return domain.CallSession{}, fmt.Errorf("%w: unknown call kind %q", domain.ErrValidation, kind)
	}

	unlock := m.userLocks.LockPair(caller, callee)
	defer unlock()

	key := domain.NewPairKey(caller, callee)
	existing := m.livePair(key)
	if existing != nil && !m.cfg.ReplaceDuplicates {
		existing.mu.Lock()
		live, id := existing.session.IsLive(), existing.session.ID
		existing.mu.Unlock()
		if live {
			m.logger.Infow("duplicate call request rejected", "caller_id", caller, "callee_id", callee, "session_id", id)
			return domain.CallSession{}, domain.ErrAlreadyInCall
		}
	}

	if !m.registry.IsOnline(callee) {
		m.logger.Infow("call request to unreachable user", "caller_id", caller, "callee_id", callee)
		return domain.CallSession{}, domain.ErrCalleeUnreachable
	}

	if existing != nil {
		existing.mu.Lock()
		if existing.session.IsLive() {
			m.endLocked(existing, domain.ReasonReplaced, caller)
		}
		existing.mu.Unlock()
	}

	e := &callEntry{session: domain.CallSession{
		ID:        domain.CallSessionID(utils.NewCallSessionID()),
		CallerID:  caller,
		CalleeID:  callee,
		Kind:      kind,
		State:     domain.CallRinging,
		CreatedAt: m.now(),
	}}
	id := e.session.ID

	e.mu.Lock()
	defer e.mu.Unlock()

	m.mu.Lock()
	m.sessions[id] = e
	m.pairs[key] = id
	m.indexUserLocked(caller, id)
	m.indexUserLocked(callee, id)
	m.mu.Unlock()

	e.timer = time.AfterFunc(m.cfg.RingTimeout, func() {
		if err := m.Timeout(id); err != nil {
			m.logger.Debugw("ring timeout skipped", "session_id", id, "error", err)
		}
	})
	m.metrics.CallTransition(domain.CallRinging, "")

	s := &e.session
	m.send(&domain.Envelope{Kind: domain.KindCallIncoming, SessionID: id, From: caller, To: callee, CallKind: kind, State: s.State}, callee)
	m.send(&domain.Envelope{Kind: domain.KindCallRinging, SessionID: id, From: caller, To: callee, CallKind: kind, State: s.State}, caller)

	m.logger.Infow("call ringing", "session_id", id, "caller_id", caller, "callee_id", callee, "kind", kind)
	return s.Snapshot(), nil
}

// Accept is a no-op success on sessions that are already active or ended.
func (m *CallSessionManager) Accept(ctx context.Context, id domain.CallSessionID, by domain.UserID) (domain.CallSession, error) {
	e := m.entry(id)
	if e == nil {
		return domain.CallSession{}, fmt.Errorf("%w: %w", domain.ErrInvalidStateTransition, domain.ErrSessionNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := &e.session
	if !s.IsParticipant(by) {
		return domain.CallSession{}, domain.ErrNotParticipant
	}
	if s.State != domain.CallRinging {
		m.logger.Debugw("duplicate accept ignored", "session_id", id, "state", s.State, "by", by)
		return s.Snapshot(), nil
	}
	if by != s.CalleeID {
		return s.Snapshot(), fmt.Errorf("%w: only the callee can accept", domain.ErrInvalidStateTransition)
	}

	m.stopTimerLocked(e)
	now := m.now()
	s.State = domain.CallActive
	s.AcceptedAt = &now
	m.metrics.CallTransition(domain.CallActive, "")

	m.send(&domain.Envelope{Kind: domain.KindCallAccepted, SessionID: id, From: s.CallerID, To: s.CalleeID, CallKind: s.Kind, State: s.State}, s.CallerID, s.CalleeID)

	m.logger.Infow("call accepted", "session_id", id, "caller_id", s.CallerID, "callee_id", s.CalleeID)
	return s.Snapshot(), nil
}

func (m *CallSessionManager) Decline(ctx context.Context, id domain.CallSessionID, by domain.UserID) (domain.CallSession, error) {
	e := m.entry(id)
	if e == nil {
		return domain.CallSession{}, fmt.Errorf("%w: %w", domain.ErrInvalidStateTransition, domain.ErrSessionNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := &e.session
	if !s.IsParticipant(by) {
		return domain.CallSession{}, domain.ErrNotParticipant
	}
	switch {
	case s.State == domain.CallEnded:
		return s.Snapshot(), nil
	case s.State == domain.CallActive:
		return s.Snapshot(), fmt.Errorf("%w: cannot decline an active call", domain.ErrInvalidStateTransition)
	case by != s.CalleeID:
		return s.Snapshot(), fmt.Errorf("%w: only the callee can decline", domain.ErrInvalidStateTransition)
	}

	m.endLocked(e, domain.ReasonDeclined, by)
	return s.Snapshot(), nil
}

// Timeout ends a session that is still ringing. It is what the ring timer
// fires; on any other state it does nothing.
func (m *CallSessionManager) Timeout(id domain.CallSessionID) error {
	e := m.entry(id)
	if e == nil {
		return domain.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.State != domain.CallRinging {
		return nil
	}
	m.endLocked(e, domain.ReasonTimeout, "")
	return nil
}

// Signal relays payload verbatim to the other participant. Signals for
// unknown or ended sessions are dropped without an error.
func (m *CallSessionManager) Signal(ctx context.Context, id domain.CallSessionID, from domain.UserID, payload json.RawMessage) error {
	e := m.entry(id)
	if e == nil {
		m.metrics.SignalDropped()
		m.logger.Debugw("signal for unknown session dropped", "session_id", id, "from", from)
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := &e.session
	if !s.IsParticipant(from) {
		return domain.ErrNotParticipant
	}
	if !s.IsLive() {
		m.metrics.SignalDropped()
		m.logger.Debugw("late signal dropped", "session_id", id, "from", from, "ended_at", s.EndedAt)
		return nil
	}

	s.LastSignalSeq++
	to := s.Other(from)
	m.send(&domain.Envelope{Kind: domain.KindCallSignal, SessionID: id, From: from, To: to, Seq: s.LastSignalSeq, Payload: payload}, to)
	return nil
}

// End is idempotent. Unknown sessions are treated as long ended.
func (m *CallSessionManager) End(ctx context.Context, id domain.CallSessionID, by domain.UserID) (domain.CallSession, error) {
	e := m.entry(id)
	if e == nil {
		m.logger.Debugw("end for unknown session ignored", "session_id", id, "by", by)
		return domain.CallSession{ID: id, State: domain.CallEnded}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := &e.session
	if !s.IsParticipant(by) {
		return domain.CallSession{}, domain.ErrNotParticipant
	}
	if !s.IsLive() {
		return s.Snapshot(), nil
	}

	reason := domain.ReasonHangup
	if s.State == domain.CallRinging {
		reason = domain.ReasonCancelled
		if by == s.CalleeID {
			reason = domain.ReasonDeclined
		}
	}
	m.endLocked(e, reason, by)
	return s.Snapshot(), nil
}

// OnUserOffline ends every live session of a user whose last connection is
// gone. It is driven by the debounced presence offline event.
func (m *CallSessionManager) OnUserOffline(userID domain.UserID) {
	if !m.cfg.EndOnDisconnect {
		return
	}

	for _, e := range m.entriesFor(userID) {
		e.mu.Lock()
		if e.session.IsLive() && e.session.IsParticipant(userID) && !m.registry.IsOnline(userID) {
			m.endLocked(e, domain.ReasonPeerDisconnected, userID)
		}
		e.mu.Unlock()
	}
}

func (m *CallSessionManager) Get(id domain.CallSessionID) (domain.CallSession, bool) {
	e := m.entry(id)
	if e == nil {
		return domain.CallSession{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Snapshot(), true
}

func (m *CallSessionManager) LiveSessionsFor(userID domain.UserID) []domain.CallSession {
	var out []domain.CallSession
	for _, e := range m.entriesFor(userID) {
		e.mu.Lock()
		if e.session.IsLive() {
			out = append(out, e.session.Snapshot())
		}
		e.mu.Unlock()
	}
	return out
}

type CallStats struct {
	Live     int
	Retained int
}

func (m *CallSessionManager) Stats() CallStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CallStats{Live: len(m.pairs), Retained: len(m.ended)}
}

// endLocked moves a live session to ended. e.mu must be held.
func (m *CallSessionManager) endLocked(e *callEntry, reason domain.EndReason, by domain.UserID) {
	s := &e.session
	m.stopTimerLocked(e)

	prev := s.State
	now := m.now()
	s.State = domain.CallEnded
	s.EndedAt = &now
	s.EndReason = reason
	s.EndedBy = by

	m.mu.Lock()
	key := domain.NewPairKey(s.CallerID, s.CalleeID)
	if m.pairs[key] == s.ID {
		delete(m.pairs, key)
	}
	m.unindexUserLocked(s.CallerID, s.ID)
	m.unindexUserLocked(s.CalleeID, s.ID)
	m.ended[s.ID] = now
	m.mu.Unlock()

	m.metrics.CallTransition(domain.CallEnded, reason)
	if prev == domain.CallActive {
		m.metrics.CallDuration(s.Duration())
	}

	m.send(&domain.Envelope{Kind: domain.KindCallEnded, SessionID: s.ID, From: s.CallerID, To: s.CalleeID, CallKind: s.Kind, State: s.State, Reason: reason}, s.CallerID, s.CalleeID)

	m.logger.Infow("call ended",
		"session_id", s.ID,
		"reason", reason,
		"from_state", prev,
		"ended_by", by,
		"duration", utils.FormatDuration(s.Duration()),
	)
}

func (m *CallSessionManager) stopTimerLocked(e *callEntry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (m *CallSessionManager) send(env *domain.Envelope, users ...domain.UserID) {
	if _, err := m.notifier.toUsers(env, users...); err != nil {
		m.logger.Errorw("failed to encode call frame", "kind", env.Kind, "session_id", env.SessionID, "error", err)
	}
}

func (m *CallSessionManager) reapEnded(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, endedAt := range m.ended {
		if now.Sub(endedAt) >= m.cfg.EndedRetention {
			delete(m.ended, id)
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

func (m *CallSessionManager) entry(id domain.CallSessionID) *callEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

func (m *CallSessionManager) livePair(key domain.PairKey) *callEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.pairs[key]
	if !ok {
		return nil
	}
	return m.sessions[id]
}

func (m *CallSessionManager) entriesFor(userID domain.UserID) []*callEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]*callEntry, 0, len(m.byUser[userID]))
	for id := range m.byUser[userID] {
		if e, ok := m.sessions[id]; ok {
			entries = append(entries, e)
		}
	}
	return entries
}

func (m *CallSessionManager) indexUserLocked(userID domain.UserID, id domain.CallSessionID) {
	set, ok := m.byUser[userID]
	if !ok {
		set = make(map[domain.CallSessionID]struct{})
		m.byUser[userID] = set
	}
	set[id] = struct{}{}
}

func (m *CallSessionManager) unindexUserLocked(userID domain.UserID, id domain.CallSessionID) {
	if set, ok := m.byUser[userID]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(m.byUser, userID)
		}
	}
}
