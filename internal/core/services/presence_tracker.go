package services

import (
	"sort"
	"sync"
	"time"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"

	"go.uber.org/zap"
)

type presenceState struct {
	online bool
	// pending is the debounced offline confirmation, nil when none.
	pending *time.Timer
	// gen invalidates a pending timer that already fired but lost the race
	// with a rebind.
	gen uint64
}

// presenceTracker derives online/offline transitions from registry
// changes. Offline is only confirmed after the debounce window, and is
// cancelled when the user rebinds within it.
type presenceTracker struct {
	registry ports.ConnectionRegistry
	debounce time.Duration
	logger   *zap.SugaredLogger

	mu        sync.Mutex
	users     map[domain.UserID]*presenceState
	listeners []func(domain.PresenceEvent)
	now       func() time.Time
}

// NewPresenceTracker subscribes itself to the registry. Listeners are
// invoked while the tracker lock is held so each user's events arrive in
// order; they must not call back into the tracker.
func NewPresenceTracker(registry ports.ConnectionRegistry, debounce time.Duration, logger *zap.SugaredLogger) ports.PresenceTracker {
	p := &presenceTracker{
		registry: registry,
		debounce: debounce,
		logger:   logger,
		users:    make(map[domain.UserID]*presenceState),
		now:      time.Now,
	}
	registry.Subscribe(p.onRegistryChange)
	return p
}

func (p *presenceTracker) Subscribe(fn func(domain.PresenceEvent)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

func (p *presenceTracker) Status(userID domain.UserID) domain.PresenceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	if st, ok := p.users[userID]; ok && st.online {
		return domain.PresenceOnline
	}
	return domain.PresenceOffline
}

// OnlineUsers includes users inside their offline debounce window.
func (p *presenceTracker) OnlineUsers() []domain.UserID {
	p.mu.Lock()
	users := make([]domain.UserID, 0, len(p.users))
	for u, st := range p.users {
		if st.online {
			users = append(users, u)
		}
	}
	p.mu.Unlock()

	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

func (p *presenceTracker) onRegistryChange(change ports.RegistryChange) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.users[change.UserID]
	if !ok {
		st = &presenceState{}
		p.users[change.UserID] = st
	}

	// Listeners run after the registry lock is released, so two changes for
	// the same user may arrive out of order. The registry is the source of
	// truth.
	if p.registry.IsOnline(change.UserID) {
		if st.pending != nil {
			st.pending.Stop()
			st.pending = nil
			st.gen++
			p.logger.Debugw("offline cancelled by rebind", "user_id", change.UserID)
		}
		if !st.online {
			st.online = true
			p.emitLocked(domain.PresenceEvent{UserID: change.UserID, Status: domain.PresenceOnline, Timestamp: p.now()})
		}
		return
	}

	if !st.online {
		if st.pending == nil {
			delete(p.users, change.UserID)
		}
		return
	}
	if st.pending != nil {
		return
	}

	if p.debounce <= 0 {
		p.confirmOfflineLocked(change.UserID, st)
		return
	}

	gen := st.gen
	userID := change.UserID
	st.pending = time.AfterFunc(p.debounce, func() { p.confirmOffline(userID, gen) })
}

func (p *presenceTracker) confirmOffline(userID domain.UserID, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.users[userID]
	if !ok || st.gen != gen {
		return
	}
	st.pending = nil
	st.gen++

	if p.registry.IsOnline(userID) {
		return
	}
	p.confirmOfflineLocked(userID, st)
}

func (p *presenceTracker) confirmOfflineLocked(userID domain.UserID, st *presenceState) {
	st.online = false
	delete(p.users, userID)
	p.emitLocked(domain.PresenceEvent{UserID: userID, Status: domain.PresenceOffline, Timestamp: p.now()})
}

func (p *presenceTracker) emitLocked(ev domain.PresenceEvent) {
	p.logger.Infow("presence changed", "user_id", ev.UserID, "status", ev.Status)
	for _, fn := range p.listeners {
		fn(ev)
	}
}
