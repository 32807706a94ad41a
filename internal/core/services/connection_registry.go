package services

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"
	"connectsphere/pkg/utils"

	"go.uber.org/zap"
)

// connectionRegistry is the only owner of Connection records. A user key
// exists in byUser iff it maps to at least one connection id.
type connectionRegistry struct {
	mu     sync.RWMutex
	conns  map[domain.ConnectionID]*domain.Connection
	byUser map[domain.UserID]map[domain.ConnectionID]struct{}

	listenersMu sync.RWMutex
	listeners   []func(ports.RegistryChange)

	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewConnectionRegistry(logger *zap.SugaredLogger) ports.ConnectionRegistry {
	return &connectionRegistry{
		conns:  make(map[domain.ConnectionID]*domain.Connection),
		byUser: make(map[domain.UserID]map[domain.ConnectionID]struct{}),
		logger: logger,
		now:    time.Now,
	}
}

func (r *connectionRegistry) Register(remoteAddr string) *domain.Connection {
	now := r.now()
	conn := &domain.Connection{
		ID:           domain.ConnectionID(utils.NewConnectionID()),
		RemoteAddr:   remoteAddr,
		CreatedAt:    now,
		LastActivity: now,
	}

	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.mu.Unlock()

	cp := *conn
	return &cp
}

// Bind is idempotent for the same user. Binding an already bound
// connection to a different user fails with ErrAlreadyBound.
func (r *connectionRegistry) Bind(id domain.ConnectionID, userID domain.UserID) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", domain.ErrValidation)
	}

	r.mu.Lock()
	conn, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return domain.ErrConnectionNotFound
	}
	if conn.UserID == userID {
		r.mu.Unlock()
		return nil
	}
	if conn.IsBound() {
		r.mu.Unlock()
		return domain.ErrAlreadyBound
	}

	conn.UserID = userID
	conn.LastActivity = r.now()
	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[domain.ConnectionID]struct{})
		r.byUser[userID] = set
	}
	set[id] = struct{}{}
	remaining := len(set)
	r.mu.Unlock()

	r.logger.Debugw("connection bound", "connection_id", id, "user_id", userID, "connections", remaining)
	r.notify(ports.RegistryChange{Type: ports.ConnectionBound, UserID: userID, ConnectionID: id, Remaining: remaining})
	return nil
}

// Unbind forgets the connection entirely. The returned record is a copy of
// the connection as it was at removal time.
func (r *connectionRegistry) Unbind(id domain.ConnectionID) (*domain.Connection, error) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return nil, domain.ErrConnectionNotFound
	}
	delete(r.conns, id)

	remaining := 0
	if conn.IsBound() {
		if set, ok := r.byUser[conn.UserID]; ok {
			delete(set, id)
			remaining = len(set)
			if remaining == 0 {
				delete(r.byUser, conn.UserID)
			}
		}
	}
	cp := *conn
	r.mu.Unlock()

	if cp.IsBound() {
		r.logger.Debugw("connection unbound", "connection_id", id, "user_id", cp.UserID, "connections", remaining)
		r.notify(ports.RegistryChange{Type: ports.ConnectionUnbound, UserID: cp.UserID, ConnectionID: id, Remaining: remaining})
	}
	return &cp, nil
}

func (r *connectionRegistry) Touch(id domain.ConnectionID) {
	now := r.now()
	r.mu.Lock()
	if conn, ok := r.conns[id]; ok {
		conn.LastActivity = now
	}
	r.mu.Unlock()
}

func (r *connectionRegistry) Get(id domain.ConnectionID) (*domain.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	cp := *conn
	return &cp, true
}

func (r *connectionRegistry) ConnectionsFor(userID domain.UserID) []domain.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	ids := make([]domain.ConnectionID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

func (r *connectionRegistry) IsOnline(userID domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

func (r *connectionRegistry) OnlineUsers() []domain.UserID {
	r.mu.RLock()
	users := make([]domain.UserID, 0, len(r.byUser))
	for u := range r.byUser {
		users = append(users, u)
	}
	r.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

func (r *connectionRegistry) BoundConnections() []domain.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]domain.ConnectionID, 0, len(r.conns))
	for _, set := range r.byUser {
		for id := range set {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *connectionRegistry) Stats() ports.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := ports.RegistryStats{Connections: len(r.conns), OnlineUsers: len(r.byUser)}
	for _, set := range r.byUser {
		stats.BoundConnections += len(set)
	}
	return stats
}

// Verify cross-checks both indexes. It backs the registry health check.
func (r *connectionRegistry) Verify() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bound := 0
	for id, conn := range r.conns {
		if !conn.IsBound() {
			continue
		}
		bound++
		if _, ok := r.byUser[conn.UserID][id]; !ok {
			return fmt.Errorf("connection %s bound to %s is missing from the user index", id, conn.UserID)
		}
	}

	indexed := 0
	for userID, set := range r.byUser {
		if len(set) == 0 {
			return fmt.Errorf("user %s has an empty connection set", userID)
		}
		for id := range set {
			conn, ok := r.conns[id]
			if !ok {
				return fmt.Errorf("user %s references unknown connection %s", userID, id)
			}
			if conn.UserID != userID {
				return fmt.Errorf("connection %s indexed under %s but bound to %s", id, userID, conn.UserID)
			}
			indexed++
		}
	}

	if bound != indexed {
		return fmt.Errorf("bound connection count %d does not match index count %d", bound, indexed)
	}
	return nil
}

// Subscribe registers fn for every bind/unbind. Listeners run on the
// caller's goroutine after the registry lock is released.
func (r *connectionRegistry) Subscribe(fn func(ports.RegistryChange)) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenersMu.Unlock()
}

func (r *connectionRegistry) notify(change ports.RegistryChange) {
	r.listenersMu.RLock()
	listeners := r.listeners
	r.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(change)
	}
}
