package memory

import (
	"context"
	"sync"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"
)

// MemoryMessageStore keeps the most recent events in a ring. It backs
// local development when no document store is configured.
type MemoryMessageStore struct {
	events []*domain.RelayEvent
	limit  int
	mu     sync.RWMutex
}

func NewMemoryMessageStore(limit int) *MemoryMessageStore {
	if limit <= 0 {
		limit = 10000
	}
	return &MemoryMessageStore{limit: limit}
}

var _ ports.MessageStore = (*MemoryMessageStore)(nil)

func (s *MemoryMessageStore) StoreEvents(ctx context.Context, events []*domain.RelayEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		cp := *ev
		s.events = append(s.events, &cp)
	}
	if over := len(s.events) - s.limit; over > 0 {
		s.events = append([]*domain.RelayEvent(nil), s.events[over:]...)
	}
	return nil
}

// Conversation returns stored events exchanged between a and b, oldest
// first.
func (s *MemoryMessageStore) Conversation(a, b domain.UserID) []*domain.RelayEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.RelayEvent
	for _, ev := range s.events {
		if ev.IsGroup() {
			continue
		}
		if (ev.SenderID == a && ev.TargetID == b) || (ev.SenderID == b && ev.TargetID == a) {
			out = append(out, ev)
		}
	}
	return out
}

func (s *MemoryMessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
