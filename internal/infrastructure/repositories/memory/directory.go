package memory

import (
	"context"
	"sync"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"
)

type MemoryUserDirectory struct {
	users map[domain.UserID]domain.UserDisplayInfo
	mu    sync.RWMutex
}

func NewMemoryUserDirectory() *MemoryUserDirectory {
	return &MemoryUserDirectory{
		users: make(map[domain.UserID]domain.UserDisplayInfo),
	}
}

var _ ports.UserDirectory = (*MemoryUserDirectory)(nil)

// Put adds or replaces a profile.
func (r *MemoryUserDirectory) Put(info domain.UserDisplayInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[info.UserID] = info
}

func (r *MemoryUserDirectory) GetUserDisplayInfo(ctx context.Context, userID domain.UserID) (*domain.UserDisplayInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.users[userID]
	if !exists {
		return nil, domain.ErrUserNotFound
	}
	return &info, nil
}

type MemoryGroupDirectory struct {
	groups map[domain.GroupID][]domain.UserID
	mu     sync.RWMutex
}

func NewMemoryGroupDirectory() *MemoryGroupDirectory {
	return &MemoryGroupDirectory{
		groups: make(map[domain.GroupID][]domain.UserID),
	}
}

var _ ports.GroupDirectory = (*MemoryGroupDirectory)(nil)

func (r *MemoryGroupDirectory) SetMembers(groupID domain.GroupID, members ...domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[groupID] = append([]domain.UserID(nil), members...)
}

func (r *MemoryGroupDirectory) GetGroupMembers(ctx context.Context, groupID domain.GroupID) ([]domain.UserID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, exists := r.groups[groupID]
	if !exists {
		return nil, domain.ErrGroupNotFound
	}
	return append([]domain.UserID(nil), members...), nil
}
