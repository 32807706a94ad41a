package ports

import (
	"context"

	"connectsphere/internal/core/domain"
)

// UserDirectory is read-only and used for enrichment, never for auth.
type UserDirectory interface {
	GetUserDisplayInfo(ctx context.Context, userID domain.UserID) (*domain.UserDisplayInfo, error)
}

type GroupDirectory interface {
	GetGroupMembers(ctx context.Context, groupID domain.GroupID) ([]domain.UserID, error)
}

// MessageStore receives a copy of every persistent relay event.
type MessageStore interface {
	StoreEvents(ctx context.Context, events []*domain.RelayEvent) error
}

// PushDispatcher hands an undeliverable event to the external push layer.
type PushDispatcher interface {
	DispatchOffline(ctx context.Context, userID domain.UserID, event *domain.RelayEvent) error
}

// PresencePublisher mirrors presence transitions outside the process.
type PresencePublisher interface {
	PublishPresence(ctx context.Context, event domain.PresenceEvent) error
}
