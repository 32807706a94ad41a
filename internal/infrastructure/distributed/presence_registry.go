package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultPresenceTTL = 5 * time.Minute

// PresenceRecord is stored per online user.
type PresenceRecord struct {
	InstanceID string    `json:"instance_id"`
	Since      time.Time `json:"since"`
}

// SharedPresenceRegistry records which instance holds each online user so
// admin lookups can answer for the whole cluster. Entries expire unless
// refreshed, which clears users of an instance that died without cleanup.
type SharedPresenceRegistry struct {
	client     *redis.Client
	instanceID string
	ttl        time.Duration
	logger     *zap.SugaredLogger
	prefix     string
}

var _ ports.PresencePublisher = (*SharedPresenceRegistry)(nil)

func NewSharedPresenceRegistry(client *redis.Client, instanceID string, ttl time.Duration, logger *zap.SugaredLogger) *SharedPresenceRegistry {
	if ttl <= 0 {
		ttl = defaultPresenceTTL
	}
	return &SharedPresenceRegistry{
		client:     client,
		instanceID: instanceID,
		ttl:        ttl,
		logger:     logger,
		prefix:     "connectsphere:presence:",
	}
}

func (r *SharedPresenceRegistry) PublishPresence(ctx context.Context, ev domain.PresenceEvent) error {
	if ev.Status == domain.PresenceOnline {
		return r.markOnline(ctx, ev.UserID, ev.Timestamp)
	}
	return r.markOffline(ctx, ev.UserID)
}

func (r *SharedPresenceRegistry) markOnline(ctx context.Context, userID domain.UserID, since time.Time) error {
	if since.IsZero() {
		since = time.Now().UTC()
	}
	data, err := json.Marshal(PresenceRecord{InstanceID: r.instanceID, Since: since})
	if err != nil {
		return fmt.Errorf("failed to marshal presence record: %w", err)
	}

	instanceKey := r.instanceUsersKey(r.instanceID)
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.userKey(userID), data, r.ttl)
	pipe.SAdd(ctx, instanceKey, string(userID))
	pipe.Expire(ctx, instanceKey, 2*r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record presence for %s: %w", userID, err)
	}
	return nil
}

// markOffline leaves the key alone when another instance has since taken
// the user over.
func (r *SharedPresenceRegistry) markOffline(ctx context.Context, userID domain.UserID) error {
	r.client.SRem(ctx, r.instanceUsersKey(r.instanceID), string(userID))

	rec, err := r.Lookup(ctx, userID)
	if err != nil || rec == nil {
		return err
	}
	if rec.InstanceID != r.instanceID {
		return nil
	}
	return r.client.Del(ctx, r.userKey(userID)).Err()
}

// Lookup returns nil, nil when no instance holds the user.
func (r *SharedPresenceRegistry) Lookup(ctx context.Context, userID domain.UserID) (*PresenceRecord, error) {
	data, err := r.client.Get(ctx, r.userKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	var rec PresenceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence record: %w", err)
	}
	return &rec, nil
}

func (r *SharedPresenceRegistry) Refresh(ctx context.Context, users []domain.UserID) error {
	if len(users) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, u := range users {
		pipe.Expire(ctx, r.userKey(u), r.ttl)
	}
	pipe.Expire(ctx, r.instanceUsersKey(r.instanceID), 2*r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// RunRefresher keeps the entries of locally online users alive until ctx
// is done.
func (r *SharedPresenceRegistry) RunRefresher(ctx context.Context, interval time.Duration, online func() []domain.UserID) {
	if interval <= 0 {
		interval = r.ttl / 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx, online()); err != nil {
				r.logger.Warnw("failed to refresh shared presence", "error", err)
			}
		}
	}
}

// CleanupInstance removes every user held by instanceID, typically on
// shutdown.
func (r *SharedPresenceRegistry) CleanupInstance(ctx context.Context, instanceID string) error {
	instanceKey := r.instanceUsersKey(instanceID)
	users, err := r.client.SMembers(ctx, instanceKey).Result()
	if err != nil {
		return fmt.Errorf("failed to get instance users: %w", err)
	}

	for _, u := range users {
		rec, err := r.Lookup(ctx, domain.UserID(u))
		if err != nil {
			r.logger.Warnw("failed to read presence during cleanup", "user_id", u, "error", err)
			continue
		}
		if rec != nil && rec.InstanceID == instanceID {
			r.client.Del(ctx, r.userKey(domain.UserID(u)))
		}
	}
	return r.client.Del(ctx, instanceKey).Err()
}

func (r *SharedPresenceRegistry) InstanceID() string {
	return r.instanceID
}

func (r *SharedPresenceRegistry) userKey(userID domain.UserID) string {
	return r.prefix + string(userID)
}

func (r *SharedPresenceRegistry) instanceUsersKey(instanceID string) string {
	return fmt.Sprintf("connectsphere:instance:%s:users", instanceID)
}
