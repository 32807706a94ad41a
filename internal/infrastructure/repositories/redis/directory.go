package redis

import (
	"context"
	"fmt"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisUserDirectory reads profiles stored as hashes at
// connectsphere:user:<id> with fields username and avatar_url.
type RedisUserDirectory struct {
	client *redis.Client
	prefix string
}

func NewRedisUserDirectory(client *redis.Client) *RedisUserDirectory {
	return &RedisUserDirectory{
		client: client,
		prefix: KeyPrefix + "user:",
	}
}

var _ ports.UserDirectory = (*RedisUserDirectory)(nil)

func (r *RedisUserDirectory) userKey(id domain.UserID) string {
	return r.prefix + string(id)
}

func (r *RedisUserDirectory) GetUserDisplayInfo(ctx context.Context, userID domain.UserID) (*domain.UserDisplayInfo, error) {
	fields, err := r.client.HGetAll(ctx, r.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user from Redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrUserNotFound
	}

	return &domain.UserDisplayInfo{
		UserID:    userID,
		Username:  fields["username"],
		AvatarURL: fields["avatar_url"],
	}, nil
}

func (r *RedisUserDirectory) Put(ctx context.Context, info domain.UserDisplayInfo) error {
	err := r.client.HSet(ctx, r.userKey(info.UserID),
		"username", info.Username,
		"avatar_url", info.AvatarURL,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to store user in Redis: %w", err)
	}
	return nil
}

// RedisGroupDirectory reads member sets at connectsphere:group:<id>:members.
type RedisGroupDirectory struct {
	client *redis.Client
}

func NewRedisGroupDirectory(client *redis.Client) *RedisGroupDirectory {
	return &RedisGroupDirectory{client: client}
}

var _ ports.GroupDirectory = (*RedisGroupDirectory)(nil)

func (r *RedisGroupDirectory) membersKey(groupID domain.GroupID) string {
	return fmt.Sprintf("%sgroup:%s:members", KeyPrefix, groupID)
}

func (r *RedisGroupDirectory) GetGroupMembers(ctx context.Context, groupID domain.GroupID) ([]domain.UserID, error) {
	ids, err := r.client.SMembers(ctx, r.membersKey(groupID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get group members: %w", err)
	}
	if len(ids) == 0 {
		return nil, domain.ErrGroupNotFound
	}

	members := make([]domain.UserID, len(ids))
	for i, id := range ids {
		members[i] = domain.UserID(id)
	}
	return members, nil
}

func (r *RedisGroupDirectory) AddMembers(ctx context.Context, groupID domain.GroupID, members ...domain.UserID) error {
	if len(members) == 0 {
		return nil
	}
	values := make([]interface{}, len(members))
	for i, m := range members {
		values[i] = string(m)
	}
	if err := r.client.SAdd(ctx, r.membersKey(groupID), values...).Err(); err != nil {
		return fmt.Errorf("failed to add group members: %w", err)
	}
	return nil
}
