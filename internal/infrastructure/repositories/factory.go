package repositories

import (
	"context"
	"fmt"

	"connectsphere/internal/core/ports"
	"connectsphere/internal/infrastructure/repositories/memory"
	mongorepo "connectsphere/internal/infrastructure/repositories/mongo"
	redisrepo "connectsphere/internal/infrastructure/repositories/redis"
	"connectsphere/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory picks a backend per port: MongoDB when configured,
// then Redis, then process memory.
type RepositoryFactory struct {
	redisClient *redis.Client
	mongoClient *mongorepo.Client
	logger      *zap.SugaredLogger

	users  *memory.MemoryUserDirectory
	groups *memory.MemoryGroupDirectory
}

func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{logger: logger}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories", "error", err)
		} else {
			factory.redisClient = client
		}
	}

	if cfg.Mongo.Enabled {
		client, err := mongorepo.Connect(ctx, mongorepo.Config{
			URI:              cfg.Mongo.URI,
			Database:         cfg.Mongo.Database,
			UsersCollection:  cfg.Mongo.UsersCollection,
			GroupsCollection: cfg.Mongo.GroupsCollection,
			EventsCollection: cfg.Mongo.EventsCollection,
			ConnectTimeout:   cfg.Mongo.ConnectTimeout,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to MongoDB, directories fall back", "error", err)
		} else {
			factory.mongoClient = client
			if err := mongorepo.NewMessageStore(client).EnsureIndexes(ctx); err != nil {
				logger.Warnw("failed to ensure event indexes", "error", err)
			}
		}
	}

	logger.Infow("repository backends selected",
		"mongo", factory.mongoClient != nil,
		"redis", factory.redisClient != nil,
	)
	return factory, nil
}

// RedisClient is nil when Redis is disabled or unreachable.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) CreateUserDirectory() ports.UserDirectory {
	switch {
	case f.mongoClient != nil:
		return mongorepo.NewUserDirectory(f.mongoClient)
	case f.redisClient != nil:
		return redisrepo.NewRedisUserDirectory(f.redisClient)
	}
	if f.users == nil {
		f.users = memory.NewMemoryUserDirectory()
	}
	return f.users
}

func (f *RepositoryFactory) CreateGroupDirectory() ports.GroupDirectory {
	switch {
	case f.mongoClient != nil:
		return mongorepo.NewGroupDirectory(f.mongoClient)
	case f.redisClient != nil:
		return redisrepo.NewRedisGroupDirectory(f.redisClient)
	}
	if f.groups == nil {
		f.groups = memory.NewMemoryGroupDirectory()
	}
	return f.groups
}

func (f *RepositoryFactory) CreateMessageStore() ports.MessageStore {
	if f.mongoClient != nil {
		return mongorepo.NewMessageStore(f.mongoClient)
	}
	return memory.NewMemoryMessageStore(0)
}

func (f *RepositoryFactory) Close(ctx context.Context) error {
	var firstErr error
	if f.mongoClient != nil {
		if err := f.mongoClient.Close(ctx); err != nil {
			firstErr = fmt.Errorf("close mongo: %w", err)
		}
	}
	if f.redisClient != nil {
		if err := redisrepo.CloseRedisClient(f.redisClient); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close redis: %w", err)
		}
	}
	return firstErr
}

// HealthCheck pings every connected backend.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		if err := f.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if f.mongoClient != nil {
		if err := f.mongoClient.Ping(ctx); err != nil {
			return fmt.Errorf("mongo: %w", err)
		}
	}
	return nil
}
