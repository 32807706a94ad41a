package repositories

import (
	"context"
	"testing"

	"connectsphere/internal/infrastructure/repositories/memory"
	"connectsphere/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFactoryFallsBackToMemory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = false
	cfg.Mongo.Enabled = false

	f, err := NewRepositoryFactory(context.Background(), cfg, zap.NewNop().Sugar())
	require.NoError(t, err)

	assert.Nil(t, f.RedisClient())
	assert.IsType(t, &memory.MemoryUserDirectory{}, f.CreateUserDirectory())
	assert.IsType(t, &memory.MemoryGroupDirectory{}, f.CreateGroupDirectory())
	assert.IsType(t, &memory.MemoryMessageStore{}, f.CreateMessageStore())
	assert.Same(t, f.CreateUserDirectory(), f.CreateUserDirectory())

	assert.NoError(t, f.HealthCheck(context.Background()))
	assert.NoError(t, f.Close(context.Background()))
}
