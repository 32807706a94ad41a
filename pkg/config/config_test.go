package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 35*time.Second, cfg.Calls.RingTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Calls.EndedRetention)
	assert.Equal(t, 3*time.Second, cfg.Presence.OfflineDebounce)
	assert.Equal(t, DuplicatePolicyReject, cfg.Calls.DuplicatePolicy)
}

func TestLoad_UsesDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load("non-existent-config.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "/ws", cfg.Signal.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_LoadsFromYAMLAndAppliesEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
server:
  address: ":9000"
calls:
  ring_timeout: 40s
  duplicate_policy: replace
presence:
  offline_debounce: 2s
logging:
  level: debug
`)
	t.Setenv("CONNECTSPHERE_LOG_LEVEL", "warn")
	t.Setenv("CONNECTSPHERE_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 40*time.Second, cfg.Calls.RingTimeout)
	assert.Equal(t, DuplicatePolicyReplace, cfg.Calls.DuplicatePolicy)
	assert.Equal(t, 2*time.Second, cfg.Presence.OfflineDebounce)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)

	// untouched sections keep defaults
	assert.Equal(t, 5*time.Minute, cfg.Calls.EndedRetention)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [unterminated")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	cfg.RateLimiting.WebSocket.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "ring timeout must be > 0",
			mutate: func(c *Config) { c.Calls.RingTimeout = 0 },
		},
		{
			name:   "unknown duplicate policy",
			mutate: func(c *Config) { c.Calls.DuplicatePolicy = "coalesce" },
		},
		{
			name:   "negative debounce",
			mutate: func(c *Config) { c.Presence.OfflineDebounce = -time.Second },
		},
		{
			name:   "pong timeout not above ping interval",
			mutate: func(c *Config) { c.Signal.PongTimeout = c.Signal.PingInterval },
		},
		{
			name:   "send buffer must be > 0",
			mutate: func(c *Config) { c.Signal.SendBuffer = 0 },
		},
		{
			name:   "kafka enabled without topic",
			mutate: func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Topic = "" },
		},
		{
			name:   "require auth without secret",
			mutate: func(c *Config) { c.Signal.RequireAuth = true; c.Auth.JWTSecret = "" },
		},
		{
			name: "ws rate limit burst must be > 0",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = true
				c.RateLimiting.WebSocket.Burst = 0
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}
