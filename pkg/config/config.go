package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DuplicatePolicyReject  = "reject"
	DuplicatePolicyReplace = "replace"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		Path           string        `yaml:"path"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`
		WriteWait      time.Duration `yaml:"write_wait"`
		SendBuffer     int           `yaml:"send_buffer"`
		MaxMessageSize int64         `yaml:"max_message_size"`
		RequireAuth    bool          `yaml:"require_auth"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"signal"`

	Presence struct {
		OfflineDebounce time.Duration `yaml:"offline_debounce"`
		Broadcast       bool          `yaml:"broadcast"`
	} `yaml:"presence"`

	Calls struct {
		RingTimeout     time.Duration `yaml:"ring_timeout"`
		EndedRetention  time.Duration `yaml:"ended_retention"`
		ReapInterval    time.Duration `yaml:"reap_interval"`
		DuplicatePolicy string        `yaml:"duplicate_policy"`
		EndOnDisconnect bool          `yaml:"end_on_disconnect"`
	} `yaml:"calls"`

	Relay struct {
		SelfEchoKinds     []string      `yaml:"self_echo_kinds"`
		MaxBodyBytes      int           `yaml:"max_body_bytes"`
		DirectoryCacheTTL time.Duration `yaml:"directory_cache_ttl"`
		LookupTimeout     time.Duration `yaml:"lookup_timeout"`
		PersistBatchSize  int           `yaml:"persist_batch_size"`
		PersistInterval   time.Duration `yaml:"persist_interval"`
		PushFallback      bool          `yaml:"push_fallback"`
	} `yaml:"relay"`

	Monitoring struct {
		PrometheusEnabled bool          `yaml:"prometheus_enabled"`
		MetricsInterval   time.Duration `yaml:"metrics_interval"`
	} `yaml:"monitoring"`

	Logging struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`

	Redis struct {
		Enabled     bool          `yaml:"enabled"`
		Address     string        `yaml:"address"`
		Password    string        `yaml:"password"`
		DB          int           `yaml:"db"`
		PoolSize    int           `yaml:"pool_size"`
		PresenceTTL time.Duration `yaml:"presence_ttl"`
		Channel     string        `yaml:"channel"`
	} `yaml:"redis"`

	Mongo struct {
		Enabled          bool          `yaml:"enabled"`
		URI              string        `yaml:"uri"`
		Database         string        `yaml:"database"`
		UsersCollection  string        `yaml:"users_collection"`
		GroupsCollection string        `yaml:"groups_collection"`
		EventsCollection string        `yaml:"events_collection"`
		ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	} `yaml:"mongo"`

	Kafka struct {
		Enabled  bool     `yaml:"enabled"`
		Brokers  []string `yaml:"brokers"`
		Topic    string   `yaml:"topic"`
		ClientID string   `yaml:"client_id"`
		Retries  int      `yaml:"retries"`
	} `yaml:"kafka"`

	NATS struct {
		Enabled       bool          `yaml:"enabled"`
		Servers       []string      `yaml:"servers"`
		SubjectPrefix string        `yaml:"subject_prefix"`
		ReconnectWait time.Duration `yaml:"reconnect_wait"`
		Timeout       time.Duration `yaml:"timeout"`
	} `yaml:"nats"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
		Issuer         string        `yaml:"issuer"`
	} `yaml:"auth"`

	Tracing struct {
		Enabled        bool    `yaml:"enabled"`
		ServiceName    string  `yaml:"service_name"`
		JaegerEndpoint string  `yaml:"jaeger_endpoint"`
		SampleRate     float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond float64 `yaml:"messages_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.Path == "" {
		return fmt.Errorf("signal.path must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be greater than signal.ping_interval")
	}
	if c.Signal.WriteWait <= 0 {
		return fmt.Errorf("signal.write_wait must be > 0")
	}
	if c.Signal.SendBuffer <= 0 {
		return fmt.Errorf("signal.send_buffer must be > 0")
	}
	if c.Signal.MaxMessageSize <= 0 {
		return fmt.Errorf("signal.max_message_size must be > 0")
	}

	// Presence
	if c.Presence.OfflineDebounce < 0 {
		return fmt.Errorf("presence.offline_debounce must be >= 0")
	}

	// Calls
	if c.Calls.RingTimeout <= 0 {
		return fmt.Errorf("calls.ring_timeout must be > 0")
	}
	if c.Calls.EndedRetention <= 0 {
		return fmt.Errorf("calls.ended_retention must be > 0")
	}
	if c.Calls.ReapInterval <= 0 {
		return fmt.Errorf("calls.reap_interval must be > 0")
	}
	switch c.Calls.DuplicatePolicy {
	case DuplicatePolicyReject, DuplicatePolicyReplace:
	default:
		return fmt.Errorf("calls.duplicate_policy must be %q or %q", DuplicatePolicyReject, DuplicatePolicyReplace)
	}

	// Relay
	if c.Relay.MaxBodyBytes <= 0 {
		return fmt.Errorf("relay.max_body_bytes must be > 0")
	}
	if c.Relay.PersistBatchSize <= 0 {
		return fmt.Errorf("relay.persist_batch_size must be > 0")
	}
	if c.Relay.PersistInterval <= 0 {
		return fmt.Errorf("relay.persist_interval must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Mongo
	if c.Mongo.Enabled && (c.Mongo.URI == "" || c.Mongo.Database == "") {
		return fmt.Errorf("mongo.uri and mongo.database must be set when mongo.enabled=true")
	}

	// Kafka
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka.brokers and kafka.topic must be set when kafka.enabled=true")
	}

	// NATS
	if c.NATS.Enabled && len(c.NATS.Servers) == 0 {
		return fmt.Errorf("nats.servers must not be empty when nats.enabled=true")
	}

	// Auth
	if c.Signal.RequireAuth && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty when signal.require_auth=true")
	}

	// Tracing
	if c.Tracing.Enabled && c.Tracing.JaegerEndpoint == "" {
		return fmt.Errorf("tracing.jaeger_endpoint must not be empty when tracing.enabled=true")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 || c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http requires requests_per_second and burst > 0")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 || c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket requires messages_per_second and burst > 0")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second

	cfg.Signal.Path = "/ws"
	cfg.Signal.PingInterval = 25 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteWait = 10 * time.Second
	cfg.Signal.SendBuffer = 256
	cfg.Signal.MaxMessageSize = 64 * 1024
	cfg.Signal.AllowedOrigins = []string{"*"}

	cfg.Presence.OfflineDebounce = 3 * time.Second
	cfg.Presence.Broadcast = true

	cfg.Calls.RingTimeout = 35 * time.Second
	cfg.Calls.EndedRetention = 5 * time.Minute
	cfg.Calls.ReapInterval = 30 * time.Second
	cfg.Calls.DuplicatePolicy = DuplicatePolicyReject
	cfg.Calls.EndOnDisconnect = true

	cfg.Relay.SelfEchoKinds = []string{"message"}
	cfg.Relay.MaxBodyBytes = 32 * 1024
	cfg.Relay.DirectoryCacheTTL = 5 * time.Minute
	cfg.Relay.LookupTimeout = 200 * time.Millisecond
	cfg.Relay.PersistBatchSize = 100
	cfg.Relay.PersistInterval = 500 * time.Millisecond
	cfg.Relay.PushFallback = true

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsInterval = 15 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 5
	cfg.Logging.MaxAgeDays = 14

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.PresenceTTL = 90 * time.Second
	cfg.Redis.Channel = "connectsphere:presence"

	cfg.Mongo.Enabled = false
	cfg.Mongo.URI = "mongodb://localhost:27017"
	cfg.Mongo.Database = "connectsphere"
	cfg.Mongo.UsersCollection = "users"
	cfg.Mongo.GroupsCollection = "groups"
	cfg.Mongo.EventsCollection = "relay_events"
	cfg.Mongo.ConnectTimeout = 10 * time.Second

	cfg.Kafka.Enabled = false
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Kafka.Topic = "connectsphere.relay-events"
	cfg.Kafka.ClientID = "connectsphere-gateway"
	cfg.Kafka.Retries = 3

	cfg.NATS.Enabled = false
	cfg.NATS.Servers = []string{"nats://localhost:4222"}
	cfg.NATS.SubjectPrefix = "connectsphere.push"
	cfg.NATS.ReconnectWait = 500 * time.Millisecond
	cfg.NATS.Timeout = 3 * time.Second

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 15 * time.Minute
	cfg.Auth.Issuer = "connectsphere"

	cfg.Tracing.ServiceName = "connectsphere-gateway"
	cfg.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 0.1

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 50
	cfg.RateLimiting.WebSocket.Burst = 100

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("CONNECTSPHERE_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("CONNECTSPHERE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("CONNECTSPHERE_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if v := os.Getenv("CONNECTSPHERE_REQUIRE_AUTH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Signal.RequireAuth = b
		}
	}
	if addr := os.Getenv("CONNECTSPHERE_REDIS_ADDRESS"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Address = addr
	}
	if uri := os.Getenv("CONNECTSPHERE_MONGO_URI"); uri != "" {
		c.Mongo.Enabled = true
		c.Mongo.URI = uri
	}
	if brokers := os.Getenv("CONNECTSPHERE_KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Enabled = true
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if servers := os.Getenv("CONNECTSPHERE_NATS_SERVERS"); servers != "" {
		c.NATS.Enabled = true
		c.NATS.Servers = strings.Split(servers, ",")
	}
	if policy := os.Getenv("CONNECTSPHERE_CALL_DUPLICATE_POLICY"); policy != "" {
		c.Calls.DuplicatePolicy = policy
	}
}
