package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type Config struct {
	URI              string
	Database         string
	UsersCollection  string
	GroupsCollection string
	EventsCollection string
	ConnectTimeout   time.Duration
}

// Client bundles the driver client with the collections this service
// reads and writes.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
	cfg    Config
}

func Connect(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (*Client, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetAppName("connectsphere").
		SetServerSelectionTimeout(cfg.ConnectTimeout)

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	if logger != nil {
		logger.Infow("connected to MongoDB", "database", cfg.Database)
	}
	return &Client{client: cli, db: cli.Database(cfg.Database), cfg: cfg}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, nil)
}

func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

func (c *Client) users() *mongo.Collection  { return c.db.Collection(c.cfg.UsersCollection) }
func (c *Client) groups() *mongo.Collection { return c.db.Collection(c.cfg.GroupsCollection) }
func (c *Client) events() *mongo.Collection { return c.db.Collection(c.cfg.EventsCollection) }
