package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type NATSConfig struct {
	Servers       []string
	Name          string
	SubjectPrefix string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// Publisher is the part of *nats.Conn the dispatcher needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// PushNotice is the payload handed to the push service for a user with no
// live connection.
type PushNotice struct {
	UserID     domain.UserID      `json:"userId"`
	Event      *domain.RelayEvent `json:"event"`
	Dispatched time.Time          `json:"dispatchedAt"`
}

// NATSPushDispatcher publishes offline notices on "<prefix>.<userId>".
type NATSPushDispatcher struct {
	pub    Publisher
	conn   *nats.Conn
	prefix string
	logger *zap.SugaredLogger
}

var _ ports.PushDispatcher = (*NATSPushDispatcher)(nil)

func NewNATSPushDispatcher(cfg NATSConfig, logger *zap.SugaredLogger) (*NATSPushDispatcher, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnw("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infow("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	d := NewPushDispatcher(nc, cfg.SubjectPrefix, logger)
	d.conn = nc
	logger.Infow("nats push dispatcher ready", "servers", cfg.Servers, "prefix", d.prefix)
	return d, nil
}

func NewPushDispatcher(pub Publisher, prefix string, logger *zap.SugaredLogger) *NATSPushDispatcher {
	if prefix == "" {
		prefix = "connectsphere.push"
	}
	return &NATSPushDispatcher{pub: pub, prefix: strings.TrimSuffix(prefix, "."), logger: logger}
}

// Subject maps a user to its push subject. Dots would split the subject
// into extra tokens, so they are replaced.
func (d *NATSPushDispatcher) Subject(userID domain.UserID) string {
	return d.prefix + "." + strings.ReplaceAll(string(userID), ".", "_")
}

func (d *NATSPushDispatcher) DispatchOffline(ctx context.Context, userID domain.UserID, event *domain.RelayEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event == nil {
		return errors.New("nil event")
	}

	data, err := json.Marshal(PushNotice{UserID: userID, Event: event, Dispatched: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode push notice: %w", err)
	}
	subject := d.Subject(userID)
	if err := d.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish push notice to %s: %w", subject, err)
	}
	d.logger.Debugw("dispatched offline push", "user_id", userID, "event_id", event.ID, "subject", subject)
	return nil
}

func (d *NATSPushDispatcher) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Drain()
}
