package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type EventType string

const (
	EventPresenceChanged EventType = "presence.changed"
	EventInstanceLeft    EventType = "instance.left"
)

// Event is what gateway instances exchange over redis pub/sub.
type Event struct {
	Type       EventType             `json:"type"`
	InstanceID string                `json:"instance_id"`
	Timestamp  time.Time             `json:"timestamp"`
	UserID     domain.UserID         `json:"user_id,omitempty"`
	Status     domain.PresenceStatus `json:"status,omitempty"`
}

// EventBus broadcasts presence transitions to the other gateway instances.
type EventBus struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
	channel    string
}

var _ ports.PresencePublisher = (*EventBus)(nil)

func NewEventBus(client *redis.Client, instanceID, channel string, logger *zap.SugaredLogger) *EventBus {
	if channel == "" {
		channel = "connectsphere:presence"
	}
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
		channel:    channel,
	}
}

func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event", "type", event.Type, "user_id", event.UserID)
	return nil
}

func (eb *EventBus) PublishPresence(ctx context.Context, ev domain.PresenceEvent) error {
	return eb.Publish(ctx, &Event{
		Type:      EventPresenceChanged,
		Timestamp: ev.Timestamp,
		UserID:    ev.UserID,
		Status:    ev.Status,
	})
}

// Subscribe blocks until ctx is done, calling handler for every event
// published by another instance.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	if eb.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	eb.pubsub = eb.client.Subscribe(ctx, eb.channel)
	defer eb.pubsub.Close()

	ch := eb.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			eb.dispatch(msg.Payload, handler)
		}
	}
}

func (eb *EventBus) dispatch(payload string, handler func(*Event) error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		eb.logger.Warnw("failed to unmarshal event", "error", err, "payload", payload)
		return
	}
	if event.InstanceID == eb.instanceID {
		return
	}
	if err := handler(&event); err != nil {
		eb.logger.Warnw("error handling event", "type", event.Type, "error", err)
	}
}

func (eb *EventBus) Close() error {
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
