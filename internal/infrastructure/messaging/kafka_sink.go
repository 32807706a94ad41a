package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
	Retries  int
}

// KafkaEventSink publishes persistent relay events to a topic keyed by
// conversation, so every event of one conversation lands on one partition.
type KafkaEventSink struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.SugaredLogger
}

var _ ports.MessageStore = (*KafkaEventSink)(nil)

func newSaramaConfig(cfg KafkaConfig) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}

	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	retries := cfg.Retries
	if retries <= 0 {
		retries = 1
	}
	sc.Producer.Retry.Max = retries
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	sc.Net.DialTimeout = 10 * time.Second
	sc.Net.ReadTimeout = 30 * time.Second
	sc.Net.WriteTimeout = 30 * time.Second

	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("sarama config validate: %w", err)
	}
	return sc, nil
}

func NewKafkaEventSink(cfg KafkaConfig, logger *zap.SugaredLogger) (*KafkaEventSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are empty")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is empty")
	}
	sc, err := newSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	logger.Infow("kafka event sink ready", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return NewKafkaEventSinkWithProducer(producer, cfg.Topic, logger), nil
}

func NewKafkaEventSinkWithProducer(producer sarama.SyncProducer, topic string, logger *zap.SugaredLogger) *KafkaEventSink {
	return &KafkaEventSink{producer: producer, topic: topic, logger: logger}
}

func (s *KafkaEventSink) StoreEvents(ctx context.Context, events []*domain.RelayEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(events))
	for _, ev := range events {
		value, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to encode event %s: %w", ev.ID, err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: s.topic,
			Key:   sarama.StringEncoder(ev.ConversationID()),
			Value: sarama.ByteEncoder(value),
			Headers: []sarama.RecordHeader{
				{Key: []byte("kind"), Value: []byte(ev.Kind)},
				{Key: []byte("event_id"), Value: []byte(ev.ID)},
			},
		})
	}

	if err := s.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("failed to publish %d events: %w", len(msgs), err)
	}
	s.logger.Debugw("published relay events", "topic", s.topic, "count", len(msgs))
	return nil
}

func (s *KafkaEventSink) Close() error {
	return s.producer.Close()
}
