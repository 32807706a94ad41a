package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type eventDoc struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	Kind           string    `bson:"kind"`
	SenderID       string    `bson:"sender_id"`
	TargetID       string    `bson:"target_id,omitempty"`
	GroupID        string    `bson:"group_id,omitempty"`
	Body           string    `bson:"body"`
	CreatedAt      time.Time `bson:"created_at"`
}

func newEventDoc(ev *domain.RelayEvent) eventDoc {
	return eventDoc{
		ID:             ev.ID,
		ConversationID: ev.ConversationID(),
		Kind:           string(ev.Kind),
		SenderID:       string(ev.SenderID),
		TargetID:       string(ev.TargetID),
		GroupID:        string(ev.GroupID),
		Body:           string(ev.Body),
		CreatedAt:      ev.CreatedAt.UTC(),
	}
}

// MessageStore appends relay events to the events collection. Event ids are
// the document ids, so a retried batch does not duplicate anything.
type MessageStore struct {
	client *Client
}

func NewMessageStore(client *Client) *MessageStore {
	return &MessageStore{client: client}
}

var _ ports.MessageStore = (*MessageStore)(nil)

// EnsureIndexes creates the conversation timeline index.
func (s *MessageStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.client.events().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create events index: %w", err)
	}
	return nil
}

func (s *MessageStore) StoreEvents(ctx context.Context, events []*domain.RelayEvent) error {
	if len(events) == 0 {
		return nil
	}

	docs := make([]interface{}, len(events))
	for i, ev := range events {
		docs[i] = newEventDoc(ev)
	}

	_, err := s.client.events().InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !onlyDuplicates(err) {
		return fmt.Errorf("insert %d events: %w", len(events), err)
	}
	return nil
}

func onlyDuplicates(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		return mongo.IsDuplicateKeyError(err)
	}
	if bwe.WriteConcernError != nil {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != 11000 {
			return false
		}
	}
	return true
}
