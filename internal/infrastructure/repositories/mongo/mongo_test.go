package mongo

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"connectsphere/internal/core/domain"
	"connectsphere/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

func TestNewEventDoc(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	doc := newEventDoc(&domain.RelayEvent{
		ID:        "evt_1",
		Kind:      domain.EventMessage,
		SenderID:  "bob",
		TargetID:  "alice",
		Body:      json.RawMessage(`{"text":"hi"}`),
		CreatedAt: created,
	})

	assert.Equal(t, "evt_1", doc.ID)
	assert.Equal(t, "dm:alice:bob", doc.ConversationID)
	assert.Equal(t, `{"text":"hi"}`, doc.Body)
	assert.Equal(t, time.UTC, doc.CreatedAt.Location())
	assert.True(t, created.Equal(doc.CreatedAt))
}

// The remaining tests need a server; set CONNECTSPHERE_TEST_MONGO_URI.
func testClient(t *testing.T) *Client {
	t.Helper()

	uri := os.Getenv("CONNECTSPHERE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CONNECTSPHERE_TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	client, err := Connect(ctx, Config{
		URI:              uri,
		Database:         "connectsphere_test_" + utils.NewInstanceID()[3:],
		UsersCollection:  "users",
		GroupsCollection: "groups",
		EventsCollection: "events",
	}, zap.NewNop().Sugar())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.db.Drop(ctx)
		_ = client.Close(ctx)
	})
	return client
}

func TestDirectories(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	_, err := client.users().InsertOne(ctx, bson.M{"_id": "alice", "username": "Alice", "avatar_url": "a.png", "email": "a@example.com"})
	require.NoError(t, err)
	_, err = client.groups().InsertOne(ctx, bson.M{"_id": "g1", "members": []string{"alice", "bob"}})
	require.NoError(t, err)

	info, err := NewUserDirectory(client).GetUserDisplayInfo(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.UserDisplayInfo{UserID: "alice", Username: "Alice", AvatarURL: "a.png"}, *info)

	_, err = NewUserDirectory(client).GetUserDisplayInfo(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	members, err := NewGroupDirectory(client).GetGroupMembers(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"alice", "bob"}, members)

	_, err = NewGroupDirectory(client).GetGroupMembers(ctx, "g2")
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)
}

func TestMessageStoreIsIdempotent(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	store := NewMessageStore(client)
	require.NoError(t, store.EnsureIndexes(ctx))

	events := []*domain.RelayEvent{
		{ID: "evt_1", Kind: domain.EventMessage, SenderID: "alice", TargetID: "bob", Body: json.RawMessage(`{}`), CreatedAt: time.Now()},
		{ID: "evt_2", Kind: domain.EventComment, SenderID: "bob", GroupID: "g1", Body: json.RawMessage(`{}`), CreatedAt: time.Now()},
	}
	require.NoError(t, store.StoreEvents(ctx, events))
	require.NoError(t, store.StoreEvents(ctx, events), "retrying a batch is harmless")

	n, err := client.events().CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
