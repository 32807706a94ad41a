package mongo

import (
	"context"
	"errors"
	"fmt"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type UserDirectory struct {
	client *Client
}

func NewUserDirectory(client *Client) *UserDirectory {
	return &UserDirectory{client: client}
}

var _ ports.UserDirectory = (*UserDirectory)(nil)

func (d *UserDirectory) GetUserDisplayInfo(ctx context.Context, userID domain.UserID) (*domain.UserDisplayInfo, error) {
	opts := options.FindOne().SetProjection(bson.M{"username": 1, "avatar_url": 1})

	var info domain.UserDisplayInfo
	err := d.client.users().FindOne(ctx, bson.M{"_id": string(userID)}, opts).Decode(&info)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", userID, err)
	}
	return &info, nil
}

type groupDoc struct {
	ID      string   `bson:"_id"`
	Members []string `bson:"members"`
}

type GroupDirectory struct {
	client *Client
}

func NewGroupDirectory(client *Client) *GroupDirectory {
	return &GroupDirectory{client: client}
}

var _ ports.GroupDirectory = (*GroupDirectory)(nil)

func (d *GroupDirectory) GetGroupMembers(ctx context.Context, groupID domain.GroupID) ([]domain.UserID, error) {
	opts := options.FindOne().SetProjection(bson.M{"members": 1})

	var doc groupDoc
	err := d.client.groups().FindOne(ctx, bson.M{"_id": string(groupID)}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find group %s: %w", groupID, err)
	}

	members := make([]domain.UserID, len(doc.Members))
	for i, m := range doc.Members {
		members[i] = domain.UserID(m)
	}
	return members, nil
}
