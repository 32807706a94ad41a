package domain

type UserID string

type GroupID string

// UserDisplayInfo is the subset of a profile used to enrich relayed events.
type UserDisplayInfo struct {
	UserID    UserID `json:"userId" bson:"_id"`
	Username  string `json:"username" bson:"username"`
	AvatarURL string `json:"avatarUrl,omitempty" bson:"avatar_url"`
}
