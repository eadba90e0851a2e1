package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type (
	// ChatLink is one shareable channel link. Possession of the hash is the
	// only credential required to join the channel.
	ChatLink struct {
		ID        primitive.ObjectID `bson:"_id,omitempty" json:"-"`
		Hash      string             `bson:"hash" json:"hash"`
		Deleted   bool               `bson:"deleted" json:"deleted"`
		CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
		ExpiresAt time.Time          `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`
	}
)

// Expired reports whether the link is past its expiry. Links without an
// expiry never expire.
func (l *ChatLink) Expired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && now.After(l.ExpiresAt)
}
