package link

import (
	"context"
	"time"

	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type (
	LinkRepo struct {
		collection *mongo.Collection
	}
)

func NewLinkRepo(db *mongo.Database) *LinkRepo {
	return &LinkRepo{
		collection: db.Collection("chatLinks"),
	}
}

func (r *LinkRepo) GetByHash(ctx context.Context, hash string) (*model.ChatLink, error) {
	filter := bson.M{
		"hash": hash,
	}

	var link model.ChatLink
	err := r.collection.FindOne(ctx, filter).Decode(&link)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &link, nil
}

func (r *LinkRepo) Create(ctx context.Context, link *model.ChatLink) error {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}

	res, err := r.collection.InsertOne(ctx, link)
	if err != nil {
		return err
	}

	link.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

// MarkDeleted tombstones the link; the validator treats it as gone while
// the document stays around for auditing.
func (r *LinkRepo) MarkDeleted(ctx context.Context, hash string) error {
	filter := bson.M{"hash": hash}
	update := bson.M{"$set": bson.M{"deleted": true}}

	_, err := r.collection.UpdateOne(ctx, filter, update)
	return err
}
