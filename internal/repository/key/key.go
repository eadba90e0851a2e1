package key

import (
	"context"

	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	KeyRepo struct {
		collection *mongo.Collection
	}
)

func NewKeyRepo(db *mongo.Database) *KeyRepo {
	return &KeyRepo{
		collection: db.Collection("publicKeys"),
	}
}

// Upsert writes the record keyed by (channel, user). Last write wins.
func (r *KeyRepo) Upsert(ctx context.Context, record *model.KeyExchangeRecord) error {
	filter := bson.M{
		"channel": record.Channel,
		"user":    record.User,
	}
	update := bson.M{
		"$set": bson.M{
			"publicKey": record.PublicKey,
			"aesKey":    record.AESKey,
		},
	}

	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (r *KeyRepo) Get(ctx context.Context, channel, user string) (*model.KeyExchangeRecord, error) {
	filter := bson.M{
		"channel": channel,
		"user":    user,
	}

	var record model.KeyExchangeRecord
	err := r.collection.FindOne(ctx, filter).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &record, nil
}

// DeleteByChannel removes every record for the channel. Called when the
// last member leaves so keys do not accumulate per channel indefinitely.
func (r *KeyRepo) DeleteByChannel(ctx context.Context, channel string) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"channel": channel})
	return err
}
