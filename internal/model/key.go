package model

import "go.mongodb.org/mongo-driver/bson/primitive"

type (
	// KeyExchangeRecord holds one participant's public key material for a
	// channel, plus the channel symmetric key wrapped for the peer. Both
	// fields are opaque to the server. Last write wins.
	KeyExchangeRecord struct {
		ID        primitive.ObjectID `bson:"_id,omitempty" json:"-"`
		Channel   string             `bson:"channel" json:"channel"`
		User      string             `bson:"user" json:"user"`
		PublicKey string             `bson:"publicKey" json:"publicKey"`
		AESKey    string             `bson:"aesKey" json:"aesKey"`
	}

	// PublicKeyResponse is the GET /get-public-key body. Fields are null
	// when no record exists.
	PublicKeyResponse struct {
		PublicKey *string `json:"publicKey"`
		AESKey    *string `json:"aesKey"`
	}
)
