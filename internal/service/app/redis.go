package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/cryptographic/dh"
	redisSvc "github.com/AhmedAmineBejaoui/chat-e2ee/internal/service/redis"

	"github.com/google/uuid"
	"golang.org/x/crypto/curve25519"
)

// identityTTL outlives a typical chat session so a reconnect keeps the
// same user id and key pair, without keeping secrets around forever.
const identityTTL = 2 * time.Hour

type identity struct {
	UserID  string `json:"userID"`
	PrivKey []byte `json:"privKey"`
}

// loadOrCreateIdentity restores the cached identity for this channel or
// mints a fresh one. A rejoin with the same identity means the peer's
// wrapped channel key is still usable.
func (c *App) loadOrCreateIdentity(ctx context.Context) error {
	key := fmt.Sprintf("identity:%s", c.channelID)

	v, err := c.redisService.Get(ctx, key)
	if err == nil {
		var id identity
		if err := json.Unmarshal([]byte(v), &id); err != nil {
			return err
		}
		if len(id.PrivKey) != 32 {
			return fmt.Errorf("cached identity has malformed key")
		}
		c.userID = id.UserID
		copy(c.priv[:], id.PrivKey)
		curve25519.ScalarBaseMult(&c.pub, &c.priv)
		return nil
	}
	if !errors.Is(err, redisSvc.ErrMiss) {
		return err
	}

	priv, pub, err := dh.NewKeyPair()
	if err != nil {
		return err
	}
	c.userID = uuid.NewString()
	c.priv = priv
	c.pub = pub

	data, err := json.Marshal(&identity{
		UserID:  c.userID,
		PrivKey: c.priv[:],
	})
	if err != nil {
		return err
	}
	return c.redisService.Set(ctx, key, data, identityTTL)
}
