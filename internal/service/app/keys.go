package app

import (
	"context"
	"fmt"

	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/cryptographic/dh"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/cryptographic/encryption"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/cryptographic/keywrap"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/model"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/utils/log"

	"go.uber.org/zap"
)

// onPeerJoin records the peer's public key. The side already in the
// channel generates the channel key and publishes it wrapped to the peer,
// so exactly one side produces it.
func (c *App) onPeerJoin(ctx context.Context, encodedPub string) error {
	pub, err := dh.DecodePublicKey(encodedPub)
	if err != nil {
		return err
	}

	c.keyMu.Lock()
	c.peerPub = &pub
	haveKey := c.channelKey != nil
	c.keyMu.Unlock()

	c.appendSystem("peer joined")
	if haveKey {
		return nil
	}

	if _, err := c.ensureChannelKey(ctx); err != nil {
		return err
	}
	c.appendSystem("secure channel established")
	return nil
}

// onMemberJoin records a group joiner. A member already holding the
// channel key wraps it to the joiner and publishes it into the joiner's
// record, so late joiners can read instead of regenerate.
func (c *App) onMemberJoin(ctx context.Context, p *model.MemberJoinPayload) error {
	name := p.OdernName
	if name == "" {
		name = p.OderID
	}
	c.appendSystem(fmt.Sprintf("%s joined", name))

	if p.PublicKey == "" {
		return nil
	}
	pub, err := dh.DecodePublicKey(p.PublicKey)
	if err != nil {
		return err
	}

	c.keyMu.Lock()
	key := c.channelKey
	c.keyMu.Unlock()
	if key == nil {
		return nil
	}

	wrapped, err := keywrap.Wrap(key, pub)
	if err != nil {
		return err
	}
	return c.api.SharePublicKey(ctx, c.channelID, p.OderID, p.PublicKey, wrapped)
}

// adoptPeerRecord pulls the peer's key-exchange record. Both halves may be
// missing when this client is the first joiner.
func (c *App) adoptPeerRecord(ctx context.Context) error {
	if c.isGroup() {
		return c.adoptGroupKey(ctx)
	}

	resp, err := c.api.GetPublicKey(ctx, c.channelID, c.userID)
	if err != nil {
		return err
	}

	c.keyMu.Lock()
	defer c.keyMu.Unlock()

	if resp.PublicKey != nil {
		pub, err := dh.DecodePublicKey(*resp.PublicKey)
		if err != nil {
			return err
		}
		c.peerPub = &pub
	}
	if resp.AESKey != nil && c.channelKey == nil {
		key, err := keywrap.Unwrap(*resp.AESKey, c.priv)
		if err != nil {
			return err
		}
		c.channelKey = key
		log.Debug("adopted channel key from peer record")
	}
	return nil
}

// ensureChannelKey returns the channel AES key, establishing it on first
// use: adopt a wrapped key when one is published, otherwise generate a
// fresh key and publish it wrapped to the other members.
func (c *App) ensureChannelKey(ctx context.Context) ([]byte, error) {
	c.keyMu.Lock()
	if c.channelKey != nil {
		key := c.channelKey
		c.keyMu.Unlock()
		return key, nil
	}
	c.keyMu.Unlock()

	if err := c.adoptPeerRecord(ctx); err != nil {
		return nil, err
	}
	if c.isGroup() {
		return c.ensureGroupKey(ctx)
	}

	c.keyMu.Lock()
	defer c.keyMu.Unlock()

	if c.channelKey != nil {
		return c.channelKey, nil
	}
	if c.peerPub == nil {
		return nil, fmt.Errorf("peer has not joined yet")
	}

	key, err := encryption.NewChannelKey()
	if err != nil {
		return nil, err
	}
	wrapped, err := keywrap.Wrap(key, *c.peerPub)
	if err != nil {
		return nil, err
	}
	if err := c.api.SharePublicKey(ctx, c.channelID, c.userID, dh.EncodePublicKey(c.pub), wrapped); err != nil {
		return nil, err
	}

	c.channelKey = key
	log.Debug("generated channel key", zap.String("channel", c.channelID))
	return key, nil
}

func (c *App) isGroup() bool {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	return c.group
}

// adoptGroupKey reads this member's own record from the group key map;
// another member publishes the wrapped channel key there on member-join.
func (c *App) adoptGroupKey(ctx context.Context) error {
	records, err := c.api.GroupPublicKeys(ctx, c.channelID, c.userID)
	if err != nil {
		return err
	}

	own := records[c.userID]
	if own == nil || own.AESKey == nil {
		return nil
	}

	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.channelKey != nil {
		return nil
	}
	key, err := keywrap.Unwrap(*own.AESKey, c.priv)
	if err != nil {
		return err
	}
	c.channelKey = key
	log.Debug("adopted group channel key")
	return nil
}

// ensureGroupKey generates the channel key when nobody has published one
// yet and distributes it wrapped to every member with a known public key,
// this client included so a rejoin can recover it.
func (c *App) ensureGroupKey(ctx context.Context) ([]byte, error) {
	c.keyMu.Lock()
	if c.channelKey != nil {
		key := c.channelKey
		c.keyMu.Unlock()
		return key, nil
	}
	c.keyMu.Unlock()

	records, err := c.api.GroupPublicKeys(ctx, c.channelID, c.userID)
	if err != nil {
		return nil, err
	}

	key, err := encryption.NewChannelKey()
	if err != nil {
		return nil, err
	}
	for memberID, record := range records {
		if memberID == c.userID || record == nil || record.PublicKey == nil {
			continue
		}
		pub, err := dh.DecodePublicKey(*record.PublicKey)
		if err != nil {
			return nil, err
		}
		wrapped, err := keywrap.Wrap(key, pub)
		if err != nil {
			return nil, err
		}
		if err := c.api.SharePublicKey(ctx, c.channelID, memberID, *record.PublicKey, wrapped); err != nil {
			return nil, err
		}
	}

	selfWrapped, err := keywrap.Wrap(key, c.pub)
	if err != nil {
		return nil, err
	}
	if err := c.api.SharePublicKey(ctx, c.channelID, c.userID, dh.EncodePublicKey(c.pub), selfWrapped); err != nil {
		return nil, err
	}

	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.channelKey == nil {
		c.channelKey = key
		log.Debug("generated group channel key", zap.String("channel", c.channelID))
	}
	return c.channelKey, nil
}
