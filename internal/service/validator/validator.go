package validator

import (
	"context"
	"time"

	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/model"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/utils/log"

	"go.uber.org/zap"
)

const cacheTTL = 30 * time.Second

type (
	// LinkStore is the external link-store collaborator.
	LinkStore interface {
		GetByHash(ctx context.Context, hash string) (*model.ChatLink, error)
	}

	// Cache is a read-through cache for valid lookups. May be nil.
	Cache interface {
		Get(ctx context.Context, key string) (string, error)
		Set(ctx context.Context, key string, value any, ttl time.Duration) error
		Del(ctx context.Context, key string) error
	}

	// Validator confirms a channel id corresponds to a live, non-deleted,
	// non-expired link. Every relay and join entry point calls this first.
	Validator struct {
		links LinkStore
		cache Cache
	}
)

func New(links LinkStore, cache Cache) *Validator {
	return &Validator{
		links: links,
		cache: cache,
	}
}

// IsValid reports whether the channel link exists, is not deleted and has
// not expired. Only positive results are cached so a deleted link takes
// effect immediately.
func (v *Validator) IsValid(ctx context.Context, channelID string) (bool, error) {
	if channelID == "" {
		return false, nil
	}

	if v.cache != nil {
		if _, err := v.cache.Get(ctx, cacheKey(channelID)); err == nil {
			return true, nil
		}
	}

	link, err := v.links.GetByHash(ctx, channelID)
	if err != nil {
		return false, err
	}

	if link == nil || link.Deleted || link.Expired(time.Now()) {
		return false, nil
	}

	if v.cache != nil {
		if err := v.cache.Set(ctx, cacheKey(channelID), "1", cacheTTL); err != nil {
			log.Debug("link cache set failed", zap.Error(err))
		}
	}
	return true, nil
}

// Invalidate drops the cached entry for the channel, used when a link is
// deleted while its cache entry is still live.
func (v *Validator) Invalidate(ctx context.Context, channelID string) {
	if v.cache == nil {
		return
	}
	if err := v.cache.Del(ctx, cacheKey(channelID)); err != nil {
		log.Debug("link cache del failed", zap.Error(err))
	}
}

func cacheKey(channelID string) string {
	return "link:valid:" + channelID
}
