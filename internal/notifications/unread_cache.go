package notifications

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/deskwise/deskwise/internal/cache"
)

const (
	unreadCacheKeyPrefix = "notifications:unread:"
	unreadCacheTTL       = 30 * time.Second
)

// UnreadCache keeps per-user unread counters warm so badge polling does not
// hit the notifications table on every request. Counters are short-lived and
// invalidated on any read-state change, so a stale value survives at most
// one TTL.
type UnreadCache struct {
	store cache.Store
}

// NewUnreadCache wraps a cache store. A nil store yields a nil cache, and
// every method on a nil cache is a safe no-op so callers never need to
// branch on cache availability.
func NewUnreadCache(store cache.Store) *UnreadCache {
	if store == nil {
		return nil
	}
	return &UnreadCache{store: store}
}

// Get returns the cached unread count for a user, if present.
func (c *UnreadCache) Get(ctx context.Context, userID string) (int64, bool) {
	if c == nil {
		return 0, false
	}
	key := unreadCacheKey(userID)
	if key == "" {
		return 0, false
	}

	data, found, err := c.store.Get(ctx, key)
	if err != nil || !found {
		return 0, false
	}

	count, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, false
	}
	return count, true
}

// Set stores the unread count for a user.
func (c *UnreadCache) Set(ctx context.Context, userID string, count int64) {
	if c == nil {
		return
	}
	key := unreadCacheKey(userID)
	if key == "" {
		return
	}
	_ = c.store.Set(ctx, key, []byte(strconv.FormatInt(count, 10)), unreadCacheTTL)
}

// Invalidate drops the cached counters for the supplied users. Called on
// create, mark-read and delete so the next poll recomputes.
func (c *UnreadCache) Invalidate(ctx context.Context, userIDs ...string) {
	if c == nil || len(userIDs) == 0 {
		return
	}

	keys := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		if key := unreadCacheKey(userID); key != "" {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return
	}
	_ = c.store.Delete(ctx, keys...)
}

func unreadCacheKey(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ""
	}
	return unreadCacheKeyPrefix + userID
}
