package notifications

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deskwise/deskwise/internal/cache"
	"github.com/deskwise/deskwise/internal/database/testutil"
)

func newTestUnreadCache(t *testing.T) *UnreadCache {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	return NewUnreadCache(cache.NewDatabaseStore(db))
}

func TestUnreadCacheRoundTrip(t *testing.T) {
	c := newTestUnreadCache(t)
	ctx := context.Background()

	_, ok := c.Get(ctx, "user-1")
	require.False(t, ok)

	c.Set(ctx, "user-1", 12)

	count, ok := c.Get(ctx, "user-1")
	require.True(t, ok)
	require.Equal(t, int64(12), count)

	// Counters are per user.
	_, ok = c.Get(ctx, "user-2")
	require.False(t, ok)
}

func TestUnreadCacheInvalidate(t *testing.T) {
	c := newTestUnreadCache(t)
	ctx := context.Background()

	c.Set(ctx, "user-1", 3)
	c.Set(ctx, "user-2", 5)
	c.Set(ctx, "user-3", 9)

	c.Invalidate(ctx, "user-1", "user-3", " ", "")

	_, ok := c.Get(ctx, "user-1")
	require.False(t, ok)
	_, ok = c.Get(ctx, "user-3")
	require.False(t, ok)

	count, ok := c.Get(ctx, "user-2")
	require.True(t, ok)
	require.Equal(t, int64(5), count)
}

func TestUnreadCacheNilIsSafe(t *testing.T) {
	var c *UnreadCache
	ctx := context.Background()

	require.NotPanics(t, func() {
		c.Set(ctx, "user-1", 1)
		c.Invalidate(ctx, "user-1")
		_, ok := c.Get(ctx, "user-1")
		require.False(t, ok)
	})

	require.Nil(t, NewUnreadCache(nil))
}
