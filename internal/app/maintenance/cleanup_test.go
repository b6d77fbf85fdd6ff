package maintenance

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	testutil "github.com/deskwise/deskwise/internal/database/testutil"
	"github.com/deskwise/deskwise/internal/models"
)

// seedNotification creates a notification backdated by createdAgo. When
// readAgo is non-nil the row is marked read that long ago.
func seedNotification(t *testing.T, db *gorm.DB, now time.Time, userID string, createdAgo time.Duration, readAgo *time.Duration) string {
	t.Helper()

	n := models.Notification{
		UserID:   userID,
		Type:     "status_change",
		Priority: models.PriorityMedium,
		Title:    "retention seed",
	}
	require.NoError(t, db.Create(&n).Error)

	updates := map[string]any{"created_at": now.Add(-createdAgo)}
	if readAgo != nil {
		updates["read_at"] = now.Add(-*readAgo)
	}
	require.NoError(t, db.Model(&models.Notification{}).Where("id = ?", n.ID).Updates(updates).Error)

	return n.ID
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func daysPtr(n int) *time.Duration {
	d := days(n)
	return &d
}

func remainingIDs(t *testing.T, db *gorm.DB) map[string]bool {
	t.Helper()

	var rows []models.Notification
	require.NoError(t, db.Find(&rows).Error)
	ids := make(map[string]bool, len(rows))
	for _, row := range rows {
		ids[row.ID] = true
	}
	return ids
}

func TestCleanerRunOnceAppliesRetentionCutoffs(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2025, 7, 1, 3, 0, 0, 0, time.UTC)

	// Read rows age out at 90 days, unread at 180, both measured on
	// created_at.
	oldRead := seedNotification(t, db, now, "user-1", days(95), daysPtr(94))
	freshRead := seedNotification(t, db, now, "user-1", days(85), daysPtr(84))
	oldUnread := seedNotification(t, db, now, "user-1", days(181), nil)
	freshUnread := seedNotification(t, db, now, "user-1", days(179), nil)

	cleaner := NewCleaner(db,
		WithNow(func() time.Time { return now }),
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)

	stats, err := cleaner.RunOnce(context.Background())
	require.NoError(t, err)
	require.False(t, stats.Skipped)
	require.Equal(t, int64(1), stats.ReadDeleted)
	require.Equal(t, int64(1), stats.UnreadDeleted)

	ids := remainingIDs(t, db)
	require.False(t, ids[oldRead])
	require.False(t, ids[oldUnread])
	require.True(t, ids[freshRead])
	require.True(t, ids[freshUnread])
}

func TestCleanerRetentionIsCreationBased(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2025, 7, 1, 3, 0, 0, 0, time.UTC)

	// Read only today, but created 100 days ago: still eligible, because
	// the cutoff looks at created_at rather than read_at.
	readToday := seedNotification(t, db, now, "user-1", days(100), daysPtr(0))
	// Created 100 days ago but never read: inside the 180 day unread window.
	unreadOld := seedNotification(t, db, now, "user-1", days(100), nil)

	cleaner := NewCleaner(db, WithNow(func() time.Time { return now }))

	stats, err := cleaner.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.ReadDeleted)
	require.Zero(t, stats.UnreadDeleted)

	ids := remainingIDs(t, db)
	require.False(t, ids[readToday])
	require.True(t, ids[unreadOld])
}

func TestCleanerRetentionAcrossRandomAges(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2025, 7, 1, 3, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(42))

	expectSurvivors := make(map[string]bool)
	var expectReadDeleted, expectUnreadDeleted int64

	for i := 0; i < 120; i++ {
		age := rng.Intn(260) + 1
		read := rng.Intn(2) == 0

		var readAgo *time.Duration
		if read {
			// Reads always happen after creation.
			readAgo = daysPtr(rng.Intn(age + 1))
		}
		id := seedNotification(t, db, now, "user-1", days(age), readAgo)

		switch {
		case read && age > 90:
			expectReadDeleted++
		case !read && age > 180:
			expectUnreadDeleted++
		default:
			expectSurvivors[id] = true
		}
	}

	cleaner := NewCleaner(db, WithNow(func() time.Time { return now }))

	stats, err := cleaner.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, expectReadDeleted, stats.ReadDeleted)
	require.Equal(t, expectUnreadDeleted, stats.UnreadDeleted)
	require.Equal(t, expectSurvivors, remainingIDs(t, db))
}

func TestCleanerCustomRetentionWindows(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2025, 7, 1, 3, 0, 0, 0, time.UTC)

	shortRead := seedNotification(t, db, now, "user-1", days(10), daysPtr(9))
	keptRead := seedNotification(t, db, now, "user-1", days(5), daysPtr(4))
	shortUnread := seedNotification(t, db, now, "user-1", days(31), nil)
	keptUnread := seedNotification(t, db, now, "user-1", days(29), nil)

	cleaner := NewCleaner(db,
		WithNow(func() time.Time { return now }),
		WithReadRetentionDays(7),
		WithUnreadRetentionDays(30),
	)

	stats, err := cleaner.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.ReadDeleted)
	require.Equal(t, int64(1), stats.UnreadDeleted)

	ids := remainingIDs(t, db)
	require.False(t, ids[shortRead])
	require.False(t, ids[shortUnread])
	require.True(t, ids[keptRead])
	require.True(t, ids[keptUnread])
}

func TestCleanerLeavesOtherTablesAlone(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2025, 7, 1, 3, 0, 0, 0, time.UTC)

	seedNotification(t, db, now, "user-1", days(400), daysPtr(399))
	seedNotification(t, db, now, "user-1", days(400), nil)

	sub := models.PushSubscription{
		UserID:   "user-1",
		Endpoint: "https://push.example.com/sub/untouched",
		P256dh:   "key-material",
		Auth:     "auth-secret",
	}
	require.NoError(t, db.Create(&sub).Error)
	require.NoError(t, db.Create(&models.CacheEntry{
		Key:       "warm",
		Value:     []byte(`{"ok":true}`),
		ExpiresAt: now.Add(time.Hour),
	}).Error)

	cleaner := NewCleaner(db, WithNow(func() time.Time { return now }))

	stats, err := cleaner.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.ReadDeleted)
	require.Equal(t, int64(1), stats.UnreadDeleted)

	var subs int64
	require.NoError(t, db.Model(&models.PushSubscription{}).Count(&subs).Error)
	require.Equal(t, int64(1), subs)

	var stored models.PushSubscription
	require.NoError(t, db.First(&stored, "id = ?", sub.ID).Error)
	require.Equal(t, sub.Endpoint, stored.Endpoint)
	require.Equal(t, sub.UserID, stored.UserID)

	var cached int64
	require.NoError(t, db.Model(&models.CacheEntry{}).Count(&cached).Error)
	require.Equal(t, int64(1), cached)
}

func TestCleanerSkipsOverlappingRuns(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2025, 7, 1, 3, 0, 0, 0, time.UTC)

	target := seedNotification(t, db, now, "user-1", days(200), daysPtr(199))

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	cleaner := NewCleaner(db, WithNow(func() time.Time {
		// Stall the first cycle inside the running guard so a second
		// invocation observes it mid-flight.
		once.Do(func() {
			close(entered)
			<-release
		})
		return now
	}))

	var (
		wg         sync.WaitGroup
		firstStats CleanupStats
		firstErr   error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstStats, firstErr = cleaner.RunOnce(context.Background())
	}()

	<-entered
	second, err := cleaner.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, second.Skipped)
	require.Zero(t, second.ReadDeleted)
	require.Zero(t, second.UnreadDeleted)

	close(release)
	wg.Wait()

	require.NoError(t, firstErr)
	require.False(t, firstStats.Skipped)
	require.Equal(t, int64(1), firstStats.ReadDeleted)
	require.False(t, remainingIDs(t, db)[target])

	// The guard is released after the cycle, so the next call runs again.
	third, err := cleaner.RunOnce(context.Background())
	require.NoError(t, err)
	require.False(t, third.Skipped)
	require.Zero(t, third.ReadDeleted)
}

func TestCleanerStartSchedulesDailyJob(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	c := cron.New(cron.WithLogger(cron.DiscardLogger), cron.WithLocation(time.UTC))
	cleaner := NewCleaner(db, WithCron(c), WithLocation(time.UTC))

	require.NoError(t, cleaner.Start())
	t.Cleanup(func() { <-cleaner.Stop().Done() })

	entries := c.Entries()
	require.Len(t, entries, 1)
	next := entries[0].Next
	require.Equal(t, 3, next.Hour())
	require.Zero(t, next.Minute())
}

func TestCleanerStartRejectsBadSchedule(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	cleaner := NewCleaner(db, WithSchedule("every day at three"))
	require.Error(t, cleaner.Start())
}

func TestCleanerDisabledWithoutDatabase(t *testing.T) {
	cleaner := NewCleaner(nil)
	require.NoError(t, cleaner.Start())
	require.NotNil(t, cleaner.Stop())
}
