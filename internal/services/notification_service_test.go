package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deskwise/deskwise/internal/database/testutil"
	"github.com/deskwise/deskwise/internal/models"
	apperrors "github.com/deskwise/deskwise/pkg/errors"
)

func boolPtr(b bool) *bool { return &b }

func timePtr(t time.Time) *time.Time { return &t }

func requireAppErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	appErr := apperrors.FromError(err)
	require.NotNil(t, appErr)
	require.Equal(t, code, appErr.Code)
}

func TestNotificationServiceCreateDefaults(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	svc, err := NewNotificationService(db)
	require.NoError(t, err)

	ctx := context.Background()
	dto, err := svc.Create(ctx, CreateNotificationInput{
		UserID:     "user-1",
		Type:       "new_ticket",
		Title:      "New ticket #4812",
		Message:    "Printer on floor 3 is offline",
		TicketID:   "a3c6e9d2-0000-0000-0000-000000000001",
		TicketCode: "TCK-4812",
		Metadata:   map[string]any{"queue": "hardware"},
	})
	require.NoError(t, err)

	require.NotEmpty(t, dto.ID)
	require.Equal(t, "user-1", dto.UserID)
	require.Equal(t, models.PriorityMedium, dto.Priority)
	require.False(t, dto.IsRead)
	require.Nil(t, dto.ReadAt)
	require.NotNil(t, dto.TicketID)
	require.Equal(t, "TCK-4812", dto.TicketCode)
	require.Equal(t, map[string]any{"queue": "hardware"}, dto.Metadata)

	var stored models.Notification
	require.NoError(t, db.First(&stored, "id = ?", dto.ID).Error)
	require.Nil(t, stored.ReadAt)
}

func TestNotificationServiceCreateAcceptsUnknownTypes(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	svc, err := NewNotificationService(db)
	require.NoError(t, err)

	dto, err := svc.Create(context.Background(), CreateNotificationInput{
		UserID: "user-1",
		Type:   "sla_breach_imminent",
		Title:  "SLA breach imminent",
	})
	require.NoError(t, err)
	require.Equal(t, "sla_breach_imminent", dto.Type)
}

func TestNotificationServiceCreateValidation(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	svc, err := NewNotificationService(db)
	require.NoError(t, err)

	ctx := context.Background()

	_, err = svc.Create(ctx, CreateNotificationInput{Type: "new_ticket", Title: "No user"})
	requireAppErrorCode(t, err, apperrors.ErrBadRequest.Code)

	_, err = svc.Create(ctx, CreateNotificationInput{UserID: "user-1", Title: "No type"})
	requireAppErrorCode(t, err, apperrors.ErrBadRequest.Code)

	_, err = svc.Create(ctx, CreateNotificationInput{UserID: "user-1", Type: "new_ticket"})
	requireAppErrorCode(t, err, apperrors.ErrBadRequest.Code)

	_, err = svc.Create(ctx, CreateNotificationInput{
		UserID:   "user-1",
		Type:     "new_ticket",
		Title:    "Bad priority",
		Priority: "urgent",
	})
	requireAppErrorCode(t, err, apperrors.ErrBadRequest.Code)
}

func TestNotificationServiceListOrderingAndPagination(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	svc, err := NewNotificationService(db)
	require.NoError(t, err)

	ctx := context.Background()
	base := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		dto, err := svc.Create(ctx, CreateNotificationInput{
			UserID: "user-1",
			Type:   "status_change",
			Title:  "Status update",
		})
		require.NoError(t, err)
		require.NoError(t, db.Model(&models.Notification{}).
			Where("id = ?", dto.ID).
			Update("created_at", base.Add(time.Duration(i)*time.Hour)).Error)
		ids = append(ids, dto.ID)
	}

	page, err := svc.List(ctx, ListNotificationsInput{UserID: "user-1", Page: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, int64(5), page.Total)
	require.True(t, page.HasMore)
	// Newest first: the last created row leads the feed.
	require.Equal(t, ids[4], page.Items[0].ID)
	require.Equal(t, ids[3], page.Items[1].ID)

	page, err = svc.List(ctx, ListNotificationsInput{UserID: "user-1", Page: 3, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, ids[0], page.Items[0].ID)
	require.False(t, page.HasMore)
}

func TestNotificationServiceListFilters(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	svc, err := NewNotificationService(db)
	require.NoError(t, err)

	ctx := context.Background()
	seed := []CreateNotificationInput{
		{UserID: "user-1", Type: "new_ticket", Title: "Printer offline", Message: "Floor 3 printer is down"},
		{UserID: "user-1", Type: "new_reply", Title: "Reply from Dana", Message: "The cable was loose"},
		{UserID: "user-1", Type: "new_ticket", Title: "VPN unreachable", Message: "Remote site cannot connect"},
		{UserID: "user-2", Type: "new_ticket", Title: "Printer offline", Message: "Should not leak across users"},
	}
	var created []NotificationDTO
	for _, input := range seed {
		dto, err := svc.Create(ctx, input)
		require.NoError(t, err)
		created = append(created, *dto)
	}

	_, err = svc.MarkRead(ctx, "user-1", created[1].ID)
	require.NoError(t, err)

	byType, err := svc.List(ctx, ListNotificationsInput{UserID: "user-1", Type: "new_ticket"})
	require.NoError(t, err)
	require.Len(t, byType.Items, 2)
	for _, item := range byType.Items {
		require.Equal(t, "new_ticket", item.Type)
	}

	unread, err := svc.List(ctx, ListNotificationsInput{UserID: "user-1", Read: boolPtr(false)})
	require.NoError(t, err)
	require.Len(t, unread.Items, 2)

	read, err := svc.List(ctx, ListNotificationsInput{UserID: "user-1", Read: boolPtr(true)})
	require.NoError(t, err)
	require.Len(t, read.Items, 1)
	require.Equal(t, created[1].ID, read.Items[0].ID)

	search, err := svc.List(ctx, ListNotificationsInput{UserID: "user-1", Search: "PRINTER"})
	require.NoError(t, err)
	require.Len(t, search.Items, 1)
	require.Equal(t, created[0].ID, search.Items[0].ID)

	bodySearch, err := svc.List(ctx, ListNotificationsInput{UserID: "user-1", Search: "cable"})
	require.NoError(t, err)
	require.Len(t, bodySearch.Items, 1)
	require.Equal(t, created[1].ID, bodySearch.Items[0].ID)
}

func TestNotificationServiceListTimeRange(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	svc, err := NewNotificationService(db)
	require.NoError(t, err)

	ctx := context.Background()
	base := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)
	var ids []string
	for day := 0; day < 4; day++ {
		dto, err := svc.Create(ctx, CreateNotificationInput{
			UserID: "user-1",
			Type:   "ticket_due_soon",
			Title:  "Due soon",
		})
		require.NoError(t, err)
		require.NoError(t, db.Model(&models.Notification{}).
			Where("id = ?", dto.ID).
			Update("created_at", base.AddDate(0, 0, day)).Error)
		ids = append(ids, dto.ID)
	}

	page, err := svc.List(ctx, ListNotificationsInput{
		UserID:    "user-1",
		StartDate: timePtr(base.AddDate(0, 0, 1)),
		EndDate:   timePtr(base.AddDate(0, 0, 2)),
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, ids[2], page.Items[0].ID)
	require.Equal(t, ids[1], page.Items[1].ID)
}

func TestNotificationServiceMarkReadIsMonotonic(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var ticks int
	svc, err := NewNotificationService(db, WithNotificationClock(func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * time.Minute)
	}))
	require.NoError(t, err)

	ctx := context.Background()
	dto, err := svc.Create(ctx, CreateNotificationInput{
		UserID: "user-1",
		Type:   "new_reply",
		Title:  "Reply received",
	})
	require.NoError(t, err)

	first, err := svc.MarkRead(ctx, "user-1", dto.ID)
	require.NoError(t, err)
	require.True(t, first.IsRead)
	require.NotNil(t, first.ReadAt)
	firstReadAt := *first.ReadAt

	// A second acknowledgement is a no-op: the original timestamp survives.
	second, err := svc.MarkRead(ctx, "user-1", dto.ID)
	require.NoError(t, err)
	require.True(t, second.IsRead)
	require.NotNil(t, second.ReadAt)
	require.WithinDuration(t, firstReadAt, *second.ReadAt, time.Second)
}

func TestNotificationServiceMarkReadScope(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	svc, err := NewNotificationService(db)
	require.NoError(t, err)

	ctx := context.Background()
	dto, err := svc.Create(ctx, CreateNotificationInput{
		UserID: "user-1",
		Type:   "new_ticket",
		Title:  "Scoped",
	})
	require.NoError(t, err)

	_, err = svc.MarkRead(ctx, "user-2", dto.ID)
	requireAppErrorCode(t, err, apperrors.ErrNotFound.Code)

	_, err = svc.MarkRead(ctx, "user-1", "00000000-0000-0000-0000-000000000000")
	requireAppErrorCode(t, err, apperrors.ErrNotFound.Code)

	// The cross-user attempt must not have acknowledged the row.
	var stored models.Notification
	require.NoError(t, db.First(&stored, "id = ?", dto.ID).Error)
	require.Nil(t, stored.ReadAt)
}

func TestNotificationServiceMarkAllReadCountsAffected(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	svc, err := NewNotificationService(db)
	require.NoError(t, err)

	ctx := context.Background()
	var last string
	for i := 0; i < 3; i++ {
		dto, err := svc.Create(ctx, CreateNotificationInput{
			UserID: "user-1",
			Type:   "status_change",
			Title:  "Update",
		})
		require.NoError(t, err)
		last = dto.ID
	}
	_, err = svc.Create(ctx, CreateNotificationInput{
		UserID: "user-2",
		Type:   "status_change",
		Title:  "Someone else's",
	})
	require.NoError(t, err)

	_, err = svc.MarkRead(ctx, "user-1", last)
	require.NoError(t, err)

	affected, err := svc.MarkAllRead(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), affected)

	affected, err = svc.MarkAllRead(ctx, "user-1")
	require.NoError(t, err)
	require.Zero(t, affected)

	count, err := svc.CountUnread(ctx, "user-2")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestNotificationServiceDeleteScoped(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	svc, err := NewNotificationService(db)
	require.NoError(t, err)

	ctx := context.Background()
	dto, err := svc.Create(ctx, CreateNotificationInput{
		UserID: "user-1",
		Type:   "new_ticket",
		Title:  "To delete",
	})
	require.NoError(t, err)

	err = svc.Delete(ctx, "user-2", dto.ID)
	requireAppErrorCode(t, err, apperrors.ErrNotFound.Code)

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Where("id = ?", dto.ID).Count(&count).Error)
	require.Equal(t, int64(1), count)

	require.NoError(t, svc.Delete(ctx, "user-1", dto.ID))

	require.NoError(t, db.Model(&models.Notification{}).Where("id = ?", dto.ID).Count(&count).Error)
	require.Zero(t, count)

	err = svc.Delete(ctx, "user-1", dto.ID)
	requireAppErrorCode(t, err, apperrors.ErrNotFound.Code)
}

func TestNotificationServiceCountUnread(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	svc, err := NewNotificationService(db)
	require.NoError(t, err)

	ctx := context.Background()
	count, err := svc.CountUnread(ctx, "user-1")
	require.NoError(t, err)
	require.Zero(t, count)

	dto, err := svc.Create(ctx, CreateNotificationInput{
		UserID: "user-1",
		Type:   "participant_added",
		Title:  "Added to ticket",
	})
	require.NoError(t, err)

	count, err = svc.CountUnread(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	_, err = svc.MarkRead(ctx, "user-1", dto.ID)
	require.NoError(t, err)

	count, err = svc.CountUnread(ctx, "user-1")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestNotificationServiceCreateBatch(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	svc, err := NewNotificationService(db)
	require.NoError(t, err)

	ctx := context.Background()
	items, err := svc.CreateBatch(ctx, CreateBroadcastInput{
		UserIDs:  []string{"user-1", "user-2", " user-1 ", "", "user-3"},
		Type:     "ticket_escalated",
		Priority: models.PriorityCritical,
		Title:    "Ticket escalated",
		Message:  "TCK-99 escalated to tier 2",
	})
	require.NoError(t, err)
	require.Len(t, items, 3)

	users := make(map[string]bool, len(items))
	for _, item := range items {
		require.Equal(t, "ticket_escalated", item.Type)
		require.Equal(t, models.PriorityCritical, item.Priority)
		require.False(t, item.IsRead)
		users[item.UserID] = true
	}
	require.True(t, users["user-1"])
	require.True(t, users["user-2"])
	require.True(t, users["user-3"])

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Count(&count).Error)
	require.Equal(t, int64(3), count)

	_, err = svc.CreateBatch(ctx, CreateBroadcastInput{
		UserIDs: []string{"  ", ""},
		Type:    "ticket_escalated",
		Title:   "Nobody home",
	})
	requireAppErrorCode(t, err, apperrors.ErrBadRequest.Code)
}
