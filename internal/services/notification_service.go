package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/deskwise/deskwise/internal/models"
	"github.com/deskwise/deskwise/internal/monitoring"
	"github.com/deskwise/deskwise/internal/notifications"
	apperrors "github.com/deskwise/deskwise/pkg/errors"
	"github.com/deskwise/deskwise/pkg/metrics"
)

// NotificationDTO represents the API-friendly notification payload.
type NotificationDTO struct {
	ID         string               `json:"id"`
	UserID     string               `json:"user_id"`
	Type       string               `json:"type"`
	Priority   string               `json:"priority"`
	Title      string               `json:"title"`
	Message    string               `json:"message"`
	TicketID   *string              `json:"ticket_id,omitempty"`
	TicketCode string               `json:"ticket_code,omitempty"`
	Metadata   map[string]any       `json:"metadata,omitempty"`
	IsRead     bool                 `json:"is_read"`
	CreatedAt  time.Time            `json:"created_at"`
	ReadAt     *time.Time           `json:"read_at,omitempty"`
	Raw        *models.Notification `json:"-"`
}

// CreateNotificationInput defines attributes required to persist a notification.
type CreateNotificationInput struct {
	UserID     string
	Type       string
	Priority   string
	Title      string
	Message    string
	TicketID   string
	TicketCode string
	Metadata   map[string]any
}

// CreateBroadcastInput fans the same notification out to many users.
type CreateBroadcastInput struct {
	UserIDs    []string
	Type       string
	Priority   string
	Title      string
	Message    string
	TicketID   string
	TicketCode string
	Metadata   map[string]any
}

// ListNotificationsInput defines filters for querying user notifications.
type ListNotificationsInput struct {
	UserID    string
	Type      string
	Read      *bool
	StartDate *time.Time
	EndDate   *time.Time
	Search    string
	Page      int
	Limit     int
}

// NotificationPage is one page of a user's notification feed.
type NotificationPage struct {
	Items   []NotificationDTO `json:"items"`
	Total   int64             `json:"total"`
	HasMore bool              `json:"has_more"`
}

// NotificationService is the system of record for notifications. It never
// dispatches: channel delivery belongs to the dispatcher, invoked by the
// producer after a successful create.
type NotificationService struct {
	db   *gorm.DB
	errs *notifications.ErrorLogger
	now  func() time.Time
}

// NotificationServiceOption customises a NotificationService.
type NotificationServiceOption func(*NotificationService)

// WithNotificationClock overrides the service time source, used by tests.
func WithNotificationClock(now func() time.Time) NotificationServiceOption {
	return func(s *NotificationService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithNotificationErrorLogger overrides the pipeline error logger.
func WithNotificationErrorLogger(errs *notifications.ErrorLogger) NotificationServiceOption {
	return func(s *NotificationService) {
		if errs != nil {
			s.errs = errs
		}
	}
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(db *gorm.DB, opts ...NotificationServiceOption) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}

	svc := &NotificationService{
		db:   db,
		errs: notifications.NewErrorLogger(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create persists a new notification. ReadAt always starts null and no
// deduplication is applied: every call creates a new row.
func (s *NotificationService) Create(ctx context.Context, input CreateNotificationInput) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)

	notification, err := s.buildNotification(input)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(notification).Error; err != nil {
		s.errs.Error(notifications.OpNotificationCreate, err, map[string]any{
			"user_id":           notification.UserID,
			"notification_type": notification.Type,
		})
		return nil, fmt.Errorf("notification service: create notification: %w", err)
	}

	metrics.NotificationsCreated.WithLabelValues(notification.Type).Inc()
	monitoring.RecordNotificationCreated(notification.Type)

	dto := mapNotification(*notification)
	return &dto, nil
}

// CreateBatch persists the same notification once per target user in a single
// insert. Duplicate and blank user IDs are dropped.
func (s *NotificationService) CreateBatch(ctx context.Context, input CreateBroadcastInput) ([]NotificationDTO, error) {
	ctx = ensureContext(ctx)

	userIDs := normaliseIDs(input.UserIDs)
	if len(userIDs) == 0 {
		return nil, apperrors.NewBadRequest("at least one user id is required")
	}

	rows := make([]models.Notification, 0, len(userIDs))
	for _, userID := range userIDs {
		notification, err := s.buildNotification(CreateNotificationInput{
			UserID:     userID,
			Type:       input.Type,
			Priority:   input.Priority,
			Title:      input.Title,
			Message:    input.Message,
			TicketID:   input.TicketID,
			TicketCode: input.TicketCode,
			Metadata:   input.Metadata,
		})
		if err != nil {
			return nil, err
		}
		rows = append(rows, *notification)
	}

	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		s.errs.Error(notifications.OpNotificationCreate, err, map[string]any{
			"user_count":        len(rows),
			"notification_type": strings.TrimSpace(input.Type),
		})
		return nil, fmt.Errorf("notification service: create batch: %w", err)
	}

	items := make([]NotificationDTO, 0, len(rows))
	for _, row := range rows {
		metrics.NotificationsCreated.WithLabelValues(row.Type).Inc()
		monitoring.RecordNotificationCreated(row.Type)
		items = append(items, mapNotification(row))
	}
	return items, nil
}

func (s *NotificationService) buildNotification(input CreateNotificationInput) (*models.Notification, error) {
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}
	notificationType := strings.TrimSpace(input.Type)
	if notificationType == "" {
		return nil, apperrors.NewBadRequest("notification type is required")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewBadRequest("title is required")
	}

	priority := strings.TrimSpace(input.Priority)
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !models.ValidPriority(priority) {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown priority %q", priority))
	}

	notification := &models.Notification{
		UserID:     userID,
		Type:       notificationType,
		Priority:   priority,
		Title:      title,
		Message:    strings.TrimSpace(input.Message),
		TicketCode: strings.TrimSpace(input.TicketCode),
	}

	if ticketID := strings.TrimSpace(input.TicketID); ticketID != "" {
		notification.TicketID = &ticketID
	}

	if input.Metadata != nil {
		data, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("notification service: marshal metadata: %w", err)
		}
		notification.Metadata = datatypes.JSON(data)
	}

	return notification, nil
}

// List returns one page of the user's notifications, newest first, with
// type, read-state, time-range and free-text filters.
func (s *NotificationService) List(ctx context.Context, input ListNotificationsInput) (*NotificationPage, error) {
	ctx = ensureContext(ctx)

	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	page := input.Page
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	var total int64
	if err := s.listQuery(ctx, userID, input).Count(&total).Error; err != nil {
		s.errs.Error(notifications.OpNotificationList, err, map[string]any{"user_id": userID})
		return nil, fmt.Errorf("notification service: count notifications: %w", err)
	}

	var rows []models.Notification
	if err := s.listQuery(ctx, userID, input).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; err != nil {
		s.errs.Error(notifications.OpNotificationList, err, map[string]any{"user_id": userID})
		return nil, fmt.Errorf("notification service: list notifications: %w", err)
	}

	return &NotificationPage{
		Items:   mapNotificationRows(rows),
		Total:   total,
		HasMore: int64(offset+len(rows)) < total,
	}, nil
}

func (s *NotificationService) listQuery(ctx context.Context, userID string, input ListNotificationsInput) *gorm.DB {
	query := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ?", userID)

	if notificationType := strings.TrimSpace(input.Type); notificationType != "" {
		query = query.Where("type = ?", notificationType)
	}
	if input.Read != nil {
		if *input.Read {
			query = query.Where("read_at IS NOT NULL")
		} else {
			query = query.Where("read_at IS NULL")
		}
	}
	if input.StartDate != nil {
		query = query.Where("created_at >= ?", *input.StartDate)
	}
	if input.EndDate != nil {
		query = query.Where("created_at <= ?", *input.EndDate)
	}
	if search := strings.TrimSpace(input.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(message) LIKE ?", pattern, pattern)
	}

	return query
}

// MarkRead acknowledges a notification. The read timestamp is written only
// when currently null, so repeated calls are no-ops and the first
// acknowledgement wins.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	notificationID = strings.TrimSpace(notificationID)
	if userID == "" || notificationID == "" {
		return nil, apperrors.NewBadRequest("user id and notification id are required")
	}

	now := s.now().UTC()
	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND read_at IS NULL", notificationID, userID).
		Update("read_at", now)
	if result.Error != nil {
		s.errs.Error(notifications.OpNotificationMarkRead, result.Error, map[string]any{
			"user_id":         userID,
			"notification_id": notificationID,
		})
		return nil, fmt.Errorf("notification service: mark read: %w", result.Error)
	}

	var notification models.Notification
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", notificationID, userID).
		First(&notification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("notification not found")
		}
		s.errs.Error(notifications.OpNotificationMarkRead, err, map[string]any{
			"user_id":         userID,
			"notification_id": notificationID,
		})
		return nil, fmt.Errorf("notification service: load notification: %w", err)
	}

	dto := mapNotification(notification)
	return &dto, nil
}

// MarkAllRead acknowledges every unread notification for the user and
// returns the number of rows affected.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, apperrors.NewBadRequest("user id is required")
	}

	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Update("read_at", s.now().UTC())
	if result.Error != nil {
		s.errs.Error(notifications.OpNotificationMarkAllRead, result.Error, map[string]any{"user_id": userID})
		return 0, fmt.Errorf("notification service: mark all read: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// Delete hard-deletes a notification owned by the supplied user.
func (s *NotificationService) Delete(ctx context.Context, userID, notificationID string) error {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	notificationID = strings.TrimSpace(notificationID)
	if userID == "" || notificationID == "" {
		return apperrors.NewBadRequest("user id and notification id are required")
	}

	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Delete(&models.Notification{})
	if result.Error != nil {
		s.errs.Error(notifications.OpNotificationDelete, result.Error, map[string]any{
			"user_id":         userID,
			"notification_id": notificationID,
		})
		return fmt.Errorf("notification service: delete notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NewNotFound("notification not found")
	}

	return nil
}

// CountUnread returns the number of unacknowledged notifications for a user.
func (s *NotificationService) CountUnread(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, apperrors.NewBadRequest("user id is required")
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Count(&count).Error; err != nil {
		s.errs.Error(notifications.OpNotificationList, err, map[string]any{"user_id": userID})
		return 0, fmt.Errorf("notification service: count unread: %w", err)
	}

	return count, nil
}

func mapNotificationRows(rows []models.Notification) []NotificationDTO {
	items := make([]NotificationDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapNotification(row))
	}
	return items
}

func mapNotification(row models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:         row.ID,
		UserID:     row.UserID,
		Type:       row.Type,
		Priority:   row.Priority,
		Title:      row.Title,
		Message:    row.Message,
		TicketID:   row.TicketID,
		TicketCode: row.TicketCode,
		Metadata:   decodeJSON(row.Metadata),
		IsRead:     row.IsRead(),
		CreatedAt:  row.CreatedAt,
		ReadAt:     row.ReadAt,
		Raw:        &row,
	}
}

func decodeJSON(data datatypes.JSON) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
