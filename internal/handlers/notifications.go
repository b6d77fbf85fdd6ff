package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/deskwise/deskwise/internal/middleware"
	"github.com/deskwise/deskwise/internal/models"
	"github.com/deskwise/deskwise/internal/notifications"
	"github.com/deskwise/deskwise/internal/realtime"
	"github.com/deskwise/deskwise/internal/services"
	"github.com/deskwise/deskwise/pkg/errors"
	"github.com/deskwise/deskwise/pkg/response"
)

// NotificationHandler exposes HTTP endpoints for the notification feed.
type NotificationHandler struct {
	service    *services.NotificationService
	dispatcher *notifications.Dispatcher
	unread     *notifications.UnreadCache
	hub        *realtime.Hub
}

// NewNotificationHandler constructs a notification handler. The dispatcher,
// unread cache and hub may all be nil: persistence and the feed keep working,
// only delivery and cross-tab reconciliation are skipped.
func NewNotificationHandler(db *gorm.DB, dispatcher *notifications.Dispatcher, unread *notifications.UnreadCache, hub *realtime.Hub) (*NotificationHandler, error) {
	service, err := services.NewNotificationService(db)
	if err != nil {
		return nil, err
	}
	return &NotificationHandler{
		service:    service,
		dispatcher: dispatcher,
		unread:     unread,
		hub:        hub,
	}, nil
}

// List returns one page of the current user's notifications, newest first.
func (h *NotificationHandler) List(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	input := services.ListNotificationsInput{
		UserID: userID,
		Type:   strings.TrimSpace(c.Query("type")),
		Search: strings.TrimSpace(c.Query("search")),
		Page:   parseIntQuery(c, "page", 1),
		Limit:  parseIntQuery(c, "limit", 25),
	}

	switch strings.ToLower(strings.TrimSpace(c.Query("read"))) {
	case "true":
		read := true
		input.Read = &read
	case "false":
		read := false
		input.Read = &read
	}

	var ok bool
	if input.StartDate, ok = parseTimeQuery(c, "startDate"); !ok {
		return
	}
	if input.EndDate, ok = parseTimeQuery(c, "endDate"); !ok {
		return
	}

	page, err := h.service.List(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, page)
}

// UnreadCount returns the badge counter, served from cache when warm.
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	ctx := c.Request.Context()
	if count, ok := h.unread.Get(ctx, userID); ok {
		response.Success(c, http.StatusOK, gin.H{"count": count})
		return
	}

	count, err := h.service.CountUnread(ctx, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.unread.Set(ctx, userID, count)

	response.Success(c, http.StatusOK, gin.H{"count": count})
}

// MarkRead acknowledges a single notification.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	dto, err := h.service.MarkRead(c.Request.Context(), userID, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.unread.Invalidate(c.Request.Context(), userID)
	h.reconcile(userID, notifications.EventNotificationRead, gin.H{"id": dto.ID})

	response.Success(c, http.StatusOK, dto)
}

// MarkAllRead acknowledges every unread notification for the current user.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	updated, err := h.service.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.unread.Invalidate(c.Request.Context(), userID)
	h.reconcile(userID, notifications.EventNotificationReadAll, gin.H{"updated": updated})

	response.Success(c, http.StatusOK, gin.H{"updated": updated})
}

// Delete removes a notification.
func (h *NotificationHandler) Delete(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	if err := h.service.Delete(c.Request.Context(), userID, id); err != nil {
		response.Error(c, err)
		return
	}

	h.unread.Invalidate(c.Request.Context(), userID)
	h.reconcile(userID, notifications.EventNotificationDeleted, gin.H{"id": id})

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// Create persists a notification for any user and hands it to the dispatcher.
// This is the producer endpoint used by ticket workflows and admin tooling.
func (h *NotificationHandler) Create(c *gin.Context) {
	var payload struct {
		UserID     string         `json:"user_id" validate:"required"`
		Type       string         `json:"type" validate:"required"`
		Priority   string         `json:"priority"`
		Title      string         `json:"title" validate:"required"`
		Message    string         `json:"message"`
		TicketID   string         `json:"ticket_id"`
		TicketCode string         `json:"ticket_code"`
		Metadata   map[string]any `json:"metadata"`
	}

	if !bindAndValidate(c, &payload) {
		return
	}

	dto, err := h.service.Create(c.Request.Context(), services.CreateNotificationInput{
		UserID:     payload.UserID,
		Type:       payload.Type,
		Priority:   payload.Priority,
		Title:      payload.Title,
		Message:    payload.Message,
		TicketID:   payload.TicketID,
		TicketCode: payload.TicketCode,
		Metadata:   payload.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	h.unread.Invalidate(c.Request.Context(), dto.UserID)
	if h.dispatcher != nil {
		h.dispatcher.DispatchAsync(dto.Raw)
	}

	response.Success(c, http.StatusCreated, dto)
}

// Broadcast fans the same notification out to a list of users.
func (h *NotificationHandler) Broadcast(c *gin.Context) {
	var payload struct {
		UserIDs    []string       `json:"user_ids" validate:"required,min=1"`
		Type       string         `json:"type" validate:"required"`
		Priority   string         `json:"priority"`
		Title      string         `json:"title" validate:"required"`
		Message    string         `json:"message"`
		TicketID   string         `json:"ticket_id"`
		TicketCode string         `json:"ticket_code"`
		Metadata   map[string]any `json:"metadata"`
	}

	if !bindAndValidate(c, &payload) {
		return
	}

	items, err := h.service.CreateBatch(c.Request.Context(), services.CreateBroadcastInput{
		UserIDs:    payload.UserIDs,
		Type:       payload.Type,
		Priority:   payload.Priority,
		Title:      payload.Title,
		Message:    payload.Message,
		TicketID:   payload.TicketID,
		TicketCode: payload.TicketCode,
		Metadata:   payload.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	userIDs := make([]string, 0, len(items))
	batch := make([]*models.Notification, 0, len(items))
	for i := range items {
		userIDs = append(userIDs, items[i].UserID)
		batch = append(batch, items[i].Raw)
	}

	h.unread.Invalidate(c.Request.Context(), userIDs...)
	if h.dispatcher != nil {
		h.dispatcher.DispatchBatchAsync(batch)
	}

	response.Success(c, http.StatusCreated, gin.H{"created": len(items), "items": items})
}

// reconcile pushes an advisory event so other open tabs update their local
// state. Web push is deliberately not involved: read and delete changes only
// matter to clients that are already connected.
func (h *NotificationHandler) reconcile(userID, event string, data any) {
	if h.hub == nil {
		return
	}
	h.hub.BroadcastToUser(realtime.StreamNotifications, userID, realtime.Message{
		Event: event,
		Data:  data,
	})
}

func parseTimeQuery(c *gin.Context, key string) (*time.Time, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, true
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return &ts, true
		}
	}

	response.Error(c, errors.NewBadRequest(key+" must be an RFC 3339 timestamp or YYYY-MM-DD date"))
	return nil, false
}
