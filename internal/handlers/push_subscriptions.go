package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/deskwise/deskwise/internal/middleware"
	"github.com/deskwise/deskwise/internal/notifications"
	"github.com/deskwise/deskwise/internal/services"
	"github.com/deskwise/deskwise/pkg/errors"
	"github.com/deskwise/deskwise/pkg/response"
)

// PushSubscriptionHandler manages browser push subscriptions for the current
// user and exposes the VAPID public key browsers need to subscribe.
type PushSubscriptionHandler struct {
	service *services.PushSubscriptionService
	sender  *notifications.WebPushSender
}

// NewPushSubscriptionHandler constructs a push subscription handler. The
// sender may be nil when the server runs without VAPID keys; subscription
// CRUD still works so clients keep their registrations across a key rollout.
func NewPushSubscriptionHandler(db *gorm.DB, sender *notifications.WebPushSender) (*PushSubscriptionHandler, error) {
	service, err := services.NewPushSubscriptionService(db)
	if err != nil {
		return nil, err
	}
	return &PushSubscriptionHandler{
		service: service,
		sender:  sender,
	}, nil
}

// Subscribe registers the caller's browser push subscription. The payload
// mirrors the PushSubscription object produced by the browser Push API.
func (h *PushSubscriptionHandler) Subscribe(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var payload struct {
		Endpoint string `json:"endpoint" validate:"required,url"`
		Keys     struct {
			P256dh string `json:"p256dh" validate:"required"`
			Auth   string `json:"auth" validate:"required"`
		} `json:"keys"`
	}

	if !bindAndValidate(c, &payload) {
		return
	}

	dto, err := h.service.Subscribe(c.Request.Context(), services.SubscribeInput{
		UserID:    userID,
		Endpoint:  payload.Endpoint,
		P256dh:    payload.Keys.P256dh,
		Auth:      payload.Keys.Auth,
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, dto)
}

// Unsubscribe removes the caller's subscription for the supplied endpoint.
func (h *PushSubscriptionHandler) Unsubscribe(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var payload struct {
		Endpoint string `json:"endpoint" validate:"required"`
	}

	if !bindAndValidate(c, &payload) {
		return
	}

	if err := h.service.Unsubscribe(c.Request.Context(), userID, strings.TrimSpace(payload.Endpoint)); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// List returns the caller's registered push subscriptions.
func (h *PushSubscriptionHandler) List(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	items, err := h.service.ListByUser(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, items)
}

// PublicKey hands out the VAPID public key browsers use as applicationServerKey.
func (h *PushSubscriptionHandler) PublicKey(c *gin.Context) {
	if h.sender == nil || !h.sender.Enabled() {
		response.Error(c, errors.ErrPushDisabled)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"public_key": h.sender.PublicKey()})
}
