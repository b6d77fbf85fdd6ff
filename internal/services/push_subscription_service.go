package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/deskwise/deskwise/internal/models"
	"github.com/deskwise/deskwise/internal/notifications"
	apperrors "github.com/deskwise/deskwise/pkg/errors"
)

// PushSubscriptionService manages the registry of browser push channels.
// It implements notifications.SubscriptionStore for the delivery pipeline.
type PushSubscriptionService struct {
	db  *gorm.DB
	now func() time.Time
}

var _ notifications.SubscriptionStore = (*PushSubscriptionService)(nil)

// SubscribeInput captures a browser subscription handed up by the client.
type SubscribeInput struct {
	UserID    string
	Endpoint  string
	P256dh    string
	Auth      string
	UserAgent string
}

// SubscriptionDTO is the API view of a push subscription. Key material is
// never exposed.
type SubscriptionDTO struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Endpoint   string     `json:"endpoint"`
	UserAgent  string     `json:"user_agent,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// PushSubscriptionServiceOption customises a PushSubscriptionService.
type PushSubscriptionServiceOption func(*PushSubscriptionService)

// WithSubscriptionClock overrides the service time source, used by tests.
func WithSubscriptionClock(now func() time.Time) PushSubscriptionServiceOption {
	return func(s *PushSubscriptionService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewPushSubscriptionService constructs a PushSubscriptionService.
func NewPushSubscriptionService(db *gorm.DB, opts ...PushSubscriptionServiceOption) (*PushSubscriptionService, error) {
	if db == nil {
		return nil, errors.New("push subscription service: db is required")
	}

	svc := &PushSubscriptionService{db: db, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Subscribe registers or refreshes a push channel. The endpoint is the
// natural key: a known endpoint is updated in place, including when it now
// belongs to a different user (browser profiles can be handed over).
func (s *PushSubscriptionService) Subscribe(ctx context.Context, input SubscribeInput) (*SubscriptionDTO, error) {
	ctx = ensureContext(ctx)

	userID := strings.TrimSpace(input.UserID)
	endpoint := strings.TrimSpace(input.Endpoint)
	p256dh := strings.TrimSpace(input.P256dh)
	auth := strings.TrimSpace(input.Auth)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}
	if endpoint == "" || p256dh == "" || auth == "" {
		return nil, apperrors.NewBadRequest("endpoint and subscription keys are required")
	}

	now := s.now().UTC()

	// Two clients can race the same endpoint past the existence check; the
	// unique index rejects the loser, who gets exactly one more pass to
	// resolve the conflict as an update.
	for attempt := 0; ; attempt++ {
		var existing models.PushSubscription
		err := s.db.WithContext(ctx).Where("endpoint = ?", endpoint).First(&existing).Error
		switch {
		case err == nil:
			updates := map[string]any{
				"user_id":      userID,
				"p256dh":       p256dh,
				"auth":         auth,
				"user_agent":   strings.TrimSpace(input.UserAgent),
				"last_used_at": now,
			}
			if err := s.db.WithContext(ctx).
				Model(&models.PushSubscription{}).
				Where("id = ?", existing.ID).
				Updates(updates).Error; err != nil {
				return nil, fmt.Errorf("push subscription service: refresh subscription: %w", err)
			}
			if err := s.db.WithContext(ctx).First(&existing, "id = ?", existing.ID).Error; err != nil {
				return nil, fmt.Errorf("push subscription service: reload subscription: %w", err)
			}
			dto := mapSubscription(existing)
			return &dto, nil

		case errors.Is(err, gorm.ErrRecordNotFound):
			subscription := models.PushSubscription{
				UserID:     userID,
				Endpoint:   endpoint,
				P256dh:     p256dh,
				Auth:       auth,
				UserAgent:  strings.TrimSpace(input.UserAgent),
				LastUsedAt: &now,
			}
			if err := s.db.WithContext(ctx).Create(&subscription).Error; err != nil {
				if isUniqueConstraintError(err) && attempt == 0 {
					continue
				}
				return nil, fmt.Errorf("push subscription service: create subscription: %w", err)
			}
			dto := mapSubscription(subscription)
			return &dto, nil

		default:
			return nil, fmt.Errorf("push subscription service: lookup subscription: %w", err)
		}
	}
}

// Unsubscribe removes the user's registration for an endpoint. Removing an
// endpoint that is absent or owned by someone else is a no-op.
func (s *PushSubscriptionService) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	endpoint = strings.TrimSpace(endpoint)
	if userID == "" || endpoint == "" {
		return apperrors.NewBadRequest("user id and endpoint are required")
	}

	if err := s.db.WithContext(ctx).
		Where("endpoint = ? AND user_id = ?", endpoint, userID).
		Delete(&models.PushSubscription{}).Error; err != nil {
		return fmt.Errorf("push subscription service: delete subscription: %w", err)
	}

	return nil
}

// ListByUser returns the user's registered push channels for the API.
func (s *PushSubscriptionService) ListByUser(ctx context.Context, userID string) ([]SubscriptionDTO, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	rows, err := s.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	items := make([]SubscriptionDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapSubscription(row))
	}
	return items, nil
}

// ListForUser returns every subscription registered for a user.
func (s *PushSubscriptionService) ListForUser(ctx context.Context, userID string) ([]models.PushSubscription, error) {
	ctx = ensureContext(ctx)

	var rows []models.PushSubscription
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("push subscription service: list subscriptions: %w", err)
	}
	return rows, nil
}

// ListForUsers returns subscriptions for many users in one query, grouped by
// user ID. Users without subscriptions are absent from the result.
func (s *PushSubscriptionService) ListForUsers(ctx context.Context, userIDs []string) (map[string][]models.PushSubscription, error) {
	ctx = ensureContext(ctx)

	userIDs = normaliseIDs(userIDs)
	if len(userIDs) == 0 {
		return map[string][]models.PushSubscription{}, nil
	}

	var rows []models.PushSubscription
	if err := s.db.WithContext(ctx).
		Where("user_id IN ?", userIDs).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("push subscription service: list subscriptions: %w", err)
	}

	grouped := make(map[string][]models.PushSubscription, len(userIDs))
	for _, row := range rows {
		grouped[row.UserID] = append(grouped[row.UserID], row)
	}
	return grouped, nil
}

// DeleteByEndpoint prunes a subscription whose endpoint the push provider
// reported gone. Unknown endpoints are a no-op.
func (s *PushSubscriptionService) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	ctx = ensureContext(ctx)

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	if err := s.db.WithContext(ctx).
		Where("endpoint = ?", endpoint).
		Delete(&models.PushSubscription{}).Error; err != nil {
		return fmt.Errorf("push subscription service: prune subscription: %w", err)
	}
	return nil
}

// MarkUsed refreshes the subscription's last delivery timestamp.
func (s *PushSubscriptionService) MarkUsed(ctx context.Context, subscriptionID string, usedAt time.Time) error {
	ctx = ensureContext(ctx)

	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil
	}

	if err := s.db.WithContext(ctx).
		Model(&models.PushSubscription{}).
		Where("id = ?", subscriptionID).
		Update("last_used_at", usedAt.UTC()).Error; err != nil {
		return fmt.Errorf("push subscription service: mark subscription used: %w", err)
	}
	return nil
}

func mapSubscription(row models.PushSubscription) SubscriptionDTO {
	return SubscriptionDTO{
		ID:         row.ID,
		UserID:     row.UserID,
		Endpoint:   row.Endpoint,
		UserAgent:  row.UserAgent,
		CreatedAt:  row.CreatedAt,
		LastUsedAt: row.LastUsedAt,
	}
}
