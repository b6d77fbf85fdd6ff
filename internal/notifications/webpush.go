package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"github.com/deskwise/deskwise/internal/models"
	"github.com/deskwise/deskwise/internal/monitoring"
	"github.com/deskwise/deskwise/pkg/logger"
	"github.com/deskwise/deskwise/pkg/metrics"
)

const (
	// pushTTL is how long push services may queue an undelivered message.
	pushTTL = 86400

	maxSendRetries     = 3
	initialBackoff     = time.Second
	defaultSendTimeout = 30 * time.Second
)

// SubscriptionStore is the registry surface the delivery pipeline depends on.
// The concrete implementation lives in the services layer; the pipeline only
// needs lookups, pruning and usage tracking.
type SubscriptionStore interface {
	ListForUser(ctx context.Context, userID string) ([]models.PushSubscription, error)
	ListForUsers(ctx context.Context, userIDs []string) (map[string][]models.PushSubscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) error
	MarkUsed(ctx context.Context, id string, at time.Time) error
}

// SendOutcome is the terminal state of one delivery attempt sequence.
type SendOutcome string

const (
	OutcomeDelivered SendOutcome = "delivered"
	OutcomeExpired   SendOutcome = "expired" // endpoint gone, subscription pruned
	OutcomeFailed    SendOutcome = "failed"
	OutcomeSkipped   SendOutcome = "skipped" // push disabled
)

// SendStats aggregates fan-out outcomes. Counts are informational only;
// partial failure never aborts delivery to the remaining subscriptions.
type SendStats struct {
	Delivered int
	Expired   int
	Failed    int
	Skipped   int
}

func (s *SendStats) add(outcome SendOutcome) {
	switch outcome {
	case OutcomeDelivered:
		s.Delivered++
	case OutcomeExpired:
		s.Expired++
	case OutcomeFailed:
		s.Failed++
	case OutcomeSkipped:
		s.Skipped++
	}
}

// Attempted returns the total number of subscriptions processed.
func (s SendStats) Attempted() int {
	return s.Delivered + s.Expired + s.Failed + s.Skipped
}

// Merge accumulates other into s.
func (s *SendStats) Merge(other SendStats) {
	s.Delivered += other.Delivered
	s.Expired += other.Expired
	s.Failed += other.Failed
	s.Skipped += other.Skipped
}

// WebPushConfig holds the VAPID material used to sign push requests.
type WebPushConfig struct {
	PublicKey  string
	PrivateKey string
	Subscriber string // contact address, mailto: added by the transport
}

// Enabled reports whether both VAPID keys are present. Without them the
// sender runs in disabled mode and skips every delivery.
func (c WebPushConfig) Enabled() bool {
	return c.PublicKey != "" && c.PrivateKey != ""
}

type sendFunc func(ctx context.Context, message []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

// WebPushSender transmits notification payloads to subscription endpoints via
// the Web Push protocol, retrying transient failures and pruning endpoints the
// push service reports as permanently gone.
type WebPushSender struct {
	store  SubscriptionStore
	errs   *ErrorLogger
	cfg    WebPushConfig
	log    *zap.Logger
	client *http.Client

	send  sendFunc
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// WebPushOption customises a WebPushSender.
type WebPushOption func(*WebPushSender)

// WithSendFunc replaces the push transport, used by tests.
func WithSendFunc(fn sendFunc) WebPushOption {
	return func(s *WebPushSender) {
		if fn != nil {
			s.send = fn
		}
	}
}

// WithSleep replaces the retry backoff sleeper, used by tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) WebPushOption {
	return func(s *WebPushSender) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// WithSenderNow overrides the time source used for lastUsedAt updates.
func WithSenderNow(fn func() time.Time) WebPushOption {
	return func(s *WebPushSender) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithSenderErrorLogger overrides the pipeline error logger.
func WithSenderErrorLogger(errs *ErrorLogger) WebPushOption {
	return func(s *WebPushSender) {
		if errs != nil {
			s.errs = errs
		}
	}
}

// NewWebPushSender constructs a sender bound to the subscription registry.
func NewWebPushSender(store SubscriptionStore, cfg WebPushConfig, opts ...WebPushOption) *WebPushSender {
	sender := &WebPushSender{
		store:  store,
		errs:   NewErrorLogger(),
		cfg:    cfg,
		log:    logger.WithModule("webpush"),
		client: &http.Client{Timeout: defaultSendTimeout},
		send:   webpush.SendNotificationWithContext,
		sleep:  sleepContext,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(sender)
	}

	if !cfg.Enabled() {
		sender.log.Warn("VAPID keys not configured, web push delivery disabled")
	}

	return sender
}

// Enabled reports whether the sender can actually deliver.
func (s *WebPushSender) Enabled() bool {
	return s.cfg.Enabled()
}

// PublicKey returns the VAPID public key handed to browsers at subscribe time.
func (s *WebPushSender) PublicKey() string {
	return s.cfg.PublicKey
}

// Send transmits one payload to one subscription. Transient failures are
// retried up to three times with 1s/2s/4s backoff. A 404 or 410 response
// means the endpoint is permanently dead: the subscription is pruned and the
// attempt finishes as expired without retrying. Errors never escape the
// sender; the returned error is informational for the caller's accounting.
func (s *WebPushSender) Send(ctx context.Context, sub models.PushSubscription, payload PushPayload) (SendOutcome, error) {
	if !s.cfg.Enabled() {
		s.errs.Warning(OpPushSend, nil, map[string]any{
			"endpoint":      sub.Endpoint,
			"push_disabled": true,
		})
		countOutcome(OutcomeSkipped)
		return OutcomeSkipped, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.errs.Error(OpPushSend, err, map[string]any{"endpoint": sub.Endpoint})
		countOutcome(OutcomeFailed)
		return OutcomeFailed, err
	}

	target := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}
	options := &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.PublicKey,
		VAPIDPrivateKey: s.cfg.PrivateKey,
		TTL:             pushTTL,
		Urgency:         urgencyFor(payload.Priority),
	}

	var lastErr error
	lastStatus := 0

	for attempt := 0; attempt <= maxSendRetries; attempt++ {
		if attempt > 0 {
			metrics.PushRetries.Inc()
			if err := s.sleep(ctx, initialBackoff<<(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}

		resp, err := s.send(ctx, body, target, options)
		if err != nil {
			lastErr = err
			continue
		}

		status := resp.StatusCode
		_ = resp.Body.Close()

		switch {
		case status == http.StatusNotFound || status == http.StatusGone:
			if err := s.store.DeleteByEndpoint(ctx, sub.Endpoint); err != nil {
				s.errs.Warning(OpPushSend, err, map[string]any{
					"endpoint":    sub.Endpoint,
					"status_code": status,
				})
			} else {
				s.errs.Info(OpPushSend, nil, map[string]any{
					"endpoint":    sub.Endpoint,
					"status_code": status,
					"pruned":      true,
				})
			}
			countOutcome(OutcomeExpired)
			return OutcomeExpired, nil

		case status >= 200 && status < 300:
			if err := s.store.MarkUsed(ctx, sub.ID, s.now()); err != nil {
				s.errs.Warning(OpPushSend, err, map[string]any{"endpoint": sub.Endpoint})
			}
			countOutcome(OutcomeDelivered)
			return OutcomeDelivered, nil

		default:
			lastStatus = status
			lastErr = fmt.Errorf("push endpoint returned status %d", status)
		}
	}

	s.errs.Error(OpPushSend, lastErr, map[string]any{
		"endpoint":    sub.Endpoint,
		"retries":     maxSendRetries,
		"status_code": lastStatus,
	})
	countOutcome(OutcomeFailed)
	return OutcomeFailed, lastErr
}

// countOutcome feeds both metric surfaces: the process-wide counters and the
// monitoring module's registry and summary.
func countOutcome(outcome SendOutcome) {
	metrics.PushDeliveries.WithLabelValues(string(outcome)).Inc()
	monitoring.RecordPushDelivery(string(outcome))
}

// SendToSubscriptions fans one payload out to every subscription in parallel.
// Each endpoint is attempted independently; one failing endpoint never aborts
// delivery to the others.
func (s *WebPushSender) SendToSubscriptions(ctx context.Context, subs []models.PushSubscription, payload PushPayload) SendStats {
	if len(subs) == 0 {
		return SendStats{}
	}

	var (
		mu    sync.Mutex
		stats SendStats
		wg    sync.WaitGroup
	)

	for _, sub := range subs {
		wg.Add(1)
		go func(sub models.PushSubscription) {
			defer wg.Done()

			outcome, _ := s.Send(ctx, sub, payload)

			mu.Lock()
			stats.add(outcome)
			mu.Unlock()
		}(sub)
	}

	wg.Wait()

	if stats.Failed > 0 || stats.Expired > 0 {
		s.log.Debug("push fan-out finished with losses",
			zap.String("notification_id", payload.ID),
			zap.Int("delivered", stats.Delivered),
			zap.Int("expired", stats.Expired),
			zap.Int("failed", stats.Failed))
	}

	return stats
}

func urgencyFor(priority string) webpush.Urgency {
	switch priority {
	case models.PriorityCritical, models.PriorityHigh:
		return webpush.UrgencyHigh
	default:
		return webpush.UrgencyNormal
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
