package notifications

import (
	"context"

	"go.uber.org/zap"

	"github.com/deskwise/deskwise/internal/models"
	"github.com/deskwise/deskwise/internal/realtime"
	"github.com/deskwise/deskwise/pkg/logger"
)

// Events pushed over the notifications stream. Created notifications run
// through the full dispatch pipeline; the read and delete events are advisory
// broadcasts that let other open tabs reconcile their local state.
const (
	EventNotificationCreated = "notification.created"
	EventNotificationRead    = "notification.read"
	EventNotificationReadAll = "notification.read_all"
	EventNotificationDeleted = "notification.deleted"
)

// Broadcaster is the live-session surface the dispatcher uses for WebSocket
// delivery. *realtime.Hub satisfies it.
type Broadcaster interface {
	HasListeners(stream, userID string) bool
	BroadcastToUser(stream, userID string, message realtime.Message)
}

// DispatchStats summarises one dispatch: whether any live socket saw the
// event and how the push fan-out went.
type DispatchStats struct {
	SocketDelivered bool
	Push            SendStats
}

// Dispatcher forwards freshly created notifications to every channel the user
// has active. Persistence is authoritative; everything here is advisory and
// must never fail the producer.
type Dispatcher struct {
	hub    Broadcaster
	sender *WebPushSender
	store  SubscriptionStore
	errs   *ErrorLogger
	log    *zap.Logger
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherErrorLogger overrides the pipeline error logger.
func WithDispatcherErrorLogger(errs *ErrorLogger) DispatcherOption {
	return func(d *Dispatcher) {
		if errs != nil {
			d.errs = errs
		}
	}
}

// NewDispatcher constructs a dispatcher over the live hub and push sender.
func NewDispatcher(hub Broadcaster, sender *WebPushSender, store SubscriptionStore, opts ...DispatcherOption) *Dispatcher {
	dispatcher := &Dispatcher{
		hub:    hub,
		sender: sender,
		store:  store,
		errs:   NewErrorLogger(),
		log:    logger.WithModule("dispatcher"),
	}

	for _, opt := range opts {
		opt(dispatcher)
	}

	return dispatcher
}

// Dispatch delivers one notification over WebSocket and web push. Registry
// lookups use a single query; push fan-out across the user's subscriptions is
// parallel. Failures are logged and absorbed, never surfaced to the producer.
func (d *Dispatcher) Dispatch(ctx context.Context, n *models.Notification) DispatchStats {
	if n == nil {
		return DispatchStats{}
	}

	stats := DispatchStats{SocketDelivered: d.broadcast(n)}

	subs, err := d.store.ListForUser(ctx, n.UserID)
	if err != nil {
		d.errs.Error(OpPushDispatch, err, map[string]any{
			"user_id":         n.UserID,
			"notification_id": n.ID,
		})
		return stats
	}
	if len(subs) == 0 {
		return stats
	}

	stats.Push = d.sender.SendToSubscriptions(ctx, subs, BuildPushPayload(n))
	return stats
}

// DispatchAsync runs Dispatch on its own goroutine so producers never wait on
// delivery.
func (d *Dispatcher) DispatchAsync(n *models.Notification) {
	go d.Dispatch(context.Background(), n)
}

// DispatchBatch fans a set of notifications out to many users, fetching the
// subscriptions of every target in one registry query instead of one per
// user.
func (d *Dispatcher) DispatchBatch(ctx context.Context, batch []*models.Notification) DispatchStats {
	if len(batch) == 0 {
		return DispatchStats{}
	}

	userIDs := make([]string, 0, len(batch))
	seen := make(map[string]struct{}, len(batch))
	for _, n := range batch {
		if n == nil {
			continue
		}
		if _, ok := seen[n.UserID]; !ok {
			seen[n.UserID] = struct{}{}
			userIDs = append(userIDs, n.UserID)
		}
	}

	subsByUser, err := d.store.ListForUsers(ctx, userIDs)
	if err != nil {
		d.errs.Error(OpPushDispatch, err, map[string]any{"user_count": len(userIDs)})
		subsByUser = nil // web push is lost for this batch, sockets still get the event
	}

	var stats DispatchStats
	for _, n := range batch {
		if n == nil {
			continue
		}
		if d.broadcast(n) {
			stats.SocketDelivered = true
		}

		subs := subsByUser[n.UserID]
		if len(subs) == 0 {
			continue
		}
		stats.Push.Merge(d.sender.SendToSubscriptions(ctx, subs, BuildPushPayload(n)))
	}

	return stats
}

// DispatchBatchAsync runs DispatchBatch on its own goroutine so broadcast
// producers never wait on delivery.
func (d *Dispatcher) DispatchBatchAsync(batch []*models.Notification) {
	go d.DispatchBatch(context.Background(), batch)
}

func (d *Dispatcher) broadcast(n *models.Notification) bool {
	if d.hub == nil {
		return false
	}

	if !d.hub.HasListeners(realtime.StreamNotifications, n.UserID) {
		return false
	}

	d.hub.BroadcastToUser(realtime.StreamNotifications, n.UserID, realtime.Message{
		Event: EventNotificationCreated,
		Data:  n,
	})
	return true
}
