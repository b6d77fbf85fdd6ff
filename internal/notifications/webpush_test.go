package notifications

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/deskwise/deskwise/internal/models"
)

type fakeStore struct {
	mu sync.Mutex

	subs          map[string][]models.PushSubscription // userID -> subscriptions
	deleted       []string
	marked        []string
	listCalls     int
	listManyCalls int
	listErr       error
	deleteErr     error
}

func newFakeStore(subs ...models.PushSubscription) *fakeStore {
	store := &fakeStore{subs: make(map[string][]models.PushSubscription)}
	for _, sub := range subs {
		store.subs[sub.UserID] = append(store.subs[sub.UserID], sub)
	}
	return store
}

func (f *fakeStore) ListForUser(ctx context.Context, userID string) ([]models.PushSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.PushSubscription(nil), f.subs[userID]...), nil
}

func (f *fakeStore) ListForUsers(ctx context.Context, userIDs []string) (map[string][]models.PushSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listManyCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}

	result := make(map[string][]models.PushSubscription, len(userIDs))
	for _, userID := range userIDs {
		if subs := f.subs[userID]; len(subs) > 0 {
			result[userID] = append([]models.PushSubscription(nil), subs...)
		}
	}
	return result, nil
}

func (f *fakeStore) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleteErr != nil {
		return f.deleteErr
	}

	f.deleted = append(f.deleted, endpoint)
	for userID, subs := range f.subs {
		kept := subs[:0]
		for _, sub := range subs {
			if sub.Endpoint != endpoint {
				kept = append(kept, sub)
			}
		}
		f.subs[userID] = kept
	}
	return nil
}

func (f *fakeStore) MarkUsed(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.marked = append(f.marked, id)
	return nil
}

func (f *fakeStore) deletedEndpoints() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeStore) markedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.marked...)
}

func pushResponse(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("")),
	}
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func testSubscription(id, userID, endpoint string) models.PushSubscription {
	return models.PushSubscription{
		BaseModel: models.BaseModel{ID: id},
		UserID:    userID,
		Endpoint:  endpoint,
		P256dh:    "p256dh-" + id,
		Auth:      "auth-" + id,
	}
}

func enabledConfig() WebPushConfig {
	return WebPushConfig{
		PublicKey:  "test-public-key",
		PrivateKey: "test-private-key",
		Subscriber: "ops@deskwise.example",
	}
}

func newObservedErrorLogger() (*ErrorLogger, *observer.ObservedLogs) {
	core, recorded := observer.New(zapcore.DebugLevel)
	return NewErrorLoggerWith(zap.New(core)), recorded
}

func TestSendDeliversAndMarksUsage(t *testing.T) {
	sub := testSubscription("sub-1", "user-1", "https://push.example.com/send/1")
	store := newFakeStore(sub)
	sleeps := &sleepRecorder{}

	calls := 0
	sender := NewWebPushSender(store, enabledConfig(),
		WithSendFunc(func(ctx context.Context, message []byte, target *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
			calls++
			require.Equal(t, sub.Endpoint, target.Endpoint)
			require.Equal(t, sub.P256dh, target.Keys.P256dh)
			require.Equal(t, sub.Auth, target.Keys.Auth)
			require.Equal(t, pushTTL, opts.TTL)
			return pushResponse(http.StatusCreated), nil
		}),
		WithSleep(sleeps.sleep),
	)

	outcome, err := sender.Send(context.Background(), sub, PushPayload{ID: "n-1", Priority: models.PriorityMedium})

	require.NoError(t, err)
	require.Equal(t, OutcomeDelivered, outcome)
	require.Equal(t, 1, calls)
	require.Empty(t, sleeps.recorded(), "successful first attempt must not back off")
	require.Equal(t, []string{"sub-1"}, store.markedIDs())
}

func TestSendPrunesGoneEndpointsWithoutRetry(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusGone} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			sub := testSubscription("sub-1", "user-1", "https://push.example.com/send/dead")
			store := newFakeStore(sub)
			sleeps := &sleepRecorder{}

			calls := 0
			sender := NewWebPushSender(store, enabledConfig(),
				WithSendFunc(func(ctx context.Context, message []byte, target *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
					calls++
					return pushResponse(status), nil
				}),
				WithSleep(sleeps.sleep),
			)

			outcome, err := sender.Send(context.Background(), sub, PushPayload{ID: "n-1"})

			require.NoError(t, err, "pruning is failed-but-handled, not an error")
			require.Equal(t, OutcomeExpired, outcome)
			require.Equal(t, 1, calls, "dead endpoints must not be retried")
			require.Empty(t, sleeps.recorded())
			require.Equal(t, []string{sub.Endpoint}, store.deletedEndpoints())
			require.Empty(t, store.markedIDs())
		})
	}
}

func TestSendRetriesTransientFailuresWithBackoff(t *testing.T) {
	sub := testSubscription("sub-1", "user-1", "https://push.example.com/send/flaky")
	store := newFakeStore(sub)
	sleeps := &sleepRecorder{}

	calls := 0
	sender := NewWebPushSender(store, enabledConfig(),
		WithSendFunc(func(ctx context.Context, message []byte, target *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("connection reset")
			}
			return pushResponse(http.StatusCreated), nil
		}),
		WithSleep(sleeps.sleep),
	)

	outcome, err := sender.Send(context.Background(), sub, PushPayload{ID: "n-1"})

	require.NoError(t, err)
	require.Equal(t, OutcomeDelivered, outcome)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.recorded())
}

func TestSendGivesUpAfterRetryBudget(t *testing.T) {
	sub := testSubscription("sub-1", "user-1", "https://push.example.com/send/broken")
	store := newFakeStore(sub)
	sleeps := &sleepRecorder{}
	errs, recorded := newObservedErrorLogger()

	calls := 0
	sender := NewWebPushSender(store, enabledConfig(),
		WithSendFunc(func(ctx context.Context, message []byte, target *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
			calls++
			return pushResponse(http.StatusInternalServerError), nil
		}),
		WithSleep(sleeps.sleep),
		WithSenderErrorLogger(errs),
	)

	outcome, err := sender.Send(context.Background(), sub, PushPayload{ID: "n-1"})

	require.Error(t, err)
	require.Equal(t, OutcomeFailed, outcome)
	require.Equal(t, 4, calls, "one initial attempt plus three retries")
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeps.recorded())
	require.Empty(t, store.deletedEndpoints(), "transient failures must not prune the subscription")

	entries := recorded.FilterMessage(OpPushSend).All()
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	require.Equal(t, zapcore.ErrorLevel, last.Level)
	bag, ok := last.ContextMap()["context"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, sub.Endpoint, bag["endpoint"])
	require.EqualValues(t, maxSendRetries, bag["retries"])
	require.EqualValues(t, http.StatusInternalServerError, bag["status_code"])
}

func TestSendSkipsWhenPushDisabled(t *testing.T) {
	sub := testSubscription("sub-1", "user-1", "https://push.example.com/send/1")
	store := newFakeStore(sub)

	errs, recorded := newObservedErrorLogger()

	calls := 0
	sender := NewWebPushSender(store, WebPushConfig{},
		WithSendFunc(func(ctx context.Context, message []byte, target *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
			calls++
			return pushResponse(http.StatusCreated), nil
		}),
		WithSenderErrorLogger(errs),
	)

	require.False(t, sender.Enabled())

	outcome, err := sender.Send(context.Background(), sub, PushPayload{ID: "n-1"})

	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, outcome)
	require.Zero(t, calls, "disabled sender must not touch the transport")

	outcome, err = sender.Send(context.Background(), sub, PushPayload{ID: "n-2"})
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, outcome)

	entries := recorded.FilterMessage(OpPushSend).All()
	require.Len(t, entries, 2, "every skipped attempt must leave a warning")
	for _, entry := range entries {
		require.Equal(t, zapcore.WarnLevel, entry.Level)
		bag, ok := entry.ContextMap()["context"].(map[string]any)
		require.True(t, ok)
		require.Equal(t, sub.Endpoint, bag["endpoint"])
		require.Equal(t, true, bag["push_disabled"])
	}
}

func TestSendStopsBackoffOnCancelledContext(t *testing.T) {
	sub := testSubscription("sub-1", "user-1", "https://push.example.com/send/1")
	store := newFakeStore(sub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	sender := NewWebPushSender(store, enabledConfig(),
		WithSendFunc(func(sendCtx context.Context, message []byte, target *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
			calls++
			return nil, errors.New("transport down")
		}),
	)

	outcome, err := sender.Send(ctx, sub, PushPayload{ID: "n-1"})

	require.Error(t, err)
	require.Equal(t, OutcomeFailed, outcome)
	require.Equal(t, 1, calls, "cancelled context must cut the retry sequence short")
}

func TestSendToSubscriptionsIsolatesFailures(t *testing.T) {
	healthy := testSubscription("sub-1", "user-1", "https://push.example.com/send/ok")
	dead := testSubscription("sub-2", "user-1", "https://push.example.com/send/dead")
	broken := testSubscription("sub-3", "user-1", "https://push.example.com/send/broken")
	store := newFakeStore(healthy, dead, broken)
	sleeps := &sleepRecorder{}

	sender := NewWebPushSender(store, enabledConfig(),
		WithSendFunc(func(ctx context.Context, message []byte, target *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
			switch target.Endpoint {
			case healthy.Endpoint:
				return pushResponse(http.StatusCreated), nil
			case dead.Endpoint:
				return pushResponse(http.StatusGone), nil
			default:
				return pushResponse(http.StatusBadGateway), nil
			}
		}),
		WithSleep(sleeps.sleep),
	)

	stats := sender.SendToSubscriptions(context.Background(),
		[]models.PushSubscription{healthy, dead, broken}, PushPayload{ID: "n-1"})

	require.Equal(t, 1, stats.Delivered)
	require.Equal(t, 1, stats.Expired)
	require.Equal(t, 1, stats.Failed)
	require.Equal(t, 3, stats.Attempted())
	require.Equal(t, []string{dead.Endpoint}, store.deletedEndpoints())
	require.Equal(t, []string{"sub-1"}, store.markedIDs())
}

func TestSleepContextHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sleepContext(ctx, time.Minute)

	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second)
}

func TestSendStatsMerge(t *testing.T) {
	total := SendStats{Delivered: 1}
	total.Merge(SendStats{Delivered: 2, Expired: 1, Failed: 3, Skipped: 1})

	require.Equal(t, SendStats{Delivered: 3, Expired: 1, Failed: 3, Skipped: 1}, total)
	require.Equal(t, 8, total.Attempted())
}
