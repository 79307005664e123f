package notification

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/birdtag/internal/conf"
	"github.com/tphakala/birdtag/internal/datastore"
	"github.com/tphakala/birdtag/internal/events"
	"github.com/tphakala/birdtag/internal/subscription"
)

// mockProvider records deliveries and answers per a scriptable function.
type mockProvider struct {
	mu     sync.Mutex
	calls  []Event
	script func(event *Event) (DeliveryStatus, error)
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Deliver(_ context.Context, event *Event) (DeliveryStatus, error) {
	m.mu.Lock()
	m.calls = append(m.calls, *event)
	m.mu.Unlock()
	if m.script != nil {
		return m.script(event)
	}
	return StatusAck, nil
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockProvider) lastCall() Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[len(m.calls)-1]
}

func testNotificationSettings() *conf.NotificationSettings {
	settings := &conf.NotificationSettings{
		Enabled:       true,
		MaxRetries:    3,
		RetryDelay:    time.Millisecond,
		StaleClaimAge: time.Minute,
		RecentKeys:    128,
	}
	settings.CircuitBreaker.FailureThreshold = 100
	settings.CircuitBreaker.RecoveryTimeout = time.Second
	return settings
}

// newTestDispatcher wires a dispatcher to a temp SQLite store with an
// uncached registry.
func newTestDispatcher(t *testing.T, provider DeliveryProvider, settings *conf.NotificationSettings) (*Dispatcher, *datastore.SQLiteStore, *subscription.Registry) {
	t.Helper()

	storeSettings := &conf.Settings{}
	storeSettings.Output.SQLite.Enabled = true
	storeSettings.Output.SQLite.Path = filepath.Join(t.TempDir(), "birdtag-test.db")

	store := &datastore.SQLiteStore{Settings: storeSettings}
	require.NoError(t, store.Open(), "opening test store")
	t.Cleanup(func() {
		require.NoError(t, store.Close(), "closing test store")
	})

	registry := subscription.NewRegistry(store, nil)

	if settings == nil {
		settings = testNotificationSettings()
	}
	dispatcher, err := NewDispatcher(store, registry, provider, settings, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dispatcher.Close() })

	return dispatcher, store, registry
}

// detectionEvent builds the bus event the dispatcher would receive for one
// committed ApplyDetections call.
func detectionEvent(mediaID string, delta map[string]float64) *events.DetectionEvent {
	return &events.DetectionEvent{
		MediaID:    mediaID,
		FileType:   datastore.FileTypeImage,
		StorageRef: "s3://birdtag-media/" + mediaID,
		Tags:       delta,
		Delta:      delta,
		Timestamp:  time.Now(),
	}
}

func subscribe(t *testing.T, registry *subscription.Registry, ownerID, tag string, minConfidence float64) *datastore.Subscription {
	t.Helper()
	sub, err := registry.Subscribe(context.Background(), ownerID, tag, minConfidence)
	require.NoError(t, err)
	return sub
}

func TestDedupeKeyStable(t *testing.T) {
	t.Parallel()

	key := DedupeKey("sub-1", "media-1")
	assert.Equal(t, key, DedupeKey("sub-1", "media-1"))
	assert.NotEqual(t, key, DedupeKey("sub-1", "media-2"))
	assert.NotEqual(t, key, DedupeKey("sub-2", "media-1"))
	assert.Len(t, key, 64)
}

func TestDispatcherDeliversMatch(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{}
	dispatcher, store, registry := newTestDispatcher(t, provider, nil)

	sub := subscribe(t, registry, "owner-1", "eagle", 0.5)

	require.NoError(t, dispatcher.ProcessDetection(
		detectionEvent("media-1", map[string]float64{"eagle": 0.9})))

	require.Equal(t, 1, provider.callCount())
	delivered := provider.lastCall()
	assert.Equal(t, sub.ID, delivered.SubscriptionID)
	assert.Equal(t, "owner-1", delivered.OwnerID)
	assert.Equal(t, "media-1", delivered.MediaID)
	assert.Equal(t, "eagle", delivered.MatchedTag)
	assert.InDelta(t, 0.9, delivered.MatchedConfidence, 1e-9)

	dispatched, err := store.WasDispatched(context.Background(), delivered.DedupeKey)
	require.NoError(t, err)
	assert.True(t, dispatched, "acked delivery must be recorded in the ledger")
}

func TestDispatcherBelowThresholdIgnored(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{}
	dispatcher, _, registry := newTestDispatcher(t, provider, nil)

	subscribe(t, registry, "owner-1", "eagle", 0.5)

	require.NoError(t, dispatcher.ProcessDetection(
		detectionEvent("media-1", map[string]float64{"eagle": 0.4})))
	require.NoError(t, dispatcher.ProcessDetection(
		detectionEvent("media-2", map[string]float64{"crow": 0.9})))

	assert.Equal(t, 0, provider.callCount())
}

func TestDispatcherInclusiveThreshold(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{}
	dispatcher, _, registry := newTestDispatcher(t, provider, nil)

	subscribe(t, registry, "owner-1", "eagle", 0.5)

	require.NoError(t, dispatcher.ProcessDetection(
		detectionEvent("media-1", map[string]float64{"eagle": 0.5})))

	assert.Equal(t, 1, provider.callCount())
}

func TestDispatcherSuppressesReplay(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{}
	dispatcher, _, registry := newTestDispatcher(t, provider, nil)

	subscribe(t, registry, "owner-1", "eagle", 0.5)

	event := detectionEvent("media-1", map[string]float64{"eagle": 0.9})
	require.NoError(t, dispatcher.ProcessDetection(event))
	require.NoError(t, dispatcher.ProcessDetection(event))

	// A later re-crossing of the threshold by the same pair stays suppressed
	require.NoError(t, dispatcher.ProcessDetection(
		detectionEvent("media-1", map[string]float64{"eagle": 0.95})))

	assert.Equal(t, 1, provider.callCount())
}

func TestDispatcherNotifiesOnlyNewSubscriptionOnRecrossing(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{}
	dispatcher, _, registry := newTestDispatcher(t, provider, nil)

	early := subscribe(t, registry, "owner-early", "eagle", 0.5)

	require.NoError(t, dispatcher.ProcessDetection(
		detectionEvent("media-1", map[string]float64{"eagle": 0.9})))
	require.Equal(t, 1, provider.callCount())
	require.Equal(t, early.ID, provider.lastCall().SubscriptionID)

	// A subscription created after the first delivery has a fresh dedupe
	// key, so the next crossing notifies it and only it
	late := subscribe(t, registry, "owner-late", "eagle", 0.5)

	require.NoError(t, dispatcher.ProcessDetection(
		detectionEvent("media-1", map[string]float64{"eagle": 0.95})))
	require.Equal(t, 2, provider.callCount())
	assert.Equal(t, late.ID, provider.lastCall().SubscriptionID)
}

func TestDispatcherSuppressionSurvivesRestart(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{}
	dispatcher, store, registry := newTestDispatcher(t, provider, nil)

	subscribe(t, registry, "owner-1", "eagle", 0.5)

	event := detectionEvent("media-1", map[string]float64{"eagle": 0.9})
	require.NoError(t, dispatcher.ProcessDetection(event))
	require.Equal(t, 1, provider.callCount())

	// A fresh dispatcher has an empty recent-key cache, so only the durable
	// ledger can suppress the replay
	fresh, err := NewDispatcher(store, registry, provider, testNotificationSettings(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fresh.Close() })

	require.NoError(t, fresh.ProcessDetection(event))
	assert.Equal(t, 1, provider.callCount())
}

func TestDispatcherRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	attempts := 0
	provider := &mockProvider{}
	provider.script = func(*Event) (DeliveryStatus, error) {
		attempts++
		if attempts < 3 {
			return StatusTransientFailure, nil
		}
		return StatusAck, nil
	}
	dispatcher, store, registry := newTestDispatcher(t, provider, nil)

	subscribe(t, registry, "owner-1", "eagle", 0.5)

	require.NoError(t, dispatcher.ProcessDetection(
		detectionEvent("media-1", map[string]float64{"eagle": 0.9})))

	assert.Equal(t, 3, provider.callCount())

	dispatched, err := store.WasDispatched(context.Background(), DedupeKey(provider.lastCall().SubscriptionID, "media-1"))
	require.NoError(t, err)
	assert.True(t, dispatched)
}

func TestDispatcherPermanentFailureStopsRetrying(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{}
	provider.script = func(*Event) (DeliveryStatus, error) {
		return StatusPermanentFailure, nil
	}
	dispatcher, store, registry := newTestDispatcher(t, provider, nil)

	sub := subscribe(t, registry, "owner-1", "eagle", 0.5)

	err := dispatcher.ProcessDetection(
		detectionEvent("media-1", map[string]float64{"eagle": 0.9}))
	require.Error(t, err)
	assert.Equal(t, 1, provider.callCount(), "permanent failure must not be retried")

	// The claim is released, so a later detection of the pair tries again
	dispatched, derr := store.WasDispatched(context.Background(), DedupeKey(sub.ID, "media-1"))
	require.NoError(t, derr)
	assert.False(t, dispatched)

	provider.script = nil
	require.NoError(t, dispatcher.ProcessDetection(
		detectionEvent("media-1", map[string]float64{"eagle": 0.95})))
	assert.Equal(t, 2, provider.callCount())
}

func TestDispatcherExhaustsRetries(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{}
	provider.script = func(*Event) (DeliveryStatus, error) {
		return StatusTransientFailure, nil
	}
	settings := testNotificationSettings()
	settings.MaxRetries = 2
	dispatcher, store, registry := newTestDispatcher(t, provider, settings)

	sub := subscribe(t, registry, "owner-1", "eagle", 0.5)

	err := dispatcher.ProcessDetection(
		detectionEvent("media-1", map[string]float64{"eagle": 0.9}))
	require.Error(t, err)
	assert.Equal(t, 2, provider.callCount())

	dispatched, derr := store.WasDispatched(context.Background(), DedupeKey(sub.ID, "media-1"))
	require.NoError(t, derr)
	assert.False(t, dispatched, "abandoned delivery must not be marked dispatched")
}

func TestDispatcherCircuitBreakerRejects(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{}
	provider.script = func(*Event) (DeliveryStatus, error) {
		return StatusTransientFailure, nil
	}
	settings := testNotificationSettings()
	settings.MaxRetries = 1
	settings.CircuitBreaker.FailureThreshold = 1
	settings.CircuitBreaker.RecoveryTimeout = time.Hour
	dispatcher, _, registry := newTestDispatcher(t, provider, settings)

	subscribe(t, registry, "owner-1", "eagle", 0.5)

	// First delivery fails and opens the breaker
	require.Error(t, dispatcher.ProcessDetection(
		detectionEvent("media-1", map[string]float64{"eagle": 0.9})))
	require.Equal(t, 1, provider.callCount())

	// Breaker open: the provider is not called again
	require.Error(t, dispatcher.ProcessDetection(
		detectionEvent("media-2", map[string]float64{"eagle": 0.9})))
	assert.Equal(t, 1, provider.callCount())
}

func TestDispatcherIsolatesSubscriptions(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{}
	provider.script = func(event *Event) (DeliveryStatus, error) {
		if event.OwnerID == "owner-broken" {
			return StatusPermanentFailure, nil
		}
		return StatusAck, nil
	}
	dispatcher, _, registry := newTestDispatcher(t, provider, nil)

	subscribe(t, registry, "owner-broken", "eagle", 0.5)
	healthy := subscribe(t, registry, "owner-healthy", "eagle", 0.5)

	err := dispatcher.ProcessDetection(
		detectionEvent("media-1", map[string]float64{"eagle": 0.9}))
	require.Error(t, err, "the broken subscription's failure is reported")

	delivered := false
	provider.mu.Lock()
	for _, call := range provider.calls {
		if call.SubscriptionID == healthy.ID {
			delivered = true
		}
	}
	provider.mu.Unlock()
	assert.True(t, delivered, "healthy subscription must still be notified")
}

func TestDispatcherMatchesOnlyChangedTags(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{}
	dispatcher, _, registry := newTestDispatcher(t, provider, nil)

	subscribe(t, registry, "owner-1", "crow", 0.5)

	// Tags carries the full post-update state, Delta only what changed;
	// matching must run against Delta
	event := &events.DetectionEvent{
		MediaID:    "media-1",
		FileType:   datastore.FileTypeImage,
		StorageRef: "s3://birdtag-media/media-1",
		Tags:       map[string]float64{"crow": 0.9, "eagle": 0.8},
		Delta:      map[string]float64{"eagle": 0.8},
		Timestamp:  time.Now(),
	}
	require.NoError(t, dispatcher.ProcessDetection(event))
	assert.Equal(t, 0, provider.callCount())
}
