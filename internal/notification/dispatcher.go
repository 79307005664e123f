package notification

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tphakala/birdtag/internal/conf"
	"github.com/tphakala/birdtag/internal/datastore"
	"github.com/tphakala/birdtag/internal/errors"
	"github.com/tphakala/birdtag/internal/events"
	"github.com/tphakala/birdtag/internal/logging"
	"github.com/tphakala/birdtag/internal/observability/metrics"
	"github.com/tphakala/birdtag/internal/subscription"
)

// Dedupe suppression layer labels for metrics.
const (
	suppressedByCache  = "cache"
	suppressedByLedger = "ledger"
	suppressedByClaim  = "claim"
)

// Dispatcher consumes detection events from the bus, matches the changed
// tags against the subscription registry and delivers at most one
// notification per (subscription, media) pair. Suppression is layered: an
// in-memory cache of recently dispatched keys first, then the durable
// ledger, which survives restarts and arbitrates between concurrent
// workers.
type Dispatcher struct {
	store    datastore.Interface
	registry *subscription.Registry
	provider DeliveryProvider
	breaker  *CircuitBreaker

	maxRetries    int
	retryDelay    time.Duration
	staleClaimAge time.Duration

	recent  *lru.Cache[string, struct{}]
	metrics *metrics.NotificationMetrics

	logger           *slog.Logger
	deliveryLog      *slog.Logger
	closeDeliveryLog func() error
}

// NewDispatcher creates a dispatcher. provider nil selects the log
// provider; notificationMetrics may be nil.
func NewDispatcher(store datastore.Interface, registry *subscription.Registry, provider DeliveryProvider, settings *conf.NotificationSettings, notificationMetrics *metrics.NotificationMetrics) (*Dispatcher, error) {
	logger := logging.ForService("notification")
	if logger == nil {
		logger = slog.Default().With("service", "notification")
	}

	maxRetries := settings.MaxRetries
	if maxRetries < 1 {
		maxRetries = 3
	}
	retryDelay := settings.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	staleClaimAge := settings.StaleClaimAge
	if staleClaimAge <= 0 {
		staleClaimAge = 5 * time.Minute
	}
	recentKeys := settings.RecentKeys
	if recentKeys < 1 {
		recentKeys = 4096
	}

	recent, err := lru.New[string, struct{}](recentKeys)
	if err != nil {
		return nil, errors.New(err).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("recent_keys", recentKeys).
			Build()
	}

	if provider == nil {
		provider = NewLogProvider(logger)
	}

	breakerConfig := CircuitBreakerConfig{
		MaxFailures: settings.CircuitBreaker.FailureThreshold,
		Timeout:     settings.CircuitBreaker.RecoveryTimeout,
	}

	d := &Dispatcher{
		store:         store,
		registry:      registry,
		provider:      provider,
		breaker:       NewCircuitBreaker(breakerConfig, notificationMetrics, provider.Name()),
		maxRetries:    maxRetries,
		retryDelay:    retryDelay,
		staleClaimAge: staleClaimAge,
		recent:        recent,
		metrics:       notificationMetrics,
		logger:        logger,
		deliveryLog:   logger,
	}

	// Delivery outcomes go to a dedicated operational log when configured
	if settings.Log.Enabled {
		fileLogger, closer, err := logging.NewFileLogger(settings.Log.Path, "notification", slog.LevelInfo)
		if err != nil {
			logger.Warn("Failed to open delivery log, using service logger",
				"path", settings.Log.Path, "error", err)
		} else {
			d.deliveryLog = fileLogger
			d.closeDeliveryLog = closer
		}
	}

	return d, nil
}

// Name identifies the dispatcher on the event bus.
func (d *Dispatcher) Name() string {
	return "notification-dispatcher"
}

// Close releases the delivery log.
func (d *Dispatcher) Close() error {
	if d.closeDeliveryLog != nil {
		return d.closeDeliveryLog()
	}
	return nil
}

// ProcessDetection matches the event's changed tags against subscriptions
// and dispatches the resulting notifications. A failure for one
// subscription never blocks the others; the last error is returned for the
// bus's failure count.
func (d *Dispatcher) ProcessDetection(event *events.DetectionEvent) error {
	ctx := context.Background()

	// Deterministic tag order keeps logs and tests stable
	tags := make([]string, 0, len(event.Delta))
	for tag := range event.Delta {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	var lastErr error
	for _, tag := range tags {
		confidence := event.Delta[tag]

		subs, err := d.registry.ListByTag(ctx, tag)
		if err != nil {
			d.logger.Error("Failed to list subscriptions for tag",
				"tag", tag, "error", err)
			lastErr = err
			continue
		}

		for i := range subs {
			sub := &subs[i]
			if confidence < sub.MinConfidence {
				continue
			}
			if err := d.notify(ctx, sub, event, tag, confidence); err != nil {
				d.logger.Error("Notification dispatch failed",
					"subscription", sub.ID,
					"media", event.MediaID,
					"tag", tag,
					"error", err)
				lastErr = err
			}
		}
	}
	return lastErr
}

// notify runs the suppression layers for one matched subscription and
// delivers when this worker wins the claim.
func (d *Dispatcher) notify(ctx context.Context, sub *datastore.Subscription, event *events.DetectionEvent, tag string, confidence float64) error {
	if d.metrics != nil {
		d.metrics.RecordMatch(tag)
	}

	key := DedupeKey(sub.ID, event.MediaID)

	if d.recent.Contains(key) {
		d.recordSuppressed(suppressedByCache)
		return nil
	}

	claim, err := d.store.ClaimNotification(ctx, &datastore.NotificationLedger{
		DedupeKey:         key,
		SubscriptionID:    sub.ID,
		MediaID:           event.MediaID,
		MatchedTag:        tag,
		MatchedConfidence: confidence,
	}, d.staleClaimAge)
	if err != nil {
		return err
	}

	switch claim {
	case datastore.ClaimAlreadyDispatched:
		d.recordSuppressed(suppressedByLedger)
		d.recent.Add(key, struct{}{})
		return nil
	case datastore.ClaimHeldElsewhere:
		d.recordSuppressed(suppressedByClaim)
		return nil
	case datastore.ClaimAcquired:
	}

	return d.deliver(ctx, &Event{
		ID:                uuid.New().String(),
		SubscriptionID:    sub.ID,
		OwnerID:           sub.OwnerID,
		MediaID:           event.MediaID,
		MatchedTag:        tag,
		MatchedConfidence: confidence,
		DedupeKey:         key,
		Timestamp:         time.Now(),
	})
}

// deliver pushes one claimed event through the circuit breaker with bounded
// retries. The claim is confirmed on ack and released on every other
// outcome, so a later detection of the same pair can try again.
func (d *Dispatcher) deliver(ctx context.Context, event *Event) error {
	start := time.Now()

	var status DeliveryStatus
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		callErr := d.breaker.Call(ctx, func(ctx context.Context) error {
			var deliverErr error
			status, deliverErr = d.provider.Deliver(ctx, event)
			if deliverErr != nil {
				return deliverErr
			}
			if status != StatusAck {
				return deliveryError(event, status.String())
			}
			return nil
		})

		switch {
		case callErr == nil:
			return d.confirm(ctx, event, start)

		case errors.Is(callErr, ErrCircuitOpen):
			d.release(ctx, event.DedupeKey)
			d.recordDelivery("rejected")
			d.deliveryLog.Warn("Notification rejected by circuit breaker",
				"subscription", event.SubscriptionID,
				"media", event.MediaID,
				"tag", event.MatchedTag)
			return deliveryError(event, "circuit breaker open")

		case status == StatusPermanentFailure:
			d.release(ctx, event.DedupeKey)
			d.recordDelivery("permanent_failure")
			d.deliveryLog.Error("Notification failed permanently",
				"subscription", event.SubscriptionID,
				"media", event.MediaID,
				"tag", event.MatchedTag,
				"error", callErr)
			return callErr
		}

		if attempt < d.maxRetries {
			if d.metrics != nil {
				d.metrics.RecordDeliveryRetry()
			}
			if err := d.wait(ctx, d.retryDelay*time.Duration(attempt)); err != nil {
				d.release(ctx, event.DedupeKey)
				return err
			}
		}
	}

	d.release(ctx, event.DedupeKey)
	d.recordDelivery("exhausted")
	d.deliveryLog.Error("Notification abandoned after retries",
		"subscription", event.SubscriptionID,
		"media", event.MediaID,
		"tag", event.MatchedTag,
		"attempts", d.maxRetries)
	return deliveryError(event, "retries exhausted")
}

// confirm marks the claim dispatched and records the successful delivery.
func (d *Dispatcher) confirm(ctx context.Context, event *Event, start time.Time) error {
	if err := d.store.ConfirmNotification(ctx, event.DedupeKey); err != nil {
		// The claim was taken over as stale mid-delivery; the takeover
		// worker owns the outcome now
		d.logger.Warn("Lost notification claim before confirmation",
			"subscription", event.SubscriptionID,
			"media", event.MediaID,
			"error", err)
		return nil
	}

	d.recent.Add(event.DedupeKey, struct{}{})
	d.recordDelivery("ack")
	if d.metrics != nil {
		d.metrics.RecordDeliveryDuration(time.Since(start).Seconds())
	}
	d.deliveryLog.Info("Notification delivered",
		"provider", d.provider.Name(),
		"owner", event.OwnerID,
		"subscription", event.SubscriptionID,
		"media", event.MediaID,
		"tag", event.MatchedTag,
		"confidence", event.MatchedConfidence)
	return nil
}

// release abandons a pending claim; failures are logged, not propagated.
func (d *Dispatcher) release(ctx context.Context, dedupeKey string) {
	if err := d.store.ReleaseNotification(ctx, dedupeKey); err != nil {
		d.logger.Error("Failed to release notification claim",
			"dedupe_key", dedupeKey, "error", err)
	}
}

// wait sleeps for the retry backoff, aborting when ctx is cancelled.
func (d *Dispatcher) wait(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *Dispatcher) recordSuppressed(layer string) {
	if d.metrics != nil {
		d.metrics.RecordDedupeSuppressed(layer)
	}
}

func (d *Dispatcher) recordDelivery(outcome string) {
	if d.metrics != nil {
		d.metrics.RecordDelivery(outcome)
	}
}

func deliveryError(event *Event, reason string) error {
	return errors.Newf("notification delivery failed: %s", reason).
		Component("notification").
		Category(errors.CategoryDelivery).
		Context("subscription_id", event.SubscriptionID).
		Context("media_id", event.MediaID).
		Build()
}
