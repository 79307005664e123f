// Package subscription implements the subscription registry: durable
// standing (owner, tag, threshold) interests plus the indexed tag lookup the
// notification dispatcher fans out through.
package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/tphakala/birdtag/internal/conf"
	"github.com/tphakala/birdtag/internal/datastore"
	"github.com/tphakala/birdtag/internal/errors"
	"github.com/tphakala/birdtag/internal/logging"
)

// Registry manages the subscription lifecycle. ListByTag results are cached
// with a short TTL because the dispatcher calls it once per changed tag of
// every detection batch; Subscribe and Unsubscribe invalidate the affected
// tag so matching never works from a stale set longer than one mutation.
type Registry struct {
	store  datastore.Interface
	cache  *gocache.Cache // nil when caching is disabled
	logger *slog.Logger
}

// NewRegistry creates a subscription registry using the given cache
// settings.
func NewRegistry(store datastore.Interface, settings *conf.SubscriptionSettings) *Registry {
	logger := logging.ForService("subscription")
	if logger == nil {
		logger = slog.Default().With("service", "subscription")
	}

	r := &Registry{
		store:  store,
		logger: logger,
	}
	if settings != nil && settings.CacheEnabled {
		r.cache = gocache.New(settings.CacheTTL, 2*settings.CacheTTL)
	}
	return r
}

// Subscribe registers a standing interest in a species tag at a minimum
// confidence. Tag names are case folded; duplicate subscriptions are allowed
// and deduplicated at matching time by dedupe key.
func (r *Registry) Subscribe(ctx context.Context, ownerID, tagName string, minConfidence float64) (*datastore.Subscription, error) {
	tag := datastore.NormalizeTag(tagName)
	if tag == "" {
		return nil, errors.Newf("tag name must not be empty").
			Component("subscription").
			Category(errors.CategoryValidation).
			Build()
	}
	if minConfidence < 0 || minConfidence > 1 {
		return nil, errors.Newf("confidence must be within [0,1], got %v", minConfidence).
			Component("subscription").
			Category(errors.CategoryValidation).
			Context("min_confidence", minConfidence).
			Build()
	}

	sub := &datastore.Subscription{
		ID:            uuid.New().String(),
		OwnerID:       ownerID,
		TagName:       tag,
		MinConfidence: minConfidence,
	}
	if err := r.store.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}

	r.invalidate(tag)
	r.logger.Info("subscription created",
		"subscription_id", sub.ID,
		"owner_id", ownerID,
		"tag_name", tag,
		"min_confidence", minConfidence,
	)
	return sub, nil
}

// Unsubscribe removes a subscription. Idempotent: an unknown id is a no-op
// success.
func (r *Registry) Unsubscribe(ctx context.Context, subscriptionID string) error {
	// Resolve the tag first so the cache entry can be invalidated; an absent
	// subscription needs no invalidation
	sub, err := r.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return err
	}

	if err := r.store.DeleteSubscription(ctx, subscriptionID); err != nil {
		return err
	}

	r.invalidate(sub.TagName)
	r.logger.Info("subscription removed",
		"subscription_id", subscriptionID,
		"tag_name", sub.TagName,
	)
	return nil
}

// Get retrieves a subscription by id.
func (r *Registry) Get(ctx context.Context, subscriptionID string) (*datastore.Subscription, error) {
	return r.store.GetSubscription(ctx, subscriptionID)
}

// ListByTag returns all subscriptions for a tag name, consulting the TTL
// cache when enabled. This is the dispatcher's fan-out path.
func (r *Registry) ListByTag(ctx context.Context, tagName string) ([]datastore.Subscription, error) {
	tag := datastore.NormalizeTag(tagName)

	if r.cache != nil {
		if cached, found := r.cache.Get(tag); found {
			if subs, ok := cached.([]datastore.Subscription); ok {
				return subs, nil
			}
		}
	}

	subs, err := r.store.SubscriptionsByTag(ctx, tag)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		r.cache.Set(tag, subs, gocache.DefaultExpiration)
	}
	return subs, nil
}

// ListByOwner returns all subscriptions owned by a user.
func (r *Registry) ListByOwner(ctx context.Context, ownerID string) ([]datastore.Subscription, error) {
	return r.store.SubscriptionsByOwner(ctx, ownerID)
}

// invalidate drops the cached lookup for a tag after a mutation.
func (r *Registry) invalidate(tag string) {
	if r.cache != nil {
		r.cache.Delete(tag)
	}
}

// NewRegistryWithTTL creates a registry with caching enabled at the given
// TTL. Convenience for tests and embedded use.
func NewRegistryWithTTL(store datastore.Interface, ttl time.Duration) *Registry {
	settings := &conf.SubscriptionSettings{CacheEnabled: true, CacheTTL: ttl}
	return NewRegistry(store, settings)
}
