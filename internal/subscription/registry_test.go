package subscription

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/birdtag/internal/conf"
	"github.com/tphakala/birdtag/internal/datastore"
	"github.com/tphakala/birdtag/internal/errors"
)

func createTestStore(t *testing.T) datastore.Interface {
	t.Helper()

	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "subscription-test.db")

	store := datastore.New(settings)
	require.NoError(t, store.Open())
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func TestSubscribeValidation(t *testing.T) {
	t.Parallel()
	registry := NewRegistry(createTestStore(t), nil)
	ctx := context.Background()

	_, err := registry.Subscribe(ctx, "u1", "  ", 0.5)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err), "blank tag name")

	for _, confidence := range []float64{-0.01, 1.01} {
		_, err := registry.Subscribe(ctx, "u1", "crow", confidence)
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err), "confidence %v", confidence)
	}

	// Nothing was persisted by the rejected calls
	subs, err := registry.ListByTag(ctx, "crow")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestSubscribeNormalizesCase(t *testing.T) {
	t.Parallel()
	registry := NewRegistry(createTestStore(t), nil)
	ctx := context.Background()

	sub, err := registry.Subscribe(ctx, "u1", "  Great Horned OWL ", 0.6)
	require.NoError(t, err)
	assert.Equal(t, "great horned owl", sub.TagName)

	subs, err := registry.ListByTag(ctx, "GREAT horned owl")
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()
	registry := NewRegistry(createTestStore(t), nil)
	ctx := context.Background()

	sub, err := registry.Subscribe(ctx, "u1", "crow", 0.5)
	require.NoError(t, err)

	require.NoError(t, registry.Unsubscribe(ctx, sub.ID))
	require.NoError(t, registry.Unsubscribe(ctx, sub.ID), "second unsubscribe is a no-op")

	_, err = registry.Get(ctx, sub.ID)
	assert.True(t, errors.IsNotFound(err))
}

func TestDuplicateSubscriptionsPermitted(t *testing.T) {
	t.Parallel()
	registry := NewRegistry(createTestStore(t), nil)
	ctx := context.Background()

	_, err := registry.Subscribe(ctx, "u1", "crow", 0.5)
	require.NoError(t, err)
	_, err = registry.Subscribe(ctx, "u1", "crow", 0.5)
	require.NoError(t, err)

	subs, err := registry.ListByTag(ctx, "crow")
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestListByOwner(t *testing.T) {
	t.Parallel()
	registry := NewRegistry(createTestStore(t), nil)
	ctx := context.Background()

	_, err := registry.Subscribe(ctx, "u1", "crow", 0.5)
	require.NoError(t, err)
	_, err = registry.Subscribe(ctx, "u1", "eagle", 0.7)
	require.NoError(t, err)
	_, err = registry.Subscribe(ctx, "u2", "crow", 0.9)
	require.NoError(t, err)

	subs, err := registry.ListByOwner(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestCacheServesRepeatLookups(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	registry := NewRegistryWithTTL(store, time.Minute)
	ctx := context.Background()

	_, err := registry.Subscribe(ctx, "u1", "crow", 0.5)
	require.NoError(t, err)

	first, err := registry.ListByTag(ctx, "crow")
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Write around the registry; the cached result must still be served
	// until the TTL or an invalidating mutation
	direct := &datastore.Subscription{
		ID: "direct", OwnerID: "u2", TagName: "crow", MinConfidence: 0.1,
	}
	require.NoError(t, store.SaveSubscription(ctx, direct))

	cached, err := registry.ListByTag(ctx, "crow")
	require.NoError(t, err)
	assert.Len(t, cached, 1, "stale by design within the TTL")
}

func TestMutationsInvalidateCache(t *testing.T) {
	t.Parallel()
	registry := NewRegistryWithTTL(createTestStore(t), time.Minute)
	ctx := context.Background()

	sub, err := registry.Subscribe(ctx, "u1", "crow", 0.5)
	require.NoError(t, err)

	subs, err := registry.ListByTag(ctx, "crow")
	require.NoError(t, err)
	require.Len(t, subs, 1)

	// Subscribe invalidates the tag's cache entry
	_, err = registry.Subscribe(ctx, "u2", "crow", 0.8)
	require.NoError(t, err)

	subs, err = registry.ListByTag(ctx, "crow")
	require.NoError(t, err)
	require.Len(t, subs, 2)

	// Unsubscribe does too
	require.NoError(t, registry.Unsubscribe(ctx, sub.ID))

	subs, err = registry.ListByTag(ctx, "crow")
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}
