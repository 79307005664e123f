package notification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/birdtag/internal/errors"
)

var errProviderDown = errors.Newf("provider down").
	Component("notification").
	Category(errors.CategoryDelivery).
	Build()

func failingCall(ctx context.Context) error { return errProviderDown }
func succeedingCall(ctx context.Context) error { return nil }

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3, Timeout: time.Hour}, nil, "test")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.Error(t, cb.Call(ctx, failingCall))
	}
	assert.Equal(t, StateOpen, cb.State())

	// Open breaker rejects without invoking the call
	invoked := false
	err := cb.Call(ctx, func(context.Context) error {
		invoked = true
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked)
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3, Timeout: time.Hour}, nil, "test")
	ctx := context.Background()

	require.Error(t, cb.Call(ctx, failingCall))
	require.Error(t, cb.Call(ctx, failingCall))
	require.NoError(t, cb.Call(ctx, succeedingCall))

	assert.Equal(t, 0, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: 10 * time.Millisecond}, nil, "test")
	ctx := context.Background()

	require.Error(t, cb.Call(ctx, failingCall))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	// The first call after the timeout is the recovery probe
	require.NoError(t, cb.Call(ctx, succeedingCall))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: 10 * time.Millisecond}, nil, "test")
	ctx := context.Background()

	require.Error(t, cb.Call(ctx, failingCall))
	time.Sleep(20 * time.Millisecond)

	require.Error(t, cb.Call(ctx, failingCall))
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Hour}, nil, "test")

	err := cb.Call(context.Background(), func(context.Context) error {
		return context.Canceled
	})
	require.Error(t, err)
	assert.Equal(t, StateClosed, cb.State(), "cancellation says nothing about provider health")
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreakerReset(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Hour}, nil, "test")
	require.Error(t, cb.Call(context.Background(), failingCall))
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}
