package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tphakala/birdtag/internal/errors"
	"github.com/tphakala/birdtag/internal/observability/metrics"
)

// CircuitState represents the state of the delivery circuit breaker.
type CircuitState int

const (
	// StateClosed means deliveries are flowing normally.
	StateClosed CircuitState = iota
	// StateHalfOpen means the breaker is testing whether the provider has
	// recovered.
	StateHalfOpen
	// StateOpen means deliveries are being rejected.
	StateOpen
)

// String returns the string representation of CircuitState.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker rejects a delivery.
var ErrCircuitOpen = errors.Newf("delivery circuit breaker is open").
	Component("notification").
	Category(errors.CategoryLimit).
	Build()

// CircuitBreakerConfig holds configuration for the delivery circuit breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening the
	// circuit.
	MaxFailures int
	// Timeout is how long to wait before transitioning from open to
	// half-open.
	Timeout time.Duration
}

// DefaultCircuitBreakerConfig returns the default breaker configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
	}
}

// CircuitBreaker guards the delivery provider: after MaxFailures consecutive
// failures it rejects deliveries for Timeout, then lets a single probe
// through to test recovery.
type CircuitBreaker struct {
	config          CircuitBreakerConfig
	state           CircuitState
	failures        int
	lastFailureTime time.Time
	lastStateChange time.Time
	halfOpenProbes  int
	mu              sync.Mutex
	metrics         *metrics.NotificationMetrics
	providerName    string
}

// NewCircuitBreaker creates a breaker for the named provider. metrics may be
// nil.
func NewCircuitBreaker(config CircuitBreakerConfig, notificationMetrics *metrics.NotificationMetrics, providerName string) *CircuitBreaker {
	if config.MaxFailures < 1 {
		config.MaxFailures = DefaultCircuitBreakerConfig().MaxFailures
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultCircuitBreakerConfig().Timeout
	}

	cb := &CircuitBreaker{
		config:          config,
		state:           StateClosed,
		lastStateChange: time.Now(),
		metrics:         notificationMetrics,
		providerName:    providerName,
	}
	if cb.metrics != nil {
		cb.metrics.UpdateCircuitBreakerState(int(StateClosed))
	}
	return cb
}

// Call executes fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.lastStateChange) >= cb.config.Timeout {
			cb.setState(StateHalfOpen)
			cb.halfOpenProbes = 1
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		// One probe at a time while testing recovery
		if cb.halfOpenProbes >= 1 {
			return ErrCircuitOpen
		}
		cb.halfOpenProbes++
		return nil
	default:
		return ErrCircuitOpen
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.onSuccess()
		return
	}
	// Client-side cancellation says nothing about provider health
	if errors.Is(err, context.Canceled) {
		return
	}
	cb.onFailure()
}

func (cb *CircuitBreaker) onSuccess() {
	cb.failures = 0
	cb.lastFailureTime = time.Time{}
	if cb.state == StateHalfOpen {
		cb.setState(StateClosed)
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
	case StateOpen:
	}
}

func (cb *CircuitBreaker) setState(newState CircuitState) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()

	if cb.metrics != nil {
		cb.metrics.UpdateCircuitBreakerState(int(newState))
	}

	slog.Info("Circuit breaker state transition",
		"provider", cb.providerName,
		"old_state", oldState.String(),
		"new_state", newState.String(),
		"consecutive_failures", cb.failures)
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current number of consecutive failures.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset manually returns the breaker to the closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.lastFailureTime = time.Time{}
	cb.halfOpenProbes = 0
	cb.setState(StateClosed)
}

// Stats returns a snapshot for diagnostics.
func (cb *CircuitBreaker) Stats() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return fmt.Sprintf("%s (%d consecutive failures)", cb.state.String(), cb.failures)
}
