package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/birdtag/internal/errors"
	"github.com/tphakala/birdtag/internal/logging"
)

// EventBus provides asynchronous detection event processing with
// non-blocking publish guarantees.
type EventBus struct {
	eventChan chan *DetectionEvent

	bufferSize int
	workers    int

	wg          sync.WaitGroup
	done        chan struct{}
	initialized atomic.Bool
	running     atomic.Bool
	mu          sync.Mutex

	consumers []DetectionConsumer

	stats EventBusStats

	logger *slog.Logger
}

// Config holds event bus configuration
type Config struct {
	BufferSize int
	Workers    int
	Enabled    bool
}

// DefaultConfig returns the default event bus configuration
func DefaultConfig() *Config {
	return &Config{
		BufferSize: 256,
		Workers:    2,
		Enabled:    true,
	}
}

// Global event bus instance (lazily initialized)
var (
	globalEventBus *EventBus
	globalMutex    sync.Mutex
)

// NewEventBus creates a standalone event bus. Most callers want Initialize;
// direct construction exists for tests and embedded use.
func NewEventBus(config *Config) *EventBus {
	if config == nil {
		config = DefaultConfig()
	}

	logger := logging.ForService("events")
	if logger == nil {
		logger = slog.Default().With("service", "events")
	}

	eb := &EventBus{
		eventChan:  make(chan *DetectionEvent, config.BufferSize),
		bufferSize: config.BufferSize,
		workers:    config.Workers,
		done:       make(chan struct{}),
		consumers:  make([]DetectionConsumer, 0),
		logger:     logger,
	}
	eb.initialized.Store(true)
	return eb
}

// Initialize creates or returns the global event bus instance
func Initialize(config *Config) (*EventBus, error) {
	globalMutex.Lock()
	defer globalMutex.Unlock()

	if globalEventBus != nil {
		return globalEventBus, nil
	}

	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return nil, nil
	}

	eb := NewEventBus(config)
	globalEventBus = eb

	eb.logger.Info("event bus initialized",
		"buffer_size", config.BufferSize,
		"workers", config.Workers,
	)

	return eb, nil
}

// GetEventBus returns the global event bus instance
func GetEventBus() *EventBus {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	return globalEventBus
}

// ResetForTesting discards the global instance so tests can initialize a
// fresh bus.
func ResetForTesting() {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	globalEventBus = nil
}

// RegisterConsumer adds a new detection consumer. The worker pool starts
// when the first consumer registers.
func (eb *EventBus) RegisterConsumer(consumer DetectionConsumer) error {
	if eb == nil {
		return errors.Newf("event bus not initialized").
			Component("events").
			Category(errors.CategoryState).
			Build()
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, existing := range eb.consumers {
		if existing.Name() == consumer.Name() {
			return errors.Newf("consumer %s already registered", consumer.Name()).
				Component("events").
				Category(errors.CategoryConflict).
				Build()
		}
	}

	eb.consumers = append(eb.consumers, consumer)

	eb.logger.Info("registered detection consumer", "consumer", consumer.Name())

	if len(eb.consumers) == 1 && !eb.running.Load() {
		eb.start()
	}

	return nil
}

// TryPublish attempts to publish a detection event without blocking.
// Returns true if the event was accepted, false if dropped. Ingestion calls
// this after its transaction commits; a full buffer drops the event and
// counts the drop rather than stalling the caller.
func (eb *EventBus) TryPublish(event *DetectionEvent) bool {
	if eb == nil || !eb.initialized.Load() || !eb.running.Load() {
		return false
	}

	eb.mu.Lock()
	hasConsumers := len(eb.consumers) > 0
	eb.mu.Unlock()

	if !hasConsumers {
		return false
	}

	select {
	case eb.eventChan <- event:
		atomic.AddUint64(&eb.stats.EventsReceived, 1)
		return true
	default:
		atomic.AddUint64(&eb.stats.EventsDropped, 1)

		eb.logger.Warn("detection event dropped due to full buffer",
			"media_id", event.MediaID,
			"changed_tags", len(event.Delta),
		)
		return false
	}
}

// start begins the worker goroutines
func (eb *EventBus) start() {
	if eb.running.Swap(true) {
		return // Already running
	}

	eb.logger.Info("starting event bus workers", "count", eb.workers)

	for i := 0; i < eb.workers; i++ {
		eb.wg.Add(1)
		go eb.worker(i)
	}
}

// worker processes events from the channel
func (eb *EventBus) worker(id int) {
	defer eb.wg.Done()

	logger := eb.logger.With("worker_id", id)
	logger.Debug("worker started")

	for {
		select {
		case <-eb.done:
			// Drain remaining events before stopping so accepted events are
			// not lost on shutdown
			for {
				select {
				case event := <-eb.eventChan:
					eb.processEvent(event, logger)
				default:
					logger.Debug("worker stopping")
					return
				}
			}

		case event := <-eb.eventChan:
			eb.processEvent(event, logger)
		}
	}
}

// processEvent sends the event to all registered consumers
func (eb *EventBus) processEvent(event *DetectionEvent, logger *slog.Logger) {
	eb.mu.Lock()
	consumers := make([]DetectionConsumer, len(eb.consumers))
	copy(consumers, eb.consumers)
	eb.mu.Unlock()

	for _, consumer := range consumers {
		// Process in a recovery wrapper to prevent panics from killing the
		// worker
		func() {
			defer func() {
				if r := recover(); r != nil {
					atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
					logger.Error("consumer panicked",
						"consumer", consumer.Name(),
						"panic", r,
						"media_id", event.MediaID,
					)
				}
			}()

			if err := consumer.ProcessDetection(event); err != nil {
				atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
				logger.Error("consumer error",
					"consumer", consumer.Name(),
					"error", err,
					"media_id", event.MediaID,
				)
			} else {
				atomic.AddUint64(&eb.stats.EventsProcessed, 1)
			}
		}()
	}
}

// Shutdown gracefully shuts down the event bus, draining accepted events.
func (eb *EventBus) Shutdown(timeout time.Duration) error {
	if eb == nil || !eb.initialized.Load() {
		return nil
	}

	eb.logger.Info("shutting down event bus", "timeout", timeout)

	// Stop accepting new events, then signal workers to drain and stop
	if !eb.running.Swap(false) {
		return nil
	}
	close(eb.done)

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Info("event bus shutdown complete")
		return nil
	case <-time.After(timeout):
		eb.logger.Warn("event bus shutdown timeout exceeded")
		return errors.Newf("shutdown timeout exceeded").
			Component("events").
			Category(errors.CategoryTimeout).
			Build()
	}
}

// GetStats returns current event bus statistics
func (eb *EventBus) GetStats() EventBusStats {
	if eb == nil {
		return EventBusStats{}
	}

	return EventBusStats{
		EventsReceived:  atomic.LoadUint64(&eb.stats.EventsReceived),
		EventsProcessed: atomic.LoadUint64(&eb.stats.EventsProcessed),
		EventsDropped:   atomic.LoadUint64(&eb.stats.EventsDropped),
		ConsumerErrors:  atomic.LoadUint64(&eb.stats.ConsumerErrors),
	}
}
