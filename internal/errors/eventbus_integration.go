// Package errors - event bus integration
package errors

import (
	"sync/atomic"
)

// EventPublisher is an interface for publishing error events.
// This interface allows the errors package to publish events without
// importing the events package, avoiding circular dependencies.
type EventPublisher interface {
	TryPublish(event any) bool
}

// Global event publisher (set by the events package)
var globalEventPublisher atomic.Pointer[EventPublisher]

// hasActiveReporting gates the expensive detection work in Build.
// It is true only while an event publisher is registered.
var hasActiveReporting atomic.Bool

// SetEventPublisher sets the global event publisher.
// This should be called by the events package during initialization.
// Passing nil disables error event reporting.
func SetEventPublisher(publisher EventPublisher) {
	if publisher == nil {
		globalEventPublisher.Store(nil)
		hasActiveReporting.Store(false)
		return
	}
	globalEventPublisher.Store(&publisher)
	hasActiveReporting.Store(true)
}

// publishToEventBus publishes an error to the event bus if available
func publishToEventBus(ee *EnhancedError) {
	publisherPtr := globalEventPublisher.Load()
	if publisherPtr == nil {
		return
	}

	publisher := *publisherPtr
	if publisher == nil {
		return
	}

	// The event bus handles the type assertion to its error event interface
	publisher.TryPublish(ee)
}
