// Package events provides an asynchronous event bus that decouples detection
// ingestion from subscription matching and notification dispatch, so a slow
// or failing delivery path never blocks metadata persistence.
package events

import (
	"time"
)

// DetectionEvent describes one committed ApplyDetections call: the
// post-update state of the media record and the delta of tags that are new
// or whose confidence changed in that call. The event is published only
// after the store transaction committed, consumers never observe
// uncommitted state.
type DetectionEvent struct {
	MediaID      string
	FileType     string
	StorageRef   string
	ThumbnailRef string // empty when no thumbnail exists yet

	// Tags is the full species→confidence mapping after the update.
	Tags map[string]float64

	// Delta lists only the tags changed by this detection batch; matching
	// runs against exactly these.
	Delta map[string]float64

	Timestamp time.Time
}

// DetectionConsumer processes detection events delivered by the bus.
type DetectionConsumer interface {
	// Name returns the consumer name for identification
	Name() string

	// ProcessDetection processes a single detection event
	ProcessDetection(event *DetectionEvent) error
}

// EventBusStats contains runtime statistics for monitoring
type EventBusStats struct {
	EventsReceived  uint64
	EventsProcessed uint64
	EventsDropped   uint64
	ConsumerErrors  uint64
}
