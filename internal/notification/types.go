// Package notification matches committed detection events against the
// subscription registry and dispatches at-most-once notifications through a
// pluggable delivery provider, backed by the durable dedupe ledger.
package notification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Event is one notification owed to a subscriber: a media item crossed the
// subscription's confidence threshold for its tag.
type Event struct {
	ID                string
	SubscriptionID    string
	OwnerID           string
	MediaID           string
	MatchedTag        string
	MatchedConfidence float64
	DedupeKey         string
	Timestamp         time.Time
}

// DeliveryStatus is a provider's verdict on one delivery attempt.
type DeliveryStatus int

const (
	// StatusAck means the provider accepted the notification.
	StatusAck DeliveryStatus = iota
	// StatusTransientFailure means the attempt failed but a retry may
	// succeed.
	StatusTransientFailure
	// StatusPermanentFailure means retrying is pointless, for example the
	// subscriber's endpoint is gone.
	StatusPermanentFailure
)

// String returns the status name for logs and metrics labels.
func (s DeliveryStatus) String() string {
	switch s {
	case StatusAck:
		return "ack"
	case StatusTransientFailure:
		return "transient_failure"
	case StatusPermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// DeliveryProvider pushes notifications to subscribers. Implementations must
// be safe for concurrent use; the dispatcher may deliver from several event
// bus workers at once.
type DeliveryProvider interface {
	// Name returns the provider name for logs and metrics.
	Name() string

	// Deliver attempts to deliver the event to its owner. The error carries
	// detail for logging; the status decides retry behavior.
	Deliver(ctx context.Context, event *Event) (DeliveryStatus, error)
}

// DedupeKey derives the at-most-once identity of a (subscription, media)
// pair. The same pair always yields the same key, across restarts included,
// which is what lets the ledger suppress replays.
func DedupeKey(subscriptionID, mediaID string) string {
	sum := sha256.Sum256([]byte(subscriptionID + ":" + mediaID))
	return hex.EncodeToString(sum[:])
}
