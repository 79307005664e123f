// model.go: database entity definitions for media metadata, tag index,
// subscriptions and the notification idempotency ledger
package datastore

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// File type values for Media.FileType. The set is closed; records never
// change type after creation.
const (
	FileTypeImage = "image"
	FileTypeVideo = "video"
	FileTypeAudio = "audio"
)

// ValidFileType reports whether ft is one of the supported media file types.
func ValidFileType(ft string) bool {
	switch ft {
	case FileTypeImage, FileTypeVideo, FileTypeAudio:
		return true
	default:
		return false
	}
}

// tagCaser folds species names so lookups are case-insensitive. Unicode case
// folding rather than ASCII lowercasing, species labels may carry diacritics.
var tagCaser = cases.Fold()

// NormalizeTag canonicalizes a species tag name for storage and lookup.
func NormalizeTag(name string) string {
	return tagCaser.String(strings.TrimSpace(name))
}

// Media represents one ingested media file and its detection metadata.
// FileType and CreatedAt are immutable after creation; Version increments on
// every mutation and backs the optimistic concurrency check.
type Media struct {
	ID           string     `gorm:"primaryKey"`
	FileType     string     `gorm:"not null;index"`
	StorageRef   string     `gorm:"not null;uniqueIndex:ux_media_storage_ref"`
	ThumbnailRef *string    // nil until thumbnail processing completes
	Version      int64      `gorm:"not null;default:1"`
	CreatedAt    time.Time  `gorm:"not null"`
	UpdatedAt    time.Time  `gorm:"not null"`
	Tags         []MediaTag `gorm:"foreignKey:MediaID;references:ID;constraint:OnDelete:CASCADE"`
}

// TagMap returns the record's tags as a species→confidence mapping.
func (m *Media) TagMap() map[string]float64 {
	tags := make(map[string]float64, len(m.Tags))
	for i := range m.Tags {
		tags[m.Tags[i].TagName] = m.Tags[i].Confidence
	}
	return tags
}

// DisplayRef returns the reference callers should present for this media:
// the thumbnail for images when one exists, the raw storage ref otherwise.
func (m *Media) DisplayRef() string {
	if m.FileType == FileTypeImage && m.ThumbnailRef != nil && *m.ThumbnailRef != "" {
		return *m.ThumbnailRef
	}
	return m.StorageRef
}

// MediaTag is one row of the tag index: a single (species, confidence) entry
// for a media record. FileType is denormalized from the parent record so the
// index can serve file-type filtered scans without a join. Rows are unique
// per (media, tag); re-detection overwrites the confidence in place.
//
// The composite idx_media_tags_scan index backs the descending-confidence
// range scans of the query engine.
type MediaTag struct {
	ID         uint    `gorm:"primaryKey"`
	MediaID    string  `gorm:"not null;uniqueIndex:ux_media_tags_media_tag,priority:1"`
	TagName    string  `gorm:"not null;uniqueIndex:ux_media_tags_media_tag,priority:2;index:idx_media_tags_scan,priority:1"`
	FileType   string  `gorm:"not null;index:idx_media_tags_scan,priority:2"`
	Confidence float64 `gorm:"not null;index:idx_media_tags_scan,priority:3"`
}

// TableName overrides the default pluralization for the tag index table.
func (MediaTag) TableName() string {
	return "media_tags"
}

// Subscription is a standing (owner, tag, threshold) interest record. It is
// never updated in place; a threshold change is a delete plus recreate.
type Subscription struct {
	ID            string    `gorm:"primaryKey"`
	OwnerID       string    `gorm:"not null;index:idx_subscriptions_owner"`
	TagName       string    `gorm:"not null;index:idx_subscriptions_tag_name"`
	MinConfidence float64   `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

// Ledger entry states. A pending claim is held by a dispatch attempt in
// flight; dispatched means the delivery collaborator acknowledged the event.
const (
	LedgerStatusPending    = "pending"
	LedgerStatusDispatched = "dispatched"
)

// NotificationLedger is the durable idempotency ledger for notification
// dispatch. One row per dedupe key; the key is claimed (pending) before a
// delivery attempt and confirmed (dispatched) only after the delivery
// collaborator acknowledges, so a restart never replays an acknowledged
// notification.
type NotificationLedger struct {
	DedupeKey         string `gorm:"primaryKey"`
	SubscriptionID    string `gorm:"not null;index"`
	MediaID           string `gorm:"not null;index"`
	MatchedTag        string `gorm:"not null"`
	MatchedConfidence float64
	Status            string    `gorm:"not null;index"`
	ClaimedAt         time.Time `gorm:"not null"`
	DispatchedAt      *time.Time
}

// TableName keeps the ledger table name singular.
func (NotificationLedger) TableName() string {
	return "notification_ledger"
}
