// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/tphakala/birdtag/internal/conf"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TagDelta describes the tags that changed in one ApplyDetections call:
// entries that are new for the record or whose confidence was revised. The
// dispatcher matches subscriptions against exactly this set.
type TagDelta map[string]float64

// TagScanRequest parameterizes one tag index range scan. Results are ordered
// by confidence descending with media id ascending as the tie break; After*
// fields resume a previous scan strictly past the given cursor position.
type TagScanRequest struct {
	TagName         string
	FileType        string // empty for no file type filter
	MinConfidence   float64
	AfterCursor     bool // true to apply AfterConfidence/AfterMediaID
	AfterConfidence float64
	AfterMediaID    string
	Limit           int
}

// TagScanRow is one (media, confidence) hit from a tag index scan.
type TagScanRow struct {
	MediaID    string
	Confidence float64
}

// TagOp selects the direction of a bulk manual tag modification.
type TagOp string

const (
	TagOpAdd    TagOp = "add"
	TagOpRemove TagOp = "remove"
)

// ClaimResult is the outcome of a ClaimNotification attempt.
type ClaimResult int

const (
	// ClaimAcquired means the caller holds the pending claim and must either
	// confirm or release it.
	ClaimAcquired ClaimResult = iota
	// ClaimAlreadyDispatched means the dedupe key was already acknowledged;
	// the event must not be delivered again.
	ClaimAlreadyDispatched
	// ClaimHeldElsewhere means another in-flight attempt holds a fresh
	// pending claim for the key.
	ClaimHeldElsewhere
)

// Interface abstracts the underlying database implementation and defines the
// operations of the metadata store, tag index, subscription registry and
// notification ledger.
type Interface interface {
	Open() error
	Close() error

	// Media metadata store
	CreateMedia(ctx context.Context, media *Media) error
	GetMedia(ctx context.Context, id string) (*Media, error)
	GetMediaBatch(ctx context.Context, ids []string) ([]Media, error)
	GetMediaByStorageRef(ctx context.Context, storageRef string) (*Media, error)
	MediaByFileType(ctx context.Context, fileType, afterID string, limit int) ([]Media, error)
	DeleteMedia(ctx context.Context, id string) error
	SetThumbnail(ctx context.Context, id, thumbnailRef string) error
	ApplyDetections(ctx context.Context, id string, detections map[string]float64) (*Media, TagDelta, error)
	ModifyTags(ctx context.Context, ids []string, tags map[string]float64, op TagOp) error

	// Tag index
	TagScan(ctx context.Context, req *TagScanRequest) ([]TagScanRow, error)
	CountTag(ctx context.Context, tagName, fileType string, minConfidence float64) (int64, error)
	GetTagConfidence(ctx context.Context, mediaID, tagName string) (float64, bool, error)

	// Subscription registry
	SaveSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	SubscriptionsByTag(ctx context.Context, tagName string) ([]Subscription, error)
	SubscriptionsByOwner(ctx context.Context, ownerID string) ([]Subscription, error)

	// Notification idempotency ledger
	ClaimNotification(ctx context.Context, entry *NotificationLedger, staleAge time.Duration) (ClaimResult, error)
	ConfirmNotification(ctx context.Context, dedupeKey string) error
	ReleaseNotification(ctx context.Context, dedupeKey string) error
	WasDispatched(ctx context.Context, dedupeKey string) (bool, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB    *gorm.DB // GORM database instance
	locks keyLocks // per-media writer serialization
}

// New creates a new DataStore instance based on the provided configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		// Settings validation rejects this configuration before we get here
		return nil
	}
}

// performAutoMigration automates database migrations with error handling.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&Media{}, &MediaTag{}, &Subscription{}, &NotificationLedger{}); err != nil {
		return dbError(err, "auto_migrate", "",
			"db_type", dbType)
	}

	if debug {
		log.Printf("%s database connection initialized: %s", dbType, connectionInfo)
	}

	return nil
}

// createGormLogger configures and returns a new GORM logger instance.
func createGormLogger() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)
}
