// Package media implements the metadata store service: validation and
// orchestration over the datastore for media records, plus detection event
// publishing for the notification pipeline.
package media

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tphakala/birdtag/internal/datastore"
	"github.com/tphakala/birdtag/internal/errors"
	"github.com/tphakala/birdtag/internal/events"
	"github.com/tphakala/birdtag/internal/logging"
	"github.com/tphakala/birdtag/internal/observability/metrics"
)

// Service owns the media record lifecycle. It validates caller input,
// delegates persistence to the datastore and publishes a detection event
// after each committed tag mutation. Event publishing happens strictly after
// the store call returns, never while a per-key lock is held.
type Service struct {
	store   datastore.Interface
	bus     *events.EventBus // nil disables detection events
	metrics *metrics.MediaMetrics
	logger  *slog.Logger
}

// NewService creates a media service. bus and mediaMetrics may be nil.
func NewService(store datastore.Interface, bus *events.EventBus, mediaMetrics *metrics.MediaMetrics) *Service {
	logger := logging.ForService("media")
	if logger == nil {
		logger = slog.Default().With("service", "media")
	}
	return &Service{
		store:   store,
		bus:     bus,
		metrics: mediaMetrics,
		logger:  logger,
	}
}

// Create allocates a new media record with an empty tag set.
func (s *Service) Create(ctx context.Context, fileType, storageRef string) (*datastore.Media, error) {
	start := time.Now()

	if !datastore.ValidFileType(fileType) {
		return nil, errors.Newf("unknown file type %q", fileType).
			Component("media").
			Category(errors.CategoryValidation).
			Context("file_type", fileType).
			Build()
	}

	record := &datastore.Media{
		ID:         uuid.New().String(),
		FileType:   fileType,
		StorageRef: storageRef,
	}
	if err := s.store.CreateMedia(ctx, record); err != nil {
		s.recordOperation("create", start, err)
		return nil, err
	}

	s.recordOperation("create", start, nil)
	s.logger.Info("media created",
		"media_id", record.ID,
		"file_type", record.FileType,
	)
	return record, nil
}

// ApplyDetections merges a detection batch into a media record and, when the
// batch changed anything, hands the delta to the notification pipeline. The
// returned delta lists exactly the tags that are new or revised.
//
// Notification dispatch is decoupled: a full event buffer drops the event
// with a warning but the metadata update has already committed and is never
// rolled back.
func (s *Service) ApplyDetections(ctx context.Context, mediaID string, detections map[string]float64) (*datastore.Media, datastore.TagDelta, error) {
	start := time.Now()

	record, delta, err := s.store.ApplyDetections(ctx, mediaID, detections)
	if err != nil {
		s.recordOperation("apply_detections", start, err)
		return nil, nil, err
	}

	s.recordOperation("apply_detections", start, nil)
	if s.metrics != nil {
		s.metrics.RecordDetectionBatchSize(len(detections))
	}

	if len(delta) > 0 {
		s.publishDetection(record, delta)
	}

	return record, delta, nil
}

// publishDetection puts a committed tag mutation on the event bus.
func (s *Service) publishDetection(record *datastore.Media, delta datastore.TagDelta) {
	if s.bus == nil {
		return
	}

	thumbnailRef := ""
	if record.ThumbnailRef != nil {
		thumbnailRef = *record.ThumbnailRef
	}

	event := &events.DetectionEvent{
		MediaID:      record.ID,
		FileType:     record.FileType,
		StorageRef:   record.StorageRef,
		ThumbnailRef: thumbnailRef,
		Tags:         record.TagMap(),
		Delta:        map[string]float64(delta),
		Timestamp:    time.Now(),
	}

	if !s.bus.TryPublish(event) {
		s.logger.Warn("detection event not accepted by bus",
			"media_id", record.ID,
			"changed_tags", len(delta),
		)
	}
}

// Get retrieves a media record by id.
func (s *Service) Get(ctx context.Context, mediaID string) (*datastore.Media, error) {
	return s.store.GetMedia(ctx, mediaID)
}

// GetByStorageRef retrieves a media record by its storage reference.
func (s *Service) GetByStorageRef(ctx context.Context, storageRef string) (*datastore.Media, error) {
	return s.store.GetMediaByStorageRef(ctx, storageRef)
}

// Delete removes a media record and its index entries. Idempotent.
func (s *Service) Delete(ctx context.Context, mediaID string) error {
	start := time.Now()
	err := s.store.DeleteMedia(ctx, mediaID)
	s.recordOperation("delete", start, err)
	return err
}

// DeleteByStorageRef resolves a storage reference to its media record and
// deletes it. Unknown references are a no-op success, matching Delete's
// retry-friendly idempotence.
func (s *Service) DeleteByStorageRef(ctx context.Context, storageRef string) error {
	record, err := s.store.GetMediaByStorageRef(ctx, storageRef)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return err
	}
	return s.Delete(ctx, record.ID)
}

// SetThumbnail records the generated thumbnail reference. Idempotent
// overwrite.
func (s *Service) SetThumbnail(ctx context.Context, mediaID, thumbnailRef string) error {
	start := time.Now()
	err := s.store.SetThumbnail(ctx, mediaID, thumbnailRef)
	s.recordOperation("set_thumbnail", start, err)
	return err
}

// ModifyTags applies a manual bulk tag change to many media records. Manual
// curation does not trigger notifications; only detection ingestion does.
func (s *Service) ModifyTags(ctx context.Context, mediaIDs []string, tags map[string]float64, op datastore.TagOp) error {
	start := time.Now()
	err := s.store.ModifyTags(ctx, mediaIDs, tags, op)
	s.recordOperation("modify_tags", start, err)
	return err
}

// recordOperation updates the operation counters and duration histogram.
func (s *Service) recordOperation(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordOperation(op, status)
	s.metrics.RecordOperationDuration(op, time.Since(start).Seconds())
}
