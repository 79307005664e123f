// media.go: metadata store operations for media records and their tag index
package datastore

import (
	"context"
	"strings"
	"time"

	"github.com/tphakala/birdtag/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// isConstraintViolation checks if an error indicates a unique constraint hit
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "unique") ||
		strings.Contains(errStr, "duplicate entry") ||
		strings.Contains(errStr, "constraint")
}

// validateDetections checks a detection batch before any write happens.
// Returns the batch with normalized tag names, or a validation error.
func validateDetections(detections map[string]float64) (map[string]float64, error) {
	normalized := make(map[string]float64, len(detections))
	for name, confidence := range detections {
		tag := NormalizeTag(name)
		if tag == "" {
			return nil, validationError("tag name must not be empty", "tag_name", name)
		}
		if confidence < 0 || confidence > 1 {
			return nil, validationError("confidence must be within [0,1]", tag, confidence)
		}
		normalized[tag] = confidence
	}
	return normalized, nil
}

// CreateMedia persists a new media record with an empty tag set.
func (ds *DataStore) CreateMedia(ctx context.Context, media *Media) error {
	if !ValidFileType(media.FileType) {
		return validationError("unknown file type", "file_type", media.FileType)
	}
	if media.ID == "" {
		return validationError("media id must not be empty", "id", "")
	}
	if media.StorageRef == "" {
		return validationError("storage ref must not be empty", "storage_ref", "")
	}

	now := time.Now()
	media.CreatedAt = now
	media.UpdatedAt = now
	media.Version = 1

	if err := ds.DB.WithContext(ctx).Create(media).Error; err != nil {
		if isConstraintViolation(err) {
			return errors.New(err).
				Component("datastore").
				Category(errors.CategoryConflict).
				Context("operation", "create_media").
				Context("storage_ref", media.StorageRef).
				Build()
		}
		return dbError(err, "create_media", "", "media_id", media.ID)
	}
	return nil
}

// GetMedia retrieves a media record, tags included, by its id.
func (ds *DataStore) GetMedia(ctx context.Context, id string) (*Media, error) {
	var media Media
	err := ds.DB.WithContext(ctx).Preload("Tags").First(&media, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError("media", id)
	}
	if err != nil {
		return nil, dbError(err, "get_media", "", "media_id", id)
	}
	return &media, nil
}

// GetMediaBatch retrieves many media records, tags included, in one query.
// Unknown ids are silently absent from the result; the query engine resolves
// candidate id sets that may race with deletes.
func (ds *DataStore) GetMediaBatch(ctx context.Context, ids []string) ([]Media, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var media []Media
	err := ds.DB.WithContext(ctx).Preload("Tags").Where("id IN ?", ids).Find(&media).Error
	if err != nil {
		return nil, dbError(err, "get_media_batch", "", "count", len(ids))
	}
	return media, nil
}

// MediaByFileType lists media records of one file type in ascending id
// order, resuming strictly past afterID. It backs filter-only queries that
// carry no tag predicate.
func (ds *DataStore) MediaByFileType(ctx context.Context, fileType, afterID string, limit int) ([]Media, error) {
	if !ValidFileType(fileType) {
		return nil, validationError("unknown file type", "file_type", fileType)
	}

	query := ds.DB.WithContext(ctx).Preload("Tags").Where("file_type = ?", fileType)
	if afterID != "" {
		query = query.Where("id > ?", afterID)
	}
	query = query.Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var media []Media
	if err := query.Find(&media).Error; err != nil {
		return nil, dbError(err, "media_by_file_type", "", "file_type", fileType)
	}
	return media, nil
}

// GetMediaByStorageRef retrieves a media record by its storage reference.
func (ds *DataStore) GetMediaByStorageRef(ctx context.Context, storageRef string) (*Media, error) {
	var media Media
	err := ds.DB.WithContext(ctx).Preload("Tags").First(&media, "storage_ref = ?", storageRef).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError("media", storageRef)
	}
	if err != nil {
		return nil, dbError(err, "get_media_by_storage_ref", "", "storage_ref", storageRef)
	}
	return &media, nil
}

// DeleteMedia removes a media record and all of its tag index rows.
// Idempotent: deleting an unknown id is a no-op success so boundary retries
// stay simple.
func (ds *DataStore) DeleteMedia(ctx context.Context, id string) error {
	unlock := ds.locks.Lock(id)
	defer unlock()

	err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("media_id = ?", id).Delete(&MediaTag{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Media{}, "id = ?", id).Error
	})
	if err != nil {
		return dbError(err, "delete_media", "", "media_id", id)
	}
	return nil
}

// SetThumbnail records the generated thumbnail reference for a media item.
// Overwrites are idempotent; the record's tag state is untouched.
func (ds *DataStore) SetThumbnail(ctx context.Context, id, thumbnailRef string) error {
	if thumbnailRef == "" {
		return validationError("thumbnail ref must not be empty", "thumbnail_ref", "")
	}

	unlock := ds.locks.Lock(id)
	defer unlock()

	result := ds.DB.WithContext(ctx).Model(&Media{}).
		Where("id = ?", id).
		Update("thumbnail_ref", thumbnailRef)
	if result.Error != nil {
		return dbError(result.Error, "set_thumbnail", "", "media_id", id)
	}
	if result.RowsAffected == 0 {
		return notFoundError("media", id)
	}
	return nil
}

// ApplyDetections merges a detection batch into a media record's tag set and
// the tag index in one transaction. Only the named tags change: new species
// are added, re-detected species overwrite their previous confidence. The
// returned record reflects the post-update state and the delta lists exactly
// the tags that are new or revised, so the caller can match subscriptions
// without a second read.
//
// The per-key lock serializes in-process writers; the version check catches
// writers from other processes. Either a fully merged state is persisted or
// the call fails with no change.
func (ds *DataStore) ApplyDetections(ctx context.Context, id string, detections map[string]float64) (*Media, TagDelta, error) {
	normalized, err := validateDetections(detections)
	if err != nil {
		return nil, nil, err
	}

	unlock := ds.locks.Lock(id)
	defer unlock()

	var media Media
	delta := TagDelta{}

	err = ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Tags").First(&media, "id = ?", id).Error; err != nil {
			return err
		}

		existing := media.TagMap()
		now := time.Now()

		for tag, confidence := range normalized {
			if old, ok := existing[tag]; ok && old == confidence {
				continue
			}
			delta[tag] = confidence
		}

		if len(delta) == 0 {
			// Nothing changed; skip the version bump so replayed batches stay
			// cheap and do not invalidate concurrent readers
			return nil
		}

		rows := make([]MediaTag, 0, len(delta))
		for tag, confidence := range delta {
			rows = append(rows, MediaTag{
				MediaID:    media.ID,
				TagName:    tag,
				FileType:   media.FileType,
				Confidence: confidence,
			})
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "media_id"}, {Name: "tag_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"confidence"}),
		}).Create(&rows).Error; err != nil {
			return err
		}

		result := tx.Model(&Media{}).
			Where("id = ? AND version = ?", media.ID, media.Version).
			Updates(map[string]any{
				"updated_at": now,
				"version":    media.Version + 1,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errConcurrentUpdate
		}

		media.UpdatedAt = now
		media.Version++
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil, notFoundError("media", id)
	case errors.Is(err, errConcurrentUpdate):
		return nil, nil, conflictError("apply_detections", "media", id)
	default:
		return nil, nil, dbError(err, "apply_detections", errors.PriorityHigh, "media_id", id)
	}

	// Rebuild the in-memory tag list to the merged state
	merged := media.TagMap()
	for tag, confidence := range delta {
		merged[tag] = confidence
	}
	media.Tags = media.Tags[:0]
	for tag, confidence := range merged {
		media.Tags = append(media.Tags, MediaTag{
			MediaID:    media.ID,
			TagName:    tag,
			FileType:   media.FileType,
			Confidence: confidence,
		})
	}

	return &media, delta, nil
}

// errConcurrentUpdate marks a lost optimistic-concurrency race inside a
// transaction; it is translated to a conflict error at the boundary.
var errConcurrentUpdate = errors.NewStd("concurrent update lost version race")

// ModifyTags applies a manual bulk tag change to many media records. TagOpAdd
// merges the given tags into each record, keeping the higher confidence when
// a species is already present; TagOpRemove deletes the named species. Each
// media item is updated atomically on its own; a missing id fails that item
// and stops the batch.
func (ds *DataStore) ModifyTags(ctx context.Context, ids []string, tags map[string]float64, op TagOp) error {
	if len(ids) == 0 {
		return validationError("media id list must not be empty", "ids", ids)
	}
	if len(tags) == 0 {
		return validationError("tag set must not be empty", "tags", tags)
	}

	var normalized map[string]float64
	var err error
	switch op {
	case TagOpAdd:
		if normalized, err = validateDetections(tags); err != nil {
			return err
		}
	case TagOpRemove:
		normalized = make(map[string]float64, len(tags))
		for name := range tags {
			tag := NormalizeTag(name)
			if tag == "" {
				return validationError("tag name must not be empty", "tag_name", name)
			}
			normalized[tag] = 0
		}
	default:
		return validationError("unknown tag operation", "op", string(op))
	}

	for _, id := range ids {
		if err := ds.modifyTagsOne(ctx, id, normalized, op); err != nil {
			return err
		}
	}
	return nil
}

// modifyTagsOne applies a bulk tag change to a single media record under its
// writer lock.
func (ds *DataStore) modifyTagsOne(ctx context.Context, id string, tags map[string]float64, op TagOp) error {
	unlock := ds.locks.Lock(id)
	defer unlock()

	err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var media Media
		if err := tx.Preload("Tags").First(&media, "id = ?", id).Error; err != nil {
			return err
		}

		existing := media.TagMap()
		changed := false

		switch op {
		case TagOpAdd:
			rows := make([]MediaTag, 0, len(tags))
			for tag, confidence := range tags {
				if old, ok := existing[tag]; ok && old >= confidence {
					continue
				}
				rows = append(rows, MediaTag{
					MediaID:    media.ID,
					TagName:    tag,
					FileType:   media.FileType,
					Confidence: confidence,
				})
			}
			if len(rows) > 0 {
				changed = true
				if err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "media_id"}, {Name: "tag_name"}},
					DoUpdates: clause.AssignmentColumns([]string{"confidence"}),
				}).Create(&rows).Error; err != nil {
					return err
				}
			}

		case TagOpRemove:
			names := make([]string, 0, len(tags))
			for tag := range tags {
				if _, ok := existing[tag]; ok {
					names = append(names, tag)
				}
			}
			if len(names) > 0 {
				changed = true
				if err := tx.Where("media_id = ? AND tag_name IN ?", id, names).
					Delete(&MediaTag{}).Error; err != nil {
					return err
				}
			}
		}

		if !changed {
			return nil
		}

		result := tx.Model(&Media{}).
			Where("id = ? AND version = ?", media.ID, media.Version).
			Updates(map[string]any{
				"updated_at": time.Now(),
				"version":    media.Version + 1,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errConcurrentUpdate
		}
		return nil
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFoundError("media", id)
	case errors.Is(err, errConcurrentUpdate):
		return conflictError("modify_tags", "media", id)
	default:
		return dbError(err, "modify_tags", "", "media_id", id)
	}
}
