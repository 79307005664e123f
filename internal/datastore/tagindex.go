// tagindex.go: range scans over the derived tag index
package datastore

import (
	"context"

	"github.com/tphakala/birdtag/internal/errors"
	"gorm.io/gorm"
)

// TagScan returns one batch of a descending-confidence range scan over the
// tag index. Ordering is (confidence DESC, media_id ASC) so ties break
// deterministically; a cursor resumes strictly past the last-seen position.
// Each call reads the current index state, there is no persistent cursor
// server-side.
func (ds *DataStore) TagScan(ctx context.Context, req *TagScanRequest) ([]TagScanRow, error) {
	if req.TagName == "" {
		return nil, validationError("tag name must not be empty", "tag_name", "")
	}
	if req.FileType != "" && !ValidFileType(req.FileType) {
		return nil, validationError("unknown file type", "file_type", req.FileType)
	}

	query := ds.DB.WithContext(ctx).Model(&MediaTag{}).
		Select("media_id", "confidence").
		Where("tag_name = ? AND confidence >= ?", NormalizeTag(req.TagName), req.MinConfidence)

	if req.FileType != "" {
		query = query.Where("file_type = ?", req.FileType)
	}

	if req.AfterCursor {
		query = query.Where(
			"confidence < ? OR (confidence = ? AND media_id > ?)",
			req.AfterConfidence, req.AfterConfidence, req.AfterMediaID)
	}

	query = query.Order("confidence DESC").Order("media_id ASC")
	if req.Limit > 0 {
		query = query.Limit(req.Limit)
	}

	var rows []TagScanRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, dbError(err, "tag_scan", "", "tag_name", req.TagName)
	}
	return rows, nil
}

// CountTag estimates a predicate's selectivity: the number of index rows for
// the tag at or above the confidence threshold. The query engine orders
// intersection work smallest set first with this.
func (ds *DataStore) CountTag(ctx context.Context, tagName, fileType string, minConfidence float64) (int64, error) {
	query := ds.DB.WithContext(ctx).Model(&MediaTag{}).
		Where("tag_name = ? AND confidence >= ?", NormalizeTag(tagName), minConfidence)
	if fileType != "" {
		query = query.Where("file_type = ?", fileType)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, dbError(err, "count_tag", "", "tag_name", tagName)
	}
	return count, nil
}

// GetTagConfidence probes a single (media, tag) index entry. The second
// return value is false when the media item does not carry the tag.
func (ds *DataStore) GetTagConfidence(ctx context.Context, mediaID, tagName string) (float64, bool, error) {
	var row MediaTag
	err := ds.DB.WithContext(ctx).
		Select("confidence").
		Where("media_id = ? AND tag_name = ?", mediaID, NormalizeTag(tagName)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, dbError(err, "get_tag_confidence", "", "media_id", mediaID, "tag_name", tagName)
	}
	return row.Confidence, true, nil
}
