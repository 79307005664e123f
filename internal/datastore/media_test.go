package datastore

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/birdtag/internal/errors"
)

func TestCreateMediaValidation(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	ctx := context.Background()

	err := store.CreateMedia(ctx, &Media{
		ID:         uuid.New().String(),
		FileType:   "document",
		StorageRef: "s3://birdtag-media/x",
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err), "unknown file type should be a validation error")

	err = store.CreateMedia(ctx, &Media{
		ID:       uuid.New().String(),
		FileType: FileTypeImage,
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err), "empty storage ref should be a validation error")
}

func TestCreateAndGetMedia(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	ctx := context.Background()

	media := createTestMedia(t, store, FileTypeImage)

	got, err := store.GetMedia(ctx, media.ID)
	require.NoError(t, err)
	assert.Equal(t, media.ID, got.ID)
	assert.Equal(t, FileTypeImage, got.FileType)
	assert.Equal(t, media.StorageRef, got.StorageRef)
	assert.Nil(t, got.ThumbnailRef)
	assert.Empty(t, got.Tags, "new media should have an empty tag set")
	assert.EqualValues(t, 1, got.Version)
}

func TestGetMediaNotFound(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)

	_, err := store.GetMedia(context.Background(), "no-such-id")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestGetMediaByStorageRef(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	ctx := context.Background()

	media := createTestMedia(t, store, FileTypeVideo)

	got, err := store.GetMediaByStorageRef(ctx, media.StorageRef)
	require.NoError(t, err)
	assert.Equal(t, media.ID, got.ID)

	_, err = store.GetMediaByStorageRef(ctx, "s3://birdtag-media/unknown")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestDeleteMediaIsIdempotent(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	ctx := context.Background()

	media := createTestMedia(t, store, FileTypeAudio)
	_, _, err := store.ApplyDetections(ctx, media.ID, map[string]float64{"crow": 0.8})
	require.NoError(t, err)

	require.NoError(t, store.DeleteMedia(ctx, media.ID))

	_, err = store.GetMedia(ctx, media.ID)
	assert.True(t, errors.IsNotFound(err))

	// Tag index rows must be gone too
	rows, err := store.TagScan(ctx, &TagScanRequest{TagName: "crow", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Second delete of the same id is a no-op success
	require.NoError(t, store.DeleteMedia(ctx, media.ID))
}

func TestSetThumbnail(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	ctx := context.Background()

	media := createTestMedia(t, store, FileTypeImage)

	require.NoError(t, store.SetThumbnail(ctx, media.ID, "s3://birdtag-thumbs/a.jpg"))
	// Overwrite is idempotent
	require.NoError(t, store.SetThumbnail(ctx, media.ID, "s3://birdtag-thumbs/a.jpg"))

	got, err := store.GetMedia(ctx, media.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ThumbnailRef)
	assert.Equal(t, "s3://birdtag-thumbs/a.jpg", *got.ThumbnailRef)

	err = store.SetThumbnail(ctx, "no-such-id", "s3://birdtag-thumbs/b.jpg")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestApplyDetectionsRejectsOutOfRangeConfidence(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	ctx := context.Background()

	media := createTestMedia(t, store, FileTypeImage)

	for _, confidence := range []float64{-0.1, 1.1, 42} {
		_, _, err := store.ApplyDetections(ctx, media.ID, map[string]float64{"crow": confidence})
		require.Error(t, err, "confidence %v", confidence)
		assert.True(t, errors.IsValidation(err))
	}

	// No state change after the rejected calls
	got, err := store.GetMedia(ctx, media.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Tags)
	assert.EqualValues(t, 1, got.Version)
}

func TestApplyDetectionsUnknownMedia(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)

	_, _, err := store.ApplyDetections(context.Background(), "no-such-id", map[string]float64{"crow": 0.5})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestApplyDetectionsMergesAndReportsDelta(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	ctx := context.Background()

	media := createTestMedia(t, store, FileTypeImage)

	updated, delta, err := store.ApplyDetections(ctx, media.ID, map[string]float64{
		"Crow":  0.8,
		"eagle": 0.4,
	})
	require.NoError(t, err)
	assert.Equal(t, TagDelta{"crow": 0.8, "eagle": 0.4}, delta, "tag names are case folded")
	assert.Equal(t, map[string]float64{"crow": 0.8, "eagle": 0.4}, updated.TagMap())

	// Partial update: only the named tag changes, the other entry survives
	updated, delta, err = store.ApplyDetections(ctx, media.ID, map[string]float64{"crow": 0.95})
	require.NoError(t, err)
	assert.Equal(t, TagDelta{"crow": 0.95}, delta)
	assert.Equal(t, map[string]float64{"crow": 0.95, "eagle": 0.4}, updated.TagMap())

	// Re-processing with identical confidences is a no-op with an empty delta
	_, delta, err = store.ApplyDetections(ctx, media.ID, map[string]float64{"crow": 0.95})
	require.NoError(t, err)
	assert.Empty(t, delta)

	// The stored record matches and the tag index has one row per species
	got, err := store.GetMedia(ctx, media.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"crow": 0.95, "eagle": 0.4}, got.TagMap())

	rows, err := store.TagScan(ctx, &TagScanRequest{TagName: "crow", Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 0.95, rows[0].Confidence, 1e-9)
}

func TestApplyDetectionsBumpsUpdatedAtAndVersion(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	ctx := context.Background()

	media := createTestMedia(t, store, FileTypeAudio)

	updated, _, err := store.ApplyDetections(ctx, media.ID, map[string]float64{"owl": 0.7})
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated.Version)
	assert.True(t, updated.UpdatedAt.After(media.CreatedAt) || updated.UpdatedAt.Equal(media.CreatedAt))
	assert.Equal(t, media.CreatedAt.Unix(), updated.CreatedAt.Unix(), "createdAt is immutable")
}

func TestConcurrentApplyDetectionsNeverPartiallyMerges(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	ctx := context.Background()

	media := createTestMedia(t, store, FileTypeVideo)

	const writers = 8
	var wg sync.WaitGroup
	conflicts := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			batch := map[string]float64{
				"crow":  float64(n+1) / 10,
				"eagle": float64(n+1) / 20,
			}
			_, _, err := store.ApplyDetections(ctx, media.ID, batch)
			conflicts[n] = err
		}(i)
	}
	wg.Wait()

	for _, err := range conflicts {
		if err != nil {
			assert.True(t, errors.IsConflict(err), "only conflict errors are acceptable: %v", err)
		}
	}

	// The final record must reflect one writer's full batch: both entries
	// from the same call, never a partial mix
	got, err := store.GetMedia(ctx, media.ID)
	require.NoError(t, err)
	tags := got.TagMap()
	require.Len(t, tags, 2)

	matched := false
	for n := 0; n < writers; n++ {
		if tags["crow"] == float64(n+1)/10 && tags["eagle"] == float64(n+1)/20 {
			matched = true
			break
		}
	}
	assert.True(t, matched, "tags %v do not correspond to any single writer's batch", tags)
}

func TestModifyTagsAddKeepsHigherConfidence(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	ctx := context.Background()

	first := createTestMedia(t, store, FileTypeImage)
	second := createTestMedia(t, store, FileTypeImage)

	_, _, err := store.ApplyDetections(ctx, first.ID, map[string]float64{"crow": 0.9})
	require.NoError(t, err)

	err = store.ModifyTags(ctx, []string{first.ID, second.ID}, map[string]float64{"crow": 0.5}, TagOpAdd)
	require.NoError(t, err)

	got, err := store.GetMedia(ctx, first.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, got.TagMap()["crow"], 1e-9, "existing higher confidence wins")

	got, err = store.GetMedia(ctx, second.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got.TagMap()["crow"], 1e-9)
}

func TestModifyTagsRemove(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	ctx := context.Background()

	media := createTestMedia(t, store, FileTypeImage)
	_, _, err := store.ApplyDetections(ctx, media.ID, map[string]float64{"crow": 0.9, "eagle": 0.4})
	require.NoError(t, err)

	err = store.ModifyTags(ctx, []string{media.ID}, map[string]float64{"crow": 0}, TagOpRemove)
	require.NoError(t, err)

	got, err := store.GetMedia(ctx, media.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"eagle": 0.4}, got.TagMap())

	// Removing an absent tag is a no-op
	err = store.ModifyTags(ctx, []string{media.ID}, map[string]float64{"heron": 0}, TagOpRemove)
	require.NoError(t, err)
}

func TestModifyTagsUnknownMedia(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)

	err := store.ModifyTags(context.Background(), []string{"no-such-id"}, map[string]float64{"crow": 0.5}, TagOpAdd)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}
