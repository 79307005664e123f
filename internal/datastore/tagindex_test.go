package datastore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagScanOrderingAndThreshold(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	ctx := context.Background()

	confidences := []float64{0.3, 0.9, 0.6, 0.75}
	for _, c := range confidences {
		media := createTestMedia(t, store, FileTypeImage)
		_, _, err := store.ApplyDetections(ctx, media.ID, map[string]float64{"crow": c})
		require.NoError(t, err)
	}

	rows, err := store.TagScan(ctx, &TagScanRequest{TagName: "crow", MinConfidence: 0.5, Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 3, "0.3 falls below the threshold")

	assert.InDelta(t, 0.9, rows[0].Confidence, 1e-9)
	assert.InDelta(t, 0.75, rows[1].Confidence, 1e-9)
	assert.InDelta(t, 0.6, rows[2].Confidence, 1e-9)
}

func TestTagScanThresholdIsInclusive(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	ctx := context.Background()

	media := createTestMedia(t, store, FileTypeImage)
	_, _, err := store.ApplyDetections(ctx, media.ID, map[string]float64{"crow": 0.5})
	require.NoError(t, err)

	rows, err := store.TagScan(ctx, &TagScanRequest{TagName: "crow", MinConfidence: 0.5, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, rows, 1, "confidence equal to the threshold matches")
}

func TestTagScanFileTypeFilter(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	ctx := context.Background()

	image := createTestMedia(t, store, FileTypeImage)
	audio := createTestMedia(t, store, FileTypeAudio)
	for _, id := range []string{image.ID, audio.ID} {
		_, _, err := store.ApplyDetections(ctx, id, map[string]float64{"owl": 0.8})
		require.NoError(t, err)
	}

	rows, err := store.TagScan(ctx, &TagScanRequest{TagName: "owl", FileType: FileTypeAudio, Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, audio.ID, rows[0].MediaID)
}

func TestTagScanCursorResumesWithoutSkipsOrDuplicates(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	ctx := context.Background()

	const total = 25
	for i := 0; i < total; i++ {
		media := createTestMedia(t, store, FileTypeImage)
		_, _, err := store.ApplyDetections(ctx, media.ID, map[string]float64{"eagle": 0.99})
		require.NoError(t, err)
	}

	seen := make(map[string]bool, total)
	req := &TagScanRequest{TagName: "eagle", Limit: 10}
	pages := 0

	for {
		rows, err := store.TagScan(ctx, req)
		require.NoError(t, err)
		if len(rows) == 0 {
			break
		}
		pages++
		for _, row := range rows {
			assert.False(t, seen[row.MediaID], "media %s returned twice", row.MediaID)
			seen[row.MediaID] = true
		}
		last := rows[len(rows)-1]
		req.AfterCursor = true
		req.AfterConfidence = last.Confidence
		req.AfterMediaID = last.MediaID
	}

	assert.Equal(t, 3, pages)
	assert.Len(t, seen, total, "every row appears exactly once across pages")
}

func TestTagScanIsCaseInsensitive(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	ctx := context.Background()

	media := createTestMedia(t, store, FileTypeImage)
	_, _, err := store.ApplyDetections(ctx, media.ID, map[string]float64{"Great Horned Owl": 0.8})
	require.NoError(t, err)

	rows, err := store.TagScan(ctx, &TagScanRequest{TagName: "GREAT HORNED OWL", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCountTag(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	ctx := context.Background()

	for _, c := range []float64{0.2, 0.6, 0.9} {
		media := createTestMedia(t, store, FileTypeImage)
		_, _, err := store.ApplyDetections(ctx, media.ID, map[string]float64{"crow": c})
		require.NoError(t, err)
	}

	count, err := store.CountTag(ctx, "crow", "", 0.5)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	count, err = store.CountTag(ctx, "crow", FileTypeAudio, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestGetTagConfidence(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	ctx := context.Background()

	media := createTestMedia(t, store, FileTypeImage)
	_, _, err := store.ApplyDetections(ctx, media.ID, map[string]float64{"crow": 0.8})
	require.NoError(t, err)

	confidence, found, err := store.GetTagConfidence(ctx, media.ID, "crow")
	require.NoError(t, err)
	assert.True(t, found)
	assert.InDelta(t, 0.8, confidence, 1e-9)

	_, found, err = store.GetTagConfidence(ctx, media.ID, "eagle")
	require.NoError(t, err)
	assert.False(t, found)
}
