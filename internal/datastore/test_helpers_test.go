package datastore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/birdtag/internal/conf"
)

// testSettings returns settings pointing at a temp SQLite database.
func testSettings(t *testing.T, dbPath string) *conf.Settings {
	t.Helper()
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = dbPath
	return settings
}

// createTestStore opens a SQLite-backed store in a temp directory and closes
// it when the test finishes.
func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "birdtag-test.db")
	store := &SQLiteStore{Settings: testSettings(t, dbPath)}
	require.NoError(t, store.Open(), "opening test store")

	t.Cleanup(func() {
		require.NoError(t, store.Close(), "closing test store")
	})

	return store
}

// createTestMedia persists a media record with the given file type and
// returns it.
func createTestMedia(t *testing.T, store *SQLiteStore, fileType string) *Media {
	t.Helper()

	media := &Media{
		ID:         uuid.New().String(),
		FileType:   fileType,
		StorageRef: "s3://birdtag-media/" + uuid.New().String(),
	}
	require.NoError(t, store.CreateMedia(context.Background(), media))
	return media
}

// createTestSubscription persists a subscription and returns it.
func createTestSubscription(t *testing.T, store *SQLiteStore, ownerID, tagName string, minConfidence float64) *Subscription {
	t.Helper()

	sub := &Subscription{
		ID:            uuid.New().String(),
		OwnerID:       ownerID,
		TagName:       NormalizeTag(tagName),
		MinConfidence: minConfidence,
	}
	require.NoError(t, store.SaveSubscription(context.Background(), sub))
	return sub
}
