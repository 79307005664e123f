package datastore

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/tphakala/birdtag/internal/conf"
	"github.com/tphakala/birdtag/internal/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// errAnotherInstance signals that the SQLite file is owned by another process.
var errAnotherInstance = errors.NewStd("database is locked by another process")

// SQLiteStore implements DataStore for SQLite
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
	lock     *flock.Flock
}

func validateSQLiteConfig(settings *conf.Settings) error {
	if settings.Output.SQLite.Path == "" {
		return validationError("sqlite path must not be empty", "output.sqlite.path", "")
	}
	return nil
}

// Open sets up the SQLite database connection. A lock file beside the
// database enforces single-process access; SQLite handles concurrent writers
// from separate processes poorly and the per-key writer discipline assumes
// one process owns the file.
func (store *SQLiteStore) Open() error {
	if err := validateSQLiteConfig(store.Settings); err != nil {
		return err
	}

	dbPath := store.Settings.Output.SQLite.Path
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return stateError(err, "open", "directory", "path", dir)
		}
	}

	store.lock = flock.New(dbPath + ".lock")
	locked, err := store.lock.TryLock()
	if err != nil {
		return stateError(err, "open", "file_lock", "path", store.lock.Path())
	}
	if !locked {
		return stateError(
			errAnotherInstance, "open", "file_lock",
			"path", store.lock.Path())
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_busy_timeout=5000&_journal_mode=WAL"), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		_ = store.lock.Unlock()
		return dbError(err, "open", "", "db_type", "SQLite", "path", dbPath)
	}

	store.DB = db
	if err := performAutoMigration(db, store.Settings.Debug, "SQLite", dbPath); err != nil {
		_ = store.lock.Unlock()
		return err
	}
	return nil
}

// Close releases the database connection and the process lock file.
func (store *SQLiteStore) Close() error {
	var firstErr error

	if store.DB != nil {
		if sqlDB, err := store.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				firstErr = dbError(err, "close", "", "db_type", "SQLite")
			}
		}
	}

	if store.lock != nil {
		if err := store.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = stateError(err, "close", "file_lock", "path", store.lock.Path())
		}
	}

	return firstErr
}
