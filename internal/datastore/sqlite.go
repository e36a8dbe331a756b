package datastore

import (
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/logger"
)

// SQLiteStore implements Interface for SQLite
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// Open opens the SQLite database, creating its directory when needed
func (store *SQLiteStore) Open() error {
	dir, fileName := filepath.Split(store.Settings.Output.SQLite.Path)
	basePath := conf.GetBasePath(dir)
	absoluteFilePath := filepath.Join(basePath, fileName)

	db, err := gorm.Open(sqlite.Open(absoluteFilePath+"?_busy_timeout=5000&_journal_mode=WAL"), &gorm.Config{
		Logger: createGormLogger(),
	})
	if err != nil {
		GetLogger().Error("failed to open SQLite database",
			logger.String("path", absoluteFilePath),
			logger.Error(err))
		return dbError("open", err)
	}

	// SQLite serialises writers, a single connection avoids lock contention
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	return store.attach(db, store.Settings.Debug, "SQLite", absoluteFilePath)
}

// Close closes the SQLite database
func (store *SQLiteStore) Close() error {
	return store.closeDB()
}
