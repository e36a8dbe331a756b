package datastore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/logger"
)

// MySQLStore implements Interface for MySQL
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

func mysqlDSN(settings *conf.MySQLSettings) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		settings.Username, settings.Password,
		settings.Host, settings.Port,
		settings.Database)
}

// Open connects to the MySQL database
func (store *MySQLStore) Open() error {
	cfg := &store.Settings.Output.MySQL

	db, err := gorm.Open(mysql.Open(mysqlDSN(cfg)), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		GetLogger().Error("failed to open MySQL database",
			logger.String("host", cfg.Host),
			logger.String("port", cfg.Port),
			logger.String("database", cfg.Database),
			logger.Error(err))
		return dbError("open", err)
	}

	// the connection info is logged without credentials
	return store.attach(db, store.Settings.Debug, "MySQL", fmt.Sprintf("%s:%s/%s", cfg.Host, cfg.Port, cfg.Database))
}

// Close closes the MySQL database
func (store *MySQLStore) Close() error {
	return store.closeDB()
}
