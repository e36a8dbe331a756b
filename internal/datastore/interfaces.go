// Package datastore persists detection events through gorm. SQLite is the
// default backend, MySQL is optional.
package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/logger"
	"github.com/tphakala/coughdetect/internal/observability/metrics"
)

// DefaultSnapshotLimit caps the number of records sent to subscribers.
const DefaultSnapshotLimit = 500

// bulkChunkSize keeps IN clauses below the SQLite variable limit.
const bulkChunkSize = 500

// DefaultSlowQueryThreshold is the duration above which queries are logged as slow.
const DefaultSlowQueryThreshold = 200 * time.Millisecond

// ErrRecordNotFound is returned when a record id does not exist.
var ErrRecordNotFound = errors.NewStd("record not found")

// Interface describes the record store used by the recorder, the API and the CLI.
type Interface interface {
	Open() error
	Close() error

	Insert(ctx context.Context, record *EventRecord) (uint, error)
	Delete(ctx context.Context, id uint) error
	BulkClearPaths(ctx context.Context, paths []string) (int64, error)
	Count(ctx context.Context) (int64, error)
	AverageConfidence(ctx context.Context) (*float64, error)
	Subscribe(ctx context.Context) (<-chan []EventRecord, error)

	GetByID(ctx context.Context, id uint) (*EventRecord, error)
	List(ctx context.Context, limit, offset int) ([]EventRecord, error)
	CountInRange(ctx context.Context, from, to time.Time) (int64, error)
	ListInRange(ctx context.Context, from, to time.Time) ([]EventRecord, error)
	ListWithMinConfidence(ctx context.Context, minConfidence float64) ([]EventRecord, error)
	MaxConfidence(ctx context.Context) (*float64, error)
	TopByConfidence(ctx context.Context, limit int) ([]EventRecord, error)
	DeleteAll(ctx context.Context) (int64, error)
	GetStats(ctx context.Context) (*Stats, error)

	SetMetrics(m *metrics.DatastoreMetrics)
}

// DataStore implements Interface on top of an open gorm connection. The
// backend specific stores embed it and provide Open.
type DataStore struct {
	DB            *gorm.DB
	SnapshotLimit int

	metrics *metrics.DatastoreMetrics

	subMu     sync.Mutex
	subs      map[uint64]chan []EventRecord
	nextSubID uint64
	done      chan struct{}
	closeOnce sync.Once
}

// New returns the store selected in settings. SQLite wins when both are
// enabled; validation rejects that combination earlier.
func New(settings *conf.Settings) (Interface, error) {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}, nil
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}, nil
	default:
		return nil, errors.Newf("no database backend enabled").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// SetMetrics attaches datastore metrics
func (ds *DataStore) SetMetrics(m *metrics.DatastoreMetrics) {
	ds.metrics = m
}

// attach wires an opened connection and migrates the schema
func (ds *DataStore) attach(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := performAutoMigration(db, debug, dbType, connectionInfo); err != nil {
		return err
	}
	ds.DB = db
	ds.done = make(chan struct{})
	ds.closeOnce = sync.Once{}
	if ds.SnapshotLimit <= 0 {
		ds.SnapshotLimit = DefaultSnapshotLimit
	}
	return nil
}

// performAutoMigration creates or updates the cough_records table
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return dbError("migrate", fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err))
	}
	if debug {
		GetLogger().Debug("database connection initialized",
			logger.String("type", dbType),
			logger.String("connection", connectionInfo))
	}
	return nil
}

func createGormLogger() *logger.GormLoggerAdapter {
	return logger.NewGormLoggerAdapter(GetLogger(), DefaultSlowQueryThreshold)
}

// closeDB closes subscriptions and the underlying connection pool
func (ds *DataStore) closeDB() error {
	if ds.DB == nil {
		return errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	ds.closeSubscribers()

	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError("close", err)
	}
	if err := sqlDB.Close(); err != nil {
		return dbError("close", err)
	}
	return nil
}

// dbError wraps err with ErrPersistence and database context
func dbError(operation string, err error) error {
	return errors.New(fmt.Errorf("%w: %s: %w", errors.ErrPersistence, operation, err)).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Build()
}

func notFound(id uint) error {
	return errors.New(fmt.Errorf("%w: id %d", ErrRecordNotFound, id)).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Context("record_id", id).
		Build()
}

// observe records operation metrics and returns err unchanged
func (ds *DataStore) observe(operation string, start time.Time, err error) error {
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
		if errors.IsNotFound(err) {
			ds.metrics.RecordDbOperationError(operation, "not_found")
		} else {
			ds.metrics.RecordDbOperationError(operation, "query")
		}
	}
	ds.metrics.RecordDbOperation(operation, status, time.Since(start).Seconds())
	return err
}

func (ds *DataStore) db(ctx context.Context) *gorm.DB {
	return ds.DB.WithContext(ctx)
}

// Insert stores record and returns its id. Missing fields get defaults.
func (ds *DataStore) Insert(ctx context.Context, record *EventRecord) (uint, error) {
	start := time.Now()
	if record.Timestamp.IsZero() {
		record.Timestamp = start
	}
	if record.Extensions == "" {
		record.Extensions = "{}"
	}
	if record.EventType == "" {
		record.EventType = EventUnknown
	}

	if err := ds.db(ctx).Create(record).Error; err != nil {
		return 0, ds.observe("insert", start, dbError("insert", err))
	}
	_ = ds.observe("insert", start, nil)

	ds.afterChange(ctx)
	return record.ID, nil
}

// Delete removes a record by id
func (ds *DataStore) Delete(ctx context.Context, id uint) error {
	start := time.Now()
	result := ds.db(ctx).Delete(&EventRecord{}, id)
	if result.Error != nil {
		return ds.observe("delete", start, dbError("delete", result.Error))
	}
	if result.RowsAffected == 0 {
		return ds.observe("delete", start, notFound(id))
	}
	_ = ds.observe("delete", start, nil)

	ds.afterChange(ctx)
	return nil
}

// BulkClearPaths blanks the audio path of every record referencing one of
// paths and returns the number of rows updated.
func (ds *DataStore) BulkClearPaths(ctx context.Context, paths []string) (int64, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	start := time.Now()

	var cleared int64
	err := ds.db(ctx).Transaction(func(tx *gorm.DB) error {
		for i := 0; i < len(paths); i += bulkChunkSize {
			chunk := paths[i:min(i+bulkChunkSize, len(paths))]
			result := tx.Model(&EventRecord{}).
				Where("audio_file_path IN ?", chunk).
				Update("audio_file_path", "")
			if result.Error != nil {
				return result.Error
			}
			cleared += result.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, ds.observe("bulk_clear_paths", start, dbError("bulk_clear_paths", err))
	}
	_ = ds.observe("bulk_clear_paths", start, nil)

	if cleared > 0 {
		ds.afterChange(ctx)
	}
	return cleared, nil
}

// Count returns the number of stored records
func (ds *DataStore) Count(ctx context.Context) (int64, error) {
	start := time.Now()
	var count int64
	if err := ds.db(ctx).Model(&EventRecord{}).Count(&count).Error; err != nil {
		return 0, ds.observe("count", start, dbError("count", err))
	}
	return count, ds.observe("count", start, nil)
}

// AverageConfidence returns the mean confidence, nil when the store is empty
func (ds *DataStore) AverageConfidence(ctx context.Context) (*float64, error) {
	return ds.aggregateConfidence(ctx, "average_confidence", "AVG(confidence)")
}

// MaxConfidence returns the highest confidence, nil when the store is empty
func (ds *DataStore) MaxConfidence(ctx context.Context) (*float64, error) {
	return ds.aggregateConfidence(ctx, "max_confidence", "MAX(confidence)")
}

func (ds *DataStore) aggregateConfidence(ctx context.Context, operation, expr string) (*float64, error) {
	start := time.Now()
	var value sql.NullFloat64
	if err := ds.db(ctx).Model(&EventRecord{}).Select(expr).Row().Scan(&value); err != nil {
		return nil, ds.observe(operation, start, dbError(operation, err))
	}
	_ = ds.observe(operation, start, nil)
	if !value.Valid {
		return nil, nil
	}
	v := value.Float64
	return &v, nil
}

// GetByID returns one record
func (ds *DataStore) GetByID(ctx context.Context, id uint) (*EventRecord, error) {
	start := time.Now()
	var record EventRecord
	if err := ds.db(ctx).First(&record, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ds.observe("get", start, notFound(id))
		}
		return nil, ds.observe("get", start, dbError("get", err))
	}
	return &record, ds.observe("get", start, nil)
}

// List returns records newest first. A limit <= 0 returns all records.
func (ds *DataStore) List(ctx context.Context, limit, offset int) ([]EventRecord, error) {
	start := time.Now()
	var records []EventRecord
	query := ds.db(ctx).Order("timestamp DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, ds.observe("list", start, dbError("list", err))
	}
	return records, ds.observe("list", start, nil)
}

// CountInRange counts records with from <= timestamp < to
func (ds *DataStore) CountInRange(ctx context.Context, from, to time.Time) (int64, error) {
	start := time.Now()
	var count int64
	err := ds.db(ctx).Model(&EventRecord{}).
		Where("timestamp >= ? AND timestamp < ?", from, to).
		Count(&count).Error
	if err != nil {
		return 0, ds.observe("count_range", start, dbError("count_range", err))
	}
	return count, ds.observe("count_range", start, nil)
}

// ListInRange returns records with from <= timestamp < to, newest first
func (ds *DataStore) ListInRange(ctx context.Context, from, to time.Time) ([]EventRecord, error) {
	start := time.Now()
	var records []EventRecord
	err := ds.db(ctx).
		Where("timestamp >= ? AND timestamp < ?", from, to).
		Order("timestamp DESC").
		Find(&records).Error
	if err != nil {
		return nil, ds.observe("list_range", start, dbError("list_range", err))
	}
	return records, ds.observe("list_range", start, nil)
}

// ListWithMinConfidence returns records at or above minConfidence, newest first
func (ds *DataStore) ListWithMinConfidence(ctx context.Context, minConfidence float64) ([]EventRecord, error) {
	start := time.Now()
	var records []EventRecord
	err := ds.db(ctx).
		Where("confidence >= ?", minConfidence).
		Order("timestamp DESC").
		Find(&records).Error
	if err != nil {
		return nil, ds.observe("list_min_confidence", start, dbError("list_min_confidence", err))
	}
	return records, ds.observe("list_min_confidence", start, nil)
}

// TopByConfidence returns the limit most confident records
func (ds *DataStore) TopByConfidence(ctx context.Context, limit int) ([]EventRecord, error) {
	start := time.Now()
	var records []EventRecord
	err := ds.db(ctx).
		Order("confidence DESC").
		Order("timestamp DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, ds.observe("top_confidence", start, dbError("top_confidence", err))
	}
	return records, ds.observe("top_confidence", start, nil)
}

// DeleteAll removes every record and returns the number deleted
func (ds *DataStore) DeleteAll(ctx context.Context) (int64, error) {
	start := time.Now()
	result := ds.db(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&EventRecord{})
	if result.Error != nil {
		return 0, ds.observe("delete_all", start, dbError("delete_all", result.Error))
	}
	_ = ds.observe("delete_all", start, nil)

	ds.afterChange(ctx)
	return result.RowsAffected, nil
}

// GetStats returns count, average and max confidence
func (ds *DataStore) GetStats(ctx context.Context) (*Stats, error) {
	count, err := ds.Count(ctx)
	if err != nil {
		return nil, err
	}
	avg, err := ds.AverageConfidence(ctx)
	if err != nil {
		return nil, err
	}
	maxConf, err := ds.MaxConfidence(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{Count: count, AverageConfidence: avg, MaxConfidence: maxConf}, nil
}

// afterChange refreshes the record gauge and notifies subscribers
func (ds *DataStore) afterChange(ctx context.Context) {
	if ds.metrics != nil {
		if count, err := ds.Count(ctx); err == nil {
			ds.metrics.UpdateRecordCount(count)
		}
	}
	ds.publish(ctx)
}
