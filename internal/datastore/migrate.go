package datastore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/logger"
)

// DefaultMigrationBatchSize is the number of records copied per insert.
const DefaultMigrationBatchSize = 1000

// MigrationStats summarises a CopyRecords run.
type MigrationStats struct {
	Source   int64
	Migrated int64
	Skipped  int64 // already present in the target
	Errors   int64 // records in failed batches
	Duration time.Duration
}

// CopyRecords copies every record from src to dst in batches, keeping ids.
// Records whose id already exists in dst are skipped, so a run can be
// repeated. A failed batch is counted and the copy continues. progress, if
// not nil, is called after each batch.
func CopyRecords(ctx context.Context, src, dst *gorm.DB, batchSize int, progress func(done, total int64)) (*MigrationStats, error) {
	if batchSize <= 0 {
		batchSize = DefaultMigrationBatchSize
	}
	start := time.Now()
	stats := &MigrationStats{}

	if err := src.WithContext(ctx).Model(&EventRecord{}).Count(&stats.Source).Error; err != nil {
		return stats, dbError("migrate_count", err)
	}
	if stats.Source == 0 {
		stats.Duration = time.Since(start)
		return stats, nil
	}

	var done int64
	batch := make([]EventRecord, 0, batchSize)
	err := src.WithContext(ctx).Model(&EventRecord{}).FindInBatches(&batch, batchSize, func(_ *gorm.DB, n int) error {
		// RowsAffected counts ignored conflicts on SQLite, so inserted rows
		// are measured on the target instead
		before, err := countRecords(ctx, dst)
		if err == nil {
			err = dst.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&batch).Error
		}
		var after int64
		if err == nil {
			after, err = countRecords(ctx, dst)
		}
		if err != nil {
			stats.Errors += int64(len(batch))
			GetLogger().Warn("record batch copy failed",
				logger.Int("batch", n),
				logger.Int("records", len(batch)),
				logger.Error(err))
			// keep going, the failed records are reported in the stats
			return ctx.Err()
		}

		inserted := after - before
		stats.Migrated += inserted
		stats.Skipped += int64(len(batch)) - inserted
		done += int64(len(batch))
		if progress != nil {
			progress(done, stats.Source)
		}
		return ctx.Err()
	}).Error

	stats.Duration = time.Since(start)
	if err != nil {
		return stats, dbError("migrate_copy", err)
	}

	GetLogger().Info("records copied",
		logger.Int64("migrated", stats.Migrated),
		logger.Int64("skipped", stats.Skipped),
		logger.Int64("errors", stats.Errors),
		logger.Duration("duration", stats.Duration))
	return stats, nil
}

// VerifyCopy checks that dst holds as many records as src and that the
// first and last samples records by id match field by field.
func VerifyCopy(ctx context.Context, src, dst *gorm.DB, samples int) error {
	var srcCount, dstCount int64
	if err := src.WithContext(ctx).Model(&EventRecord{}).Count(&srcCount).Error; err != nil {
		return dbError("verify_count", err)
	}
	if err := dst.WithContext(ctx).Model(&EventRecord{}).Count(&dstCount).Error; err != nil {
		return dbError("verify_count", err)
	}
	if dstCount < srcCount {
		return errors.Newf("target holds %d records, source %d", dstCount, srcCount).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "verify").
			Build()
	}

	for _, order := range []string{"id asc", "id desc"} {
		var sample []EventRecord
		if err := src.WithContext(ctx).Order(order).Limit(samples).Find(&sample).Error; err != nil {
			return dbError("verify_sample", err)
		}
		for i := range sample {
			if err := compareRecord(ctx, dst, &sample[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func compareRecord(ctx context.Context, dst *gorm.DB, want *EventRecord) error {
	var got EventRecord
	if err := dst.WithContext(ctx).First(&got, want.ID).Error; err != nil {
		return dbError("verify_sample", fmt.Errorf("record %d missing in target: %w", want.ID, err))
	}

	mismatch := func(field string) error {
		return errors.Newf("record %d: %s differs between source and target", want.ID, field).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "verify").
			Build()
	}
	switch {
	// MySQL keeps milliseconds
	case absDuration(got.Timestamp.Sub(want.Timestamp)) >= time.Millisecond:
		return mismatch("timestamp")
	case got.EventType != want.EventType:
		return mismatch("event type")
	case got.Confidence != want.Confidence:
		return mismatch("confidence")
	case got.DurationMs != want.DurationMs:
		return mismatch("duration")
	case got.AudioFilePath != want.AudioFilePath:
		return mismatch("audio file path")
	}
	return nil
}

func countRecords(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&EventRecord{}).Count(&n).Error
	return n, err
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
