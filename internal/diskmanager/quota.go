// Package diskmanager keeps the event clip directory within its storage quota.
package diskmanager

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/logger"
	"github.com/tphakala/coughdetect/internal/observability/metrics"
)

// Interface is the part of the record store the quota manager needs: records
// pointing at deleted clips get their audio path cleared.
type Interface interface {
	BulkClearPaths(ctx context.Context, paths []string) (int64, error)
}

// QuotaManager deletes the oldest clips once a directory exceeds its quota.
// Usage is reduced to half the quota so the next few events do not trigger
// another pass right away.
type QuotaManager struct {
	db      Interface
	metrics *metrics.DiskManagerMetrics
	remove  func(string) error
}

// NewQuotaManager creates a quota manager. db may be nil when no records
// need updating.
func NewQuotaManager(db Interface) *QuotaManager {
	return &QuotaManager{db: db, remove: os.Remove}
}

// SetMetrics attaches disk manager metrics
func (q *QuotaManager) SetMetrics(m *metrics.DiskManagerMetrics) {
	q.metrics = m
}

// Enforce brings the clips in dir under maxBytes. When the directory is over
// budget, files are removed oldest first until usage is at most maxBytes/2,
// then the store is told which paths are gone. Files that cannot be removed
// are logged and skipped. It returns the bytes actually reclaimed.
func (q *QuotaManager) Enforce(ctx context.Context, dir string, maxBytes int64) (int64, error) {
	start := time.Now()
	log := GetLogger().With(logger.String("dir", dir))

	if maxBytes <= 0 {
		q.metrics.RecordCleanupOperation(metrics.StatusError, time.Since(start).Seconds())
		return 0, errors.Newf("invalid clip quota %d bytes", maxBytes).
			Component("diskmanager").
			Category(errors.CategoryValidation).
			Build()
	}

	files, err := GetAudioFiles(dir, allowedFileTypes)
	if err != nil {
		q.metrics.RecordCleanupError("list")
		q.metrics.RecordCleanupOperation(metrics.StatusError, time.Since(start).Seconds())
		return 0, errors.New(fmt.Errorf("failed to list clips: %w", err)).
			Component("diskmanager").
			Category(errors.CategoryFileIO).
			Context("dir", dir).
			Build()
	}

	used := totalSize(files)
	q.metrics.UpdateClipUsage(used, maxBytes)
	q.updateDiskUtilization(dir)

	if used <= maxBytes {
		q.metrics.RecordCleanupOperation(metrics.StatusSkipped, time.Since(start).Seconds())
		return 0, nil
	}

	target := maxBytes / 2
	log.Info("clip quota exceeded, removing oldest clips",
		logger.Int64("used_bytes", used),
		logger.Int64("quota_bytes", maxBytes),
		logger.Int64("target_bytes", target),
		logger.Int("files", len(files)))

	sortOldestFirst(files)

	var (
		reclaimed int64
		deleted   []string
		ctxErr    error
	)
	for i := range files {
		if used <= target {
			break
		}
		if err := ctx.Err(); err != nil {
			ctxErr = err
			break
		}

		file := &files[i]
		if err := q.remove(file.Path); err != nil {
			if os.IsNotExist(err) {
				// already gone, the space is free either way
				used -= file.Size
				deleted = append(deleted, file.Path)
				continue
			}
			q.metrics.RecordCleanupError("delete")
			log.Warn("failed to remove clip",
				logger.String("path", file.Path),
				logger.Error(err))
			continue
		}

		used -= file.Size
		reclaimed += file.Size
		deleted = append(deleted, file.Path)
		log.Debug("clip removed",
			logger.String("path", file.Path),
			logger.Int64("size", file.Size))
	}

	q.metrics.RecordFilesDeleted(len(deleted), reclaimed)
	q.metrics.UpdateClipUsage(used, maxBytes)

	var clearErr error
	if len(deleted) > 0 && q.db != nil {
		// the records must be updated even when the caller gave up
		cleared, err := q.db.BulkClearPaths(context.WithoutCancel(ctx), deleted)
		if err != nil {
			q.metrics.RecordCleanupError("clear_paths")
			clearErr = errors.New(fmt.Errorf("failed to clear paths of deleted clips: %w", err)).
				Component("diskmanager").
				Category(errors.CategoryDiskCleanup).
				Context("deleted_files", len(deleted)).
				Build()
		} else {
			log.Debug("cleared record paths", logger.Int64("records", cleared))
		}
	}

	log.Info("clip quota enforced",
		logger.Int("deleted_files", len(deleted)),
		logger.Int64("reclaimed_bytes", reclaimed),
		logger.Int64("used_bytes", used),
		logger.Duration("elapsed", time.Since(start)))

	switch {
	case ctxErr != nil:
		q.metrics.RecordCleanupOperation(metrics.StatusError, time.Since(start).Seconds())
		return reclaimed, errors.Join(errors.New(ctxErr).
			Component("diskmanager").
			Category(errors.CategoryCancellation).
			Build(), clearErr)
	case clearErr != nil:
		q.metrics.RecordCleanupOperation(metrics.StatusError, time.Since(start).Seconds())
		return reclaimed, clearErr
	default:
		q.metrics.RecordCleanupOperation(metrics.StatusSuccess, time.Since(start).Seconds())
		return reclaimed, nil
	}
}

func (q *QuotaManager) updateDiskUtilization(dir string) {
	if q.metrics == nil {
		return
	}
	info, err := GetDetailedDiskUsage(dir)
	if err != nil {
		GetLogger().Debug("failed to read filesystem usage",
			logger.String("dir", dir),
			logger.Error(err))
		return
	}
	q.metrics.UpdateDiskUtilization(info.UsedBytes, info.TotalBytes)
}
