package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/coughdetect/internal/datastore"
	"github.com/tphakala/coughdetect/internal/diskmanager"
	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/logger"
)

// Pagination limits for ListRecords.
const (
	defaultRecordLimit = 50
	maxRecordLimit     = 500
)

// RecordsResponse is a page of records.
type RecordsResponse struct {
	Records []datastore.EventRecord `json:"records"`
	Total   int64                   `json:"total"`
	Limit   int                     `json:"limit,omitempty"`
	Offset  int                     `json:"offset,omitempty"`
}

// StorageStats describes the clip directory.
type StorageStats struct {
	Clips       int     `json:"clips"`
	Bytes       int64   `json:"bytes"`
	QuotaBytes  int64   `json:"quotaBytes"`
	DiskUsedPct float64 `json:"diskUsedPercent,omitempty"`
}

// RecordStatsResponse combines record and storage statistics.
type RecordStatsResponse struct {
	datastore.Stats
	Storage StorageStats `json:"storage"`
}

// ListRecords handles GET /api/v1/records. Records are returned newest
// first. from and to (RFC 3339) select a time range, minConfidence a
// confidence floor; otherwise limit and offset page through all records.
func (c *Controller) ListRecords(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()

	from, to := ctx.QueryParam("from"), ctx.QueryParam("to")
	if from != "" || to != "" {
		start, end, err := parseRange(from, to)
		if err != nil {
			return c.HandleError(ctx, err, "Invalid time range", http.StatusBadRequest)
		}
		records, err := c.store.ListInRange(reqCtx, start, end)
		if err != nil {
			return c.HandleError(ctx, err, "Failed to list records", statusCode(err))
		}
		return ctx.JSON(http.StatusOK, RecordsResponse{Records: records, Total: int64(len(records))})
	}

	if v := ctx.QueryParam("minConfidence"); v != "" {
		minConfidence, err := strconv.ParseFloat(v, 64)
		if err != nil || minConfidence < 0 || minConfidence > 1 {
			return c.HandleError(ctx, err, "minConfidence must be between 0 and 1", http.StatusBadRequest)
		}
		records, err := c.store.ListWithMinConfidence(reqCtx, minConfidence)
		if err != nil {
			return c.HandleError(ctx, err, "Failed to list records", statusCode(err))
		}
		return ctx.JSON(http.StatusOK, RecordsResponse{Records: records, Total: int64(len(records))})
	}

	limit, err := intParam(ctx, "limit", defaultRecordLimit)
	if err != nil || limit < 1 {
		return c.HandleError(ctx, err, "limit must be a positive integer", http.StatusBadRequest)
	}
	limit = min(limit, maxRecordLimit)
	offset, err := intParam(ctx, "offset", 0)
	if err != nil || offset < 0 {
		return c.HandleError(ctx, err, "offset must be a non-negative integer", http.StatusBadRequest)
	}

	records, err := c.store.List(reqCtx, limit, offset)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list records", statusCode(err))
	}
	total, err := c.store.Count(reqCtx)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to count records", statusCode(err))
	}

	return ctx.JSON(http.StatusOK, RecordsResponse{
		Records: records,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// GetRecord handles GET /api/v1/records/:id
func (c *Controller) GetRecord(ctx echo.Context) error {
	record, err := c.lookupRecord(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, record)
}

// ServeRecordAudio handles GET /api/v1/records/:id/audio
func (c *Controller) ServeRecordAudio(ctx echo.Context) error {
	record, err := c.lookupRecord(ctx)
	if err != nil {
		return err
	}
	if !record.HasAudio() {
		return c.HandleError(ctx, nil, "Record has no audio clip", http.StatusNotFound)
	}

	clipDir := c.settings.Settings().ClipDir()
	if !withinDir(clipDir, record.AudioFilePath) {
		return c.HandleError(ctx, nil, "Clip is outside the clip directory", http.StatusForbidden)
	}
	if _, err := os.Stat(record.AudioFilePath); err != nil {
		return c.HandleError(ctx, err, "Clip not found on disk", http.StatusNotFound)
	}
	return ctx.Inline(record.AudioFilePath, filepath.Base(record.AudioFilePath))
}

// DeleteRecord handles DELETE /api/v1/records/:id. The clip is removed
// together with the record.
func (c *Controller) DeleteRecord(ctx echo.Context) error {
	record, err := c.lookupRecord(ctx)
	if err != nil {
		return err
	}

	if err := c.store.Delete(ctx.Request().Context(), record.ID); err != nil {
		return c.HandleError(ctx, err, "Failed to delete record", statusCode(err))
	}
	if record.HasAudio() && withinDir(c.settings.Settings().ClipDir(), record.AudioFilePath) {
		if err := os.Remove(record.AudioFilePath); err != nil && !os.IsNotExist(err) {
			GetLogger().Warn("failed to remove clip of deleted record",
				logger.String("path", record.AudioFilePath),
				logger.Error(err))
		}
	}

	GetLogger().Info("record deleted", logger.Int64("id", int64(record.ID)))
	return ctx.NoContent(http.StatusNoContent)
}

// ClearRecords handles DELETE /api/v1/records?confirm=true. All records and
// clips are removed.
func (c *Controller) ClearRecords(ctx echo.Context) error {
	if ctx.QueryParam("confirm") != "true" {
		return c.HandleError(ctx, nil, "Clearing all records requires confirm=true", http.StatusBadRequest)
	}

	deleted, err := c.store.DeleteAll(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to clear records", statusCode(err))
	}

	removed := 0
	files, err := diskmanager.GetAudioFiles(c.settings.Settings().ClipDir(), []string{".wav"})
	if err != nil {
		GetLogger().Warn("failed to list clips", logger.Error(err))
	}
	for _, f := range files {
		if err := os.Remove(f.Path); err != nil {
			GetLogger().Warn("failed to remove clip", logger.String("path", f.Path), logger.Error(err))
			continue
		}
		removed++
	}

	GetLogger().Info("records cleared",
		logger.Int64("records", deleted),
		logger.Int("clips", removed))
	return ctx.JSON(http.StatusOK, map[string]int64{
		"records": deleted,
		"clips":   int64(removed),
	})
}

// GetRecordStats handles GET /api/v1/records/stats
func (c *Controller) GetRecordStats(ctx echo.Context) error {
	stats, err := c.store.GetStats(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get record statistics", statusCode(err))
	}

	settings := c.settings.Settings()
	resp := RecordStatsResponse{Stats: *stats}
	resp.Storage.QuotaBytes = settings.QuotaBytes()

	clipDir := settings.ClipDir()
	files, err := diskmanager.GetAudioFiles(clipDir, []string{".wav"})
	if err != nil {
		return c.HandleError(ctx, err, "Failed to scan clip directory", http.StatusInternalServerError)
	}
	resp.Storage.Clips = len(files)
	for _, f := range files {
		resp.Storage.Bytes += f.Size
	}
	if len(files) > 0 {
		if pct, err := diskmanager.GetDiskUsage(clipDir); err == nil {
			resp.Storage.DiskUsedPct = pct
		}
	}

	return ctx.JSON(http.StatusOK, resp)
}

// lookupRecord resolves the :id parameter; on failure the error response
// has been written and the returned error is the handler result.
func (c *Controller) lookupRecord(ctx echo.Context) (*datastore.EventRecord, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return nil, c.HandleError(ctx, err, "Invalid record id", http.StatusBadRequest)
	}
	record, err := c.store.GetByID(ctx.Request().Context(), uint(id))
	if err != nil {
		return nil, c.HandleError(ctx, err, "Record not found", statusCode(err))
	}
	return record, nil
}

func intParam(ctx echo.Context, name string, def int) (int, error) {
	v := ctx.QueryParam(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// parseRange parses RFC 3339 bounds; a missing bound is open.
func parseRange(from, to string) (start, end time.Time, err error) {
	end = time.Now()
	if from != "" {
		if start, err = time.Parse(time.RFC3339, from); err != nil {
			return start, end, validationError("from", err)
		}
	}
	if to != "" {
		if end, err = time.Parse(time.RFC3339, to); err != nil {
			return start, end, validationError("to", err)
		}
	}
	if end.Before(start) {
		return start, end, errors.Newf("range end %s is before start %s", to, from).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return start, end, nil
}

func validationError(param string, err error) error {
	return errors.New(err).
		Component("api").
		Category(errors.CategoryValidation).
		Context("param", param).
		Build()
}

// withinDir reports whether path is inside dir
func withinDir(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}
