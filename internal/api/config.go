package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/logger"
)

// DetectionUpdate is the body of PATCH /api/v1/config/detection. Omitted
// fields keep their value; durations use time.ParseDuration syntax.
type DetectionUpdate struct {
	Threshold        *float64 `json:"threshold"`
	Interval         *string  `json:"interval"`
	MinEventDuration *string  `json:"minEventDuration"`
	MaxEventDuration *string  `json:"maxEventDuration"`
}

// GetConfig handles GET /api/v1/config. Secrets are never serialized.
func (c *Controller) GetConfig(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.settings.Settings())
}

// UpdateDetectionConfig handles PATCH /api/v1/config/detection. The
// minimum event duration applies to the next finalized event, the other
// values from the next start.
func (c *Controller) UpdateDetectionConfig(ctx echo.Context) error {
	var req DetectionUpdate
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}

	durations := map[string]*string{
		"interval":         req.Interval,
		"minEventDuration": req.MinEventDuration,
		"maxEventDuration": req.MaxEventDuration,
	}
	parsed := make(map[string]time.Duration, len(durations))
	for name, v := range durations {
		if v == nil {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return c.HandleError(ctx, validationError(name, err), "Invalid duration", http.StatusBadRequest)
		}
		parsed[name] = d
	}

	err := c.settings.Update(func(s *conf.Settings) {
		if req.Threshold != nil {
			s.Detection.Threshold = *req.Threshold
		}
		if d, ok := parsed["interval"]; ok {
			s.Detection.Interval = d
		}
		if d, ok := parsed["minEventDuration"]; ok {
			s.Detection.MinEventDuration = d
		}
		if d, ok := parsed["maxEventDuration"]; ok {
			s.Detection.MaxEventDuration = d
		}
	})
	if err != nil {
		err = errors.New(err).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
		return c.HandleError(ctx, err, "Settings rejected", http.StatusBadRequest)
	}

	detection := c.settings.Settings().Detection
	GetLogger().Info("detection settings updated",
		logger.Float64("threshold", detection.Threshold),
		logger.Duration("interval", detection.Interval),
		logger.Duration("min_event_duration", detection.MinEventDuration),
		logger.Duration("max_event_duration", detection.MaxEventDuration))
	return ctx.JSON(http.StatusOK, detection)
}
