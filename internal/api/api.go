// Package api serves the HTTP control and records API of the detector.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/coughdetect/internal/analysis"
	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/datastore"
	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/logger"
)

// Route prefix for all endpoints.
const apiPrefix = "/api/v1"

// Engine is the part of the detection engine exposed over HTTP.
type Engine interface {
	Start(ctx context.Context) error
	Pause()
	Resume()
	Stop()
	State() analysis.State
	Subscribe(ctx context.Context) <-chan analysis.State
	AudioLevel() float64
	LastEvent() *analysis.Detection
	LastError() error
	ClearError()
	Stats() analysis.Stats
	SessionID() string
}

// SettingsStore supplies settings and accepts validated runtime updates.
type SettingsStore interface {
	conf.Provider
	Update(fn func(*conf.Settings)) error
}

// Config holds the controller collaborators.
type Config struct {
	Engine   Engine
	Store    datastore.Interface
	Settings SettingsStore
	// ClassifierMode is reported by the status endpoint
	ClassifierMode string
}

// Controller handles the API routes.
type Controller struct {
	Group *echo.Group

	engine   Engine
	store    datastore.Interface
	settings SettingsStore
	mode     string

	// ctx outlives requests; sessions started over HTTP run under it
	ctxMu sync.RWMutex
	ctx   context.Context
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewController registers the API routes on e.
func NewController(e *echo.Echo, cfg Config) (*Controller, error) {
	if cfg.Engine == nil || cfg.Store == nil || cfg.Settings == nil {
		return nil, errors.Newf("api requires engine, record store and settings").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	c := &Controller{
		Group:    e.Group(apiPrefix),
		engine:   cfg.Engine,
		store:    cfg.Store,
		settings: cfg.Settings,
		mode:     cfg.ClassifierMode,
		ctx:      context.Background(),
	}
	c.initRoutes()
	return c, nil
}

func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.Health)
	c.Group.GET("/status", c.GetStatus)

	c.Group.POST("/engine/:action", c.HandleEngineAction)
	c.Group.GET("/engine/stream", c.StreamState)

	c.Group.GET("/records", c.ListRecords)
	c.Group.DELETE("/records", c.ClearRecords)
	c.Group.GET("/records/stats", c.GetRecordStats)
	c.Group.GET("/records/:id", c.GetRecord)
	c.Group.GET("/records/:id/audio", c.ServeRecordAudio)
	c.Group.DELETE("/records/:id", c.DeleteRecord)

	c.Group.GET("/config", c.GetConfig)
	c.Group.PATCH("/config/detection", c.UpdateDetectionConfig)
}

// SetContext sets the context detection sessions started over HTTP run
// under. It defaults to context.Background.
func (c *Controller) SetContext(ctx context.Context) {
	c.ctxMu.Lock()
	defer c.ctxMu.Unlock()
	c.ctx = ctx
}

func (c *Controller) context() context.Context {
	c.ctxMu.RLock()
	defer c.ctxMu.RUnlock()
	return c.ctx
}

// HandleError logs err and writes an ErrorResponse with a correlation ID.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	correlationID := generateCorrelationID()

	fields := []logger.Field{
		logger.String("method", ctx.Request().Method),
		logger.String("path", ctx.Path()),
		logger.Int("code", code),
		logger.String("correlation_id", correlationID),
	}
	errText := http.StatusText(code)
	if err != nil {
		errText = err.Error()
		fields = append(fields, logger.Error(err))
	}
	if code >= http.StatusInternalServerError {
		GetLogger().Error(message, fields...)
	} else {
		GetLogger().Debug(message, fields...)
	}

	return ctx.JSON(code, ErrorResponse{
		Error:         errText,
		Message:       message,
		Code:          code,
		CorrelationID: correlationID,
	})
}

// statusCode maps an error category to an HTTP status
func statusCode(err error) int {
	switch {
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryValidation),
		errors.IsCategory(err, errors.CategoryConfiguration):
		return http.StatusBadRequest
	case errors.IsCategory(err, errors.CategoryAudioSource):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func generateCorrelationID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return time.Now().Format("150405.000")
	}
	return hex.EncodeToString(b)
}
