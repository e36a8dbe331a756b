package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/coughdetect/internal/analysis"
	"github.com/tphakala/coughdetect/internal/logger"
)

// Engine actions accepted by HandleEngineAction.
const (
	ActionStart      = "start"
	ActionPause      = "pause"
	ActionResume     = "resume"
	ActionStop       = "stop"
	ActionClearError = "clear-error"
)

// stateStreamHeartbeat keeps idle SSE connections open through proxies.
const stateStreamHeartbeat = 15 * time.Second

// StatusResponse is the detector status snapshot.
type StatusResponse struct {
	State          string              `json:"state"`
	SessionID      string              `json:"sessionId"`
	AudioLevel     float64             `json:"audioLevel"`
	ClassifierMode string              `json:"classifierMode,omitempty"`
	LastEvent      *analysis.Detection `json:"lastEvent"`
	LastError      string              `json:"lastError,omitempty"`
	Stats          analysis.Stats      `json:"stats"`
	Timestamp      time.Time           `json:"timestamp"`
}

// ControlResult is the response of an engine action.
type ControlResult struct {
	Success   bool      `json:"success"`
	Action    string    `json:"action"`
	State     string    `json:"state"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Health reports liveness together with the engine state.
func (c *Controller) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{
		"status": "ok",
		"state":  c.engine.State().String(),
	})
}

// GetStatus handles GET /api/v1/status
func (c *Controller) GetStatus(ctx echo.Context) error {
	status := StatusResponse{
		State:          c.engine.State().String(),
		SessionID:      c.engine.SessionID(),
		AudioLevel:     c.engine.AudioLevel(),
		ClassifierMode: c.mode,
		LastEvent:      c.engine.LastEvent(),
		Stats:          c.engine.Stats(),
		Timestamp:      time.Now(),
	}
	if err := c.engine.LastError(); err != nil {
		status.LastError = err.Error()
	}
	return ctx.JSON(http.StatusOK, status)
}

// HandleEngineAction handles POST /api/v1/engine/:action
func (c *Controller) HandleEngineAction(ctx echo.Context) error {
	action := ctx.Param("action")

	var message string
	switch action {
	case ActionStart:
		if err := c.engine.Start(c.context()); err != nil {
			return c.HandleError(ctx, err, "Failed to start detection", statusCode(err))
		}
		message = "Detection started"
	case ActionPause:
		c.engine.Pause()
		message = "Detection paused"
	case ActionResume:
		c.engine.Resume()
		message = "Detection resumed"
	case ActionStop:
		c.engine.Stop()
		message = "Detection stopped"
	case ActionClearError:
		c.engine.ClearError()
		message = "Error cleared"
	default:
		return c.HandleError(ctx, nil, fmt.Sprintf("Unknown engine action %q", action), http.StatusBadRequest)
	}

	state := c.engine.State().String()
	GetLogger().Info("engine action handled",
		logger.String("action", action),
		logger.String("state", state),
		logger.String("ip", ctx.RealIP()))

	return ctx.JSON(http.StatusOK, ControlResult{
		Success:   true,
		Action:    action,
		State:     state,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// StreamState handles GET /api/v1/engine/stream, a server-sent event stream
// of engine state changes. The current state is sent first.
func (c *Controller) StreamState(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	states := c.engine.Subscribe(reqCtx)

	w := ctx.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream; charset=utf-8")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	heartbeat := time.NewTicker(stateStreamHeartbeat)
	defer heartbeat.Stop()

	// streams end with the server, not only with the client
	serverDone := c.context().Done()
	for {
		select {
		case <-reqCtx.Done():
			return nil
		case <-serverDone:
			return nil
		case state, ok := <-states:
			if !ok {
				return nil
			}
			if err := writeStateEvent(w, state); err != nil {
				return nil
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func writeStateEvent(w *echo.Response, state analysis.State) error {
	data, err := json.Marshal(map[string]string{"state": state.String()})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}
