package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/coughdetect/internal/api/middleware"
	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/logger"
)

// shutdownTimeout bounds graceful shutdown; open state streams are cut after it.
const shutdownTimeout = 5 * time.Second

// Server is the HTTP server of the control API.
type Server struct {
	Echo       *echo.Echo
	controller *Controller
	listen     string
}

// NewServer creates the echo instance, installs middleware and registers
// the API routes.
func NewServer(settings *conf.Settings, cfg Config) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(middleware.NewRequestLogger(GetLogger()))
	security := middleware.DefaultSecurityConfig()
	e.Use(middleware.NewCORS(security))
	e.Use(middleware.NewSecureHeaders(security))
	e.Use(middleware.NewBodyLimit(middleware.DefaultBodyLimit))

	controller, err := NewController(e, cfg)
	if err != nil {
		return nil, err
	}

	return &Server{
		Echo:       e,
		controller: controller,
		listen:     settings.WebServer.Listen,
	}, nil
}

// Start serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return errors.New(fmt.Errorf("api listen on %s: %w", s.listen, err)).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("listen", s.listen).
			Build()
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener. Detection sessions started over
// HTTP run under ctx.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.controller.SetContext(ctx)
	s.Echo.Listener = ln

	serveErr := make(chan error, 1)
	go func() {
		GetLogger().Info("api server starting", logger.String("address", ln.Addr().String()))
		serveErr <- s.Echo.Start("")
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		GetLogger().Error("api server error", logger.Error(err))
		return err
	case <-ctx.Done():
	}

	GetLogger().Info("stopping api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Echo.Shutdown(shutdownCtx); err != nil {
		GetLogger().Warn("api server shutdown error", logger.Error(err))
		_ = s.Echo.Close()
	}
	<-serveErr
	return nil
}
