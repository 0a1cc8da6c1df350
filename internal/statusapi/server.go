// Package statusapi exposes the scheduler state over HTTP.
package statusapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/bakkerme/listing-notifier/internal/scheduler"
)

// Scheduler is the part of *scheduler.Scheduler the API reads.
type Scheduler interface {
	Status() scheduler.Status
	TriggerNow() bool
}

type Server struct {
	scheduler Scheduler
	logger    *slog.Logger
	echo      *echo.Echo
}

func NewServer(s Scheduler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.Any("error", v.Error))
			}
			logger.Debug("status api request", attrs...)
			return nil
		},
	}))

	server := &Server{
		scheduler: s,
		logger:    logger,
		echo:      e,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/status", s.handleStatus)
	api.POST("/cycle", s.handleTriggerCycle)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("status api listening", slog.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "listing-notifier",
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleTriggerCycle(c echo.Context) error {
	queued := s.scheduler.TriggerNow()
	message := "cycle requested"
	if !queued {
		message = "cycle already pending"
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"message": message,
		"queued":  queued,
	})
}
