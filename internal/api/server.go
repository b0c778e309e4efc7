// Package api exposes the emission pipeline over HTTP: triggering a pass,
// retrying documents, listing documents by status and running notification
// jobs.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"nfcom/internal/logger"
	"nfcom/internal/scheduler"
	"nfcom/pkg/models"
)

// Emissions runs emission passes and retries.
type Emissions interface {
	Run(ctx context.Context, runDate time.Time) (*scheduler.RunReport, error)
	Retry(ctx context.Context, ids []uint) (*scheduler.RunReport, error)
	RetryStatus(ctx context.Context, status models.DocumentStatus, limit int) (*scheduler.RunReport, error)
}

// Notifications starts notification jobs in the background.
type Notifications interface {
	Start(ctx context.Context, documentIDs []uint) (*models.EmissionJob, error)
}

// Documents answers the read-only queries.
type Documents interface {
	DocumentsByStatus(ctx context.Context, status models.DocumentStatus, limit int) ([]models.FiscalDocument, error)
	CountByStatus(ctx context.Context) (map[models.DocumentStatus]int64, error)
	Job(ctx context.Context, id string) (*models.EmissionJob, error)
}

// Server wires the handlers to an echo instance.
type Server struct {
	echo          *echo.Echo
	emissions     Emissions
	notifications Notifications
	documents     Documents
	now           func() time.Time
	log           zerolog.Logger
}

// New creates a Server with every route registered.
func New(emissions Emissions, notifications Notifications, documents Documents) *Server {
	s := &Server{
		echo:          echo.New(),
		emissions:     emissions,
		notifications: notifications,
		documents:     documents,
		now:           time.Now,
		log:           logger.WithComponent("api"),
	}
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(s.requestLogger)

	e.GET("/health", s.health)
	e.POST("/emissions/run", s.runEmission)
	e.POST("/documents/retry", s.retryDocuments)
	e.GET("/documents", s.listDocuments)
	e.GET("/documents/counts", s.countDocuments)
	e.POST("/notifications/jobs", s.startNotification)
	e.GET("/notifications/jobs/:id", s.getNotification)
	return s
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("API listening")
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	s.log.Info().Msg("API shutting down")
	return s.echo.Shutdown(shutdownCtx)
}

// requestLogger tags every request with an id and logs its outcome.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(echo.HeaderXRequestID)
		if id == "" {
			id = newRequestID()
		}
		c.Set(requestIDKey, id)
		c.Response().Header().Set(echo.HeaderXRequestID, id)

		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		log := logger.WithRequestID(id)
		log.Debug().
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Int("status", c.Response().Status).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
		return nil
	}
}
