// Package api exposes alert management over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"crypto-alerts/internal/alert"
	"crypto-alerts/internal/evaluator"
	"crypto-alerts/internal/storage"
)

// Evaluator computes the current value of an alert on demand.
type Evaluator interface {
	Evaluate(ctx context.Context, a alert.Alert) evaluator.Outcome
}

// Options configure the HTTP server.
type Options struct {
	// Mode is the gin mode: release, debug or test.
	Mode            string
	ShutdownTimeout time.Duration
}

// Server serves the alert CRUD routes.
type Server struct {
	repo   storage.Repository
	eval   Evaluator
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string
}

// New constructs a Server. eval may be nil, in which case the value route answers 503.
func New(repo storage.Repository, eval Evaluator, opts Options, logger zerolog.Logger) *Server {
	if opts.Mode == "" {
		opts.Mode = gin.ReleaseMode
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		repo:   repo,
		eval:   eval,
		opts:   opts,
		logger: logger.With().Str("component", "api").Logger(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Router builds the gin engine.
func (s *Server) Router() http.Handler {
	gin.SetMode(s.opts.Mode)
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.POST("/alerts", s.handleCreatePriceAlert)
	api.POST("/indicator-alerts", s.handleCreateIndicatorAlert)
	api.GET("/alerts", s.handleListAlerts)

	byID := api.Group("/alerts/:id")
	byID.GET("", s.handleGetAlert)
	byID.DELETE("", s.handleDeleteAlert)
	byID.GET("/value", s.handleAlertValue)
	byID.POST("/enable", s.handleSetEnabled(true))
	byID.POST("/disable", s.handleSetEnabled(false))
	byID.POST("/rearm", s.handleRearm)

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", addr).Msg("api server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api server: %w", err)
	}
	s.logger.Info().Msg("api server stopped")
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}
