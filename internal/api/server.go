// Package api provides the HTTP boundary of the approval engine: the public
// endpoints agents call to request approval and poll status, and the
// internal endpoints the dashboard UI and the notifier consume.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP adapter over the approval engine
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	logger     *zap.Logger
}

// NewServer creates a new HTTP server exposing the given engine
func NewServer(config ServerConfig, engine Engine, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(logger))

	s := &Server{
		config: config,
		router: router,
		logger: logger,
	}

	handlers := NewHandlers(engine, logger)
	s.setupRoutes(handlers)

	return s
}

func (s *Server) setupRoutes(h *Handlers) {
	// Health check
	s.router.GET("/health", h.HealthCheck)

	// Public surface consumed by agents
	s.router.POST("/approvals/request", h.CreateApproval)
	s.router.GET("/approvals/status", h.ApprovalStatus)

	// Internal surface consumed by the dashboard UI and the notifier
	api := s.router.Group("/api/v1")
	{
		api.GET("/approvals", h.ListApprovals)
		api.GET("/approvals/pending/count", h.PendingCount)
		api.GET("/approvals/unnotified", h.ListUnnotified)
		api.POST("/approvals/:id/approve", h.ApproveRequest)
		api.POST("/approvals/:id/deny", h.DenyRequest)
		api.POST("/approvals/:id/notified", h.MarkNotified)
		api.POST("/approvals/sweep", h.RunSweep)
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// server fails.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("HTTP server listening", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
