package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mail-chat-bridge-go/internal/config"
)

// Server is the optional status HTTP server
type Server struct {
	srv *http.Server
}

// New creates a server for cfg serving h
func New(cfg config.ServerConfig, h *Handlers) *Server {
	return &Server{srv: &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      SetupRouter(h),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}}
}

// SetupRouter builds the gin engine with recovery and request logging
func SetupRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	h.SetupRoutes(router)
	return router
}

// requestLogger logs one line per request through logrus. Probe and scrape
// paths are logged at debug level.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logrus.WithFields(logrus.Fields{
			"client":  c.ClientIP(),
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if msg := c.Errors.ByType(gin.ErrorTypePrivate).String(); msg != "" {
			entry = entry.WithField("error", msg)
		}

		switch c.Request.URL.Path {
		case "/live", "/ready", "/metrics":
			entry.Debug("HTTP request")
		default:
			entry.Info("HTTP request")
		}
	}
}

// Start serves in the background
func (s *Server) Start() {
	go func() {
		logrus.Infof("Starting HTTP server on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("HTTP server error: %v", err)
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
