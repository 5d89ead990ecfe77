// Package server exposes the scraper over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PentesterFlow/OpenScraper/internal/logger"
	"github.com/PentesterFlow/OpenScraper/internal/metrics"
	"github.com/PentesterFlow/OpenScraper/pkg/scraper"
)

// Server wraps the HTTP listener and its routes.
type Server struct {
	scraper    *scraper.Scraper
	config     scraper.ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	registry   *prometheus.Registry
	promHTTP   http.Handler
	logger     *logger.Logger
}

// New builds the router for s. The server configuration is taken from the
// scraper's configuration.
func New(s *scraper.Scraper, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	cfg := s.Config().Server

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	srv := &Server{
		scraper:  s,
		config:   cfg,
		router:   router,
		registry: prometheus.NewRegistry(),
		logger:   log.WithComponent("http"),
	}

	srv.registry.MustRegister(
		metrics.NewPromCollector(s.Metrics()),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv.promHTTP = promhttp.HandlerFor(srv.registry, promhttp.HandlerOpts{})

	router.Use(gin.Recovery())
	router.Use(requestLogger(srv.logger, s.Metrics()))
	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.CORSOrigins,
			AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
			ExposeHeaders: []string{"X-Capture-ID", "X-Request-ID"},
			MaxAge:        12 * time.Hour,
		}))
	}

	scrape := router.Group("/", bodyLimit(cfg.MaxBodyBytes), requestTimeout(cfg.RequestTimeout))
	scrape.POST("/detailed_scrape", srv.detailedScrape)
	scrape.POST("/simple_scrape", srv.simpleScrape)

	router.GET("/health", srv.health)
	router.GET("/stats", srv.stats)
	router.GET("/metrics", srv.metrics)
	router.GET("/captures", srv.listCaptures)
	router.GET("/captures/:id", srv.getCapture)
	router.DELETE("/captures/:id", srv.deleteCapture)

	srv.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.config.Listen
}

// ListenAndServe serves until Shutdown is called. It returns nil after a
// graceful shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithField("addr", s.config.Listen).Info("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Run serves until ctx is done, then shuts down within the configured
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
