package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/provenance/config"
	"example.com/backstage/services/provenance/domain"
	"example.com/backstage/services/provenance/handlers"
	"example.com/backstage/services/provenance/internal/auth"
	"example.com/backstage/services/provenance/internal/objectstore"
	"example.com/backstage/services/provenance/verifier"
)

// EventSearcher runs full-text queries over the event read model
type EventSearcher interface {
	SearchEvents(ctx context.Context, text string, size int) ([]domain.CustodyEvent, error)
}

// Services are the collaborators behind the routes. Searcher and
// NewRelic are optional.
type Services struct {
	Batches   *handlers.BatchHandler
	Events    *handlers.EventHandler
	Scans     *handlers.ScanHandler
	Integrity *handlers.IntegrityHandler
	Verifier  *verifier.Verifier
	Uploader  *objectstore.Uploader
	Auth      *auth.Authenticator
	Searcher  EventSearcher
	NewRelic  *newrelic.Application
}

// Server is the HTTP server for the API
type Server struct {
	cfg        config.Config
	router     *gin.Engine
	httpServer *http.Server
	services   Services
}

// NewServer creates a new API server
func NewServer(cfg config.Config, services Services) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		cfg:      cfg,
		router:   gin.New(),
		services: services,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// Handler returns the HTTP handler, used by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(RequestIDMiddleware())
	s.router.Use(CORSMiddleware(s.cfg.Server.CorsOrigins))
	s.router.Use(gin.Recovery())
	if s.services.NewRelic != nil {
		s.router.Use(NewRelicMiddleware(s.services.NewRelic))
	}
	s.router.Use(LoggingMiddleware())

	if s.cfg.Server.MaxUpload > 0 {
		s.router.MaxMultipartMemory = s.cfg.Server.MaxUpload
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	s.router.GET("/health", s.health)
	s.router.GET("/metrics", s.metrics)

	v1 := s.router.Group("/api/v1")
	authenticated := AuthMiddleware(s.cfg.Auth, s.services.Auth)

	v1.GET("/info", s.info)
	v1.GET("/verify/:id", s.verify)
	v1.POST("/scan", s.scan)
	if s.services.Searcher != nil {
		v1.GET("/events/search", s.searchEvents)
	}

	batches := v1.Group("/batches")
	{
		batches.GET("", s.listBatches)
		batches.GET("/:id", s.getBatch)
		batches.GET("/:id/events", s.getEvents)
		batches.GET("/:id/events/count", s.getEventCount)
		batches.POST("", authenticated, RequireCreatorRole(s.cfg.Auth), s.createBatch)
		batches.POST("/:id/events", authenticated, s.logEvent)
		batches.POST("/:id/integrity", authenticated, s.checkIntegrity)
	}

	uploads := v1.Group("/uploads", authenticated)
	{
		uploads.POST("", s.upload)
		uploads.POST("/views", s.uploadViews)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.cfg.Server.Timeout > 0 {
		s.httpServer.ReadTimeout = s.cfg.Server.Timeout
		s.httpServer.WriteTimeout = s.cfg.Server.Timeout
	}

	log.Info().Msgf("HTTP server starting on %s", s.cfg.Server.Address)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
