package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/khryptorgraphics/imagepipe/internal/config"
	"github.com/khryptorgraphics/imagepipe/pkg/auth"
	"github.com/khryptorgraphics/imagepipe/pkg/pipeline"
	"github.com/khryptorgraphics/imagepipe/pkg/prefetch"
)

// Server is the HTTP gateway in front of a Pipeline: it exposes load,
// cache-inspection, and prefetch-control operations over REST plus a
// per-task progress stream over WebSocket (SPEC_FULL.md §4).
type Server struct {
	config     *config.Config
	pipeline   *pipeline.Pipeline
	prefetcher *prefetch.Prefetcher
	jwtSvc     *auth.JWTService
	rbac       *auth.RBAC
	logger     *slog.Logger
	server     *http.Server
	progress   *progressHub
}

// NewServer wires a gateway around an already-constructed Pipeline.
func NewServer(cfg *config.Config, pl *pipeline.Pipeline, pf *prefetch.Prefetcher, logger *slog.Logger) (*Server, error) {
	jwtSvc, err := auth.NewJWTService(&cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT service: %w", err)
	}

	s := &Server{
		config:     cfg,
		pipeline:   pl,
		prefetcher: pf,
		jwtSvc:     jwtSvc,
		rbac:       auth.NewRBAC(),
		logger:     logger,
		progress:   newProgressHub(),
	}
	return s, nil
}

// Start starts the HTTP server, blocking until it exits.
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRouter()

	s.server = &http.Server{
		Addr:         s.config.API.Listen,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting API server",
		"address", s.config.API.Listen,
		"tls_enabled", s.config.API.TLSEnabled)

	if s.config.API.TLSEnabled {
		return s.server.ListenAndServeTLS(s.config.API.CertFile, s.config.API.KeyFile)
	}
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping API server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) setupRouter() *gin.Engine {
	if s.logger.Enabled(context.Background(), slog.LevelDebug) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(s.loggingMiddleware())
	router.Use(gin.Recovery())
	router.Use(s.corsMiddleware())
	router.Use(s.securityMiddleware())
	if s.config.RateLimit.Enabled {
		router.Use(s.rateLimitMiddleware())
	}

	router.GET("/health", s.healthHandler)

	v1 := router.Group("/v1")
	{
		v1.POST("/auth/token", s.issueTokenHandler)

		images := v1.Group("/images")
		images.Use(s.authMiddleware().RequirePermission(auth.PermissionCacheRead))
		{
			images.POST("/load", s.loadImageHandler)
			images.GET("/cached", s.getCachedImageHandler)
		}
		imagesPurge := v1.Group("/images")
		imagesPurge.Use(s.authMiddleware().RequirePermission(auth.PermissionCachePurge))
		{
			imagesPurge.DELETE("/cached", s.removeCachedImageHandler)
		}

		data := v1.Group("/data")
		data.Use(s.authMiddleware().RequirePermission(auth.PermissionCacheRead))
		{
			data.POST("/load", s.loadDataHandler)
		}

		prefetchGroup := v1.Group("/prefetch")
		prefetchGroup.Use(s.authMiddleware().RequirePermission(auth.PermissionPrefetchManage))
		{
			prefetchGroup.POST("", s.startPrefetchHandler)
			prefetchGroup.DELETE("", s.stopPrefetchHandler)
		}

		cacheGroup := v1.Group("/cache")
		cacheGroup.Use(s.authMiddleware().RequirePermission(auth.PermissionCacheRead))
		{
			cacheGroup.GET("/stats", s.cacheStatsHandler)
		}
	}

	router.GET("/ws/progress/:taskID", s.progressWebsocketHandler)

	return router
}

func (s *Server) authMiddleware() *auth.AuthMiddleware {
	return auth.NewAuthMiddleware(s.jwtSvc, s.rbac)
}
