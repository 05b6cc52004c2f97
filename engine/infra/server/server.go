package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/compozy/ragpipe/engine/app"
	"github.com/compozy/ragpipe/engine/infra/monitoring"
	"github.com/compozy/ragpipe/engine/infra/server/appstate"
	"github.com/compozy/ragpipe/engine/infra/server/middleware/ratelimit"
	knowledgerouter "github.com/compozy/ragpipe/engine/infra/server/router/knowledge"
	"github.com/compozy/ragpipe/engine/infra/server/routes"
	"github.com/compozy/ragpipe/pkg/config"
	"github.com/compozy/ragpipe/pkg/logger"
	"github.com/compozy/ragpipe/pkg/version"
)

const (
	monitoringShutdownTimeout = 5 * time.Second
	serverShutdownTimeout     = 10 * time.Second
	httpReadHeaderTimeout     = 10 * time.Second
	httpIdleTimeout           = 60 * time.Second
	hostAny                   = "0.0.0.0"
	hostLoopback              = "127.0.0.1"
)

// Server exposes the pipeline over HTTP.
type Server struct {
	config     *config.Config
	state      *appstate.State
	redis      redis.UniversalClient
	monitoring *monitoring.Service
	router     *gin.Engine
}

// NewServer builds the router for application. When redis is configured the
// rate limiter shares its counters through it.
func NewServer(ctx context.Context, application *app.App) (*Server, error) {
	if application == nil {
		return nil, errors.New("server: application is required")
	}
	var client redis.UniversalClient
	if application.Cache != nil && application.Cache.Redis != nil {
		client = application.Cache.Redis.Client()
	}
	return newServer(ctx, application.Config, application, client)
}

func newServer(
	ctx context.Context,
	cfg *config.Config,
	services appstate.Services,
	client redis.UniversalClient,
) (*Server, error) {
	state, err := appstate.NewState(cfg, services)
	if err != nil {
		return nil, fmt.Errorf("failed to create app state: %w", err)
	}
	s := &Server{config: cfg, state: state, redis: client}
	if cfg.Monitoring.Enabled {
		s.monitoring = monitoring.NewMonitoringServiceWithFallback(ctx, monitoring.FromAppConfig(cfg))
		s.monitoring.SetAsGlobal()
		stats := func(ctx context.Context) (int, int, error) {
			st, err := services.Stats(ctx)
			return st.TotalChunks, st.UniqueDocuments, err
		}
		if err := s.monitoring.ObserveCollection(ctx, cfg.Vector.Collection, stats); err != nil {
			logger.FromContext(ctx).Warn("Failed to export collection metrics", "error", err)
		}
	}
	if err := s.buildRouter(ctx); err != nil {
		return nil, fmt.Errorf("failed to build router: %w", err)
	}
	return s, nil
}

// Handler returns the HTTP handler; exposed for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(ctx context.Context) error {
	log := logger.FromContext(ctx)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware(log))
	r.Use(LoggerMiddleware())
	if s.monitoring != nil && s.monitoring.IsInitialized() {
		r.Use(s.monitoring.GinMiddleware())
	}
	if len(s.config.Server.CORS.AllowedOrigins) > 0 {
		r.Use(CORSMiddleware(s.config.Server.CORS))
	}
	if s.config.Server.RateLimit.Enabled {
		manager, err := ratelimit.NewManager(ratelimit.FromAppConfig(s.config), s.redis)
		if err != nil {
			return err
		}
		r.Use(manager.Middleware())
		driver := "memory"
		if s.redis != nil {
			driver = "redis"
		}
		log.Info("Rate limiter initialized", "driver", driver, "limit", s.config.Server.RateLimit.Limit)
	}
	r.Use(appstate.StateMiddleware(s.state))
	if s.monitoring != nil && s.monitoring.IsInitialized() {
		r.GET(s.monitoring.Path(), gin.WrapH(s.monitoring.ExporterHandler()))
	}
	r.GET(routes.Health(), healthHandler)
	knowledgerouter.Register(r.Group(routes.Base()), s.config.Uploads.MaxFileSize)
	s.router = r
	return nil
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	addr := net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: httpReadHeaderTimeout,
		// /ask streams for as long as generation runs
		WriteTimeout: s.config.Server.Timeout,
		IdleTimeout:  httpIdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logStartupBanner(ctx)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Debug("Received shutdown signal, initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if s.monitoring != nil {
		mctx, mcancel := context.WithTimeout(context.WithoutCancel(ctx), monitoringShutdownTimeout)
		defer mcancel()
		if err := s.monitoring.Shutdown(mctx); err != nil {
			log.Warn("Failed to shut down monitoring", "error", err)
		}
	}
	log.Info("Server shutdown completed successfully")
	return nil
}

func (s *Server) logStartupBanner(ctx context.Context) {
	httpURL := fmt.Sprintf("http://%s", net.JoinHostPort(friendlyHost(s.config.Server.Host), strconv.Itoa(s.config.Server.Port)))
	lines := []string{
		fmt.Sprintf("ragpipe %s", version.GetVersion()),
		fmt.Sprintf("  API           > %s%s", httpURL, routes.Base()),
		fmt.Sprintf("  Health        > %s%s", httpURL, routes.Health()),
	}
	if s.monitoring != nil && s.monitoring.IsInitialized() {
		lines = append(lines, fmt.Sprintf("  Metrics       > %s%s", httpURL, s.monitoring.Path()))
	}
	logger.FromContext(ctx).Info("\n" + strings.Join(lines, "\n"))
}

func friendlyHost(h string) string {
	if h == hostAny || h == "::" || h == "" {
		return hostLoopback
	}
	return h
}
