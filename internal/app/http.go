package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callbox/internal/core/services"
	"callbox/internal/infrastructure/middleware"
	"callbox/internal/infrastructure/monitoring"
	"callbox/pkg/config"
	"callbox/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter builds the gin engine with the shared middleware chain.
func NewRouter(cfg *config.Config, zapLogger *zap.Logger) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	log := zapLogger.Sugar()

	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	// Spans first so request logs carry the trace id.
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(
		middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)
	return router
}

// ControlRoutes returns the group the /api/v1 handlers mount on. With
// auth.protect_control set it requires a bearer token.
func ControlRoutes(router *gin.Engine, cfg *config.Config, verifier middleware.TokenVerifier) gin.IRouter {
	group := router.Group("")
	if cfg.Auth.ProtectControl {
		group.Use(middleware.AuthMiddleware(verifier))
	}
	return group
}

// RegisterOperationalRoutes adds /health, /ready and, when enabled, /metrics.
func RegisterOperationalRoutes(
	router gin.IRoutes,
	cfg *config.Config,
	checker *monitoring.HealthChecker,
	metrics *services.MetricsService,
	startTime time.Time,
) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
			"pipeline":  metrics.Snapshot(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		status := checker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status == monitoring.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}

// Serve runs srv until it fails, SIGINT/SIGTERM arrives or ctx is done, then
// shuts it down within timeout.
func Serve(ctx context.Context, srv *http.Server, timeout time.Duration, log *zap.SugaredLogger) error {
	serverErr := make(chan error, 1)
	go func() {
		log.Infow("HTTP server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-serverErr:
		return err
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
		return err
	}
	log.Info("server shutdown gracefully")
	return nil
}
