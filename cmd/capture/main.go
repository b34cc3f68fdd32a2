package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"callbox/internal/app"
	"callbox/internal/core/ports"
	"callbox/internal/core/services"
	httphandlers "callbox/internal/handlers/http"
	"callbox/internal/infrastructure/monitoring"
	"callbox/internal/infrastructure/repositories"
	"callbox/internal/infrastructure/transport"
	"callbox/pkg/logger"
	"callbox/pkg/tracing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// The standalone capture process: it negotiates with remote parties, mixes
// their audio and ships frames to the host over the authenticated uplink.
// It never opens a broadcast channel itself.
func main() {
	startTime := time.Now()

	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(app.TracingConfig(cfg, "callbox-capture"))
	if err != nil {
		log.Fatalw("failed to initialise tracing", "error", err)
	}

	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	prefs := repoFactory.CreatePreferenceRepository()

	var collector ports.PipelineMetrics
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}
	metrics := services.NewMetricsService(collector)

	auth := transport.NewTokenAuthority(cfg.Auth.JWTSecret, cfg.Auth.UplinkTokenTTL)
	uplinkCfg, err := app.UplinkConfig(cfg, uuid.NewString())
	if err != nil {
		log.Fatalw("invalid uplink configuration", "error", err)
	}
	uplink := transport.NewUplink(uplinkCfg, auth, metrics, log)

	capture, err := app.NewCapture(cfg, uplink, metrics, log)
	if err != nil {
		log.Fatalw("failed to create capture domain", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var workers sync.WaitGroup

	workers.Add(2)
	go func() {
		defer workers.Done()
		uplink.Run(ctx)
	}()
	go func() {
		defer workers.Done()
		capture.Run(ctx)
	}()

	control := services.NewControlService(nil, capture.Service, prefs, cfg.Broadcast.DefaultName, cfg.Capture.EnableOnBoot, log)
	if err := control.Restore(ctx); err != nil {
		log.Warnw("failed to restore preferences", "error", err)
	}

	checker := monitoring.NewHealthChecker()
	repoFactory.RegisterHealthChecks(checker, prefs, cfg.Monitoring.HealthCheckTimeout)
	checker.AddCaptureCheck(capture.Service)

	router := app.NewRouter(cfg, zapLogger)
	app.RegisterOperationalRoutes(router, cfg, checker, metrics, startTime)

	controlRoutes := app.ControlRoutes(router, cfg, auth)
	httphandlers.NewControlHandler(control).SetupRoutes(controlRoutes)
	httphandlers.NewPeerHandler(capture.Peers, cfg.WebRTC.NegotiationTimeout, log).SetupRoutes(controlRoutes)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Infow("starting CallBox capture",
		"address", cfg.Server.Address,
		"host_url", uplinkCfg.URL,
		"session_id", uplinkCfg.SessionID,
	)
	if err := app.Serve(ctx, srv, cfg.Server.ShutdownTimeout, log); err != nil {
		log.Errorw("server stopped with error", "error", err)
	}

	log.Info("shutting down CallBox capture...")

	if err := capture.Shutdown(); err != nil {
		log.Errorw("error closing peer connections", "error", err)
	}
	cancel()
	workers.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracing", "error", err)
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}

	log.Info("CallBox capture stopped")
}
