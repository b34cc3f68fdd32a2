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
	"callbox/internal/infrastructure/broadcast"
	"callbox/internal/infrastructure/monitoring"
	"callbox/internal/infrastructure/repositories"
	"callbox/internal/infrastructure/transport"
	"callbox/pkg/logger"
	"callbox/pkg/tracing"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	startTime := time.Now()

	configPath := flag.String("config", "", "path to the YAML configuration file")
	issueToken := flag.String("issue-token", "", "print a bearer token for the given session id and exit")
	flag.Parse()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	auth := transport.NewTokenAuthority(cfg.Auth.JWTSecret, cfg.Auth.UplinkTokenTTL)
	if *issueToken != "" {
		token, err := auth.Issue(*issueToken)
		if err != nil {
			log.Fatalw("failed to issue token", "error", err)
		}
		fmt.Println(token)
		return
	}

	tp, err := tracing.Init(app.TracingConfig(cfg, "callbox"))
	if err != nil {
		log.Fatalw("failed to initialise tracing", "error", err)
	}

	// Preferences
	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	prefs := repoFactory.CreatePreferenceRepository()

	// Metrics
	var collector ports.PipelineMetrics
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}
	metrics := services.NewMetricsService(collector)

	// Broadcast sender publishing into the outlet
	outlet := broadcast.NewOutlet(app.OutletConfig(cfg), log)
	sender := services.NewBroadcastService(services.BroadcastConfig{
		DefaultName:      cfg.Broadcast.DefaultName,
		ErrorLogInterval: cfg.Broadcast.ErrorLogInterval,
	}, outlet, metrics, log)

	// Frame transport: every capture domain feeds the host queue
	policy, err := transport.ParseDropPolicy(cfg.Transport.DropPolicy)
	if err != nil {
		log.Fatalw("invalid drop policy", "error", err)
	}
	hostQueue := transport.NewQueue("host", cfg.Transport.QueueSize, policy, metrics)
	ingest := transport.NewIngestServer(app.IngestConfig(cfg), auth, hostQueue, metrics, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var workers sync.WaitGroup

	workers.Add(1)
	go func() {
		defer workers.Done()
		hostQueue.Drain(ctx, sender.Send)
	}()

	var (
		capture    *app.Capture
		captureSvc ports.CaptureService
	)
	if cfg.Capture.Embedded {
		capture, err = app.NewCapture(cfg, hostQueue, metrics, log)
		if err != nil {
			log.Fatalw("failed to create capture domain", "error", err)
		}
		captureSvc = capture.Service

		workers.Add(1)
		go func() {
			defer workers.Done()
			capture.Run(ctx)
		}()
	}

	control := services.NewControlService(sender, captureSvc, prefs, cfg.Broadcast.DefaultName, cfg.Capture.EnableOnBoot, log)
	if err := control.Restore(ctx); err != nil {
		log.Warnw("failed to restore preferences", "error", err)
	}

	// Health
	checker := monitoring.NewHealthChecker()
	repoFactory.RegisterHealthChecks(checker, prefs, cfg.Monitoring.HealthCheckTimeout)
	if captureSvc != nil {
		checker.AddCaptureCheck(captureSvc)
	}

	// HTTP
	router := app.NewRouter(cfg, zapLogger)
	app.RegisterOperationalRoutes(router, cfg, checker, metrics, startTime)
	outlet.RegisterRoutes(router)
	ingest.RegisterRoutes(router)

	controlRoutes := app.ControlRoutes(router, cfg, auth)
	httphandlers.NewControlHandler(control).SetupRoutes(controlRoutes)
	if capture != nil {
		httphandlers.NewPeerHandler(capture.Peers, cfg.WebRTC.NegotiationTimeout, log).SetupRoutes(controlRoutes)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Infow("starting CallBox host",
		"address", cfg.Server.Address,
		"embedded_capture", cfg.Capture.Embedded,
		"redis", repoFactory.UsesRedis(),
	)
	if err := app.Serve(ctx, srv, cfg.Server.ShutdownTimeout, log); err != nil {
		log.Errorw("server stopped with error", "error", err)
	}

	log.Info("shutting down CallBox host...")

	// Producers first, then the queue, then the channel they fed.
	cancel()
	if err := ingest.Close(); err != nil {
		log.Errorw("error closing ingest sessions", "error", err)
	}
	if capture != nil {
		if err := capture.Shutdown(); err != nil {
			log.Errorw("error closing peer connections", "error", err)
		}
	}
	workers.Wait()
	hostQueue.Close()

	// Stop without touching preferences so the broadcast resumes on restart.
	sender.Stop()
	outlet.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracing", "error", err)
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}

	log.Info("CallBox host stopped")
}
