package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/harbor_run/internal/auth"
	"github.com/austindbirch/harbor_run/internal/config"
	"github.com/austindbirch/harbor_run/internal/gateway"
	"github.com/austindbirch/harbor_run/internal/health"
	"github.com/austindbirch/harbor_run/internal/logging"
	"github.com/austindbirch/harbor_run/internal/metrics"
	"github.com/austindbirch/harbor_run/internal/notify"
	"github.com/austindbirch/harbor_run/internal/supervisor"
	"github.com/austindbirch/harbor_run/internal/task"
	"github.com/austindbirch/harbor_run/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx, stopJanitor := context.WithCancel(context.Background())

	// Initialize structured logging
	logger := logging.New("harborrun-taskd")

	// Initialize OpenTelemetry tracing
	shutdown, err := tracing.InitTracing(ctx, "harborrun-taskd")
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	// Prom metrics
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	// Task registry + background eviction
	registry := task.NewRegistry(task.RegistryOptions{
		MaxTasks:         cfg.Tasks.MaxTasks,
		EventBacklog:     cfg.Tasks.EventBacklog,
		SubscriberBuffer: cfg.Tasks.SubscriberBuffer,
		Retention:        cfg.Tasks.Retention,
	})
	go registry.Janitor(ctx, cfg.Tasks.ReapInterval)

	// Completion notifications (webhook / NSQ), optional
	notifier, err := notify.New(cfg.Notify, logger)
	if err != nil {
		logger.Plain().WithError(err).Fatal("notifier init failed")
	}
	defer notifier.Stop()

	sup := supervisor.New(logger, cfg.Tasks.ReadChunkBytes, notifier)
	svc := gateway.New(registry, sup, logger)

	// HTTP mux: health, metrics, task API
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(registry))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	svc.Routes(mux)

	var handler http.Handler = mux
	if cfg.Auth.PublicKeyPEM != "" {
		validator, err := auth.NewJWTValidator(cfg.Auth.PublicKeyPEM, cfg.Auth.Issuer, cfg.Auth.Audience)
		if err != nil {
			logger.Plain().WithError(err).Fatal("auth init failed")
		}
		handler = validator.HTTPMiddleware(mux)
		logger.Plain().Info("JWT auth enabled")
	}

	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: handler}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("taskd HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("taskd HTTP server failed")
		}
	}()

	// Graceful stop
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("Shutting down taskd")
	stopJanitor()
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("taskd stopped")
}
