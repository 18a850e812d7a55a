// Package main is the entry point for the project health scoring service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/quantumlayerhq/ql-health/internal/health"
	"github.com/quantumlayerhq/ql-health/internal/pipeline"
	"github.com/quantumlayerhq/ql-health/internal/repository"
	"github.com/quantumlayerhq/ql-health/pkg/config"
	"github.com/quantumlayerhq/ql-health/pkg/database"
	"github.com/quantumlayerhq/ql-health/pkg/engine"
	"github.com/quantumlayerhq/ql-health/pkg/kafka"
	"github.com/quantumlayerhq/ql-health/pkg/logger"
	"github.com/quantumlayerhq/ql-health/pkg/metrics"
	"github.com/quantumlayerhq/ql-health/pkg/resilience"
	"github.com/quantumlayerhq/ql-health/pkg/telemetry"
)

const serviceName = "healthd"

// Build information (set via ldflags).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.LogFormat).WithService(serviceName)
	log.Info("starting health service",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"env", cfg.Env,
	)

	// Create context that listens for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	tp, err := telemetry.NewProvider(cfg.Telemetry, telemetry.Options{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", "error", err)
		}
	}()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	eng, err := engine.New(cfg.Engine, log, engine.WithMetrics(m))
	if err != nil {
		return err
	}

	// Connect to database
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	log.Info("connected to database")

	repo := repository.NewAlertRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		return err
	}

	// Kafka
	producer, err := kafka.NewProducer(cfg.Kafka, log)
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	defer producer.Close()

	consumer, err := kafka.NewConsumer(cfg.Kafka, log)
	if err != nil {
		return fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	defer consumer.Close()
	log.Info("connected to Kafka", "brokers", cfg.Kafka.Brokers)

	// Circuit breakers for the pipeline's outbound calls
	onStateChange := func(name string, from, to resilience.State) {
		m.RecordBreakerState(name, int(to))
		log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	}
	storeCfg := resilience.DefaultConfig("store")
	storeCfg.OnStateChange = onStateChange
	kafkaCfg := resilience.DefaultConfig("kafka")
	kafkaCfg.OnStateChange = onStateChange

	processor := pipeline.NewProcessor(eng, repo, producer, cfg.Kafka.Topics.Alerts, m, log,
		pipeline.WithBreakers(resilience.New(storeCfg), resilience.New(kafkaCfg)),
	)

	errs := make(chan error, 2)

	// Metrics and probe server
	var server *http.Server
	if cfg.Metrics.Enabled {
		h := health.NewHandler(health.Config{
			Service:     serviceName,
			Version:     version,
			GitCommit:   gitCommit,
			Gatherer:    reg,
			MetricsPath: cfg.Metrics.Path,
			Dependencies: []health.Dependency{
				{Name: "database", Checker: db, Critical: true},
				{Name: "kafka", Checker: health.CheckerFunc(func(ctx context.Context) error {
					return producer.Health(ctx, cfg.Kafka.Brokers)
				})},
			},
		})
		server = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           h.Routes(),
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		go func() {
			log.Info("starting metrics server", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	// Snapshot consumer
	go func() {
		topics := []string{cfg.Kafka.Topics.Snapshots}
		log.Info("starting Kafka consumer", "topics", topics)
		if err := consumer.Subscribe(ctx, topics, processor.Consume); err != nil && ctx.Err() == nil {
			errs <- err
		}
	}()

	// Wait for shutdown signal
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case runErr = <-errs:
		log.Error("service error", "error", runErr)
	}
	stop()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
			_ = server.Close()
		}
	}

	log.Info("health service shutdown complete")
	return runErr
}
