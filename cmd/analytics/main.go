// Command analytics consumes search events from Kafka, aggregates them in
// memory and persists them as search history in Postgres.
//
// It serves GET /api/v1/analytics for aggregate stats and
// GET /api/v1/analytics/history for recent searches.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/property-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/analytics/history"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/scheduler"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	historyStore := history.NewStore(db)
	if err := historyStore.Migrate(ctx); err != nil {
		slog.Error("failed to migrate search history", "error", err)
		os.Exit(1)
	}

	aggregator := analytics.NewAggregator()
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents, analytics.HandleEvent(aggregator, historyStore))
	defer consumer.Close()
	go func() {
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("search event consumer error", "error", err)
		}
	}()
	slog.Info("search event consumer started", "topic", cfg.Kafka.Topics.SearchEvents)

	jobs := scheduler.New(m)
	jobs.Add(scheduler.Job{
		Name:     "history-cleanup",
		Interval: cfg.Schedule.CleanupInterval,
		Run:      historyStore.CleanupJob(cfg.Schedule.HistoryRetention),
	})
	jobs.Start(ctx)

	checker := health.NewChecker()
	checker.RegisterPinger("postgres", db, health.StatusDown)

	analyticsHandler := analytics.NewHandler(aggregator, historyStore)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", analyticsHandler.Stats)
	mux.HandleFunc("GET /api/v1/analytics/history", analyticsHandler.History)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	jobs.Wait()
	slog.Info("analytics service stopped")
}
