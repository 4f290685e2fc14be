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
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/backup"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/extractor"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/fetcher"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/recommend"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/scheduler"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/scores"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/property-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/property-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/resilience"
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
	slog.Info("starting search service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.Info("redis connected", "addr", cfg.Redis.Addr, "listing_ttl", cfg.Redis.ListingTTL)

	// Postgres only holds backups: when it is down the service still starts,
	// restores nothing and reconnects on the next backup tick.
	backupRepo := backup.NewLazyRepository(backup.PostgresConnector(cfg.Postgres))
	defer backupRepo.Close()
	if err := backupRepo.Connect(ctx); err != nil {
		slog.Error("durable store unavailable, starting with live state only",
			"error", fmt.Errorf("%w: %v", apperrors.ErrRestore, err))
	}

	listingCache := cache.New(redisClient, cfg.Redis).WithFetchTimeout(cfg.Fetcher.Timeout)
	scoreStore := scores.NewStore(redisClient)
	sets := recommend.NewStore(redisClient)
	activity := recommend.NewActivityTracker(redisClient)

	kw, err := extractor.New(cfg.LLM, m)
	if err != nil {
		slog.Error("failed to create keyword extractor", "error", err)
		os.Exit(1)
	}
	listings, err := fetcher.New(cfg.Fetcher, m)
	if err != nil {
		slog.Error("failed to create listing fetcher", "error", err)
		os.Exit(1)
	}

	engine := recommend.NewEngine(scoreStore, listingCache, listings, sets, activity, cfg.Pipeline, m)
	backupSvc := backup.NewService(backupRepo, scoreStore, sets, m)

	// Restore must finish before the first search can score anything.
	res := backup.RestoreOnStartup(ctx, backupSvc)
	slog.Info("startup restore finished", "scores", res.Scores, "snapshots", res.Snapshots)

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
	defer producer.Close()
	collector := analytics.NewCollector(producer, 10000)
	collector.Start(ctx)
	slog.Info("search event collector started", "topic", cfg.Kafka.Topics.SearchEvents)

	svc := pipeline.NewService(kw, listingCache, listings, engine, sets, activity, collector, cfg.Pipeline, m)

	jobs := scheduler.New(m)
	jobs.Add(scheduler.Job{
		Name:       "recommendation-refresh",
		Interval:   cfg.Schedule.RefreshInterval,
		RunOnStart: true,
		Run:        engine.RefreshAll,
	})
	jobs.Add(scheduler.Job{
		Name:     "durability-backup",
		Interval: cfg.Schedule.BackupInterval,
		Run: func(ctx context.Context) error {
			_, err := backupSvc.Backup(ctx)
			return err
		},
	})
	jobs.Start(ctx)

	checker := health.NewChecker()
	checker.RegisterPinger("redis", redisClient, health.StatusDown)
	checker.RegisterPinger("postgres", backupRepo, health.StatusDegraded)
	if b, ok := kw.(breakerReporter); ok {
		checker.Register("llm", breakerCheck(b))
	}
	checker.Register("listing_site", breakerCheck(listings))

	mux := http.NewServeMux()
	handler.New(svc, listingCache, backupSvc).Routes(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(cfg.RateLimit.Window)
		defer limiter.Close()
		chain = middleware.RateLimit(limiter, http.MethodPost, cfg.RateLimit.SearchesPerMin)(chain)
	}
	chain = middleware.UserID(chain)
	chain = middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowOrigins))(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	// ListenAndServe returns once Shutdown starts; in-flight searches may
	// still be tracking events until it finishes draining.
	<-drained
	jobs.Wait()
	collector.Close()
	// One last snapshot so the scores of the final minutes survive a restart.
	finalCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if _, err := backupSvc.Backup(finalCtx); err != nil {
		slog.Error("final backup failed", "error", err)
	}
	slog.Info("search service stopped")
}

type breakerReporter interface {
	BreakerState() resilience.State
}

// breakerCheck reports an open upstream circuit as degraded: cached
// searches and recommendations keep working while it is open.
func breakerCheck(b breakerReporter) health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		switch state := b.BreakerState(); state {
		case resilience.StateClosed:
			return health.ComponentHealth{Status: health.StatusUp}
		default:
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "circuit " + state.String()}
		}
	}
}
